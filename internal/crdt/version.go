package crdt

import "sort"

// VersionVector maps each node to the highest operation counter seen
// from it. Entries are monotonically non-decreasing.
type VersionVector map[NodeID]uint64

// NewVersionVector creates an empty version vector.
func NewVersionVector() VersionVector {
	return make(VersionVector)
}

// Observe records that an operation with the given counter from node
// has been seen. Lower counters than the current entry are ignored.
func (vv VersionVector) Observe(node NodeID, counter uint64) {
	if counter > vv[node] {
		vv[node] = counter
	}
}

// Copy returns an independent copy of the vector.
func (vv VersionVector) Copy() VersionVector {
	out := make(VersionVector, len(vv))
	for node, counter := range vv {
		out[node] = counter
	}

	return out
}

// ComparisonResult classifies the causal relationship between a local
// and a remote version vector.
type ComparisonResult int

const (
	// Equal means both replicas have seen the same operations.
	Equal ComparisonResult = iota
	// LocalAhead means the local replica has seen strictly more.
	LocalAhead
	// RemoteAhead means the remote replica has seen strictly more.
	RemoteAhead
	// Concurrent means each side has operations the other lacks.
	Concurrent
)

// String renders the result for logs and sync diagnostics.
func (r ComparisonResult) String() string {
	switch r {
	case Equal:
		return "equal"
	case LocalAhead:
		return "local_ahead"
	case RemoteAhead:
		return "remote_ahead"
	case Concurrent:
		return "concurrent"
	default:
		return "unknown"
	}
}

// Comparison is the full verdict of comparing two version vectors.
// For Concurrent results the three node lists partition the key union
// so callers can fetch selectively instead of performing a full sync.
type Comparison struct {
	Result      ComparisonResult
	LocalAhead  []NodeID // nodes where local > remote
	RemoteAhead []NodeID // nodes where remote > local
	InSync      []NodeID // nodes where both agree
}

// Compare classifies vv (local) against remote. Keys missing from
// either side are treated as 0. The comparison is pure and
// side-effect-free.
func (vv VersionVector) Compare(remote VersionVector) Comparison {
	nodes := make(map[NodeID]struct{}, len(vv)+len(remote))
	for node := range vv {
		nodes[node] = struct{}{}
	}

	for node := range remote {
		nodes[node] = struct{}{}
	}

	cmp := Comparison{}

	for node := range nodes {
		local := vv[node]
		rem := remote[node]

		switch {
		case local > rem:
			cmp.LocalAhead = append(cmp.LocalAhead, node)
		case rem > local:
			cmp.RemoteAhead = append(cmp.RemoteAhead, node)
		default:
			cmp.InSync = append(cmp.InSync, node)
		}
	}

	sortNodes(cmp.LocalAhead)
	sortNodes(cmp.RemoteAhead)
	sortNodes(cmp.InSync)

	switch {
	case len(cmp.LocalAhead) == 0 && len(cmp.RemoteAhead) == 0:
		cmp.Result = Equal
	case len(cmp.RemoteAhead) == 0:
		cmp.Result = LocalAhead
	case len(cmp.LocalAhead) == 0:
		cmp.Result = RemoteAhead
	default:
		cmp.Result = Concurrent
	}

	return cmp
}

// sortNodes keeps the partition lists deterministic for callers and tests.
func sortNodes(nodes []NodeID) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
}
