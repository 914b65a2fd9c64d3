package history

import (
	"fmt"
	"sort"
)

// Merge grafts a client's unmerged suffix onto the tree and returns a
// mapping from the client's local ids to the freshly assigned master ids.
// The client uses the remap to reconcile its own bookkeeping, such as its
// cursor.
//
// Suffix revisions are taken in causal (parent-to-child) order. Each is
// appended under the remapped id of its parent when the parent is an
// earlier suffix revision, or directly under the master revision it
// recorded otherwise; the append-only discipline guarantees recorded
// master parents still exist. A client that undid below its branch point
// and edited there therefore merges each of its lines of descent at the
// revision it actually branched from. Appending never modifies an existing
// revision, so other clients' recorded divergence points stay valid
// indefinitely. Clients diverging from the same point each end up as their
// own sibling branch.
//
// divergenceID is the deepest revision the client's local history shares
// with the master. Returns ErrDivergenceNotFound if it is absent, and
// ErrDanglingParent if a suffix revision parents something that is neither
// an earlier suffix revision nor a revision in the tree.
func (t *Tree) Merge(suffix []Revision, divergenceID uint64) (map[uint64]uint64, error) {
	if !t.Contains(divergenceID) {
		return nil, fmt.Errorf("merge at %d: %w", divergenceID, ErrDivergenceNotFound)
	}

	remap := make(map[uint64]uint64, len(suffix))
	if len(suffix) == 0 {
		return remap, nil
	}

	// Local ids are allocated in increasing order, so ascending id order
	// is causal order.
	ordered := make([]Revision, len(suffix))
	copy(ordered, suffix)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	for _, rev := range ordered {
		if rev.Parent == nil {
			return nil, fmt.Errorf("suffix revision %d has no parent: %w", rev.ID, ErrDanglingParent)
		}

		// Suffix-internal parents take priority: a client's local ids are
		// all greater than the master ids it loaded, so a remapped id can
		// never be mistaken for a master revision.
		var parentID uint64
		if mapped, ok := remap[*rev.Parent]; ok {
			parentID = mapped
		} else if t.Contains(*rev.Parent) {
			parentID = *rev.Parent
		} else {
			return nil, fmt.Errorf("suffix revision %d parents %d, which is neither an earlier suffix revision nor a revision in the tree: %w",
				rev.ID, *rev.Parent, ErrDanglingParent)
		}

		id := t.nextID
		t.nextID++

		parent := parentID
		t.nodes[id] = Revision{
			ID:        id,
			Parent:    &parent,
			Payload:   rev.Payload,
			CreatedAt: rev.CreatedAt,
			FileHash:  rev.FileHash,
		}
		remap[rev.ID] = id
	}

	return remap, nil
}
