package undofile

import (
	"fmt"

	"github.com/kirawi/undofile/internal/hashing"
	"github.com/kirawi/undofile/internal/history"
)

// Client is one editing session's view of a document: the master tree as
// loaded, extended in memory by the session's own local revisions.
//
// A Client owns no shared state. Everything it records stays local until
// the Save Coordinator grafts it into the master store.
type Client struct {
	// Tree is the client's in-memory revision tree: the master as loaded,
	// plus the local suffix.
	Tree *history.Tree

	// State is the client's sync bookkeeping against the master.
	State *SyncState
}

// Commit records an edit locally: the content snapshot becomes a blob, and
// a new revision is appended under the client's cursor. Nothing durable
// outside the blob store changes until Save.
//
// Committing after undoing below the branch point starts a new line of
// descent from a master revision. The divergence point then moves down to
// the deepest revision all unmerged local work still descends from, so the
// suffix stays mergeable.
func (c *Client) Commit(blobDir string, content []byte) (uint64, error) {
	parentID := c.Tree.Cursor()

	ref, err := PutBlob(blobDir, content)
	if err != nil {
		return 0, fmt.Errorf("failed to store revision payload: %w", err)
	}

	id, err := c.Tree.CreateRevision(ref, parentID, hashing.HashBytes(content))
	if err != nil {
		return 0, err
	}

	if parentID != c.State.DivergenceID && !c.suffixContains(parentID) {
		anc, err := c.Tree.CommonAncestor(parentID, c.State.DivergenceID)
		if err != nil {
			return 0, err
		}
		c.State.DivergenceID = anc
	}

	rev, _ := c.Tree.Get(id)
	c.State.Suffix = append(c.State.Suffix, rev)
	c.State.Cursor = id
	return id, nil
}

// suffixContains reports whether id is one of the client's unmerged local
// revisions.
func (c *Client) suffixContains(id uint64) bool {
	for _, rev := range c.State.Suffix {
		if rev.ID == id {
			return true
		}
	}
	return false
}

// Undo moves the client's cursor one revision toward the root.
func (c *Client) Undo() (uint64, error) {
	id, err := c.Tree.Undo()
	if err != nil {
		return 0, err
	}
	c.State.Cursor = id
	return id, nil
}

// Redo moves the client's cursor to the given child revision.
func (c *Client) Redo(childID uint64) (uint64, error) {
	id, err := c.Tree.Redo(childID)
	if err != nil {
		return 0, err
	}
	c.State.Cursor = id
	return id, nil
}

// HasUnmergedHistory reports whether the client holds local revisions not
// yet grafted into the master store.
func (c *Client) HasUnmergedHistory() bool {
	return len(c.State.Suffix) > 0
}

// replaySuffix grafts a stored suffix onto the client's freshly loaded
// tree, reassigning local ids from the tree's current sequence. The stored
// suffix keeps whatever ids the previous session allocated; the master may
// have advanced since, so ids are never trusted across sessions.
func (c *Client) replaySuffix(stored []history.Revision) error {
	if len(stored) == 0 {
		return nil
	}

	remap, err := c.Tree.Merge(stored, c.State.DivergenceID)
	if err != nil {
		return err
	}

	// The merge reassigned the suffix the top ids in the tree, so the
	// replayed revisions are exactly those at or above the lowest new id.
	first := remap[stored[0].ID]
	for _, id := range remap {
		if id < first {
			first = id
		}
	}
	c.State.Suffix = c.Tree.SuffixAfter(first)

	if mapped, ok := remap[c.State.Cursor]; ok {
		c.State.Cursor = mapped
	} else if !c.Tree.Contains(c.State.Cursor) {
		c.State.Cursor = c.State.DivergenceID
	}
	return c.Tree.SetCursor(c.State.Cursor)
}

// freshSyncState initializes sync state for a client opening a document
// with no prior session: the client's view is whatever is on disk right
// now, branching from the master's persisted cursor.
func freshSyncState(document string, tree *history.Tree, currentHash hashing.Digest) *SyncState {
	return &SyncState{
		Document:           document,
		DivergenceID:       tree.Cursor(),
		LastSyncedFileHash: currentHash,
		Cursor:             tree.Cursor(),
	}
}
