// Package history implements the revision tree shared by all editing
// sessions of a document.
//
// The tree is an id-indexed arena: every revision is addressed by a strictly
// increasing integer id, and each revision points at its parent by id. The
// arena form keeps persistence and crash recovery straightforward and avoids
// any cyclic-ownership concerns. Exactly one revision (the root, representing
// the empty initial document) has no parent.
//
// Revisions are immutable once committed to the master store. Merging a
// client's local history only ever appends new revisions as children of
// existing ones; nothing is rewritten, reordered, or removed.
package history

import (
	"fmt"
	"sort"
	"time"

	"github.com/kirawi/undofile/internal/hashing"
)

// Revision is one immutable recorded state transition in a document's
// history.
type Revision struct {
	// ID is unique within a tree and strictly increasing in allocation
	// order.
	ID uint64 `json:"id"`

	// Parent is the id of the revision this one was made on top of.
	// Only the root has no parent.
	Parent *uint64 `json:"parent,omitempty"`

	// Payload is an opaque content-addressed blob reference (the actual
	// diff or snapshot). The history core never interprets it.
	Payload string `json:"payload"`

	// CreatedAt is when the revision was recorded. Informational only;
	// ordering authority is the id sequence.
	CreatedAt time.Time `json:"created_at"`

	// FileHash is the digest of the full document content immediately
	// after this revision was created.
	FileHash hashing.Digest `json:"file_hash"`
}

// Tree is an in-memory revision tree with a cursor for undo/redo
// navigation.
//
// Tree is not safe for concurrent use. Each client owns its own Tree;
// cross-client coordination happens through the persisted master store, not
// through shared memory.
type Tree struct {
	nodes  map[uint64]Revision
	cursor uint64
	nextID uint64
}

// New returns a tree containing only the root revision for the empty
// initial document. The root's file hash is the digest of empty content and
// its payload references the empty blob.
func New(rootPayload string) *Tree {
	root := Revision{
		ID:        0,
		Payload:   rootPayload,
		CreatedAt: time.Now().UTC(),
		FileHash:  hashing.HashBytes(nil),
	}
	return &Tree{
		nodes:  map[uint64]Revision{0: root},
		cursor: 0,
		nextID: 1,
	}
}

// CreateRevision allocates the next id, appends a revision under parentID,
// and moves the cursor to the new revision.
//
// Returns ErrDanglingParent if parentID does not exist.
func (t *Tree) CreateRevision(payload string, parentID uint64, fileHash hashing.Digest) (uint64, error) {
	if _, ok := t.nodes[parentID]; !ok {
		return 0, fmt.Errorf("create revision under %d: %w", parentID, ErrDanglingParent)
	}

	id := t.nextID
	t.nextID++

	parent := parentID
	t.nodes[id] = Revision{
		ID:        id,
		Parent:    &parent,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
		FileHash:  fileHash,
	}
	t.cursor = id
	return id, nil
}

// Undo moves the cursor to the current revision's parent and returns the
// new cursor position. Returns ErrNoSuchTransition at the root.
func (t *Tree) Undo() (uint64, error) {
	current := t.nodes[t.cursor]
	if current.Parent == nil {
		return 0, fmt.Errorf("undo at root: %w", ErrNoSuchTransition)
	}
	t.cursor = *current.Parent
	return t.cursor, nil
}

// Redo moves the cursor to the given child of the current revision and
// returns the new cursor position. The child must exist and its parent must
// be the cursor; otherwise ErrNoSuchTransition.
func (t *Tree) Redo(childID uint64) (uint64, error) {
	child, ok := t.nodes[childID]
	if !ok || child.Parent == nil || *child.Parent != t.cursor {
		return 0, fmt.Errorf("redo to %d from %d: %w", childID, t.cursor, ErrNoSuchTransition)
	}
	t.cursor = childID
	return t.cursor, nil
}

// Cursor returns the current cursor position.
func (t *Tree) Cursor() uint64 {
	return t.cursor
}

// SetCursor moves the cursor to an existing revision.
func (t *Tree) SetCursor(id uint64) error {
	if _, ok := t.nodes[id]; !ok {
		return fmt.Errorf("set cursor to %d: %w", id, ErrNoSuchTransition)
	}
	t.cursor = id
	return nil
}

// Get returns the revision with the given id.
func (t *Tree) Get(id uint64) (Revision, bool) {
	rev, ok := t.nodes[id]
	return rev, ok
}

// Contains reports whether a revision with the given id exists.
func (t *Tree) Contains(id uint64) bool {
	_, ok := t.nodes[id]
	return ok
}

// Len returns the number of revisions in the tree.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Root returns the unique rootless revision.
func (t *Tree) Root() Revision {
	for _, rev := range t.nodes {
		if rev.Parent == nil {
			return rev
		}
	}
	// Unreachable for trees built through this package.
	panic("history: tree has no root")
}

// Tip returns the revision with the highest id, the most recently appended
// node in the master's allocation order.
func (t *Tree) Tip() Revision {
	var tip Revision
	for _, rev := range t.nodes {
		if rev.ID >= tip.ID {
			tip = rev
		}
	}
	return tip
}

// Children returns the ids of the given revision's children in ascending
// order. Sibling branches are preserved as-is, never flattened.
func (t *Tree) Children(id uint64) []uint64 {
	var children []uint64
	for _, rev := range t.nodes {
		if rev.Parent != nil && *rev.Parent == id {
			children = append(children, rev.ID)
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i] < children[j] })
	return children
}

// Revisions returns all revisions in ascending id order.
func (t *Tree) Revisions() []Revision {
	revs := make([]Revision, 0, len(t.nodes))
	for _, rev := range t.nodes {
		revs = append(revs, rev)
	}
	sort.Slice(revs, func(i, j int) bool { return revs[i].ID < revs[j].ID })
	return revs
}

// SuffixAfter returns the revisions on the path that are not present in the
// master, i.e. every revision with an id >= firstLocalID, in ascending
// (causal) order. Clients use this to extract their unmerged local
// extension.
func (t *Tree) SuffixAfter(firstLocalID uint64) []Revision {
	var suffix []Revision
	for _, rev := range t.nodes {
		if rev.ID >= firstLocalID {
			suffix = append(suffix, rev)
		}
	}
	sort.Slice(suffix, func(i, j int) bool { return suffix[i].ID < suffix[j].ID })
	return suffix
}

// PathToRoot returns the ids on the chain from the given revision up to and
// including the root.
func (t *Tree) PathToRoot(id uint64) ([]uint64, error) {
	rev, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("path from %d: %w", id, ErrDanglingParent)
	}

	path := []uint64{id}
	for rev.Parent != nil {
		rev = t.nodes[*rev.Parent]
		path = append(path, rev.ID)
	}
	return path, nil
}

// CommonAncestor returns the deepest revision lying on both ids' paths to
// the root. It always resolves for valid ids; the root is an ancestor of
// every revision.
func (t *Tree) CommonAncestor(a, b uint64) (uint64, error) {
	pathA, err := t.PathToRoot(a)
	if err != nil {
		return 0, err
	}
	pathB, err := t.PathToRoot(b)
	if err != nil {
		return 0, err
	}

	onA := make(map[uint64]bool, len(pathA))
	for _, id := range pathA {
		onA[id] = true
	}
	for _, id := range pathB {
		if onA[id] {
			return id, nil
		}
	}
	return 0, fmt.Errorf("no common ancestor of %d and %d: %w", a, b, ErrCorruptTree)
}

// NextID returns the id the next CreateRevision call will allocate.
func (t *Tree) NextID() uint64 {
	return t.nextID
}

// Clone returns a deep copy of the tree. Save merges into a clone of the
// freshly read master, so a failed merge leaves no tree half-updated.
func (t *Tree) Clone() *Tree {
	nodes := make(map[uint64]Revision, len(t.nodes))
	for id, rev := range t.nodes {
		if rev.Parent != nil {
			parent := *rev.Parent
			rev.Parent = &parent
		}
		nodes[id] = rev
	}
	return &Tree{nodes: nodes, cursor: t.cursor, nextID: t.nextID}
}

// Equal reports whether two trees have identical revisions, cursor, and id
// sequence.
func (t *Tree) Equal(other *Tree) bool {
	if t.cursor != other.cursor || t.nextID != other.nextID || len(t.nodes) != len(other.nodes) {
		return false
	}
	for id, rev := range t.nodes {
		o, ok := other.nodes[id]
		if !ok {
			return false
		}
		if !revisionEqual(rev, o) {
			return false
		}
	}
	return true
}

func revisionEqual(a, b Revision) bool {
	if a.ID != b.ID || a.Payload != b.Payload || !hashing.Equal(a.FileHash, b.FileHash) {
		return false
	}
	if (a.Parent == nil) != (b.Parent == nil) {
		return false
	}
	if a.Parent != nil && *a.Parent != *b.Parent {
		return false
	}
	return a.CreatedAt.Equal(b.CreatedAt)
}

// validate checks the structural invariants: exactly one root, every parent
// resolves, no cycles, and the cursor points at an existing revision.
func (t *Tree) validate() error {
	roots := 0
	for id, rev := range t.nodes {
		if rev.ID != id {
			return fmt.Errorf("revision keyed as %d carries id %d: %w", id, rev.ID, ErrCorruptTree)
		}
		if rev.Parent == nil {
			roots++
			continue
		}
		if _, ok := t.nodes[*rev.Parent]; !ok {
			return fmt.Errorf("revision %d references missing parent %d: %w", id, *rev.Parent, ErrCorruptTree)
		}
	}
	if roots != 1 {
		return fmt.Errorf("tree has %d rootless revisions, want exactly 1: %w", roots, ErrCorruptTree)
	}

	// Walk every parent chain; a chain longer than the node count means a
	// cycle.
	for id := range t.nodes {
		steps := 0
		cur := id
		for {
			rev := t.nodes[cur]
			if rev.Parent == nil {
				break
			}
			cur = *rev.Parent
			steps++
			if steps > len(t.nodes) {
				return fmt.Errorf("cycle detected through revision %d: %w", id, ErrCorruptTree)
			}
		}
	}

	if _, ok := t.nodes[t.cursor]; !ok {
		return fmt.Errorf("cursor %d points at no revision: %w", t.cursor, ErrCorruptTree)
	}
	return nil
}
