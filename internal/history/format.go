package history

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/kirawi/undofile/internal/hashing"
)

// Persisted undo file layout: a JSON envelope carrying a magic string, a
// format version, a checksum of the body, and the body itself. The checksum
// covers the serialized body bytes, so a truncated or bit-flipped file fails
// verification before any structural validation runs.

const (
	// FormatMagic identifies an undo file.
	FormatMagic = "undofile"

	// FormatVersion is the current persisted format version. Readers
	// reject anything else rather than guess.
	FormatVersion = 1
)

type envelope struct {
	Magic    string          `json:"magic"`
	Version  int             `json:"version"`
	Checksum hashing.Digest  `json:"checksum"`
	Tree     json.RawMessage `json:"tree"`
}

type treeBody struct {
	Root      uint64     `json:"root"`
	NextID    uint64     `json:"next_id"`
	Cursor    uint64     `json:"cursor"`
	Revisions []Revision `json:"revisions"`
}

// Serialize writes the tree to w in the versioned envelope format.
func (t *Tree) Serialize(w io.Writer) error {
	body := treeBody{
		Root:      t.Root().ID,
		NextID:    t.nextID,
		Cursor:    t.cursor,
		Revisions: t.Revisions(),
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal tree body: %w", err)
	}

	env := envelope{
		Magic:    FormatMagic,
		Version:  FormatVersion,
		Checksum: hashing.HashBytes(raw),
		Tree:     raw,
	}

	enc := json.NewEncoder(w)
	if err := enc.Encode(&env); err != nil {
		return fmt.Errorf("failed to write undo file: %w", err)
	}
	return nil
}

// Deserialize reads a tree from r and validates it.
//
// Failure modes:
//   - ErrUnknownFormat: wrong magic or unsupported version
//   - ErrCorruptTree: checksum mismatch, unparsable body, or a structural
//     invariant violation (zero or multiple roots, unresolved parent,
//     cycle, bad cursor)
func Deserialize(r io.Reader) (*Tree, error) {
	var env envelope
	dec := json.NewDecoder(r)
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to parse undo file envelope: %w", ErrCorruptTree)
	}

	if env.Magic != FormatMagic {
		return nil, fmt.Errorf("bad magic %q: %w", env.Magic, ErrUnknownFormat)
	}
	if env.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported format version %d: %w", env.Version, ErrUnknownFormat)
	}

	if !hashing.Equal(env.Checksum, hashing.HashBytes(env.Tree)) {
		return nil, fmt.Errorf("checksum mismatch: %w", ErrCorruptTree)
	}

	var body treeBody
	if err := json.Unmarshal(env.Tree, &body); err != nil {
		return nil, fmt.Errorf("failed to parse tree body: %w", ErrCorruptTree)
	}

	nodes := make(map[uint64]Revision, len(body.Revisions))
	for _, rev := range body.Revisions {
		if _, dup := nodes[rev.ID]; dup {
			return nil, fmt.Errorf("duplicate revision id %d: %w", rev.ID, ErrCorruptTree)
		}
		nodes[rev.ID] = rev
	}

	t := &Tree{
		nodes:  nodes,
		cursor: body.Cursor,
		nextID: body.NextID,
	}

	if err := t.validate(); err != nil {
		return nil, err
	}

	if root, ok := t.nodes[body.Root]; !ok || root.Parent != nil {
		return nil, fmt.Errorf("recorded root %d is not the rootless revision: %w", body.Root, ErrCorruptTree)
	}

	for id := range t.nodes {
		if id >= t.nextID {
			return nil, fmt.Errorf("revision id %d outside id sequence (next=%d): %w", id, t.nextID, ErrCorruptTree)
		}
	}

	return t, nil
}
