// Package undofile persists the shared undo history of a document and
// coordinates saves from independent editing sessions.
//
// Durable layout under the state directory:
//
//	<state>/trees/<doc-key>.undo            master revision tree (authoritative)
//	<state>/trees/<doc-key>.undo.orig       previous version, kept across replaces
//	<state>/sessions/<name>/<doc-key>.json  one client session's sync state
//	<state>/blobs/<digest>                  content-addressed revision payloads
//
// The master tree is shared between clients and only ever rewritten through
// the backup-protected atomic-replace path. Sync state and blobs are owned
// by the writing client.
package undofile

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kirawi/undofile/internal/hashing"
	"github.com/kirawi/undofile/internal/history"
)

// SyncState records what a client has last seen of a document's shared
// history, plus the client's own unmerged local extension.
type SyncState struct {
	// Document is the absolute path of the document this state belongs to.
	Document string `json:"document"`

	// DivergenceID is the master revision id this client's local history
	// branched from.
	DivergenceID uint64 `json:"divergence_id"`

	// LastSyncedFileHash is the document content hash as last observed by
	// this client. A mismatch against the file's current hash means an
	// unseen external change.
	LastSyncedFileHash hashing.Digest `json:"last_synced_file_hash"`

	// Cursor is the client's undo/redo position, in local ids.
	Cursor uint64 `json:"cursor"`

	// Suffix is the client's local revisions beyond DivergenceID, in
	// causal order. Empty once everything is merged.
	Suffix []history.Revision `json:"suffix,omitempty"`
}

// Validate checks that the sync state is internally consistent.
func (s *SyncState) Validate() error {
	if s.Document == "" {
		return fmt.Errorf("document is required")
	}
	seen := map[uint64]bool{}
	for _, rev := range s.Suffix {
		if rev.Parent == nil {
			return fmt.Errorf("suffix revision %d has no parent", rev.ID)
		}
		if seen[rev.ID] {
			return fmt.Errorf("duplicate suffix revision id %d", rev.ID)
		}
		seen[rev.ID] = true
	}
	return nil
}

// DocumentKey returns a stable filename-safe key for a document path.
//
// Keys hash the absolute path so that documents with the same basename in
// different directories never collide in the state directory.
func DocumentKey(document string) string {
	abs, err := filepath.Abs(document)
	if err != nil {
		abs = document
	}
	sum := sha256.Sum256([]byte(abs))
	return fmt.Sprintf("%s-%s", filepath.Base(abs), hex.EncodeToString(sum[:8]))
}

// ReadSyncState reads and validates a client's sync state file.
// A missing file returns (nil, nil); the caller initializes fresh state.
func ReadSyncState(path string) (*SyncState, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sync state %s: %w", path, err)
	}

	var state SyncState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse sync state %s: %w", path, err)
	}
	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sync state %s: %w", path, err)
	}

	return &state, nil
}

// WriteSyncState writes a client's sync state as pretty-printed JSON.
func WriteSyncState(path string, state *SyncState) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("cannot write invalid sync state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create sessions directory: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sync state: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write sync state %s: %w", path, err)
	}
	return nil
}
