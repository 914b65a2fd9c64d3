package undofile

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/kirawi/undofile/internal/hashing"
	"github.com/kirawi/undofile/internal/history"
)

// SaveStatus is the outcome of one Save call.
type SaveStatus int

const (
	// StatusSaved means the document and the master store both advanced.
	StatusSaved SaveStatus = iota

	// StatusWarned means the save was blocked before any durable
	// mutation; SaveResult.Reason says why.
	StatusWarned

	// StatusSkipped means the undo-file feature is disabled: the document
	// was written, all tree operations were skipped.
	StatusSkipped
)

func (s SaveStatus) String() string {
	switch s {
	case StatusSaved:
		return "saved"
	case StatusWarned:
		return "warned"
	case StatusSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("SaveStatus(%d)", int(s))
	}
}

// SaveResult reports what a Save call did.
type SaveResult struct {
	Status SaveStatus

	// Reason is set for StatusWarned.
	Reason string

	// TipID is the id of the newly merged master tip for StatusSaved.
	TipID uint64

	// Remap maps the client's local suffix ids to their newly assigned
	// master ids for StatusSaved.
	Remap map[uint64]uint64
}

// Config holds configuration for a Store.
type Config struct {
	// StateDir is the root directory for trees, sessions, and blobs.
	StateDir string

	// BackupSuffix is appended to a file's name to form its backup path.
	// Default: DefaultBackupSuffix.
	BackupSuffix string

	// Enabled controls undo-file participation for subsequent saves.
	// Default: true.
	Enabled bool

	// Session names this client. Each independent editing session keeps
	// its own sync state; sessions never share one. Default: "default".
	Session string

	// Logger for store activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults rooted at stateDir.
func DefaultConfig(stateDir string) *Config {
	return &Config{
		StateDir:     stateDir,
		BackupSuffix: DefaultBackupSuffix,
		Enabled:      true,
		Session:      "default",
		Logger:       log.New(os.Stderr, "[undofile] ", log.LstdFlags),
	}
}

// Store coordinates loads and saves of a document's shared undo history.
//
// Independent clients (separate processes or sessions) each construct their
// own Store over the same state directory; coordination happens entirely
// through the persisted master files and the atomic-rename discipline,
// never through shared memory or an OS-level lock.
type Store struct {
	stateDir     string
	backupSuffix string
	session      string
	enabled      bool
	logger       *log.Logger
}

// NewStore creates a Store from config.
func NewStore(config *Config) (*Store, error) {
	if config == nil || config.StateDir == "" {
		return nil, fmt.Errorf("state directory is required")
	}
	suffix := config.BackupSuffix
	if suffix == "" {
		suffix = DefaultBackupSuffix
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[undofile] ", log.LstdFlags)
	}
	session := config.Session
	if session == "" {
		session = "default"
	}
	return &Store{
		stateDir:     config.StateDir,
		backupSuffix: suffix,
		session:      session,
		enabled:      config.Enabled,
		logger:       logger,
	}, nil
}

// Toggle enables or disables undo-file participation for subsequent saves.
// Takes effect immediately; history already persisted is never rewritten.
func (s *Store) Toggle(enabled bool) {
	s.enabled = enabled
	s.logger.Printf("Undo-file feature enabled=%v", enabled)
}

// Enabled reports whether undo-file participation is on.
func (s *Store) Enabled() bool {
	return s.enabled
}

// TreePath returns the master undo file path for a document.
func (s *Store) TreePath(document string) string {
	return filepath.Join(s.stateDir, "trees", DocumentKey(document)+".undo")
}

// BackupPath returns the backup path for a master undo file.
func (s *Store) BackupPath(document string) string {
	return s.TreePath(document) + s.backupSuffix
}

// SyncStatePath returns this client's sync state path for a document.
func (s *Store) SyncStatePath(document string) string {
	return filepath.Join(s.stateDir, "sessions", s.session, DocumentKey(document)+".json")
}

// BlobDir returns the content-addressed payload directory.
func (s *Store) BlobDir() string {
	return filepath.Join(s.stateDir, "blobs")
}

// TreeDir returns the directory holding master undo files.
func (s *Store) TreeDir() string {
	return filepath.Join(s.stateDir, "trees")
}

// Load reads the current master tree for a document and reconciles it
// against the client's stored sync state.
//
// A document with no undo file yet starts as a fresh tree holding only the
// empty root revision. A client with no stored sync state adopts the
// current disk content as its view. A stored sync state whose divergence
// point no longer resolves in the master fails with ErrDivergenceNotFound;
// the client must reset before it can save.
func (s *Store) Load(document string) (*Client, error) {
	tree, err := s.readMaster(document)
	if err != nil {
		return nil, err
	}

	currentHash, err := hashing.HashFile(document)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", document, err)
	}

	state, err := ReadSyncState(s.SyncStatePath(document))
	if err != nil {
		return nil, err
	}

	client := &Client{Tree: tree}
	if state == nil {
		client.State = freshSyncState(document, tree, currentHash)
		s.logger.Printf("Initialized sync state for %s at revision %d", document, client.State.DivergenceID)
		return client, nil
	}

	if !tree.Contains(state.DivergenceID) {
		return nil, fmt.Errorf("load %s: divergence %d: %w", document, state.DivergenceID, history.ErrDivergenceNotFound)
	}

	stored := state.Suffix
	state.Suffix = nil
	client.State = state
	if err := client.replaySuffix(stored); err != nil {
		return nil, fmt.Errorf("failed to replay local history for %s: %w", document, err)
	}
	if len(stored) == 0 {
		if err := client.Tree.SetCursor(state.Cursor); err != nil {
			// Cursor from an older session may predate a reset; fall
			// back to the divergence point.
			client.State.Cursor = state.DivergenceID
			_ = client.Tree.SetCursor(state.DivergenceID)
		}
	}

	s.logger.Printf("Loaded %s: %d revisions, %d unmerged, divergence=%d",
		document, tree.Len(), len(client.State.Suffix), state.DivergenceID)
	return client, nil
}

// Reset discards the client's sync state for a document and reinitializes
// it from the master tree and the document's current content. Unmerged
// local history in the old state is dropped; the master store is untouched.
func (s *Store) Reset(document string) (*Client, error) {
	tree, err := s.readMaster(document)
	if err != nil {
		return nil, err
	}
	currentHash, err := hashing.HashFile(document)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", document, err)
	}

	client := &Client{Tree: tree, State: freshSyncState(document, tree, currentHash)}
	if err := WriteSyncState(s.SyncStatePath(document), client.State); err != nil {
		return nil, err
	}

	s.logger.Printf("Reset sync state for %s to revision %d", document, client.State.DivergenceID)
	return client, nil
}

// Save orchestrates one client save of the document content.
//
// Sequence:
//  1. Disabled feature: write the document, skip every tree operation,
//     return StatusSkipped.
//  2. Hash the document as it currently exists on disk and check the
//     client's sync state against it. Stale blocks the entire save before
//     any mutation: writing over an externally-changed file would silently
//     destroy unseen edits.
//  3. Re-read the master from disk and verify the client's divergence
//     point still resolves. A vanished divergence point is handled exactly
//     like staleness.
//  4. Graft the client's unmerged suffix onto a clone of the master, in
//     memory. Every check that can fail runs before anything durable is
//     touched; a merge failure leaves disk byte-identical to before the
//     call.
//  5. Write the document via backup-protected atomic replace.
//  6. Persist the merged master with the same atomic-replace discipline.
//  7. Update the client's sync state to the merged tip and the hash
//     written in step 5.
//
// The master is only persisted after the document write succeeds, and sync
// state only after the master persists: either both advance together or
// neither does. Failures surface synchronously; nothing retries.
func (s *Store) Save(client *Client, content []byte) (SaveResult, error) {
	document := client.State.Document

	if !s.enabled {
		if err := replaceWithBackup(document, content, s.backupSuffix); err != nil {
			return SaveResult{}, fmt.Errorf("failed to write document: %w", err)
		}
		s.logger.Printf("Saved %s with undo history disabled", document)
		return SaveResult{Status: StatusSkipped, Reason: "undo-file feature disabled"}, nil
	}

	currentHash, err := hashing.HashFile(document)
	if err != nil {
		return SaveResult{}, fmt.Errorf("failed to hash %s: %w", document, err)
	}

	if CheckFreshness(client.State, currentHash) == Stale {
		s.logger.Printf("Blocked save of %s: disk hash %s, last synced %s",
			document, currentHash.Short(), client.State.LastSyncedFileHash.Short())
		return SaveResult{Status: StatusWarned, Reason: "reload required: document changed on disk"}, nil
	}

	// Merge against the master as it exists right now, not the snapshot
	// loaded at open. The freshness gate bounds what can have changed in
	// between; a divergence point that vanished anyway means the client's
	// view of the tree shape is untrustworthy.
	master, err := s.readMaster(document)
	if err != nil {
		return SaveResult{}, err
	}
	if !master.Contains(client.State.DivergenceID) {
		s.logger.Printf("Blocked save of %s: divergence %d not in master", document, client.State.DivergenceID)
		return SaveResult{Status: StatusWarned, Reason: "reload required: divergence point no longer in master"}, nil
	}

	merged := master.Clone()
	remap, err := merged.Merge(client.State.Suffix, client.State.DivergenceID)
	if err != nil {
		return SaveResult{}, fmt.Errorf("failed to merge local history: %w", err)
	}

	tip := client.State.DivergenceID
	if len(client.State.Suffix) > 0 {
		tip = remap[client.State.Suffix[len(client.State.Suffix)-1].ID]
	}
	if mapped, ok := remap[client.State.Cursor]; ok {
		_ = merged.SetCursor(mapped)
	} else if merged.Contains(client.State.Cursor) {
		_ = merged.SetCursor(client.State.Cursor)
	}

	if err := replaceWithBackup(document, content, s.backupSuffix); err != nil {
		return SaveResult{}, fmt.Errorf("failed to write document: %w", err)
	}
	writtenHash := hashing.HashBytes(content)

	if err := s.writeMaster(document, merged); err != nil {
		return SaveResult{}, err
	}

	mergedCount := len(client.State.Suffix)
	client.Tree = merged
	client.State.DivergenceID = tip
	client.State.LastSyncedFileHash = writtenHash
	client.State.Suffix = nil
	client.State.Cursor = merged.Cursor()
	if err := WriteSyncState(s.SyncStatePath(document), client.State); err != nil {
		return SaveResult{}, err
	}

	s.logger.Printf("Saved %s: merged %d revisions, tip=%d, hash=%s",
		document, mergedCount, tip, writtenHash.Short())
	return SaveResult{Status: StatusSaved, TipID: tip, Remap: remap}, nil
}

// ReadTree deserializes the master undo file for a document without
// touching any sync state. Missing files return a fresh single-root tree.
func (s *Store) ReadTree(document string) (*history.Tree, error) {
	return s.readMaster(document)
}

func (s *Store) readMaster(document string) (*history.Tree, error) {
	data, err := os.ReadFile(s.TreePath(document))
	if os.IsNotExist(err) {
		return history.New(hashing.HashBytes(nil).String()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read undo file for %s: %w", document, err)
	}

	tree, err := history.Deserialize(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("undo file for %s: %w", document, err)
	}
	return tree, nil
}

func (s *Store) writeMaster(document string, tree *history.Tree) error {
	var buf bytes.Buffer
	if err := tree.Serialize(&buf); err != nil {
		return err
	}
	if err := replaceWithBackup(s.TreePath(document), buf.Bytes(), s.backupSuffix); err != nil {
		return fmt.Errorf("failed to persist undo file for %s: %w", document, err)
	}
	return nil
}

// VerifyFile deserializes an undo file at an arbitrary path and reports
// whether it is structurally valid. Used by tooling to check live files
// and their backups.
func VerifyFile(path string) (*history.Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := io.Reader(f)
	tree, err := history.Deserialize(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tree, nil
}
