package undofile

import (
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/kirawi/undofile/internal/hashing"
	"github.com/kirawi/undofile/internal/history"
)

// newTestStore creates a store over a shared state directory for the given
// session name.
func newTestStore(t *testing.T, stateDir, session string, enabled bool) *Store {
	t.Helper()

	cfg := DefaultConfig(stateDir)
	cfg.Session = session
	cfg.Enabled = enabled
	cfg.Logger = log.New(io.Discard, "", 0)

	store, err := NewStore(cfg)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store
}

func readFileOrFatal(t *testing.T, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", path, err)
	}
	return data
}

func TestNewStore_RequiresStateDir(t *testing.T) {
	if _, err := NewStore(&Config{}); err == nil {
		t.Error("NewStore() with empty state dir succeeded, want error")
	}
	if _, err := NewStore(nil); err == nil {
		t.Error("NewStore(nil) succeeded, want error")
	}
}

// The concrete two-client scenario: client A saves fresh and advances the
// master to {0,1}; client B, still holding the pre-save view, is blocked
// with everything untouched.
func TestSave_FreshThenStale(t *testing.T) {
	stateDir := t.TempDir()
	document := filepath.Join(t.TempDir(), "doc.txt")

	storeA := newTestStore(t, stateDir, "a", true)
	storeB := newTestStore(t, stateDir, "b", true)

	// Both clients open the (not yet existing) empty document.
	clientA, err := storeA.Load(document)
	if err != nil {
		t.Fatalf("Load(A) error = %v", err)
	}
	clientB, err := storeB.Load(document)
	if err != nil {
		t.Fatalf("Load(B) error = %v", err)
	}

	h0 := hashing.HashBytes(nil)
	if !hashing.Equal(clientA.State.LastSyncedFileHash, h0) {
		t.Fatalf("A initial synced hash = %s, want empty hash", clientA.State.LastSyncedFileHash)
	}
	if clientA.State.DivergenceID != 0 {
		t.Fatalf("A initial divergence = %d, want 0", clientA.State.DivergenceID)
	}

	// A commits and saves while the disk still matches H0.
	content := []byte("first revision content")
	if _, err := clientA.Commit(storeA.BlobDir(), content); err != nil {
		t.Fatalf("Commit(A) error = %v", err)
	}
	result, err := storeA.Save(clientA, content)
	if err != nil {
		t.Fatalf("Save(A) error = %v", err)
	}
	if result.Status != StatusSaved {
		t.Fatalf("Save(A) status = %v, want saved", result.Status)
	}
	if result.TipID != 1 {
		t.Errorf("Save(A) tip = %d, want 1", result.TipID)
	}

	master, err := storeA.ReadTree(document)
	if err != nil {
		t.Fatalf("ReadTree() error = %v", err)
	}
	if master.Len() != 2 || !master.Contains(0) || !master.Contains(1) {
		t.Errorf("master has %d revisions, want {0,1}", master.Len())
	}

	h1 := hashing.HashBytes(content)
	if clientA.State.DivergenceID != 1 {
		t.Errorf("A divergence after save = %d, want 1", clientA.State.DivergenceID)
	}
	if !hashing.Equal(clientA.State.LastSyncedFileHash, h1) {
		t.Errorf("A synced hash after save = %s, want %s", clientA.State.LastSyncedFileHash, h1)
	}

	// B still holds (divergence 0, H0) while the disk is at H1.
	docBefore := readFileOrFatal(t, document)
	masterBefore := readFileOrFatal(t, storeB.TreePath(document))

	if _, err := clientB.Commit(storeB.BlobDir(), []byte("b content")); err != nil {
		t.Fatalf("Commit(B) error = %v", err)
	}
	resultB, err := storeB.Save(clientB, []byte("b content"))
	if err != nil {
		t.Fatalf("Save(B) error = %v", err)
	}
	if resultB.Status != StatusWarned {
		t.Fatalf("Save(B) status = %v, want warned", resultB.Status)
	}

	// Both the document and the master store are byte-identical.
	if string(readFileOrFatal(t, document)) != string(docBefore) {
		t.Error("stale save modified the document")
	}
	if string(readFileOrFatal(t, storeB.TreePath(document))) != string(masterBefore) {
		t.Error("stale save modified the master store")
	}
}

func TestSave_Disabled(t *testing.T) {
	stateDir := t.TempDir()
	document := filepath.Join(t.TempDir(), "doc.txt")
	store := newTestStore(t, stateDir, "default", false)

	client, err := store.Load(document)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	content := []byte("saved without history")
	result, err := store.Save(client, content)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if result.Status != StatusSkipped {
		t.Errorf("Save() status = %v, want skipped", result.Status)
	}

	if string(readFileOrFatal(t, document)) != string(content) {
		t.Error("document not written")
	}
	if _, err := os.Stat(store.TreePath(document)); !os.IsNotExist(err) {
		t.Error("disabled save created an undo file")
	}
}

func TestToggle(t *testing.T) {
	stateDir := t.TempDir()
	document := filepath.Join(t.TempDir(), "doc.txt")
	store := newTestStore(t, stateDir, "default", true)

	store.Toggle(false)
	if store.Enabled() {
		t.Fatal("Enabled() = true after Toggle(false)")
	}

	client, err := store.Load(document)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	result, err := store.Save(client, []byte("x"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if result.Status != StatusSkipped {
		t.Errorf("Save() status = %v after toggle off, want skipped", result.Status)
	}

	store.Toggle(true)
	client, err = store.Load(document)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	content := []byte("y")
	if _, err := client.Commit(store.BlobDir(), content); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	result, err = store.Save(client, content)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if result.Status != StatusSaved {
		t.Errorf("Save() status = %v after toggle on, want saved", result.Status)
	}
}

func TestSave_DivergenceNotFound(t *testing.T) {
	stateDir := t.TempDir()
	document := filepath.Join(t.TempDir(), "doc.txt")
	store := newTestStore(t, stateDir, "default", true)

	client, err := store.Load(document)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// The client claims a divergence point the master never had.
	client.State.DivergenceID = 99

	result, err := store.Save(client, []byte("x"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if result.Status != StatusWarned {
		t.Errorf("Save() status = %v, want warned", result.Status)
	}
	if _, err := os.Stat(document); !os.IsNotExist(err) {
		t.Error("blocked save wrote the document")
	}
}

// A client that refreshed its view of the document but kept a local branch
// from an older divergence point merges as a sibling, not on top.
func TestSave_SiblingBranches(t *testing.T) {
	stateDir := t.TempDir()
	document := filepath.Join(t.TempDir(), "doc.txt")

	storeA := newTestStore(t, stateDir, "a", true)
	storeB := newTestStore(t, stateDir, "b", true)

	clientA, err := storeA.Load(document)
	if err != nil {
		t.Fatalf("Load(A) error = %v", err)
	}
	contentA := []byte("branch a")
	if _, err := clientA.Commit(storeA.BlobDir(), contentA); err != nil {
		t.Fatalf("Commit(A) error = %v", err)
	}
	if _, err := storeA.Save(clientA, contentA); err != nil {
		t.Fatalf("Save(A) error = %v", err)
	}

	// B diverges from the root but has observed the disk at A's content.
	clientB, err := storeB.Load(document)
	if err != nil {
		t.Fatalf("Load(B) error = %v", err)
	}
	clientB.State.DivergenceID = 0
	if err := clientB.Tree.SetCursor(0); err != nil {
		t.Fatalf("SetCursor() error = %v", err)
	}
	clientB.State.Cursor = 0

	contentB := []byte("branch b")
	if _, err := clientB.Commit(storeB.BlobDir(), contentB); err != nil {
		t.Fatalf("Commit(B) error = %v", err)
	}
	result, err := storeB.Save(clientB, contentB)
	if err != nil {
		t.Fatalf("Save(B) error = %v", err)
	}
	if result.Status != StatusSaved {
		t.Fatalf("Save(B) status = %v (%s), want saved", result.Status, result.Reason)
	}

	master, err := storeA.ReadTree(document)
	if err != nil {
		t.Fatalf("ReadTree() error = %v", err)
	}
	children := master.Children(0)
	if len(children) != 2 {
		t.Fatalf("Children(0) = %v, want two sibling branches", children)
	}
	if master.Len() != 3 {
		t.Errorf("master Len() = %d, want 3", master.Len())
	}
}

// Undoing into merged history and editing from there starts a new branch;
// the save must graft it at the revision it actually descends from.
func TestSave_BranchAfterUndo(t *testing.T) {
	stateDir := t.TempDir()
	document := filepath.Join(t.TempDir(), "doc.txt")
	store := newTestStore(t, stateDir, "default", true)

	first := []byte("one")
	client, err := store.Load(document)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := client.Commit(store.BlobDir(), first); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if _, err := store.Save(client, first); err != nil {
		t.Fatalf("first Save() error = %v", err)
	}

	if _, err := client.Undo(); err != nil {
		t.Fatalf("Undo() error = %v", err)
	}

	second := []byte("two")
	if _, err := client.Commit(store.BlobDir(), second); err != nil {
		t.Fatalf("Commit() after undo error = %v", err)
	}
	if client.State.DivergenceID != 0 {
		t.Errorf("divergence = %d after branching below it, want 0", client.State.DivergenceID)
	}

	result, err := store.Save(client, second)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if result.Status != StatusSaved {
		t.Fatalf("Save() status = %v (%s), want saved", result.Status, result.Reason)
	}

	master, err := store.ReadTree(document)
	if err != nil {
		t.Fatalf("ReadTree() error = %v", err)
	}
	if master.Len() != 3 {
		t.Errorf("master Len() = %d, want 3", master.Len())
	}
	children := master.Children(0)
	if len(children) != 2 {
		t.Fatalf("Children(0) = %v, want two sibling branches", children)
	}
	if client.State.DivergenceID != result.TipID {
		t.Errorf("divergence after save = %d, want merged tip %d", client.State.DivergenceID, result.TipID)
	}
}

// A merge failure must surface before any durable write: document, master,
// and sync state all stay byte-identical, and the session can still save
// afterward.
func TestSave_MergeFailureLeavesStorageUntouched(t *testing.T) {
	stateDir := t.TempDir()
	document := filepath.Join(t.TempDir(), "doc.txt")
	store := newTestStore(t, stateDir, "default", true)

	first := []byte("v1")
	client, err := store.Load(document)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := client.Commit(store.BlobDir(), first); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if _, err := store.Save(client, first); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	docBefore := readFileOrFatal(t, document)
	masterBefore := readFileOrFatal(t, store.TreePath(document))
	stateBefore := readFileOrFatal(t, store.SyncStatePath(document))

	bad := uint64(99)
	client.State.Suffix = []history.Revision{
		{ID: 50, Parent: &bad, Payload: "x", FileHash: hashing.HashBytes([]byte("x"))},
	}

	_, err = store.Save(client, []byte("v2"))
	if !errors.Is(err, history.ErrDanglingParent) {
		t.Fatalf("Save() error = %v, want ErrDanglingParent", err)
	}

	if string(readFileOrFatal(t, document)) != string(docBefore) {
		t.Error("failed merge modified the document")
	}
	if string(readFileOrFatal(t, store.TreePath(document))) != string(masterBefore) {
		t.Error("failed merge modified the master store")
	}
	if string(readFileOrFatal(t, store.SyncStatePath(document))) != string(stateBefore) {
		t.Error("failed merge modified the sync state")
	}

	// The session is not wedged: a clean reload saves normally.
	client, err = store.Load(document)
	if err != nil {
		t.Fatalf("Load() after failed merge error = %v", err)
	}
	next := []byte("v3")
	if _, err := client.Commit(store.BlobDir(), next); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	result, err := store.Save(client, next)
	if err != nil {
		t.Fatalf("Save() after failed merge error = %v", err)
	}
	if result.Status != StatusSaved {
		t.Errorf("Save() status = %v (%s) after failed merge, want saved", result.Status, result.Reason)
	}
}

func TestSave_BackupsPreservePreviousVersion(t *testing.T) {
	stateDir := t.TempDir()
	document := filepath.Join(t.TempDir(), "doc.txt")
	store := newTestStore(t, stateDir, "default", true)

	first := []byte("version one")
	client, err := store.Load(document)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := client.Commit(store.BlobDir(), first); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if _, err := store.Save(client, first); err != nil {
		t.Fatalf("first Save() error = %v", err)
	}
	masterAfterFirst := readFileOrFatal(t, store.TreePath(document))

	second := []byte("version two")
	if _, err := client.Commit(store.BlobDir(), second); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if _, err := store.Save(client, second); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	if string(readFileOrFatal(t, document+DefaultBackupSuffix)) != string(first) {
		t.Error("document backup does not hold the previous version")
	}
	if string(readFileOrFatal(t, store.BackupPath(document))) != string(masterAfterFirst) {
		t.Error("master backup does not hold the previous version")
	}

	// The backup must itself be a valid undo file.
	if _, err := VerifyFile(store.BackupPath(document)); err != nil {
		t.Errorf("master backup failed verification: %v", err)
	}
}

func TestLoad_ReplaysStoredSuffix(t *testing.T) {
	stateDir := t.TempDir()
	document := filepath.Join(t.TempDir(), "doc.txt")
	store := newTestStore(t, stateDir, "default", true)

	// A previous session recorded two local revisions it never saved.
	parent0 := uint64(0)
	parent5 := uint64(5)
	state := &SyncState{
		Document:           document,
		DivergenceID:       0,
		LastSyncedFileHash: hashing.HashBytes(nil),
		Cursor:             6,
		Suffix: []history.Revision{
			{ID: 5, Parent: &parent0, Payload: "p1", FileHash: hashing.HashBytes([]byte("p1"))},
			{ID: 6, Parent: &parent5, Payload: "p2", FileHash: hashing.HashBytes([]byte("p2"))},
		},
	}
	if err := WriteSyncState(store.SyncStatePath(document), state); err != nil {
		t.Fatalf("WriteSyncState() error = %v", err)
	}

	client, err := store.Load(document)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(client.State.Suffix) != 2 {
		t.Fatalf("replayed suffix has %d revisions, want 2", len(client.State.Suffix))
	}
	if client.Tree.Len() != 3 {
		t.Errorf("tree Len() = %d, want 3 (root + 2 replayed)", client.Tree.Len())
	}
	// Ids are reassigned from the tree's sequence; the cursor follows.
	tip := client.State.Suffix[len(client.State.Suffix)-1]
	if client.State.Cursor != tip.ID {
		t.Errorf("cursor = %d, want replayed tip %d", client.State.Cursor, tip.ID)
	}
	if tip.Payload != "p2" {
		t.Errorf("replayed tip payload = %q, want %q", tip.Payload, "p2")
	}

	// The replayed suffix still merges cleanly on save.
	content := []byte("p2")
	result, err := store.Save(client, content)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if result.Status != StatusSaved {
		t.Fatalf("Save() status = %v, want saved", result.Status)
	}
	master, err := store.ReadTree(document)
	if err != nil {
		t.Fatalf("ReadTree() error = %v", err)
	}
	if master.Len() != 3 {
		t.Errorf("master Len() = %d after save, want 3", master.Len())
	}
}

func TestLoad_DivergenceNotFound(t *testing.T) {
	stateDir := t.TempDir()
	document := filepath.Join(t.TempDir(), "doc.txt")
	store := newTestStore(t, stateDir, "default", true)

	state := &SyncState{
		Document:           document,
		DivergenceID:       42,
		LastSyncedFileHash: hashing.HashBytes(nil),
	}
	if err := WriteSyncState(store.SyncStatePath(document), state); err != nil {
		t.Fatalf("WriteSyncState() error = %v", err)
	}

	if _, err := store.Load(document); !errors.Is(err, history.ErrDivergenceNotFound) {
		t.Errorf("Load() error = %v, want ErrDivergenceNotFound", err)
	}
}

func TestLoad_CorruptMaster(t *testing.T) {
	stateDir := t.TempDir()
	document := filepath.Join(t.TempDir(), "doc.txt")
	store := newTestStore(t, stateDir, "default", true)

	if err := os.MkdirAll(store.TreeDir(), 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(store.TreePath(document), []byte("garbage"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := store.Load(document); !errors.Is(err, history.ErrCorruptTree) {
		t.Errorf("Load() error = %v, want ErrCorruptTree", err)
	}
}

func TestReset_AdoptsDiskState(t *testing.T) {
	stateDir := t.TempDir()
	docDir := t.TempDir()
	document := filepath.Join(docDir, "doc.txt")
	store := newTestStore(t, stateDir, "default", true)

	// Save once, then simulate an external edit.
	content := []byte("original")
	client, err := store.Load(document)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := client.Commit(store.BlobDir(), content); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if _, err := store.Save(client, content); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	external := []byte("changed by another tool")
	if err := os.WriteFile(document, external, 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	// The stale client is blocked, then resets and can save again.
	client, err = store.Load(document)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := client.Commit(store.BlobDir(), []byte("post-edit")); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	result, err := store.Save(client, []byte("post-edit"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if result.Status != StatusWarned {
		t.Fatalf("Save() status = %v, want warned", result.Status)
	}

	client, err = store.Reset(document)
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if !hashing.Equal(client.State.LastSyncedFileHash, hashing.HashBytes(external)) {
		t.Error("reset did not adopt the on-disk hash")
	}
	if client.HasUnmergedHistory() {
		t.Error("reset kept unmerged history")
	}

	next := []byte("after reset")
	if _, err := client.Commit(store.BlobDir(), next); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	result, err = store.Save(client, next)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if result.Status != StatusSaved {
		t.Errorf("Save() status after reset = %v (%s), want saved", result.Status, result.Reason)
	}
}

func TestCheckFreshness(t *testing.T) {
	h1 := hashing.HashBytes([]byte("one"))
	h2 := hashing.HashBytes([]byte("two"))

	state := &SyncState{Document: "d", LastSyncedFileHash: h1}
	if got := CheckFreshness(state, h1); got != Fresh {
		t.Errorf("CheckFreshness(matching) = %v, want fresh", got)
	}
	if got := CheckFreshness(state, h2); got != Stale {
		t.Errorf("CheckFreshness(mismatched) = %v, want stale", got)
	}
}
