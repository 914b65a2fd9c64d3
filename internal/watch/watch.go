// Package watch provides the cache sync daemon for persisted undo files.
//
// The daemon:
//  1. Performs a full sync of every undo file into the SQLite cache
//  2. Watches the trees directory for changed undo files
//  3. Periodically re-syncs as a safety net
//  4. Handles graceful shutdown
//
// Undo files that fail to deserialize are logged and skipped, never
// repaired: a corrupt master is a condition for a human, not the daemon.
package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kirawi/undofile/internal/cache"
	"github.com/kirawi/undofile/internal/undofile"
)

// UndoFileExt is the extension of persisted master trees.
const UndoFileExt = ".undo"

// Config holds configuration for the daemon.
type Config struct {
	// ResyncInterval is how often to run a full sync regardless of
	// filesystem events.
	ResyncInterval time.Duration

	// DebounceInterval is how long to wait before processing file
	// changes. This batches the backup-then-rename pairs a single save
	// produces into one sync.
	DebounceInterval time.Duration

	// BackupSuffix marks backup copies; files carrying it are ignored.
	BackupSuffix string

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ResyncInterval:   30 * time.Second,
		DebounceInterval: 100 * time.Millisecond,
		BackupSuffix:     undofile.DefaultBackupSuffix,
		Logger:           log.New(os.Stderr, "[watch] ", log.LstdFlags),
	}
}

// Daemon keeps the SQLite cache in sync with the undo files on disk.
type Daemon struct {
	db       *cache.DB
	treesDir string
	config   *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> queued at
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon watching treesDir and syncing into db.
func New(db *cache.DB, treesDir string, config *Config) (*Daemon, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if treesDir == "" {
		return nil, fmt.Errorf("treesDir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		db:          db,
		treesDir:    treesDir,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins watching and syncing. Blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting undo cache daemon")

	if err := os.MkdirAll(d.treesDir, 0755); err != nil {
		return fmt.Errorf("failed to create trees directory: %w", err)
	}

	if err := d.FullSync(); err != nil {
		return fmt.Errorf("initial sync failed: %w", err)
	}

	if err := d.watcher.Add(d.treesDir); err != nil {
		return fmt.Errorf("failed to watch trees directory: %w", err)
	}
	d.config.Logger.Printf("Watching: %s", d.treesDir)

	d.wg.Add(3)
	go d.watchFileEvents()
	go d.processChangeQueue()
	go d.periodicResync()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// FullSync syncs every undo file in the trees directory into the cache.
// Individual file failures are logged but don't stop the sync.
func (d *Daemon) FullSync() error {
	entries, err := os.ReadDir(d.treesDir)
	if os.IsNotExist(err) {
		d.config.Logger.Printf("Trees directory doesn't exist yet: %s", d.treesDir)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read trees directory: %w", err)
	}

	var synced, failed int
	for _, entry := range entries {
		if entry.IsDir() || !d.isUndoFile(entry.Name()) {
			continue
		}
		path := filepath.Join(d.treesDir, entry.Name())
		if err := d.syncUndoFile(path); err != nil {
			d.config.Logger.Printf("WARNING: Failed to sync %s: %v", entry.Name(), err)
			failed++
			continue
		}
		synced++
	}

	d.config.Logger.Printf("Full sync complete: %d synced, %d failed", synced, failed)
	return nil
}

// isUndoFile reports whether a name is a live undo file (not a backup, not
// a temp file mid-replace).
func (d *Daemon) isUndoFile(name string) bool {
	if strings.HasPrefix(name, ".tmp-") {
		return false
	}
	if d.config.BackupSuffix != "" && strings.HasSuffix(name, d.config.BackupSuffix) {
		return false
	}
	return strings.HasSuffix(name, UndoFileExt)
}

// watchFileEvents monitors filesystem events and queues changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if !d.isUndoFile(filepath.Base(event.Name)) {
				continue
			}

			d.config.Logger.Printf("File event: %s %s", event.Op, event.Name)
			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue drains queued file changes after they settle.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	now := time.Now()
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			d.config.Logger.Printf("Undo file removed: %s", path)
			if err := d.db.DeleteDocument(documentKeyFromPath(path)); err != nil {
				d.config.Logger.Printf("Error dropping cached document: %v", err)
			}
		} else if err := d.syncUndoFile(path); err != nil {
			d.config.Logger.Printf("Error syncing %s: %v", path, err)
		}

		delete(d.changeQueue, path)
	}
}

// periodicResync runs full syncs on a timer as a safety net for missed
// events.
func (d *Daemon) periodicResync() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if err := d.FullSync(); err != nil {
				d.config.Logger.Printf("Error during periodic resync: %v", err)
			}
		}
	}
}

// syncUndoFile deserializes one undo file and replaces its cached rows.
func (d *Daemon) syncUndoFile(path string) error {
	tree, err := undofile.VerifyFile(path)
	if err != nil {
		return fmt.Errorf("failed to read undo file: %w", err)
	}

	key := documentKeyFromPath(path)
	if err := d.db.ReplaceTree(key, tree); err != nil {
		return fmt.Errorf("failed to cache tree: %w", err)
	}

	d.config.Logger.Printf("Synced %s: %d revisions, tip=%d", key, tree.Len(), tree.Tip().ID)
	return nil
}

// documentKeyFromPath recovers the document key from an undo file path.
func documentKeyFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), UndoFileExt)
}
