// Package cache provides a local SQLite query cache over persisted undo
// files.
//
// The flat undo files remain the source of truth; the cache only exists so
// that CLI queries (revision logs, document listings, counts) don't have to
// deserialize every undo file on each invocation. Losing the cache is
// harmless, since a full sync rebuilds it from the files.
//
// The database runs embedded (ncruces/go-sqlite3, wasm build, no cgo) with
// WAL mode for concurrent readers during writes.
package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/kirawi/undofile/internal/history"
)

// DB wraps the SQLite connection with undo-cache functionality.
type DB struct {
	conn *sql.DB
	path string
}

// CachedRevision is one revision row as stored in the cache.
type CachedRevision struct {
	Document  string
	ID        uint64
	Parent    *uint64
	Payload   string
	CreatedAt time.Time
	FileHash  string
}

// DocumentSummary describes one cached document.
type DocumentSummary struct {
	Document      string
	RevisionCount int
	TipID         uint64
	SyncedAt      time.Time
}

// Open creates a database connection at the given path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	connStr := path
	if path != ":memory:" {
		connStr = fmt.Sprintf("file:%s", path)
	}
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping cache database: %w", err)
	}

	db := &DB{conn: conn, path: path}

	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the database connection after a WAL checkpoint.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	// Best effort; the files are the source of truth anyway.
	_, _ = db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return db.conn.Close()
}

// InitSchema creates the cache tables if they don't exist.
func (db *DB) InitSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS documents (
    document       TEXT PRIMARY KEY,
    revision_count INTEGER NOT NULL,
    tip_id         INTEGER NOT NULL,
    synced_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS revisions (
    document   TEXT NOT NULL REFERENCES documents(document) ON DELETE CASCADE,
    id         INTEGER NOT NULL,
    parent     INTEGER,
    payload    TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    file_hash  TEXT NOT NULL,
    PRIMARY KEY (document, id)
);

CREATE INDEX IF NOT EXISTS idx_revisions_parent ON revisions(document, parent);
`
	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to create cache schema: %w", err)
	}
	return nil
}

// ReplaceTree replaces the cached revisions for a document with the given
// tree, transactionally. Readers see either the old rows or the new rows,
// never a mix.
func (db *DB) ReplaceTree(document string, tree *history.Tree) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin cache transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM revisions WHERE document = ?", document); err != nil {
		return fmt.Errorf("failed to clear cached revisions: %w", err)
	}

	stmt, err := tx.Prepare(`
INSERT INTO revisions (document, id, parent, payload, created_at, file_hash)
VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare revision insert: %w", err)
	}
	defer stmt.Close()

	for _, rev := range tree.Revisions() {
		var parent interface{}
		if rev.Parent != nil {
			parent = int64(*rev.Parent)
		}
		if _, err := stmt.Exec(document, int64(rev.ID), parent, rev.Payload, rev.CreatedAt, rev.FileHash.String()); err != nil {
			return fmt.Errorf("failed to cache revision %d: %w", rev.ID, err)
		}
	}

	if _, err := tx.Exec(`
INSERT INTO documents (document, revision_count, tip_id, synced_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(document) DO UPDATE SET
    revision_count = excluded.revision_count,
    tip_id         = excluded.tip_id,
    synced_at      = excluded.synced_at`,
		document, tree.Len(), int64(tree.Tip().ID), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to update document summary: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cache transaction: %w", err)
	}
	return nil
}

// DeleteDocument removes a document and its revisions from the cache.
func (db *DB) DeleteDocument(document string) error {
	if _, err := db.conn.Exec("DELETE FROM documents WHERE document = ?", document); err != nil {
		return fmt.Errorf("failed to delete cached document: %w", err)
	}
	return nil
}

// RevisionCount returns the number of cached revisions for a document.
func (db *DB) RevisionCount(document string) (int, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM revisions WHERE document = ?", document).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count revisions: %w", err)
	}
	return count, nil
}

// DocumentCount returns the number of cached documents.
func (db *DB) DocumentCount() (int, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM documents").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}

// ListRevisions returns all cached revisions for a document in ascending
// id order.
func (db *DB) ListRevisions(document string) ([]CachedRevision, error) {
	rows, err := db.conn.Query(`
SELECT document, id, parent, payload, created_at, file_hash
FROM revisions WHERE document = ? ORDER BY id`, document)
	if err != nil {
		return nil, fmt.Errorf("failed to query revisions: %w", err)
	}
	defer rows.Close()

	var revs []CachedRevision
	for rows.Next() {
		var rev CachedRevision
		var id int64
		var parent sql.NullInt64
		if err := rows.Scan(&rev.Document, &id, &parent, &rev.Payload, &rev.CreatedAt, &rev.FileHash); err != nil {
			return nil, fmt.Errorf("failed to scan revision: %w", err)
		}
		rev.ID = uint64(id)
		if parent.Valid {
			p := uint64(parent.Int64)
			rev.Parent = &p
		}
		revs = append(revs, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate revisions: %w", err)
	}
	return revs, nil
}

// Documents returns a summary of every cached document, most recently
// synced first.
func (db *DB) Documents() ([]DocumentSummary, error) {
	rows, err := db.conn.Query(`
SELECT document, revision_count, tip_id, synced_at
FROM documents ORDER BY synced_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []DocumentSummary
	for rows.Next() {
		var doc DocumentSummary
		var tip int64
		if err := rows.Scan(&doc.Document, &doc.RevisionCount, &tip, &doc.SyncedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document summary: %w", err)
		}
		doc.TipID = uint64(tip)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return docs, nil
}
