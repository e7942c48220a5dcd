// Package store provides the SQLite-backed repository metadata: the
// operation journal and the working-file digest cache.
package store

import (
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"beargit/internal/cas"
)

const schema = `
CREATE TABLE IF NOT EXISTS journal (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	op TEXT NOT NULL,
	arg TEXT NOT NULL,
	head_before TEXT NOT NULL,
	head_after TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS file_cache (
	path TEXT PRIMARY KEY,
	size INTEGER NOT NULL,
	mtime INTEGER NOT NULL,
	digest TEXT NOT NULL
);
`

// Op names a journaled operation.
type Op string

const (
	OpInit   Op = "init"
	OpAdd    Op = "add"
	OpRemove Op = "remove"
	OpCommit Op = "commit"
)

// JournalEntry is one recorded operation.
type JournalEntry struct {
	Seq        int64
	Op         Op
	Arg        string
	HeadBefore string
	HeadAfter  string
	CreatedAt  int64
}

// DB wraps the SQLite database connection.
type DB struct {
	conn *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Pragmas are per connection
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	// status writes the digest cache without the repository lock, so a
	// concurrent commit's journal write has to wait rather than fail
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Record appends an operation to the journal.
func (db *DB) Record(op Op, arg, headBefore, headAfter string) error {
	_, err := db.conn.Exec(`
		INSERT INTO journal (op, arg, head_before, head_after, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, string(op), arg, headBefore, headAfter, cas.NowMs())
	if err != nil {
		return fmt.Errorf("recording %s: %w", op, err)
	}
	return nil
}

// Journal returns up to limit entries, newest first. A limit of zero or
// less returns every entry.
func (db *DB) Journal(limit int) ([]JournalEntry, error) {
	query := `SELECT seq, op, arg, head_before, head_after, created_at FROM journal ORDER BY seq DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var op string
		if err := rows.Scan(&e.Seq, &op, &e.Arg, &e.HeadBefore, &e.HeadAfter, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		e.Op = Op(op)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Digest returns the BLAKE3 digest of the working file at path. The cached
// value is used while the file's size and mtime are unchanged; otherwise the
// file is rehashed and the cache updated. name is the cache key.
func (db *DB) Digest(name, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	size := info.Size()
	mtime := info.ModTime().UnixNano()

	var cachedSize, cachedMtime int64
	var cachedDigest string
	err = db.conn.QueryRow(
		"SELECT size, mtime, digest FROM file_cache WHERE path = ?",
		name,
	).Scan(&cachedSize, &cachedMtime, &cachedDigest)
	if err == nil && cachedSize == size && cachedMtime == mtime {
		return cachedDigest, nil
	}
	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("querying file cache: %w", err)
	}

	digest, _, err := cas.HashFile(path)
	if err != nil {
		return "", err
	}

	if _, err := db.conn.Exec(
		`INSERT OR REPLACE INTO file_cache (path, size, mtime, digest)
		 VALUES (?, ?, ?, ?)`,
		name, size, mtime, digest,
	); err != nil {
		return "", fmt.Errorf("updating file cache: %w", err)
	}
	return digest, nil
}

// Forget drops the cached digest for name.
func (db *DB) Forget(name string) error {
	_, err := db.conn.Exec("DELETE FROM file_cache WHERE path = ?", name)
	return err
}

// CachedEntries returns the number of cached digests.
func (db *DB) CachedEntries() (int64, error) {
	var count int64
	err := db.conn.QueryRow("SELECT COUNT(*) FROM file_cache").Scan(&count)
	return count, err
}
