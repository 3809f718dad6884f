package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteMagic = "SQLite format 3\x00"

var sqliteSchema = []string{
	`CREATE TABLE meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE entries (
		step    INTEGER PRIMARY KEY,
		payload BLOB NOT NULL
	)`,
}

func init() {
	registerBackend(SQLiteBackend{})
}

// SQLiteBackend stores a recording in a single SQLite database file. Writes
// use synchronous=FULL with a rollback journal, so every committed entry is
// on disk and no sidecar files outlive a write.
type SQLiteBackend struct{}

func (SQLiteBackend) Name() string { return "sqlite" }

func (SQLiteBackend) Sniff(prefix []byte) bool { return hasPrefix(prefix, sqliteMagic) }

func openSQLite(path string, readOnly bool) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("cache path is required")
	}
	dsn := "file:" + filepath.Clean(path) + "?_pragma=busy_timeout(5000)"
	if readOnly {
		dsn += "&mode=ro"
	} else {
		dsn += "&_pragma=journal_mode(DELETE)&_pragma=synchronous(FULL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return sqlDB, nil
}

// Create removes any file at path and initializes a fresh database.
func (SQLiteBackend) Create(path string, hdr Header) (Store, error) {
	for _, p := range []string{path, path + "-journal"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("removing previous cache: %w", err)
		}
	}
	sqlDB, err := openSQLite(path, false)
	if err != nil {
		return nil, err
	}
	if err := initSQLite(sqlDB, hdr); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &SQLiteStore{db: sqlDB}, nil
}

func initSQLite(sqlDB *sql.DB, hdr Header) error {
	tx, err := sqlDB.Begin()
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range sqliteSchema {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("create cache schema: %w", err)
		}
	}
	meta := map[string]string{
		"format_version": strconv.Itoa(hdr.FormatVersion),
		"run_id":         hdr.RunID,
		"model":          hdr.Model,
		"created_at":     hdr.CreatedAt.Format(time.RFC3339Nano),
		"finished":       "0",
	}
	for k, v := range meta {
		if _, err := tx.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("write cache meta %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// ReadAll reads the header and every entry in step order. A gap in the step
// sequence is reported as ErrCorruptCache.
func (SQLiteBackend) ReadAll(path string) (*Recording, error) {
	sqlDB, err := openSQLite(path, true)
	if err != nil {
		return nil, err
	}
	defer func() { _ = sqlDB.Close() }()

	rec := &Recording{Path: path, Backend: "sqlite", Entries: make([][]byte, 0)}
	if err := readSQLiteMeta(sqlDB, rec); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	rows, err := sqlDB.Query(`SELECT step, payload FROM entries ORDER BY step`)
	if err != nil {
		return nil, fmt.Errorf("query cache entries: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var step int
		var payload []byte
		if err := rows.Scan(&step, &payload); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		if step != len(rec.Entries) {
			return nil, fmt.Errorf("%w: step %d follows step %d", ErrCorruptCache, step, len(rec.Entries)-1)
		}
		rec.Entries = append(rec.Entries, payload)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cache entries: %w", err)
	}
	return rec, nil
}

func readSQLiteMeta(sqlDB *sql.DB, rec *Recording) error {
	rows, err := sqlDB.Query(`SELECT key, value FROM meta`)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptCache, err)
	}
	defer func() { _ = rows.Close() }()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return fmt.Errorf("scan cache meta: %w", err)
		}
		meta[k] = v
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate cache meta: %w", err)
	}

	version, err := strconv.Atoi(meta["format_version"])
	if err != nil || version != FormatVersion {
		return fmt.Errorf("%w: format version %q, want %d", ErrCorruptCache, meta["format_version"], FormatVersion)
	}
	rec.Header.FormatVersion = version
	rec.Header.RunID = meta["run_id"]
	rec.Header.Model = meta["model"]
	if ts := meta["created_at"]; ts != "" {
		if rec.Header.CreatedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return fmt.Errorf("%w: created_at: %v", ErrCorruptCache, err)
		}
	}
	rec.Finished = meta["finished"] == "1"
	return nil
}

// SQLiteStore appends entries to an open SQLite cache.
type SQLiteStore struct {
	db       *sql.DB
	n        int
	finished bool
}

// Append inserts the entry for step, which must equal Len(). The insert is
// committed before Append returns.
func (s *SQLiteStore) Append(step int, payload []byte) error {
	if s.db == nil {
		return ErrStoreClosed
	}
	if s.finished {
		return ErrFinished
	}
	if step != s.n {
		return fmt.Errorf("%w: got %d, want %d", ErrNonContiguous, step, s.n)
	}
	if _, err := s.db.Exec(`INSERT INTO entries (step, payload) VALUES (?, ?)`, step, payload); err != nil {
		return fmt.Errorf("appending step %d: %w", step, err)
	}
	s.n++
	return nil
}

// MarkFinished sets the finished flag. Repeated calls are no-ops.
func (s *SQLiteStore) MarkFinished() error {
	if s.finished {
		return nil
	}
	if s.db == nil {
		return ErrStoreClosed
	}
	if _, err := s.db.Exec(`UPDATE meta SET value = '1' WHERE key = 'finished'`); err != nil {
		return fmt.Errorf("writing finished flag: %w", err)
	}
	s.finished = true
	return nil
}

func (s *SQLiteStore) Len() int { return s.n }

func (s *SQLiteStore) Finished() bool { return s.finished }

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
