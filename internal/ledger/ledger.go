// Package ledger persists the archive idempotency state: which source URLs
// have been mirrored, under which Internet Archive identifiers, and the
// resumable last-processed cursor.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // sqlite driver
)

const lastProcessedKey = "last_processed_date"

// Record is one archived source URL as stored in the uploads table.
type Record struct {
	URL       string `db:"url"`
	Bucket    string `db:"ia_bucket"`
	Key       string `db:"ia_key"`
	Title     string `db:"title"`
	Timestamp string `db:"timestamp"`
}

// Ledger is a sqlite-backed store of upload records and run progress.
type Ledger struct {
	db *sqlx.DB
}

// Open creates (or opens) the sqlite database at path and brings its schema
// up to date. Migration is additive only: columns missing from an older
// schema are added in place, nothing is dropped.
func Open(ctx context.Context, path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite ledger: %w", err)
	}
	// sqlite allows a single writer; serializing through one connection
	// avoids SQLITE_BUSY under concurrent worker upserts.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite ledger: %w", err)
	}

	l := &Ledger{db: db}
	if err := l.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) migrate(ctx context.Context) error {
	const uploads = `
		CREATE TABLE IF NOT EXISTS uploads (
			url       TEXT PRIMARY KEY,
			ia_bucket TEXT NOT NULL,
			ia_key    TEXT NOT NULL,
			title     TEXT NOT NULL DEFAULT '',
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		)`
	if _, err := l.db.ExecContext(ctx, uploads); err != nil {
		return fmt.Errorf("create uploads table: %w", err)
	}

	const progress = `
		CREATE TABLE IF NOT EXISTS progress (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`
	if _, err := l.db.ExecContext(ctx, progress); err != nil {
		return fmt.Errorf("create progress table: %w", err)
	}

	// Databases created before titles were recorded lack the title column.
	hasTitle, err := l.hasColumn(ctx, "uploads", "title")
	if err != nil {
		return err
	}
	if !hasTitle {
		alter := `ALTER TABLE uploads ADD COLUMN title TEXT NOT NULL DEFAULT ''`
		if _, err := l.db.ExecContext(ctx, alter); err != nil {
			return fmt.Errorf("add title column: %w", err)
		}
	}
	return nil
}

func (l *Ledger) hasColumn(ctx context.Context, table, column string) (bool, error) {
	rows, err := l.db.QueryxContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("inspect %s schema: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return false, fmt.Errorf("scan %s schema row: %w", table, err)
		}
		if name == column {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("iterate %s schema: %w", table, err)
	}
	return false, nil
}

// IsArchived reports whether url already has an upload record.
func (l *Ledger) IsArchived(ctx context.Context, url string) (bool, error) {
	var one int
	err := l.db.GetContext(ctx, &one, `SELECT 1 FROM uploads WHERE url = ?`, url)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query archived url: %w", err)
	}
	return true, nil
}

// RecordUpload upserts the upload record for url. A re-archive of the same
// URL replaces the prior record rather than duplicating it.
func (l *Ledger) RecordUpload(ctx context.Context, url, bucket, key, title string) error {
	const q = `
		INSERT OR REPLACE INTO uploads (url, ia_bucket, ia_key, title)
		VALUES (?, ?, ?, ?)`
	if _, err := l.db.ExecContext(ctx, q, url, bucket, key, title); err != nil {
		return fmt.Errorf("record upload: %w", err)
	}
	return nil
}

// ArchivedURLs returns a snapshot of every archived source URL.
func (l *Ledger) ArchivedURLs(ctx context.Context) (map[string]struct{}, error) {
	var urls []string
	if err := l.db.SelectContext(ctx, &urls, `SELECT url FROM uploads`); err != nil {
		return nil, fmt.Errorf("list archived urls: %w", err)
	}
	set := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		set[u] = struct{}{}
	}
	return set, nil
}

// TitleByKey returns the recorded title for an IA key, or "" when the key
// is unknown or was archived without a title.
func (l *Ledger) TitleByKey(ctx context.Context, key string) (string, error) {
	var title string
	err := l.db.GetContext(ctx, &title, `SELECT title FROM uploads WHERE ia_key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query title by key: %w", err)
	}
	return title, nil
}

// TitlesByKeys returns recorded non-empty titles for the given IA keys.
func (l *Ledger) TitlesByKeys(ctx context.Context, keys []string) (map[string]string, error) {
	titles := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return titles, nil
	}

	query, args, err := sqlx.In(
		`SELECT ia_key, title FROM uploads WHERE ia_key IN (?) AND title != ''`, keys)
	if err != nil {
		return nil, fmt.Errorf("build titles query: %w", err)
	}

	rows, err := l.db.QueryxContext(ctx, l.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query titles by keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, title string
		if err := rows.Scan(&key, &title); err != nil {
			return nil, fmt.Errorf("scan title row: %w", err)
		}
		titles[key] = title
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate title rows: %w", err)
	}
	return titles, nil
}

// SetLastProcessedDate stores the resumable cursor (YYYYMMDD).
func (l *Ledger) SetLastProcessedDate(ctx context.Context, date string) error {
	const q = `INSERT OR REPLACE INTO progress (key, value) VALUES (?, ?)`
	if _, err := l.db.ExecContext(ctx, q, lastProcessedKey, date); err != nil {
		return fmt.Errorf("set last processed date: %w", err)
	}
	return nil
}

// LastProcessedDate returns the resumable cursor, or "" when no prior run
// recorded progress.
func (l *Ledger) LastProcessedDate(ctx context.Context) (string, error) {
	var date string
	err := l.db.GetContext(ctx, &date, `SELECT value FROM progress WHERE key = ?`, lastProcessedKey)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get last processed date: %w", err)
	}
	return date, nil
}

// Count returns the number of archived URLs.
func (l *Ledger) Count(ctx context.Context) (int, error) {
	var n int
	if err := l.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM uploads`); err != nil {
		return 0, fmt.Errorf("count uploads: %w", err)
	}
	return n, nil
}

// Close releases the underlying sqlite handle.
func (l *Ledger) Close() error {
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}
	return nil
}
