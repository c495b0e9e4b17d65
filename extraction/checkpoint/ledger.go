// Package checkpoint records which chunks a scan has finished so an interrupted scan
// can resume without paying for the same chunk twice.
package checkpoint

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// Chunk statuses stored in the ledger.
const (
	StatusDone   = "done"
	StatusFailed = "failed"
)

// Ledger is a SQLite table of chunk outcomes keyed by chunk fingerprint.
type Ledger struct {
	db    *sql.DB
	runID string
}

// Open opens (creating if needed) the ledger database at path and applies the schema.
// runID is stamped on every row written through this handle.
func Open(ctx context.Context, path, runID string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: open")
	}
	// One writer; workers serialize on the pool instead of on SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "checkpoint: exec %s", pragma)
		}
	}
	l := &Ledger{db: db, runID: runID}
	if err := l.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS chunks (
	key        TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	page_start INTEGER NOT NULL,
	page_end   INTEGER NOT NULL,
	status     TEXT NOT NULL,
	quotes     INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_chunks_status ON chunks(status);
`

func (l *Ledger) Migrate(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, migration); err != nil {
		return eris.Wrap(err, "checkpoint: migrate")
	}
	return nil
}

// Done reports whether the chunk with key finished successfully in any run.
func (l *Ledger) Done(ctx context.Context, key string) (bool, error) {
	var status string
	err := l.db.QueryRowContext(ctx, `SELECT status FROM chunks WHERE key = ?`, key).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "checkpoint: query chunk")
	}
	return status == StatusDone, nil
}

// Record upserts the outcome of one chunk.
func (l *Ledger) Record(ctx context.Context, key string, pageStart, pageEnd int, status string, quotes int) error {
	_, err := l.db.ExecContext(ctx, `
INSERT INTO chunks (key, run_id, page_start, page_end, status, quotes, updated_at)
VALUES (?, ?, ?, ?, ?, ?, datetime('now'))
ON CONFLICT(key) DO UPDATE SET
	run_id = excluded.run_id,
	page_start = excluded.page_start,
	page_end = excluded.page_end,
	status = excluded.status,
	quotes = excluded.quotes,
	updated_at = excluded.updated_at`,
		key, l.runID, pageStart, pageEnd, status, quotes)
	if err != nil {
		return eris.Wrap(err, "checkpoint: record chunk")
	}
	return nil
}

// Reset forgets every recorded chunk. A scan that does not resume starts from an
// empty ledger.
func (l *Ledger) Reset(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return eris.Wrap(err, "checkpoint: reset")
	}
	return nil
}

// Counts returns the number of chunks per status.
func (l *Ledger) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM chunks GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: count chunks")
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "checkpoint: scan count")
		}
		out[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "checkpoint: iterate counts")
	}
	return out, nil
}

func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
