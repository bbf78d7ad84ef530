package barrier

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/compresr/apibouncer/internal/utils"
)

// sqliteTimeLayout is fixed-width so created_at sorts lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS barrier_requests (
	id             TEXT PRIMARY KEY,
	session_id     TEXT NOT NULL,
	session_name   TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL,
	provider       TEXT NOT NULL,
	model          TEXT NOT NULL,
	estimated_cost REAL NOT NULL DEFAULT 0,
	prompt_preview TEXT NOT NULL DEFAULT '',
	params         TEXT,
	approved       INTEGER
);
CREATE INDEX IF NOT EXISTS idx_barrier_requests_approved ON barrier_requests(approved);
`

// SQLiteQueue stores tickets in an embedded SQLite database. Decisions are
// conditional updates, so the first decision wins across processes.
type SQLiteQueue struct {
	db   *sql.DB
	path string
	opts options
}

var _ Queue = (*SQLiteQueue)(nil)

// NewSQLiteQueue opens or creates the database at path.
func NewSQLiteQueue(path string, opts ...Option) (*SQLiteQueue, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create barrier dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open barrier db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping barrier db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init barrier schema: %w", err)
	}
	_ = os.Chmod(path, 0600)

	return &SQLiteQueue{db: db, path: path, opts: buildOptions(opts)}, nil
}

// Path returns the database file.
func (q *SQLiteQueue) Path() string { return q.path }

// Submit implements Queue.
func (q *SQLiteQueue) Submit(ctx context.Context, req Request) (string, error) {
	req = q.opts.prepare(req)

	var params any
	if len(req.Params) > 0 {
		params = string(req.Params)
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO barrier_requests
			(id, session_id, session_name, created_at, provider, model, estimated_cost, prompt_preview, params, approved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		req.ID, req.SessionID, req.SessionName, req.Timestamp.UTC().Format(sqliteTimeLayout),
		req.Provider, req.Model, req.EstimatedCost, req.PromptPreview, params,
	)
	if err != nil {
		return "", fmt.Errorf("insert barrier ticket: %w", err)
	}

	log.Info().
		Str("ticket", req.ID).
		Str("session_id", req.SessionID).
		Str("provider", req.Provider).
		Str("model", req.Model).
		Msg("barrier: ticket submitted")
	q.opts.fireNotify(req)
	return req.ID, nil
}

// Decide implements Queue.
func (q *SQLiteQueue) Decide(ctx context.Context, id string, approve bool) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE barrier_requests SET approved = ? WHERE id = ? AND approved IS NULL`,
		boolToInt(approve), id)
	if err != nil {
		return false, fmt.Errorf("decide barrier ticket: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("decide barrier ticket: %w", err)
	}
	return n > 0, nil
}

// DecideAll implements Queue.
func (q *SQLiteQueue) DecideAll(ctx context.Context, approve bool) (int, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE barrier_requests SET approved = ? WHERE approved IS NULL`, boolToInt(approve))
	if err != nil {
		return 0, fmt.Errorf("decide all barrier tickets: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Status implements Queue.
func (q *SQLiteQueue) Status(ctx context.Context, id string) (State, error) {
	var approved sql.NullInt64
	err := q.db.QueryRowContext(ctx, `SELECT approved FROM barrier_requests WHERE id = ?`, id).Scan(&approved)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return StateUnknown, nil
	case err != nil:
		return StateUnknown, fmt.Errorf("barrier ticket status: %w", err)
	case !approved.Valid:
		return StatePending, nil
	case approved.Int64 != 0:
		return StateApproved, nil
	default:
		return StateDenied, nil
	}
}

// Pending implements Queue.
func (q *SQLiteQueue) Pending(ctx context.Context) ([]Request, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, session_id, session_name, created_at, provider, model, estimated_cost, prompt_preview, params
		FROM barrier_requests
		WHERE approved IS NULL
		ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("list barrier tickets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Request
	for rows.Next() {
		var (
			r       Request
			created string
			params  sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.SessionName, &created, &r.Provider, &r.Model,
			&r.EstimatedCost, &r.PromptPreview, &params); err != nil {
			return nil, fmt.Errorf("scan barrier ticket: %w", err)
		}
		if ts, err := time.Parse(sqliteTimeLayout, created); err == nil {
			r.Timestamp = utils.At(ts)
		}
		if params.Valid && params.String != "" {
			r.Params = []byte(params.String)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Purge implements Queue.
func (q *SQLiteQueue) Purge(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM barrier_requests WHERE approved IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("purge barrier tickets: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Close implements Queue.
func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
