package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/taskmaster/internal/session"
	"github.com/fyrsmithlabs/taskmaster/internal/taskerr"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	status     TEXT NOT NULL,
	version    INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	doc        BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at DESC);
CREATE TABLE IF NOT EXISTS snapshots (
	session_id TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	version    INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	doc        BLOB NOT NULL,
	PRIMARY KEY (session_id, seq)
);
`

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore keeps sessions and snapshots in a single SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	log    *SQLiteSnapshotLog
	logger *zap.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path. Use ":memory:" for
// an ephemeral store.
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if path == "" {
		return nil, taskerr.ConfigError("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		log:    &SQLiteSnapshotLog{db: db, policy: o.retention, now: o.now},
		logger: o.logger,
	}, nil
}

// Load reads and decodes the stored document.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*session.Session, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	doc, _, err := s.current(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, notFound(id)
	}
	sess, err := session.Decode(doc)
	if err != nil {
		return nil, corrupt(id, err)
	}
	return sess, nil
}

// current returns the stored document and version, or nil when absent.
func (s *SQLiteStore) current(ctx context.Context, q queryer, id string) ([]byte, int64, error) {
	var (
		doc     []byte
		version int64
	)
	err := q.QueryRowContext(ctx, `SELECT doc, version FROM sessions WHERE id = ?`, id).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, persistFailed(id, err)
	}
	return doc, version, nil
}

// Save commits sess in one transaction, snapshotting the replaced document.
func (s *SQLiteStore) Save(ctx context.Context, sess *session.Session) error {
	if err := ValidateID(sess.ID); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistFailed(sess.ID, err)
	}
	defer func() { _ = tx.Rollback() }()

	prev, have, err := s.current(ctx, tx, sess.ID)
	if err != nil {
		return err
	}
	if have != sess.Version {
		return stale(sess.ID, sess.Version, have)
	}

	sess.Version++
	committed := false
	defer func() {
		if !committed {
			sess.Version--
		}
	}()

	data, err := session.Encode(sess)
	if err != nil {
		return persistFailed(sess.ID, err)
	}
	if prev != nil {
		if err := s.log.push(ctx, tx, sess.ID, have, prev); err != nil {
			return persistFailed(sess.ID, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, name, status, version, updated_at, doc)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			version = excluded.version,
			updated_at = excluded.updated_at,
			doc = excluded.doc`,
		sess.ID, sess.Name, string(sess.Status), sess.Version, sess.UpdatedAt.UnixNano(), data,
	); err != nil {
		return persistFailed(sess.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return persistFailed(sess.ID, err)
	}
	committed = true

	s.logger.Debug("session committed",
		zap.String("session.id", sess.ID),
		zap.Int64("version", sess.Version),
	)
	return nil
}

// Delete removes the session row and its snapshots.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistFailed(id, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return persistFailed(id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE session_id = ?`, id); err != nil {
		return persistFailed(id, err)
	}
	if err := tx.Commit(); err != nil {
		return persistFailed(id, err)
	}
	return nil
}

// List summarizes sessions, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, doc FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			id  string
			doc []byte
		)
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sess, err := session.Decode(doc)
		if err != nil {
			s.logger.Warn("skipping unreadable session", zap.String("session.id", id), zap.Error(err))
			continue
		}
		out = append(out, summarize(sess))
	}
	return out, rows.Err()
}

// Latest returns the most recently updated session that is still open.
func (s *SQLiteStore) Latest(ctx context.Context) (*session.Session, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM sessions WHERE status != ? ORDER BY updated_at DESC LIMIT 1`,
		string(session.StatusCompleted),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, taskerr.SessionError(taskerr.CodeNoSession, "no open session; call create_session first")
	}
	if err != nil {
		return nil, fmt.Errorf("finding latest session: %w", err)
	}
	return s.Load(ctx, id)
}

// Restore replaces the stored document with snapshot seq.
func (s *SQLiteStore) Restore(ctx context.Context, id string, seq int64) (*session.Session, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistFailed(id, err)
	}
	defer func() { _ = tx.Rollback() }()

	doc, err := s.log.get(ctx, tx, id, seq)
	if err != nil {
		return nil, err
	}
	restored, err := session.Decode(doc)
	if err != nil {
		return nil, corrupt(id, err)
	}

	prev, have, err := s.current(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	version := restored.Version
	if prev != nil {
		if err := s.log.push(ctx, tx, id, have, prev); err != nil {
			return nil, persistFailed(id, err)
		}
		version = have
	}
	restored.Version = version + 1

	data, err := session.Encode(restored)
	if err != nil {
		return nil, persistFailed(id, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, name, status, version, updated_at, doc)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			version = excluded.version,
			updated_at = excluded.updated_at,
			doc = excluded.doc`,
		restored.ID, restored.Name, string(restored.Status), restored.Version, restored.UpdatedAt.UnixNano(), data,
	); err != nil {
		return nil, persistFailed(id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, persistFailed(id, err)
	}
	return restored, nil
}

// Snapshots returns the snapshot log.
func (s *SQLiteStore) Snapshots() SnapshotLog { return s.log }

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SQLiteSnapshotLog stores snapshots in the snapshots table.
type SQLiteSnapshotLog struct {
	db     *sql.DB
	policy RetentionPolicy
	now    func() time.Time
}

// Push appends doc and applies retention.
func (l *SQLiteSnapshotLog) Push(ctx context.Context, id string, version int64, doc []byte) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := l.push(ctx, tx, id, version, doc); err != nil {
		return err
	}
	return tx.Commit()
}

func (l *SQLiteSnapshotLog) push(ctx context.Context, q queryer, id string, version int64, doc []byte) error {
	var next int64
	if err := q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM snapshots WHERE session_id = ?`, id,
	).Scan(&next); err != nil {
		return fmt.Errorf("next snapshot seq: %w", err)
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO snapshots (session_id, seq, version, created_at, doc) VALUES (?, ?, ?, ?, ?)`,
		id, next, version, l.now().UnixNano(), doc,
	); err != nil {
		return fmt.Errorf("inserting snapshot: %w", err)
	}

	seqs, err := l.seqs(ctx, q, id)
	if err != nil {
		return err
	}
	for _, old := range l.policy.Evict(seqs) {
		if _, err := q.ExecContext(ctx,
			`DELETE FROM snapshots WHERE session_id = ? AND seq = ?`, id, old,
		); err != nil {
			return fmt.Errorf("evicting snapshot %d: %w", old, err)
		}
	}
	return nil
}

func (l *SQLiteSnapshotLog) seqs(ctx context.Context, q queryer, id string) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT seq FROM snapshots WHERE session_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// List returns retained snapshots, newest first.
func (l *SQLiteSnapshotLog) List(ctx context.Context, id string) ([]Snapshot, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT seq, version, created_at, length(doc) FROM snapshots WHERE session_id = ? ORDER BY seq DESC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var (
			snap    Snapshot
			created int64
		)
		if err := rows.Scan(&snap.Seq, &snap.Version, &created, &snap.Size); err != nil {
			return nil, err
		}
		snap.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Get returns the document of snapshot seq.
func (l *SQLiteSnapshotLog) Get(ctx context.Context, id string, seq int64) ([]byte, error) {
	return l.get(ctx, l.db, id, seq)
}

func (l *SQLiteSnapshotLog) get(ctx context.Context, q queryer, id string, seq int64) ([]byte, error) {
	var doc []byte
	err := q.QueryRowContext(ctx,
		`SELECT doc FROM snapshots WHERE session_id = ? AND seq = ?`, id, seq,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, taskerr.SessionError(taskerr.CodeSnapshotNotFound,
			"snapshot %d of session %q not found", seq, id)
	}
	return doc, err
}

// Prune removes every snapshot of id.
func (l *SQLiteSnapshotLog) Prune(ctx context.Context, id string) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM snapshots WHERE session_id = ?`, id)
	return err
}
