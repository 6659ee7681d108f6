package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskmaster/internal/session"
	"github.com/fyrsmithlabs/taskmaster/internal/taskerr"
)

// FileStore keeps one JSON document per session under <dir>/sessions and the
// snapshot log under <dir>/backups/<id>.
type FileStore struct {
	dir    string
	log    *FileSnapshotLog
	logger *zap.Logger
	mu     sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates the directory layout if needed.
func NewFileStore(dir string, opts ...Option) (*FileStore, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if dir == "" {
		return nil, taskerr.ConfigError("storage directory is required")
	}

	s := &FileStore{
		dir:    dir,
		logger: o.logger,
	}
	for _, d := range []string{s.sessionsDir(), s.backupsDir()} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return nil, fmt.Errorf("creating storage directory %s: %w", d, err)
		}
	}
	s.log = &FileSnapshotLog{dir: s.backupsDir(), policy: o.retention}
	return s, nil
}

func (s *FileStore) sessionsDir() string { return filepath.Join(s.dir, "sessions") }
func (s *FileStore) backupsDir() string  { return filepath.Join(s.dir, "backups") }

// SessionsDir is the directory holding primary documents.
func (s *FileStore) SessionsDir() string { return s.sessionsDir() }

func (s *FileStore) sessionPath(id string) string {
	return filepath.Join(s.sessionsDir(), id+".json")
}

// Load reads and decodes the primary document.
func (s *FileStore) Load(ctx context.Context, id string) (*session.Session, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.sessionPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, persistFailed(id, err)
	}
	sess, err := session.Decode(data)
	if err != nil {
		return nil, corrupt(id, err)
	}
	return sess, nil
}

// Save commits s after checking its version against the stored document.
func (s *FileStore) Save(ctx context.Context, sess *session.Session) error {
	if err := ValidateID(sess.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.sessionPath(sess.ID)
	prev, have, err := s.readCurrent(sess.ID)
	if err != nil {
		return err
	}
	if have != sess.Version {
		return stale(sess.ID, sess.Version, have)
	}

	sess.Version++
	data, err := session.Encode(sess)
	if err != nil {
		sess.Version--
		return persistFailed(sess.ID, err)
	}
	if prev != nil {
		if err := s.log.Push(ctx, sess.ID, have, prev); err != nil {
			sess.Version--
			return persistFailed(sess.ID, err)
		}
	}
	if err := writeFileAtomic(path, data, 0o600); err != nil {
		sess.Version--
		return persistFailed(sess.ID, err)
	}

	s.logger.Debug("session committed",
		zap.String("session.id", sess.ID),
		zap.Int64("version", sess.Version),
	)
	return nil
}

// readCurrent returns the stored bytes and version, or nil and 0 when the
// session does not exist yet.
func (s *FileStore) readCurrent(id string) ([]byte, int64, error) {
	data, err := os.ReadFile(s.sessionPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, persistFailed(id, err)
	}
	cur, err := session.Decode(data)
	if err != nil {
		return nil, 0, corrupt(id, err)
	}
	return data, cur.Version, nil
}

// Delete removes the primary document and every snapshot.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.sessionPath(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return notFound(id)
		}
		return persistFailed(id, err)
	}
	return s.log.Prune(ctx, id)
}

// List summarizes every readable session. Unreadable documents are logged and
// skipped.
func (s *FileStore) List(ctx context.Context) ([]Summary, error) {
	entries, err := os.ReadDir(s.sessionsDir())
	if err != nil {
		return nil, fmt.Errorf("reading sessions directory: %w", err)
	}

	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		id, ok := sessionIDFromFile(e.Name())
		if !ok || e.IsDir() {
			continue
		}
		sess, err := s.Load(ctx, id)
		if err != nil {
			s.logger.Warn("skipping unreadable session", zap.String("session.id", id), zap.Error(err))
			continue
		}
		out = append(out, summarize(sess))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Latest returns the most recently updated session that is still open.
func (s *FileStore) Latest(ctx context.Context) (*session.Session, error) {
	summaries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, sum := range summaries {
		if sum.Status != session.StatusCompleted {
			return s.Load(ctx, sum.ID)
		}
	}
	return nil, taskerr.SessionError(taskerr.CodeNoSession, "no open session; call create_session first")
}

// Restore replaces the primary document with snapshot seq. The current
// document, if readable, is pushed to the log first so the restore itself can
// be undone.
func (s *FileStore) Restore(ctx context.Context, id string, seq int64) (*session.Session, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.log.Get(ctx, id, seq)
	if err != nil {
		return nil, err
	}
	restored, err := session.Decode(doc)
	if err != nil {
		return nil, corrupt(id, err)
	}

	version := restored.Version
	prev, have, err := s.readCurrent(id)
	switch {
	case err == nil && prev != nil:
		if err := s.log.Push(ctx, id, have, prev); err != nil {
			return nil, persistFailed(id, err)
		}
		version = have
	case err != nil && !taskerr.IsCode(err, taskerr.CodeSessionCorrupt):
		return nil, err
	}

	restored.Version = version + 1
	data, err := session.Encode(restored)
	if err != nil {
		return nil, persistFailed(id, err)
	}
	if err := writeFileAtomic(s.sessionPath(id), data, 0o600); err != nil {
		return nil, persistFailed(id, err)
	}
	s.logger.Info("session restored from snapshot",
		zap.String("session.id", id),
		zap.Int64("snapshot.seq", seq),
	)
	return restored, nil
}

// Snapshots returns the snapshot log.
func (s *FileStore) Snapshots() SnapshotLog { return s.log }

// Close is a no-op for the file backend.
func (s *FileStore) Close() error { return nil }

// Watch returns a watcher over the sessions directory.
func (s *FileStore) Watch() (*Watcher, error) {
	return NewWatcher(s.sessionsDir(), s.logger)
}

func sessionIDFromFile(name string) (string, bool) {
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
		return "", false
	}
	id := strings.TrimSuffix(name, ".json")
	if ValidateID(id) != nil {
		return "", false
	}
	return id, true
}

// FileSnapshotLog stores snapshots as <dir>/<id>/<id>.backup.<seq>.json.
// Higher sequence numbers are newer.
type FileSnapshotLog struct {
	dir    string
	policy RetentionPolicy
	mu     sync.Mutex
}

func (l *FileSnapshotLog) sessionDir(id string) string {
	return filepath.Join(l.dir, id)
}

func (l *FileSnapshotLog) path(id string, seq int64) string {
	return filepath.Join(l.sessionDir(id), fmt.Sprintf("%s.backup.%d.json", id, seq))
}

// seqs returns the retained sequence numbers in ascending order.
func (l *FileSnapshotLog) seqs(id string) ([]int64, error) {
	entries, err := os.ReadDir(l.sessionDir(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	prefix := id + ".backup."
	var out []int64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json"), 10, 64)
		if err != nil || n <= 0 {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Push writes doc as the newest snapshot and evicts per the retention policy.
func (l *FileSnapshotLog) Push(ctx context.Context, id string, version int64, doc []byte) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	seqs, err := l.seqs(id)
	if err != nil {
		return err
	}
	next := int64(1)
	if len(seqs) > 0 {
		next = seqs[len(seqs)-1] + 1
	}
	if err := writeFileAtomic(l.path(id, next), doc, 0o600); err != nil {
		return fmt.Errorf("writing snapshot %d: %w", next, err)
	}
	seqs = append(seqs, next)

	for _, old := range l.policy.Evict(seqs) {
		if err := os.Remove(l.path(id, old)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("evicting snapshot %d: %w", old, err)
		}
	}
	return nil
}

// List returns retained snapshots, newest first.
func (l *FileSnapshotLog) List(ctx context.Context, id string) ([]Snapshot, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	seqs, err := l.seqs(id)
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(seqs))
	for i := len(seqs) - 1; i >= 0; i-- {
		p := l.path(id, seqs[i])
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		snap := Snapshot{Seq: seqs[i], CreatedAt: info.ModTime(), Size: int(info.Size())}
		if data, err := os.ReadFile(p); err == nil {
			var head struct {
				Version int64 `json:"version"`
			}
			if json.Unmarshal(data, &head) == nil {
				snap.Version = head.Version
			}
		}
		out = append(out, snap)
	}
	return out, nil
}

// Get returns the document of snapshot seq.
func (l *FileSnapshotLog) Get(ctx context.Context, id string, seq int64) ([]byte, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(l.path(id, seq))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, taskerr.SessionError(taskerr.CodeSnapshotNotFound,
			"snapshot %d of session %q not found", seq, id)
	}
	return data, err
}

// Prune removes every snapshot of id.
func (l *FileSnapshotLog) Prune(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return os.RemoveAll(l.sessionDir(id))
}
