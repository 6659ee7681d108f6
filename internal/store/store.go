// Package store persists Session documents.
//
// Every backend keeps one primary document per session id and a bounded
// SnapshotLog of the versions it replaced. Commits are all-or-nothing and use
// optimistic concurrency: a Session carries the Version it was loaded at, and
// Save rejects the commit when the stored version has moved on.
package store

import (
	"context"
	"regexp"
	"time"

	"github.com/fyrsmithlabs/taskmaster/internal/session"
	"github.com/fyrsmithlabs/taskmaster/internal/taskerr"
)

// Store is the persistence contract used by the dispatcher.
type Store interface {
	// Load returns the session with id, or SESSION_NOT_FOUND.
	Load(ctx context.Context, id string) (*session.Session, error)

	// Save commits s. s.Version must equal the stored version (0 for a new
	// session); on success s.Version is incremented.
	Save(ctx context.Context, s *session.Session) error

	// Delete removes the session and its snapshots.
	Delete(ctx context.Context, id string) error

	// List summarizes all stored sessions, most recently updated first.
	List(ctx context.Context) ([]Summary, error)

	// Latest returns the most recently updated session that is not completed.
	Latest(ctx context.Context) (*session.Session, error)

	// Restore replaces the primary document with snapshot seq.
	Restore(ctx context.Context, id string, seq int64) (*session.Session, error)

	// Snapshots exposes the backend's snapshot log.
	Snapshots() SnapshotLog

	Close() error
}

// Summary is a lightweight listing entry.
type Summary struct {
	ID        string         `json:"id" yaml:"id"`
	Name      string         `json:"name" yaml:"name"`
	Status    session.Status `json:"status" yaml:"status"`
	Version   int64          `json:"version" yaml:"version"`
	Tasks     int            `json:"tasks" yaml:"tasks"`
	Completed int            `json:"completed" yaml:"completed"`
	UpdatedAt time.Time      `json:"updated_at" yaml:"updated_at"`
}

func summarize(s *session.Session) Summary {
	return Summary{
		ID:        s.ID,
		Name:      s.Name,
		Status:    s.Status,
		Version:   s.Version,
		Tasks:     len(s.Tasks),
		Completed: s.CountStatus(session.TaskCompleted),
		UpdatedAt: s.UpdatedAt,
	}
}

// idPattern keeps session ids safe to use as file names.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,127}$`)

// ValidateID rejects ids that could escape the storage directory.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return taskerr.SessionError(taskerr.CodeInvalidSessionID, "invalid session id %q", id)
	}
	return nil
}

func notFound(id string) error {
	return taskerr.SessionError(taskerr.CodeSessionNotFound, "session %q not found", id).
		WithDetail("session_id", id)
}

func corrupt(id string, cause error) error {
	return taskerr.Wrap(taskerr.KindSession, taskerr.CodeSessionCorrupt, cause,
		"session %q document is unreadable", id).WithDetail("session_id", id)
}

func stale(id string, want, have int64) error {
	return taskerr.SessionError(taskerr.CodeStaleSession,
		"session %q was modified concurrently", id).
		WithDetail("session_id", id).
		WithDetail("expected_version", want).
		WithDetail("stored_version", have)
}

func persistFailed(id string, cause error) error {
	return taskerr.Wrap(taskerr.KindSession, taskerr.CodePersistFailed, cause,
		"failed to persist session %q", id).WithDetail("session_id", id)
}
