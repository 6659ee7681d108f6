package store

import (
	"context"
	"time"
)

// DefaultMaxSnapshots is the default number of prior versions kept per session.
const DefaultMaxSnapshots = 5

// RetentionPolicy bounds a SnapshotLog. It is shared by every backend so the
// rotation rule lives in one place.
type RetentionPolicy struct {
	MaxSnapshots int
}

// DefaultRetention returns the default policy.
func DefaultRetention() RetentionPolicy {
	return RetentionPolicy{MaxSnapshots: DefaultMaxSnapshots}
}

// Evict returns the sequence numbers to drop, oldest first, given the
// ascending sequence numbers currently held.
func (p RetentionPolicy) Evict(seqs []int64) []int64 {
	max := p.MaxSnapshots
	if max < 0 {
		max = 0
	}
	if len(seqs) <= max {
		return nil
	}
	return append([]int64(nil), seqs[:len(seqs)-max]...)
}

// Snapshot describes one retained prior version.
type Snapshot struct {
	Seq       int64     `json:"seq" yaml:"seq"`
	Version   int64     `json:"version" yaml:"version"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Size      int       `json:"size" yaml:"size"`
}

// SnapshotLog is a bounded, ordered log of replaced session documents.
type SnapshotLog interface {
	// Push appends doc as the newest snapshot of id and applies retention.
	Push(ctx context.Context, id string, version int64, doc []byte) error

	// List returns the retained snapshots of id, newest first.
	List(ctx context.Context, id string) ([]Snapshot, error)

	// Get returns the document of snapshot seq.
	Get(ctx context.Context, id string, seq int64) ([]byte, error)

	// Prune removes every snapshot of id.
	Prune(ctx context.Context, id string) error
}
