package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/taskmaster/internal/session"
	"github.com/fyrsmithlabs/taskmaster/internal/taskerr"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type backend struct {
	name string
	open func(t *testing.T, opts ...Option) Store
}

func backends() []backend {
	return []backend{
		{
			name: "file",
			open: func(t *testing.T, opts ...Option) Store {
				s, err := NewFileStore(t.TempDir(), opts...)
				require.NoError(t, err)
				return s
			},
		},
		{
			name: "sqlite",
			open: func(t *testing.T, opts ...Option) Store {
				s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "taskmaster.db"), opts...)
				require.NoError(t, err)
				t.Cleanup(func() { _ = s.Close() })
				return s
			},
		},
	}
}

func newSession(name string, at time.Time) *session.Session {
	s := session.New(name, at)
	s.Tasks = append(s.Tasks, session.NewTask(session.TaskSpec{Description: "write hello world"}, 3, at))
	s.ActivateNext(at)
	return s
}

func TestStore_RoundTrip(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			st := b.open(t)

			s := newSession("demo", base)
			require.NoError(t, st.Save(ctx, s))
			assert.Equal(t, int64(1), s.Version)

			loaded, err := st.Load(ctx, s.ID)
			require.NoError(t, err)
			if diff := cmp.Diff(s, loaded); diff != "" {
				t.Fatalf("load mismatch (-want +got):\n%s", diff)
			}

			// No-op mutate and store again: structurally identical modulo version.
			require.NoError(t, st.Save(ctx, loaded))
			again, err := st.Load(ctx, s.ID)
			require.NoError(t, err)
			if diff := cmp.Diff(loaded, again); diff != "" {
				t.Fatalf("second round trip mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, int64(2), again.Version)
		})
	}
}

func TestStore_LoadMissing(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			st := b.open(t)
			_, err := st.Load(context.Background(), "does-not-exist")
			require.Error(t, err)
			assert.True(t, taskerr.IsCode(err, taskerr.CodeSessionNotFound))
			assert.Equal(t, taskerr.KindSession, taskerr.KindOf(err))
		})
	}
}

func TestStore_InvalidID(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			st := b.open(t)
			_, err := st.Load(context.Background(), "../../etc/passwd")
			require.Error(t, err)
			assert.True(t, taskerr.IsCode(err, taskerr.CodeInvalidSessionID))
		})
	}
}

func TestStore_StaleVersionRejected(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			st := b.open(t)

			s := newSession("demo", base)
			require.NoError(t, st.Save(ctx, s))

			a, err := st.Load(ctx, s.ID)
			require.NoError(t, err)
			c, err := st.Load(ctx, s.ID)
			require.NoError(t, err)

			a.Name = "first writer"
			require.NoError(t, st.Save(ctx, a))

			c.Name = "second writer"
			err = st.Save(ctx, c)
			require.Error(t, err)
			assert.True(t, taskerr.IsCode(err, taskerr.CodeStaleSession))
			assert.Equal(t, int64(1), c.Version, "failed commit must not bump the caller's version")

			got, err := st.Load(ctx, s.ID)
			require.NoError(t, err)
			assert.Equal(t, "first writer", got.Name)
		})
	}
}

func TestStore_SnapshotRetention(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			st := b.open(t, WithRetention(RetentionPolicy{MaxSnapshots: 3}))

			s := newSession("demo", base)
			for i := 0; i < 6; i++ {
				s.UpdatedAt = base.Add(time.Duration(i) * time.Minute)
				require.NoError(t, st.Save(ctx, s))
			}

			snaps, err := st.Snapshots().List(ctx, s.ID)
			require.NoError(t, err)
			require.Len(t, snaps, 3)
			// Newest first; six saves replace five documents, the oldest two evicted.
			assert.Equal(t, []int64{5, 4, 3}, []int64{snaps[0].Seq, snaps[1].Seq, snaps[2].Seq})
			assert.Equal(t, int64(5), snaps[0].Version)
		})
	}
}

func TestStore_Restore(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			st := b.open(t)

			s := newSession("original", base)
			require.NoError(t, st.Save(ctx, s))
			s.Name = "renamed"
			require.NoError(t, st.Save(ctx, s))

			snaps, err := st.Snapshots().List(ctx, s.ID)
			require.NoError(t, err)
			require.Len(t, snaps, 1)

			restored, err := st.Restore(ctx, s.ID, snaps[0].Seq)
			require.NoError(t, err)
			assert.Equal(t, "original", restored.Name)
			assert.Equal(t, int64(3), restored.Version)

			got, err := st.Load(ctx, s.ID)
			require.NoError(t, err)
			assert.Equal(t, "original", got.Name)

			_, err = st.Restore(ctx, s.ID, 99)
			require.Error(t, err)
			assert.True(t, taskerr.IsCode(err, taskerr.CodeSnapshotNotFound))
		})
	}
}

func TestStore_LatestAndList(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			st := b.open(t)

			_, err := st.Latest(ctx)
			require.Error(t, err)
			assert.True(t, taskerr.IsCode(err, taskerr.CodeNoSession))

			older := newSession("older", base)
			newer := newSession("newer", base.Add(time.Hour))
			done := newSession("done", base.Add(2*time.Hour))
			require.NoError(t, done.SetStatus(session.StatusCompleted, "", done.UpdatedAt))
			for _, s := range []*session.Session{older, newer, done} {
				require.NoError(t, st.Save(ctx, s))
			}

			latest, err := st.Latest(ctx)
			require.NoError(t, err)
			assert.Equal(t, newer.ID, latest.ID, "completed sessions are never the implicit target")

			list, err := st.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, "done", list[0].Name)
			assert.Equal(t, "older", list[2].Name)
			assert.Equal(t, 1, list[1].Tasks)
		})
	}
}

func TestStore_Delete(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			st := b.open(t)

			s := newSession("demo", base)
			require.NoError(t, st.Save(ctx, s))
			require.NoError(t, st.Save(ctx, s))

			require.NoError(t, st.Delete(ctx, s.ID))
			_, err := st.Load(ctx, s.ID)
			assert.True(t, taskerr.IsCode(err, taskerr.CodeSessionNotFound))

			snaps, err := st.Snapshots().List(ctx, s.ID)
			require.NoError(t, err)
			assert.Empty(t, snaps)

			err = st.Delete(ctx, s.ID)
			assert.True(t, taskerr.IsCode(err, taskerr.CodeSessionNotFound))
		})
	}
}

func TestFileStore_CorruptDocumentIsTyped(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st, err := NewFileStore(dir)
	require.NoError(t, err)

	s := newSession("demo", base)
	require.NoError(t, st.Save(ctx, s))
	require.NoError(t, st.Save(ctx, s))

	path := filepath.Join(dir, "sessions", s.ID+".json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id": "trunc`), 0o600))

	_, err = st.Load(ctx, s.ID)
	require.Error(t, err)
	assert.True(t, taskerr.IsCode(err, taskerr.CodeSessionCorrupt))

	// A commit over a corrupt document is refused rather than guessed at.
	err = st.Save(ctx, s)
	assert.True(t, taskerr.IsCode(err, taskerr.CodeSessionCorrupt))

	restored, err := st.Restore(ctx, s.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "demo", restored.Name)

	_, err = st.Load(ctx, s.ID)
	require.NoError(t, err)
}

func TestFileStore_NoTempFilesLeft(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st, err := NewFileStore(dir)
	require.NoError(t, err)

	s := newSession("demo", base)
	for i := 0; i < 3; i++ {
		require.NoError(t, st.Save(ctx, s))
	}

	entries, err := os.ReadDir(filepath.Join(dir, "sessions"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, s.ID+".json", entries[0].Name())

	info, err := os.Stat(filepath.Join(dir, "sessions", s.ID+".json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileSnapshotLog_SequenceGrowsWithAge(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st, err := NewFileStore(dir, WithRetention(RetentionPolicy{MaxSnapshots: 2}))
	require.NoError(t, err)

	s := newSession("demo", base)
	for i := 0; i < 4; i++ {
		require.NoError(t, st.Save(ctx, s))
	}

	entries, err := os.ReadDir(filepath.Join(dir, "backups", s.ID))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	// Three documents were replaced; the first slot was evicted and the
	// highest number is the most recent.
	assert.ElementsMatch(t, []string{s.ID + ".backup.2.json", s.ID + ".backup.3.json"}, names)

	newest, err := st.Snapshots().Get(ctx, s.ID, 3)
	require.NoError(t, err)
	oldest, err := st.Snapshots().Get(ctx, s.ID, 2)
	require.NoError(t, err)
	assert.Contains(t, string(newest), `"version": 3`)
	assert.Contains(t, string(oldest), `"version": 2`)
}

func TestRetentionPolicy_Evict(t *testing.T) {
	tests := []struct {
		name string
		max  int
		seqs []int64
		want []int64
	}{
		{"under limit", 5, []int64{1, 2}, nil},
		{"at limit", 2, []int64{1, 2}, nil},
		{"over limit", 2, []int64{3, 4, 5, 6}, []int64{3, 4}},
		{"keep none", 0, []int64{1}, []int64{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RetentionPolicy{MaxSnapshots: tt.max}.Evict(tt.seqs))
		})
	}
}
