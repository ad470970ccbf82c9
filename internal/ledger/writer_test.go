package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hotpatch/internal/hotfn"
	"github.com/roach88/hotpatch/internal/migrate"
	"github.com/roach88/hotpatch/internal/patch"
)

func TestWriter_FlushWithoutRun(t *testing.T) {
	s := setupTestStore(t)
	w := NewWriter(s)

	w.PatchHandled(patch.Outcome{
		Seq: 1, ID: "p1", Lib: "demo/v2", Fingerprint: "f",
		Status: patch.StatusApplied, Switched: []hotfn.Identity{"Update/demo.Greet"},
	})
	w.RecordsMigrated(migrate.Report{Key: "demo.player", Tick: 4, OldSignature: "o", NewSignature: "n", Migrated: 2})
	assert.Equal(t, 2, w.Flush(context.Background()))

	patches, err := s.ReadPatches(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, patches, 1)
	assert.Equal(t, []string{"Update/demo.Greet"}, patches[0].Switched)
	assert.Equal(t, 1, patches[0].Updated)

	migs, err := s.ReadMigrations(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, migs, 1)
	assert.Equal(t, uint64(4), migs[0].Tick)
}

func TestWriter_RunAndClose(t *testing.T) {
	s := setupTestStore(t)
	w := NewWriter(s)

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w.PatchHandled(patch.Outcome{
				Seq: uint64(i + 1), ID: string(rune('a' + i)), Lib: "l",
				Status: patch.StatusRejected, Err: errors.New("unsafe patch"),
			})
		}(i)
	}
	wg.Wait()

	require.NoError(t, w.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	patches, err := s.ReadPatches(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, patches, 8)
	for _, p := range patches {
		assert.Equal(t, "unsafe patch", p.Error)
	}

	w.PatchHandled(patch.Outcome{ID: "late", Lib: "l", Status: patch.StatusApplied})
	assert.Zero(t, w.Flush(context.Background()), "records after Close are dropped")
	require.NoError(t, w.Close())
}

func TestWriter_RunStopsOnCancel(t *testing.T) {
	s := setupTestStore(t)
	w := NewWriter(s)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	w.RecordsMigrated(migrate.Report{Key: "k", Tick: 1})
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	migs, err := s.ReadMigrations(context.Background(), "k")
	require.NoError(t, err)
	assert.Len(t, migs, 1, "pending records flushed on the way out")
}
