package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"satcom-gateway/internal/repository"
)

type failingKV struct {
	*repository.MemoryStore
	setErr error
}

func (f *failingKV) Set(ctx context.Context, key, value string) error {
	if f.setErr != nil {
		return f.setErr
	}
	return f.MemoryStore.Set(ctx, key, value)
}

func newTestLedger(t *testing.T, kv repository.KeyValue, now time.Time) *Ledger {
	t.Helper()
	l, err := NewLedger(kv, nil)
	require.NoError(t, err)
	l.now = func() time.Time { return now }
	return l
}

func TestIncrement_CountsUpFromFresh(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, repository.NewMemoryStore(), time.Now())

	for want := 1; want <= 3; want++ {
		got, err := l.Increment(ctx, "msg-1")
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	count, err := l.Get(ctx, "msg-1")
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

func TestIncrement_ColdProcessSeesPriorCount(t *testing.T) {
	ctx := context.Background()
	kv := repository.NewMemoryStore()
	first := newTestLedger(t, kv, time.Now())
	_, err := first.Increment(ctx, "msg-1")
	require.NoError(t, err)

	second := newTestLedger(t, kv, time.Now())
	got, err := second.Increment(ctx, "msg-1")
	require.NoError(t, err)
	require.Equal(t, 2, got)
}

func TestIncrement_StoreError(t *testing.T) {
	kv := &failingKV{MemoryStore: repository.NewMemoryStore(), setErr: errors.New("boom")}
	l := newTestLedger(t, kv, time.Now())
	_, err := l.Increment(context.Background(), "msg-1")
	require.ErrorContains(t, err, "Increment")
}

func TestGet_DefaultsToZero(t *testing.T) {
	l := newTestLedger(t, repository.NewMemoryStore(), time.Now())
	count, err := l.Get(context.Background(), "unknown")
	require.NoError(t, err)
	require.Zero(t, count)

	_, err = l.Get(context.Background(), " ")
	require.Error(t, err)
}

func TestRecord_ExposesLastAttempt(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 1, 8, 30, 0, 0, time.UTC)
	l := newTestLedger(t, repository.NewMemoryStore(), now)
	_, err := l.Increment(ctx, "msg-1")
	require.NoError(t, err)

	rec, ok, err := l.Record(ctx, "msg-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, rec.Count)
	require.True(t, now.Equal(rec.LastAttemptAt))
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, repository.NewMemoryStore(), time.Now())
	_, err := l.Increment(ctx, "msg-1")
	require.NoError(t, err)
	require.NoError(t, l.Clear(ctx, "msg-1"))
	count, err := l.Get(ctx, "msg-1")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestCorruptRecordStartsOver(t *testing.T) {
	ctx := context.Background()
	kv := repository.NewMemoryStore()
	require.NoError(t, kv.Set(ctx, "RETRY_msg-1", "{not json"))
	l := newTestLedger(t, kv, time.Now())
	got, err := l.Increment(ctx, "msg-1")
	require.NoError(t, err)
	require.Equal(t, 1, got)
}

func TestSweepOlderThan(t *testing.T) {
	ctx := context.Background()
	kv := repository.NewMemoryStore()
	start := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	old := newTestLedger(t, kv, start)
	_, err := old.Increment(ctx, "stale")
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, "RETRY_garbage", "nope"))
	require.NoError(t, kv.Set(ctx, "INTERACTION_other", "{}"))

	later := newTestLedger(t, kv, start.Add(8*24*time.Hour))
	_, err = later.Increment(ctx, "fresh")
	require.NoError(t, err)

	removed, err := later.SweepOlderThan(ctx, DefaultTTL)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	left, err := kv.List(ctx, "")
	require.NoError(t, err)
	require.Contains(t, left, "RETRY_fresh")
	require.Contains(t, left, "INTERACTION_other")
	require.Len(t, left, 2)
}

func TestNewLedger_NilStore(t *testing.T) {
	_, err := NewLedger(nil, nil)
	require.ErrorContains(t, err, "must not be nil")
}
