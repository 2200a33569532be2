package idempotency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func TestMemoryStore_BeginResolve(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)
	fp := Fingerprint("Lahore", "54000")

	adm, err := store.Begin(ctx, "key-1", "user-1", fp, testNow)
	require.NoError(t, err)
	assert.Equal(t, Admitted, adm.State)

	adm, err = store.Begin(ctx, "key-1", "user-1", fp, testNow.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, InProgress, adm.State)

	rec, err := store.Resolve(ctx, "key-1", "user-1", Succeeded("order-1"), testNow.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, rec.Outcome.Status)

	adm, err = store.Begin(ctx, "key-1", "user-1", fp, testNow.Add(3*time.Second))
	require.NoError(t, err)
	assert.Equal(t, Resolved, adm.State)
	assert.Equal(t, "order-1", adm.Record.Outcome.OrderID)

	_, err = store.Resolve(ctx, "key-1", "user-1", Failed("internal"), testNow.Add(4*time.Second))
	assert.ErrorIs(t, err, ErrNotInProgress)
}

func TestMemoryStore_KeysAreScopedPerUser(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)

	a, err := store.Begin(ctx, "same", "user-a", "fp", testNow)
	require.NoError(t, err)
	b, err := store.Begin(ctx, "same", "user-b", "fp", testNow)
	require.NoError(t, err)

	assert.Equal(t, Admitted, a.State)
	assert.Equal(t, Admitted, b.State)
}

func TestMemoryStore_FingerprintMismatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)

	_, err := store.Begin(ctx, "key", "user", Fingerprint("a"), testNow)
	require.NoError(t, err)

	_, err = store.Begin(ctx, "key", "user", Fingerprint("b"), testNow)
	assert.ErrorIs(t, err, ErrFingerprintMismatch)
}

func TestMemoryStore_ConcurrentBeginAdmitsOne(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)

	const callers = 64
	states := make(chan AdmissionState, callers)
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			adm, err := store.Begin(ctx, "dup", "user", "fp", testNow)
			if err != nil {
				t.Errorf("begin: %v", err)
				return
			}
			states <- adm.State
		}()
	}
	wg.Wait()
	close(states)

	counts := map[AdmissionState]int{}
	for s := range states {
		counts[s]++
	}
	assert.Equal(t, 1, counts[Admitted])
	assert.Equal(t, callers-1, counts[InProgress])
}

func TestMemoryStore_RetentionAndCleanup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)

	_, err := store.Begin(ctx, "old", "user", "fp", testNow)
	require.NoError(t, err)
	_, err = store.Resolve(ctx, "old", "user", Failed("empty_cart"), testNow)
	require.NoError(t, err)
	_, err = store.Begin(ctx, "new", "user", "fp", testNow.Add(30*time.Minute))
	require.NoError(t, err)

	// An expired key is admitted again rather than replayed.
	adm, err := store.Begin(ctx, "old", "user", "other-fp", testNow.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, Admitted, adm.State)

	removed, err := store.CleanupExpired(ctx, testNow.Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	rec, err := store.Get(ctx, "new", "user")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestMemoryStore_ListInProgress(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)

	_, _ = store.Begin(ctx, "k1", "u", "fp", testNow)
	_, _ = store.Begin(ctx, "k2", "u", "fp", testNow.Add(time.Minute))
	_, _ = store.Begin(ctx, "k3", "u", "fp", testNow.Add(2*time.Minute))
	_, _ = store.Resolve(ctx, "k1", "u", Succeeded("o"), testNow)

	stale, err := store.ListInProgress(ctx, testNow.Add(90*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "k2", stale[0].Key)
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, Fingerprint("a", "b"), Fingerprint("a", "b"))
	assert.NotEqual(t, Fingerprint("ab", ""), Fingerprint("a", "b"))
	assert.Len(t, Fingerprint("x"), 64)
}
