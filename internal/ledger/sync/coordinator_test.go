package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmledger/pharmledger-backend/internal/ledger/domain"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/store"
	"github.com/pharmledger/pharmledger-backend/pkg/config"
	apperrors "github.com/pharmledger/pharmledger-backend/pkg/errors"
	"github.com/pharmledger/pharmledger-backend/pkg/logger"
)

type fakeRemote struct {
	mu       sync.Mutex
	saves    []domain.MonthlyLedger
	failures int
	saveErr  error
	loaded   map[domain.ScopeKey]domain.MonthlyLedger
	loadErr  error
	revision int64
}

func (r *fakeRemote) SaveMonth(_ context.Context, ledger domain.MonthlyLedger) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return 0, r.saveErr
	}
	r.saves = append(r.saves, ledger)
	r.revision++
	return r.revision, nil
}

func (r *fakeRemote) LoadMonth(_ context.Context, key domain.ScopeKey) (domain.MonthlyLedger, error) {
	if r.loadErr != nil {
		return domain.MonthlyLedger{}, r.loadErr
	}
	ledger, ok := r.loaded[key]
	if !ok {
		return domain.MonthlyLedger{}, apperrors.NotFound("monthly ledger")
	}
	return ledger, nil
}

func (r *fakeRemote) saveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saves)
}

type fakeConn struct {
	mu     sync.Mutex
	online bool
}

func (c *fakeConn) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *fakeConn) set(online bool) {
	c.mu.Lock()
	c.online = online
	c.mu.Unlock()
}

func testConfig() config.SyncConfig {
	return config.SyncConfig{
		DebounceDelay: 20 * time.Millisecond,
		SaveRetries:   3,
		RetryBackoff:  10 * time.Millisecond,
	}
}

func testKey() domain.ScopeKey {
	return domain.ScopeKey{TenantID: "t-1", PharmacyID: "ph-1", Month: "2024-05"}
}

func newTestCoordinator(remote RemoteLedger, conn Connectivity) (*Coordinator, *store.Store) {
	st := store.New()
	c := New(st, remote, conn, testConfig(), logger.Nop())
	return c, st
}

func TestMarkDirty_DebouncesBurstIntoOneWrite(t *testing.T) {
	remote := &fakeRemote{}
	c, st := newTestCoordinator(remote, nil)
	defer c.Close()
	key := testKey()

	idx := st.AddItem(key)
	c.MarkDirty(key)
	name := "Amoxicillin"
	require.NoError(t, st.UpdateItem(key, idx, store.ItemPatch{Name: &name}))
	c.MarkDirty(key)

	require.Eventually(t, func() bool {
		return remote.saveCount() == 1
	}, time.Second, 5*time.Millisecond)

	// The single write carries the final state of the burst.
	assert.Equal(t, "Amoxicillin", remote.saves[0].Items[0].Name)
	assert.Equal(t, StateIdle, c.StateOf(key))

	snap, ok := st.Snapshot(key)
	require.True(t, ok)
	assert.Equal(t, int64(1), snap.Revision)
}

func TestMarkDirty_SeparateMonthsWriteIndependently(t *testing.T) {
	remote := &fakeRemote{}
	c, st := newTestCoordinator(remote, nil)
	defer c.Close()

	may := testKey()
	june := domain.ScopeKey{TenantID: "t-1", PharmacyID: "ph-1", Month: "2024-06"}
	st.EnsureMonth(may)
	st.EnsureMonth(june)
	c.MarkDirty(may)
	c.MarkDirty(june)

	require.Eventually(t, func() bool {
		return remote.saveCount() == 2
	}, time.Second, 5*time.Millisecond)

	months := []domain.MonthKey{remote.saves[0].Month, remote.saves[1].Month}
	assert.ElementsMatch(t, []domain.MonthKey{"2024-05", "2024-06"}, months)
}

func TestPersist_RetriesTransientFailuresWithLinearBackoff(t *testing.T) {
	remote := &fakeRemote{
		failures: 2,
		saveErr:  apperrors.TransientSync(errors.New("connection reset")),
	}
	c, st := newTestCoordinator(remote, nil)
	defer c.Close()

	var waits []time.Duration
	var waitsMu sync.Mutex
	c.sleep = func(d time.Duration) {
		waitsMu.Lock()
		waits = append(waits, d)
		waitsMu.Unlock()
	}

	key := testKey()
	st.EnsureMonth(key)
	c.MarkDirty(key)
	c.Flush(key)
	c.FlushAll()

	assert.Equal(t, 1, remote.saveCount())
	waitsMu.Lock()
	defer waitsMu.Unlock()
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, waits)
}

func TestPersist_NonTransientFailureDoesNotRetry(t *testing.T) {
	remote := &fakeRemote{
		failures: 10,
		saveErr:  apperrors.Forbidden("pharmacy out of scope"),
	}
	c, st := newTestCoordinator(remote, nil)
	defer c.Close()
	c.sleep = func(time.Duration) {}

	key := testKey()
	st.EnsureMonth(key)
	c.MarkDirty(key)
	c.Flush(key)
	c.wg.Wait()

	assert.Equal(t, 0, remote.saveCount())
	assert.Equal(t, 9, remote.failures)
	assert.Equal(t, StateDirty, c.StateOf(key))
}

func TestPersist_FailedMonthStaysDirtyForLaterRetry(t *testing.T) {
	remote := &fakeRemote{
		failures: 10,
		saveErr:  apperrors.TransientSync(errors.New("timeout")),
	}
	c, st := newTestCoordinator(remote, nil)
	c.sleep = func(time.Duration) {}

	key := testKey()
	st.EnsureMonth(key)
	c.MarkDirty(key)
	c.Flush(key)
	c.wg.Wait()

	assert.Equal(t, StateDirty, c.StateOf(key))
	c.Close()

	// All retries burned through the failure budget.
	assert.Equal(t, 10-4, remote.failures)
}

func TestFlush_SkipsWhileOffline(t *testing.T) {
	remote := &fakeRemote{}
	conn := &fakeConn{online: false}
	c, st := newTestCoordinator(remote, conn)
	defer c.Close()

	key := testKey()
	st.EnsureMonth(key)
	c.MarkDirty(key)
	c.Flush(key)

	assert.Equal(t, 0, remote.saveCount())
	assert.Equal(t, StateDirty, c.StateOf(key))

	conn.set(true)
	c.Flush(key)
	c.wg.Wait()
	assert.Equal(t, 1, remote.saveCount())
	assert.Equal(t, StateIdle, c.StateOf(key))
}

func TestOnPersisted_FiresWithAcknowledgedRevision(t *testing.T) {
	remote := &fakeRemote{}
	c, st := newTestCoordinator(remote, nil)
	defer c.Close()

	var got []domain.MonthlyLedger
	var gotMu sync.Mutex
	c.OnPersisted(func(l domain.MonthlyLedger) {
		gotMu.Lock()
		got = append(got, l)
		gotMu.Unlock()
	})

	key := testKey()
	st.EnsureMonth(key)
	c.MarkDirty(key)
	c.Flush(key)
	c.wg.Wait()

	gotMu.Lock()
	defer gotMu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].Revision)
	assert.Equal(t, key.Month, got[0].Month)
}

func TestApplyRemote_DropsOwnEcho(t *testing.T) {
	remote := &fakeRemote{}
	c, st := newTestCoordinator(remote, nil)
	defer c.Close()

	key := testKey()
	st.EnsureMonth(key)

	it := domain.NewItem()
	it.Name = "Echoed"
	c.ApplyRemote(key, []domain.Item{it}, 5, c.SessionID())

	snap, ok := st.Snapshot(key)
	require.True(t, ok)
	assert.Empty(t, snap.Items)
}

func TestApplyRemote_IgnoresStaleRevision(t *testing.T) {
	remote := &fakeRemote{}
	c, st := newTestCoordinator(remote, nil)
	defer c.Close()

	key := testKey()
	local := domain.NewItem()
	local.Name = "Current"
	st.Replace(key, []domain.Item{local}, 10)

	stale := domain.NewItem()
	stale.Name = "Stale"
	c.ApplyRemote(key, []domain.Item{stale}, 10, "other-session")

	snap, _ := st.Snapshot(key)
	assert.Equal(t, "Current", snap.Items[0].Name)
}

func TestApplyRemote_OverwritesDirtyLocalEdits(t *testing.T) {
	remote := &fakeRemote{}
	c, st := newTestCoordinator(remote, nil)
	defer c.Close()

	key := testKey()
	idx := st.AddItem(key)
	name := "Unsynced local"
	require.NoError(t, st.UpdateItem(key, idx, store.ItemPatch{Name: &name}))
	c.MarkDirty(key)

	inbound := domain.NewItem()
	inbound.Name = "Remote wins"
	c.ApplyRemote(key, []domain.Item{inbound}, 3, "other-session")

	snap, _ := st.Snapshot(key)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "Remote wins", snap.Items[0].Name)
	assert.Equal(t, int64(3), snap.Revision)
	assert.Equal(t, StateIdle, c.StateOf(key))
}

func TestHydrate_LoadsMissingMonth(t *testing.T) {
	key := testKey()
	it := domain.NewItem()
	it.Name = "Persisted"
	remote := &fakeRemote{
		loaded: map[domain.ScopeKey]domain.MonthlyLedger{
			key: {TenantID: key.TenantID, PharmacyID: key.PharmacyID, Month: key.Month, Items: []domain.Item{it}, Revision: 4},
		},
	}
	c, st := newTestCoordinator(remote, nil)
	defer c.Close()

	require.NoError(t, c.Hydrate(context.Background(), key))
	snap, ok := st.Snapshot(key)
	require.True(t, ok)
	assert.Equal(t, "Persisted", snap.Items[0].Name)
	assert.Equal(t, int64(4), snap.Revision)

	// A second hydrate is a no-op for a month already in memory.
	require.NoError(t, c.Hydrate(context.Background(), key))
}

func TestHydrate_NotFoundCreatesEmptyMonth(t *testing.T) {
	remote := &fakeRemote{}
	c, st := newTestCoordinator(remote, nil)
	defer c.Close()

	key := testKey()
	require.NoError(t, c.Hydrate(context.Background(), key))
	assert.True(t, st.Has(key))
}

func TestFlushAll_WritesEveryDirtyMonth(t *testing.T) {
	remote := &fakeRemote{}
	c, st := newTestCoordinator(remote, nil)
	defer c.Close()

	for _, month := range []domain.MonthKey{"2024-04", "2024-05", "2024-06"} {
		key := domain.ScopeKey{TenantID: "t-1", PharmacyID: "ph-1", Month: month}
		st.EnsureMonth(key)
		c.MarkDirty(key)
	}

	c.FlushAll()
	assert.Equal(t, 3, remote.saveCount())
}
