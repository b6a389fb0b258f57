// Package sync coordinates writes between the in-memory ledger store
// and the remote persistence layer. Edits mark a month dirty; a
// debounce timer collapses rapid edits into a single whole-month write.
package sync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pharmledger/pharmledger-backend/internal/ledger/domain"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/store"
	"github.com/pharmledger/pharmledger-backend/pkg/config"
	apperrors "github.com/pharmledger/pharmledger-backend/pkg/errors"
	"github.com/pharmledger/pharmledger-backend/pkg/logger"
)

// State describes where a month sits in its write lifecycle.
type State int

const (
	// StateIdle means the month matches what the remote last acknowledged.
	StateIdle State = iota
	// StateDirty means local edits exist that have not been written yet.
	StateDirty
	// StatePersisting means a remote write for the month is in flight.
	StatePersisting
)

func (s State) String() string {
	switch s {
	case StateDirty:
		return "dirty"
	case StatePersisting:
		return "persisting"
	default:
		return "idle"
	}
}

// RemoteLedger is the persistence side of the coordinator. SaveMonth
// replaces the whole month document and returns the new revision.
type RemoteLedger interface {
	SaveMonth(ctx context.Context, ledger domain.MonthlyLedger) (int64, error)
	LoadMonth(ctx context.Context, key domain.ScopeKey) (domain.MonthlyLedger, error)
}

// Connectivity reports whether the remote is reachable. Writes are
// skipped while offline and the month stays dirty.
type Connectivity interface {
	Online() bool
}

type alwaysOnline struct{}

func (alwaysOnline) Online() bool { return true }

type pendingMonth struct {
	state State
	timer *time.Timer
}

// Coordinator debounces per-month writes and applies inbound snapshots.
type Coordinator struct {
	store  *store.Store
	remote RemoteLedger
	conn   Connectivity
	cfg    config.SyncConfig
	log    *logger.Logger

	// sessionID stamps outbound events so this process can ignore
	// its own echoes when they come back through the consumer.
	sessionID string

	// onPersisted, when set, is invoked after a successful remote
	// write with the acknowledged snapshot. The service layer hooks
	// event publishing here.
	onPersisted func(domain.MonthlyLedger)

	mu      sync.Mutex
	pending map[domain.ScopeKey]*pendingMonth
	wg      sync.WaitGroup
	closed  bool

	sleep func(time.Duration)
}

// New builds a coordinator. A nil Connectivity means always online.
func New(st *store.Store, remote RemoteLedger, conn Connectivity, cfg config.SyncConfig, log *logger.Logger) *Coordinator {
	if conn == nil {
		conn = alwaysOnline{}
	}
	return &Coordinator{
		store:     st,
		remote:    remote,
		conn:      conn,
		cfg:       cfg,
		log:       log.WithComponent("sync"),
		sessionID: uuid.New().String(),
		pending:   make(map[domain.ScopeKey]*pendingMonth),
		sleep:     time.Sleep,
	}
}

// SessionID identifies this process in outbound events.
func (c *Coordinator) SessionID() string { return c.sessionID }

// OnPersisted registers a callback fired after each acknowledged write.
func (c *Coordinator) OnPersisted(fn func(domain.MonthlyLedger)) {
	c.onPersisted = fn
}

// StateOf reports the current lifecycle state of a month.
func (c *Coordinator) StateOf(key domain.ScopeKey) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pending[key]; ok {
		return p.state
	}
	return StateIdle
}

// MarkDirty records a local edit to the month. The debounce timer is
// reset on every call, so a burst of edits produces one write. The
// scope key is captured here; edits to other months schedule their
// own timers independently.
func (c *Coordinator) MarkDirty(key domain.ScopeKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	p, ok := c.pending[key]
	if !ok {
		p = &pendingMonth{}
		c.pending[key] = p
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.state = StateDirty
	p.timer = time.AfterFunc(c.cfg.DebounceDelay, func() {
		c.flush(key)
	})
}

// Flush writes a dirty month immediately, bypassing the debounce.
func (c *Coordinator) Flush(key domain.ScopeKey) {
	c.mu.Lock()
	p, ok := c.pending[key]
	if !ok || p.state != StateDirty {
		c.mu.Unlock()
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	c.mu.Unlock()
	c.flush(key)
}

// FlushAll synchronously writes every dirty month. Used on shutdown.
func (c *Coordinator) FlushAll() {
	c.mu.Lock()
	keys := make([]domain.ScopeKey, 0, len(c.pending))
	for key, p := range c.pending {
		if p.state == StateDirty {
			if p.timer != nil {
				p.timer.Stop()
			}
			keys = append(keys, key)
		}
	}
	c.mu.Unlock()

	for _, key := range keys {
		c.flush(key)
	}
	c.wg.Wait()
}

// Close stops all pending timers without writing.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	for _, p := range c.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Coordinator) flush(key domain.ScopeKey) {
	c.mu.Lock()
	p, ok := c.pending[key]
	if !ok || p.state != StateDirty || c.closed {
		c.mu.Unlock()
		return
	}

	if !c.conn.Online() {
		// Stay dirty and try again after another debounce interval.
		p.timer = time.AfterFunc(c.cfg.DebounceDelay, func() {
			c.flush(key)
		})
		c.mu.Unlock()
		c.log.Debug().
			Str("month", string(key.Month)).
			Msg("remote offline, deferring ledger write")
		return
	}

	p.state = StatePersisting
	c.wg.Add(1)
	c.mu.Unlock()

	go c.persist(key)
}

func (c *Coordinator) persist(key domain.ScopeKey) {
	defer c.wg.Done()

	snapshot, ok := c.store.Snapshot(key)
	if !ok {
		c.settle(key, StateIdle)
		return
	}

	log := c.log.WithTenant(key.TenantID).WithPharmacy(key.PharmacyID).WithMonth(string(key.Month))

	var lastErr error
	for attempt := 0; attempt <= c.cfg.SaveRetries; attempt++ {
		if attempt > 0 {
			// Linear backoff: the wait grows by one step per attempt.
			c.sleep(c.cfg.RetryBackoff * time.Duration(attempt))
		}

		revision, err := c.remote.SaveMonth(context.Background(), snapshot)
		if err == nil {
			c.store.SetRevision(key, revision)
			snapshot.Revision = revision
			c.settle(key, StateIdle)
			if c.onPersisted != nil {
				c.onPersisted(snapshot)
			}
			log.Debug().Int64("revision", revision).Msg("ledger month persisted")
			return
		}

		lastErr = err
		if !apperrors.IsTransient(err) {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("ledger save failed, retrying")
	}

	// Keep the month dirty so the next edit (or FlushAll) retries.
	c.settle(key, StateDirty)
	log.Error().Err(lastErr).Msg("ledger save failed after retries, edits retained locally")
}

func (c *Coordinator) settle(key domain.ScopeKey, state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[key]
	if !ok {
		return
	}
	if state == StateIdle && p.state == StatePersisting {
		delete(c.pending, key)
		return
	}
	// If MarkDirty arrived while the write was in flight the month is
	// already dirty again and its timer is running; leave it alone.
	// A month settled back to dirty after a failed write waits for the
	// next edit or FlushAll rather than retrying on its own.
	if p.state == StatePersisting {
		p.state = state
	}
}

// ApplyRemote replaces the local month with an inbound snapshot from
// another session. Echoes of this session's own writes are dropped.
// Stale snapshots (revision at or below the local one) are ignored.
func (c *Coordinator) ApplyRemote(key domain.ScopeKey, items []domain.Item, revision int64, originSession string) {
	if originSession == c.sessionID {
		return
	}

	log := c.log.WithTenant(key.TenantID).WithPharmacy(key.PharmacyID).WithMonth(string(key.Month))

	if local, ok := c.store.Snapshot(key); ok && revision <= local.Revision {
		log.Debug().
			Int64("inbound_revision", revision).
			Int64("local_revision", local.Revision).
			Msg("ignoring stale ledger snapshot")
		return
	}

	c.mu.Lock()
	if p, ok := c.pending[key]; ok && p.state != StateIdle {
		// Whole-month replace semantics: the inbound snapshot wins and
		// unwritten local edits to this month are lost.
		log.Warn().
			Str("state", p.state.String()).
			Msg("inbound snapshot overwrote unsynced local edits")
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(c.pending, key)
	}
	c.mu.Unlock()

	c.store.Replace(key, items, revision)
	log.Debug().Int64("revision", revision).Msg("applied remote ledger snapshot")
}

// Hydrate loads a month from the remote into the store if it is not
// already present locally.
func (c *Coordinator) Hydrate(ctx context.Context, key domain.ScopeKey) error {
	if c.store.Has(key) {
		return nil
	}
	ledger, err := c.remote.LoadMonth(ctx, key)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			c.store.EnsureMonth(key)
			return nil
		}
		return err
	}
	c.store.Replace(key, ledger.Items, ledger.Revision)
	return nil
}
