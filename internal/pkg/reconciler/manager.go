package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2/log"

	"github.com/wrldarena/arena/internal/pkg/pending"
)

type slotEntry struct {
	rec     *Reconciler
	running bool
	refs    int
	// writes counts releases so the loop can tell whether the slot changed
	// while it read the store without m.mu.
	writes uint64
}

// Manager owns one Reconciler per device slot and keeps a run loop alive for
// every slot that still holds attempts.
type Manager struct {
	cfg     Config
	backend pending.Backend
	deps    Deps

	mu      sync.Mutex
	slots   map[string]*slotEntry
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// NewManager validates the configuration. deps.Store is ignored; each slot
// gets its own store from backend.
func NewManager(cfg Config, backend pending.Backend, deps Deps) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("reconciler config: %w", err)
	}
	if backend == nil {
		return nil, errors.New("reconciler manager needs a pending payment backend")
	}
	return &Manager{
		cfg:     cfg,
		backend: backend,
		deps:    deps,
		slots:   make(map[string]*slotEntry),
	}, nil
}

// Start resumes reconciliation for every slot left non-empty by a previous
// run. Loops stop when ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.ctx != nil {
		m.mu.Unlock()
		return errors.New("reconciler manager already started")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	slots, err := m.backend.Slots(ctx)
	if err != nil {
		return fmt.Errorf("list pending payment slots: %w", err)
	}
	for _, slot := range slots {
		e, err := m.acquire(slot)
		if err != nil {
			return err
		}
		m.release(ctx, slot, e)
	}
	log.Infof("[Reconciler] Manager started, resumed %d slot(s)", len(slots))
	return nil
}

// Stop cancels every loop and scheduled recheck and waits for loops to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	if m.cancel != nil {
		m.cancel()
	}
	entries := make([]*slotEntry, 0, len(m.slots))
	for _, e := range m.slots {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	m.wg.Wait()
	for _, e := range entries {
		e.rec.Close()
	}
	log.Info("[Reconciler] Manager stopped")
}

// Begin records a new attempt in slot and makes sure the slot is polled.
func (m *Manager) Begin(ctx context.Context, slot string, in BeginInput) (pending.PendingPayment, error) {
	e, err := m.acquire(slot)
	if err != nil {
		return pending.PendingPayment{}, err
	}
	defer m.release(ctx, slot, e)
	return e.rec.Begin(ctx, in)
}

// HandleCheckout applies a checkout widget outcome to an attempt in slot.
func (m *Manager) HandleCheckout(ctx context.Context, slot, txRef string, outcome Outcome) error {
	e, err := m.acquire(slot)
	if err != nil {
		return err
	}
	defer m.release(ctx, slot, e)
	return e.rec.HandleCheckout(ctx, txRef, outcome)
}

// Refresh queues a sweep of slot. It reports false when the request was
// dropped because a pass is already running or queued.
func (m *Manager) Refresh(slot string) (bool, error) {
	e, err := m.acquire(slot)
	if err != nil {
		return false, err
	}
	defer m.release(context.Background(), slot, e)
	return e.rec.Refresh(), nil
}

// Pending lists the attempts tracked in slot.
func (m *Manager) Pending(ctx context.Context, slot string) []pending.PendingPayment {
	return pending.Load(ctx, m.backend.Slot(slot))
}

func (m *Manager) acquire(slot string) (*slotEntry, error) {
	if slot == "" {
		return nil, fmt.Errorf("%w: slot is required", ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.slots[slot]
	if !ok {
		d := m.deps
		d.Store = m.backend.Slot(slot)
		rec, err := New(m.cfg, slot, d)
		if err != nil {
			return nil, err
		}
		e = &slotEntry{rec: rec}
		m.slots[slot] = e
	}
	e.refs++
	return e, nil
}

// release drops a reference taken by acquire. The slot is read before m.mu
// is taken so a slow store never blocks other devices.
func (m *Manager) release(ctx context.Context, slot string, e *slotEntry) {
	empty := len(pending.Load(context.WithoutCancel(ctx), e.rec.store)) == 0

	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	e.writes++
	m.ensureLoopLocked(slot, e, empty)
}

// ensureLoopLocked starts the run loop of slot unless it is running, the
// manager is not started, or the slot is empty. m.mu must be held.
func (m *Manager) ensureLoopLocked(slot string, e *slotEntry, empty bool) {
	if e.running || m.ctx == nil || m.stopped {
		return
	}
	if empty {
		m.evictLocked(slot, e)
		return
	}
	e.running = true
	m.wg.Add(1)
	go m.loop(slot, e)
}

func (m *Manager) loop(slot string, e *slotEntry) {
	defer m.wg.Done()
	for {
		e.rec.Run(m.ctx)

		m.mu.Lock()
		seen := e.writes
		m.mu.Unlock()

		more := m.ctx.Err() == nil && len(pending.Load(m.ctx, e.rec.store)) > 0

		m.mu.Lock()
		// Writes released while the store was read may have been skipped by
		// ensureLoopLocked because the loop still looked busy.
		if m.ctx.Err() == nil && !m.stopped && (more || e.writes != seen) {
			m.mu.Unlock()
			continue
		}
		e.running = false
		if !m.stopped {
			m.evictLocked(slot, e)
		}
		m.mu.Unlock()
		return
	}
}

// evictLocked forgets an idle slot nobody is using. m.mu must be held.
func (m *Manager) evictLocked(slot string, e *slotEntry) {
	if e.refs > 0 || e.running {
		return
	}
	if cur, ok := m.slots[slot]; ok && cur == e {
		delete(m.slots, slot)
		e.rec.Close()
	}
}
