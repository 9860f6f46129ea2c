package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/wrldarena/arena/internal/pkg/billing"
	"github.com/wrldarena/arena/internal/pkg/currency"
	"github.com/wrldarena/arena/internal/pkg/metrics/counter"
	"github.com/wrldarena/arena/internal/pkg/notify"
	"github.com/wrldarena/arena/internal/pkg/pending"
	"github.com/wrldarena/arena/internal/pkg/verify"
)

var (
	successResult = verify.Result{Status: verify.StatusSuccess, Data: &verify.Transaction{ID: 4421, Status: "successful"}}
	pendingResult = verify.Result{Status: verify.StatusPending}
	failedResult  = verify.Result{Status: verify.StatusFailed}
)

type step struct {
	res verify.Result
	err error
}

// scriptedVerifier answers with steps in order and repeats the last one.
type scriptedVerifier struct {
	mu       sync.Mutex
	steps    []step
	calls    int
	refs     []string
	onVerify func(txRef string)
}

func (v *scriptedVerifier) Verify(ctx context.Context, txRef, provider string) (verify.Result, error) {
	v.mu.Lock()
	hook := v.onVerify
	v.mu.Unlock()
	if hook != nil {
		hook(txRef)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	v.refs = append(v.refs, txRef)
	if len(v.steps) == 0 {
		return verify.Result{}, errors.New("no scripted answer")
	}
	s := v.steps[0]
	if len(v.steps) > 1 {
		v.steps = v.steps[1:]
	}
	return s.res, s.err
}

func (v *scriptedVerifier) Calls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

type recordingCommitter struct {
	mu       sync.Mutex
	payments []billing.PaymentInput
	subs     []billing.SubscriptionInput
	err      error
}

func (c *recordingCommitter) Commit(ctx context.Context, p billing.PaymentInput, s billing.SubscriptionInput) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	c.payments = append(c.payments, p)
	c.subs = append(c.subs, s)
	return true, nil
}

func (c *recordingCommitter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payments)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type scheduledFunc struct {
	delay   time.Duration
	f       func()
	stopped bool
}

func (s *scheduledFunc) Stop() bool {
	was := !s.stopped
	s.stopped = true
	return was
}

// manualTimers captures scheduled functions until the test fires them.
type manualTimers struct {
	mu      sync.Mutex
	pending []*scheduledFunc
}

func (m *manualTimers) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &scheduledFunc{delay: d, f: f}
	m.pending = append(m.pending, s)
	return s
}

func (m *manualTimers) Delays() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]time.Duration, 0, len(m.pending))
	for _, s := range m.pending {
		out = append(out, s.delay)
	}
	return out
}

func (m *manualTimers) FireAll() {
	m.mu.Lock()
	due := m.pending
	m.pending = nil
	m.mu.Unlock()
	for _, s := range due {
		if !s.stopped {
			s.f()
		}
	}
}

type harness struct {
	rec       *Reconciler
	store     pending.Store
	verifier  *scriptedVerifier
	committer *recordingCommitter
	notes     *notify.Recorder
	counters  *counter.Memory
	clock     *fakeClock
	timers    *manualTimers
}

var epoch = time.Date(2026, time.May, 4, 9, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, steps ...step) *harness {
	t.Helper()

	h := &harness{
		store:     pending.NewMemoryStore(),
		verifier:  &scriptedVerifier{steps: steps},
		committer: &recordingCommitter{},
		notes:     &notify.Recorder{},
		counters:  counter.NewMemory(),
		clock:     &fakeClock{now: epoch},
		timers:    &manualTimers{},
	}
	rec, err := New(DefaultConfig(), "slot-1", Deps{
		Store:     h.store,
		Verifier:  h.verifier,
		Committer: h.committer,
		Rates:     currency.StaticRateSource{"USD": decimal.NewFromInt(11)},
		Notifier:  h.notes,
		Counters:  h.counters,
		Now:       h.clock.Now,
	})
	require.NoError(t, err)
	rec.afterFunc = h.timers.AfterFunc
	t.Cleanup(rec.Close)
	h.rec = rec
	return h
}

func (h *harness) seed(t *testing.T, p pending.PendingPayment) {
	t.Helper()
	require.NoError(t, pending.Save(context.Background(), h.store, p))
}

func (h *harness) find(txRef string) (pending.PendingPayment, bool) {
	p, err := pending.Find(context.Background(), h.store, txRef)
	return p, err == nil
}

func dailyPlan() pending.Plan {
	return pending.Plan{ID: "daily", Name: "Day Pass", Price: 10, Currency: "GHS", Period: "DAILY"}
}

func attempt(txRef string, status pending.Status, createdAt time.Time) pending.PendingPayment {
	return pending.PendingPayment{
		ID:        "1-7",
		UserID:    7,
		TxRef:     txRef,
		Amount:    10,
		Currency:  "GHS",
		Plan:      dailyPlan(),
		Timestamp: createdAt.UnixMilli(),
		Status:    status,
	}
}
