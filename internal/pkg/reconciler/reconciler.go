package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wrldarena/arena/app/models"
	"github.com/wrldarena/arena/internal/pkg/billing"
	"github.com/wrldarena/arena/internal/pkg/currency"
	"github.com/wrldarena/arena/internal/pkg/flutterwave"
	"github.com/wrldarena/arena/internal/pkg/metrics/counter"
	"github.com/wrldarena/arena/internal/pkg/notify"
	"github.com/wrldarena/arena/internal/pkg/pending"
	"github.com/wrldarena/arena/internal/pkg/verify"
)

const txRefPrefix = "cwa-"

// User-facing messages.
const (
	msgInitiated = "Payment initiated! Verifying transaction..."
	msgSuccess   = "Payment successful! Subscription activated."
	msgPending   = "Payment is pending. If you have finished paying, wait for a couple of minutes or refresh the page"
	msgFailed    = "Payment verification failed after multiple attempts."
	msgTimeout   = "Payment verification timeout. Please contact support."
	msgNotPaid   = "Payment not completed."
)

// ErrInvalidInput is returned for requests the reconciler cannot act on.
var ErrInvalidInput = errors.New("invalid payment input")

// Committer records a settled payment and activates its subscription. It
// must be idempotent on the reference.
type Committer interface {
	Commit(ctx context.Context, p billing.PaymentInput, s billing.SubscriptionInput) (bool, error)
}

// Counters receives one increment per reconciliation outcome.
type Counters interface {
	Incr(ctx context.Context, name string) error
}

type noopCounters struct{}

func (noopCounters) Incr(context.Context, string) error { return nil }

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, notify.Notification) {}

// Deps are the collaborators of a Reconciler. Rates, Notifier, Counters and
// Now are optional.
type Deps struct {
	Store     pending.Store
	Verifier  verify.Verifier
	Committer Committer
	Rates     currency.RateSource
	Notifier  notify.Notifier
	Counters  Counters
	Now       func() time.Time
}

// Timer is the handle returned by a scheduling function.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Reconciler converges the payment attempts of one slot to a terminal state.
// At most one pass (a sweep or a single-record verification) runs at a time;
// requests arriving while one is in flight are dropped, not queued.
type Reconciler struct {
	cfg       Config
	slot      string
	store     pending.Store
	verifier  verify.Verifier
	committer Committer
	rates     currency.RateSource
	notifier  notify.Notifier
	counters  Counters
	now       func() time.Time
	afterFunc AfterFunc

	passMu   sync.Mutex
	inPass   atomic.Bool
	storeMu  sync.Mutex
	refresh  chan struct{}
	baseCtx  context.Context
	cancel   context.CancelFunc
	timersMu sync.Mutex
	timers   map[int]Timer
	nextID   int
	closed   bool
}

// New builds a reconciler for one slot.
func New(cfg Config, slot string, deps Deps) (*Reconciler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("reconciler config: %w", err)
	}
	if deps.Store == nil || deps.Verifier == nil || deps.Committer == nil {
		return nil, errors.New("reconciler needs a store, a verifier and a committer")
	}
	if deps.Notifier == nil {
		deps.Notifier = noopNotifier{}
	}
	if deps.Counters == nil {
		deps.Counters = noopCounters{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		cfg:       cfg,
		slot:      slot,
		store:     deps.Store,
		verifier:  deps.Verifier,
		committer: deps.Committer,
		rates:     deps.Rates,
		notifier:  deps.Notifier,
		counters:  deps.Counters,
		now:       deps.Now,
		afterFunc: realAfterFunc,
		refresh:   make(chan struct{}, 1),
		baseCtx:   ctx,
		cancel:    cancel,
		timers:    make(map[int]Timer),
	}, nil
}

// Pending returns the attempts currently tracked in the slot.
func (r *Reconciler) Pending(ctx context.Context) []pending.PendingPayment {
	return pending.Load(ctx, r.store)
}

// BeginInput describes a checkout the user is about to start.
type BeginInput struct {
	UserID uint
	Plan   pending.Plan
	// Currency is the user's display currency. Empty means the plan currency.
	Currency string
}

// Begin records a new attempt as PENDING before the checkout widget opens,
// so an interrupted checkout is still verified later. The amount is the plan
// price in the display currency.
func (r *Reconciler) Begin(ctx context.Context, in BeginInput) (pending.PendingPayment, error) {
	if in.UserID == 0 {
		return pending.PendingPayment{}, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.Plan.ID) == "" || in.Plan.Price <= 0 {
		return pending.PendingPayment{}, fmt.Errorf("%w: plan id and a positive price are required", ErrInvalidInput)
	}
	if !billing.ValidPeriod(in.Plan.Period) {
		return pending.PendingPayment{}, fmt.Errorf("%w: %q", billing.ErrUnknownPlanPeriod, in.Plan.Period)
	}

	amount, cur := r.displayAmount(ctx, in.Plan, in.Currency)
	now := r.now()

	r.storeMu.Lock()
	defer r.storeMu.Unlock()

	// References are shared by every device on the gateway account.
	txRef := txRefPrefix + strconv.FormatInt(now.UnixMilli(), 10) + "-" + strings.Split(uuid.NewString(), "-")[0]

	p := pending.PendingPayment{
		ID:         fmt.Sprintf("%d-%d", now.UnixMilli(), in.UserID),
		UserID:     in.UserID,
		TxRef:      txRef,
		Amount:     amount,
		Currency:   cur,
		Plan:       in.Plan,
		Timestamp:  now.UnixMilli(),
		Status:     pending.StatusPending,
		RetryCount: 0,
	}
	if err := pending.Save(ctx, r.store, p); err != nil {
		return pending.PendingPayment{}, fmt.Errorf("save pending payment: %w", err)
	}
	log.Infof("[Reconciler] Slot %s: began %s for user %d (%s %.2f %s)", r.slot, txRef, in.UserID, in.Plan.Period, amount, cur)
	return p, nil
}

// displayAmount prices the plan in the user's currency. Without a usable
// rate the checkout falls back to the plan currency.
func (r *Reconciler) displayAmount(ctx context.Context, plan pending.Plan, display string) (float64, string) {
	planCur := strings.ToUpper(strings.TrimSpace(plan.Currency))
	if planCur == "" {
		planCur = r.cfg.SettlementCurrency
	}
	display = strings.ToUpper(strings.TrimSpace(display))
	if display == "" || display == planCur || r.rates == nil {
		return plan.Price, planCur
	}
	rate, err := r.rates.AskRate(ctx, display)
	if err != nil || !rate.IsPositive() {
		log.Warnf("[Reconciler] No %s rate, pricing in %s: %v", display, planCur, err)
		return plan.Price, planCur
	}
	amount, _ := decimal.NewFromFloat(plan.Price).Mul(rate).Round(2).Float64()
	return amount, display
}

// HandleCheckout applies the outcome the checkout widget reported.
func (r *Reconciler) HandleCheckout(ctx context.Context, txRef string, outcome Outcome) error {
	switch o := outcome.(type) {
	case Success:
		return r.checkoutSucceeded(ctx, txRef, o)
	case Failure:
		return r.checkoutFailed(ctx, txRef, o)
	case WindowClosed:
		r.schedule(r.cfg.CloseGrace, func(ctx context.Context) {
			r.cleanupAbandoned(ctx, txRef)
		})
		return nil
	default:
		return fmt.Errorf("%w: unknown checkout outcome %T", ErrInvalidInput, outcome)
	}
}

func (r *Reconciler) checkoutSucceeded(ctx context.Context, txRef string, o Success) error {
	txID := strings.TrimSpace(o.TransactionID)
	if txID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}
	if o.Reference != "" && o.Reference != txRef {
		return fmt.Errorf("%w: callback reference %q does not match %q", ErrInvalidInput, o.Reference, txRef)
	}

	p, res, err := r.mutate(ctx, txRef, func(p *pending.PendingPayment) bool {
		p.TransactionID = txID
		p.Status = pending.StatusPending
		return false
	})
	if err != nil {
		return err
	}
	if res == missing {
		return pending.ErrNotFound
	}

	r.notifier.Notify(ctx, notify.Notification{UserID: p.UserID, Kind: notify.KindPending, Reference: txRef, Message: msgInitiated})

	if _, err := r.ProcessOne(ctx, txRef); err != nil {
		log.Warnf("[Reconciler] Slot %s: immediate verification of %s failed: %v", r.slot, txRef, err)
	}
	r.schedule(r.cfg.RecheckDelay, func(ctx context.Context) {
		if _, err := r.ProcessOne(ctx, txRef); err != nil {
			log.Warnf("[Reconciler] Slot %s: delayed verification of %s failed: %v", r.slot, txRef, err)
		}
	})
	return nil
}

func (r *Reconciler) checkoutFailed(ctx context.Context, txRef string, o Failure) error {
	p, res, err := r.mutate(ctx, txRef, func(*pending.PendingPayment) bool { return true })
	if err != nil {
		return err
	}
	if res == missing {
		return nil
	}
	log.Infof("[Reconciler] Slot %s: checkout for %s not completed: %s", r.slot, txRef, o.Reason)
	r.incr(ctx, counter.Declined)
	r.notifier.Notify(ctx, notify.Notification{UserID: p.UserID, Kind: notify.KindFailed, Reference: txRef, Message: msgNotPaid})
	return nil
}

func (r *Reconciler) cleanupAbandoned(ctx context.Context, txRef string) {
	// A success callback during the grace delay stored a transaction id.
	_, res, err := r.mutate(ctx, txRef, func(p *pending.PendingPayment) bool {
		return p.TransactionID == ""
	})
	if err != nil {
		log.Warnf("[Reconciler] Slot %s: abandoned cleanup of %s failed: %v", r.slot, txRef, err)
		return
	}
	if res == removed {
		log.Infof("[Reconciler] Slot %s: cleaned up abandoned payment %s", r.slot, txRef)
		r.incr(ctx, counter.Abandoned)
	}
}

// ProcessOne runs one verification pass for txRef. It reports false when
// another pass was in flight and the request was dropped.
func (r *Reconciler) ProcessOne(ctx context.Context, txRef string) (bool, error) {
	if !r.passMu.TryLock() {
		r.incr(ctx, counter.SweepsDropped)
		return false, nil
	}
	r.inPass.Store(true)
	defer func() {
		r.inPass.Store(false)
		r.passMu.Unlock()
	}()
	return true, r.process(ctx, txRef)
}

// Sweep drops expired and stale INITIATED attempts, then verifies every
// remaining attempt in turn. It reports false when another pass was in
// flight and the request was dropped.
func (r *Reconciler) Sweep(ctx context.Context) (bool, error) {
	if !r.passMu.TryLock() {
		r.incr(ctx, counter.SweepsDropped)
		log.Debugf("[Reconciler] Slot %s: sweep already running, dropping request", r.slot)
		return false, nil
	}
	r.inPass.Store(true)
	defer func() {
		r.inPass.Store(false)
		r.passMu.Unlock()
	}()
	r.incr(ctx, counter.SweepsRun)

	remaining, err := r.sweepStale(ctx)
	if err != nil {
		return true, err
	}

	var errs []error
	for _, txRef := range remaining {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := r.process(ctx, txRef); err != nil {
			log.Errorf("[Reconciler] Slot %s: processing %s failed: %v", r.slot, txRef, err)
			errs = append(errs, err)
		}
	}
	return true, errors.Join(errs...)
}

// sweepStale removes attempts past the expiry window and INITIATED attempts
// past the abandonment window, returning the references that survive.
func (r *Reconciler) sweepStale(ctx context.Context) ([]string, error) {
	r.storeMu.Lock()
	defer r.storeMu.Unlock()

	now := r.now()
	records := pending.Load(ctx, r.store)
	kept := make([]pending.PendingPayment, 0, len(records))
	var expired, abandoned int
	for _, p := range records {
		switch {
		case p.Age(now) > r.cfg.ExpiryWindow:
			log.Infof("[Reconciler] Slot %s: removing expired payment %s", r.slot, p.TxRef)
			expired++
		case p.Status == pending.StatusInitiated && p.Age(now) > r.cfg.InitiatedWindow:
			log.Infof("[Reconciler] Slot %s: removing stale INITIATED payment %s", r.slot, p.TxRef)
			abandoned++
		default:
			kept = append(kept, p)
		}
	}
	if len(kept) != len(records) {
		if err := r.store.WriteAll(ctx, kept); err != nil {
			return nil, fmt.Errorf("write swept payments: %w", err)
		}
	}
	for i := 0; i < expired; i++ {
		r.incr(ctx, counter.Expired)
	}
	for i := 0; i < abandoned; i++ {
		r.incr(ctx, counter.Abandoned)
	}

	refs := make([]string, 0, len(kept))
	for _, p := range kept {
		if p.Status != pending.StatusCompleted {
			refs = append(refs, p.TxRef)
		}
	}
	return refs, nil
}

// process verifies one attempt and applies the result. Every write-back
// re-reads the slot so a record removed meanwhile is never re-created.
func (r *Reconciler) process(ctx context.Context, txRef string) error {
	p, res, err := r.mutate(ctx, txRef, func(p *pending.PendingPayment) bool {
		if p.Age(r.now()) > r.cfg.ExpiryWindow {
			return true
		}
		p.Status = pending.StatusVerifying
		return false
	})
	if err != nil {
		return err
	}
	switch res {
	case missing:
		return nil
	case removed:
		log.Infof("[Reconciler] Slot %s: removing expired payment %s", r.slot, txRef)
		r.incr(ctx, counter.Expired)
		return nil
	}

	result, verr := r.verifier.Verify(ctx, txRef, r.cfg.Provider)
	r.incr(ctx, counter.Verified)

	switch {
	case verr == nil && result.Settled(flutterwave.StatusSuccessful):
		return r.settle(ctx, p, result)
	case verr == nil && result.Status == verify.StatusPending:
		return r.stillPending(ctx, txRef)
	case verr == nil && result.Status == verify.StatusFailed:
		return r.failed(ctx, txRef)
	default:
		if verr == nil {
			verr = fmt.Errorf("unexpected verification result %q", result.Status)
		}
		return r.retry(ctx, txRef, verr)
	}
}

func (r *Reconciler) settle(ctx context.Context, p pending.PendingPayment, result verify.Result) error {
	// The callback may have stored the transaction id after this pass read
	// the record; prefer the freshest copy.
	if fresh, err := pending.Find(ctx, r.store, p.TxRef); err == nil {
		p = fresh
	}
	txID := p.TransactionID
	if txID == "" && result.Data != nil && result.Data.ID != 0 {
		txID = strconv.FormatInt(result.Data.ID, 10)
	}

	start := r.now()
	expires, err := billing.ExpiresAt(p.Plan.Period, start)
	if err != nil {
		return r.retry(ctx, p.TxRef, err)
	}
	amount := currency.Convert(ctx, r.rates, decimal.NewFromFloat(p.Amount), p.Currency, r.cfg.SettlementCurrency)
	reference := billing.CompositeReference(txID, p.TxRef)

	if _, err := r.committer.Commit(ctx,
		billing.PaymentInput{
			UserID:    p.UserID,
			Amount:    amount,
			Currency:  r.cfg.SettlementCurrency,
			Provider:  r.cfg.ProviderName,
			Status:    models.PaymentStatusSuccess,
			Reference: reference,
		},
		billing.SubscriptionInput{
			UserID:    p.UserID,
			Plan:      p.Plan.Period,
			Status:    models.SubscriptionStatusActive,
			StartedAt: start,
			ExpiresAt: expires,
			Reference: reference,
		},
	); err != nil {
		return r.retry(ctx, p.TxRef, fmt.Errorf("commit: %w", err))
	}

	if _, _, err := r.mutate(ctx, p.TxRef, func(*pending.PendingPayment) bool { return true }); err != nil {
		// Committed but still tracked: the next pass commits again, which is a no-op.
		return fmt.Errorf("remove settled payment: %w", err)
	}
	log.Infof("[Reconciler] Slot %s: payment %s settled (%s %s)", r.slot, p.TxRef, amount.String(), r.cfg.SettlementCurrency)
	r.incr(ctx, counter.Committed)
	r.notifier.Notify(ctx, notify.Notification{
		UserID:      p.UserID,
		Kind:        notify.KindSuccess,
		Reference:   p.TxRef,
		Message:     msgSuccess,
		ReloadAfter: r.cfg.ReloadAfter,
	})
	return nil
}

func (r *Reconciler) stillPending(ctx context.Context, txRef string) error {
	p, res, err := r.mutate(ctx, txRef, func(p *pending.PendingPayment) bool {
		p.Status = pending.StatusPending
		return false
	})
	if err != nil || res == missing {
		return err
	}
	r.incr(ctx, counter.Pending)
	r.notifier.Notify(ctx, notify.Notification{UserID: p.UserID, Kind: notify.KindPending, Reference: txRef, Message: msgPending})
	return nil
}

func (r *Reconciler) failed(ctx context.Context, txRef string) error {
	p, res, err := r.mutate(ctx, txRef, func(p *pending.PendingPayment) bool {
		r.countRetry(p)
		p.Status = pending.StatusFailed
		return p.RetryCount >= r.cfg.RetryLimit
	})
	if err != nil || res == missing {
		return err
	}
	if res == removed {
		log.Warnf("[Reconciler] Slot %s: payment %s failed %d times, giving up", r.slot, txRef, p.RetryCount)
		r.incr(ctx, counter.FailedFinal)
		r.notifier.Notify(ctx, notify.Notification{UserID: p.UserID, Kind: notify.KindFailed, Reference: txRef, Message: msgFailed})
		return nil
	}
	r.incr(ctx, counter.Failed)
	return nil
}

// retry handles transport errors, commit errors and unexpected results. The
// attempt is kept until it expires; the retry limit only applies to
// failures the gateway reported.
func (r *Reconciler) retry(ctx context.Context, txRef string, cause error) error {
	log.Warnf("[Reconciler] Slot %s: verification of %s inconclusive: %v", r.slot, txRef, cause)
	p, res, err := r.mutate(ctx, txRef, func(p *pending.PendingPayment) bool {
		r.countRetry(p)
		p.Status = pending.StatusPending
		return p.Age(r.now()) > r.cfg.ExpiryWindow
	})
	if err != nil || res == missing {
		return err
	}
	r.incr(ctx, counter.Errored)
	if res == removed {
		r.notifier.Notify(ctx, notify.Notification{UserID: p.UserID, Kind: notify.KindTimeout, Reference: txRef, Message: msgTimeout})
	}
	return nil
}

// countRetry increments the retry count, stopping at the limit.
func (r *Reconciler) countRetry(p *pending.PendingPayment) {
	if p.RetryCount < r.cfg.RetryLimit {
		p.RetryCount++
	}
}

type mutation int

const (
	missing mutation = iota
	saved
	removed
)

// mutate is one read-compute-overwrite of a single record. fn edits the
// record in place and returns true to delete it instead.
func (r *Reconciler) mutate(ctx context.Context, txRef string, fn func(p *pending.PendingPayment) bool) (pending.PendingPayment, mutation, error) {
	r.storeMu.Lock()
	defer r.storeMu.Unlock()

	p, err := pending.Find(ctx, r.store, txRef)
	if errors.Is(err, pending.ErrNotFound) {
		return p, missing, nil
	}
	if fn(&p) {
		if err := pending.Remove(ctx, r.store, txRef); err != nil {
			return p, missing, fmt.Errorf("remove %s: %w", txRef, err)
		}
		return p, removed, nil
	}
	ok, err := pending.SaveIfPresent(ctx, r.store, p)
	if err != nil {
		return p, missing, fmt.Errorf("save %s: %w", txRef, err)
	}
	if !ok {
		return p, missing, nil
	}
	return p, saved, nil
}

// Refresh asks the run loop for a sweep. It reports false when the request
// was dropped because a pass is running or a sweep is already queued.
func (r *Reconciler) Refresh() bool {
	if r.inPass.Load() {
		r.incr(r.baseCtx, counter.SweepsDropped)
		return false
	}
	select {
	case r.refresh <- struct{}{}:
		return true
	default:
		r.incr(r.baseCtx, counter.SweepsDropped)
		return false
	}
}

// Run sweeps on start, then on every poll tick and refresh request. It
// returns when ctx is done or when a sweep leaves the slot empty.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			log.Errorf("[Reconciler] Slot %s: sweep failed: %v", r.slot, err)
		}
		if len(pending.Load(ctx, r.store)) == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.refresh:
		}
	}
}

// schedule runs f after d with a context bounded by PassTimeout.
func (r *Reconciler) schedule(d time.Duration, f func(ctx context.Context)) {
	r.timersMu.Lock()
	defer r.timersMu.Unlock()
	if r.closed {
		return
	}
	id := r.nextID
	r.nextID++
	r.timers[id] = r.afterFunc(d, func() {
		r.timersMu.Lock()
		delete(r.timers, id)
		r.timersMu.Unlock()
		if r.baseCtx.Err() != nil {
			return
		}
		ctx, cancel := context.WithTimeout(r.baseCtx, r.cfg.PassTimeout)
		defer cancel()
		f(ctx)
	})
}

// Close stops scheduled rechecks and cancels any that are running.
func (r *Reconciler) Close() {
	r.timersMu.Lock()
	r.closed = true
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
	r.timersMu.Unlock()
	r.cancel()
}

func (r *Reconciler) incr(ctx context.Context, name string) {
	if err := r.counters.Incr(ctx, name); err != nil {
		log.Debugf("[Reconciler] counter %s: %v", name, err)
	}
}
