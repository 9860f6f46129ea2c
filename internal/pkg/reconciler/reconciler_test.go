package reconciler

import (
	"context"
	"errors"
	"math/rand"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrldarena/arena/internal/pkg/billing"
	"github.com/wrldarena/arena/internal/pkg/metrics/counter"
	"github.com/wrldarena/arena/internal/pkg/notify"
	"github.com/wrldarena/arena/internal/pkg/pending"
	"github.com/wrldarena/arena/internal/pkg/verify"
)

func sweep(t *testing.T, h *harness) {
	t.Helper()
	ran, err := h.rec.Sweep(context.Background())
	require.NoError(t, err)
	require.True(t, ran)
}

func TestSweep_SettledPaymentIsCommittedOnceAndRemoved(t *testing.T) {
	h := newHarness(t, step{res: successResult})
	p := attempt("cwa-1000", pending.StatusPending, epoch)
	p.TransactionID = "4421"
	h.seed(t, p)

	sweep(t, h)
	sweep(t, h)

	_, ok := h.find("cwa-1000")
	assert.False(t, ok)
	require.Equal(t, 1, h.committer.Count())
	assert.Equal(t, "4421 cwa-1000", h.committer.payments[0].Reference)
	assert.Equal(t, "GHS", h.committer.payments[0].Currency)
	assert.Equal(t, "SUCCESS", h.committer.payments[0].Status)
	assert.Equal(t, "Flutterwave", h.committer.payments[0].Provider)

	sub := h.committer.subs[0]
	assert.Equal(t, "DAILY", sub.Plan)
	assert.Equal(t, "ACTIVE", sub.Status)
	assert.Equal(t, epoch.AddDate(0, 0, 1), sub.ExpiresAt)
	assert.Equal(t, sub.Reference, h.committer.payments[0].Reference)

	require.Equal(t, 1, h.notes.Count(notify.KindSuccess))
	assert.Equal(t, 2*time.Second, h.notes.All()[0].ReloadAfter)
	assert.Equal(t, int64(1), h.counters.Get(counter.Committed))
}

func TestSweep_SettledWithoutCallbackUsesVerifiedTransactionID(t *testing.T) {
	h := newHarness(t, step{res: successResult})
	h.seed(t, attempt("cwa-1000", pending.StatusPending, epoch))

	sweep(t, h)

	require.Equal(t, 1, h.committer.Count())
	assert.Equal(t, "4421 cwa-1000", h.committer.payments[0].Reference)
}

func TestSweep_PendingDoesNotCountAsRetry(t *testing.T) {
	h := newHarness(t, step{res: pendingResult})
	h.seed(t, attempt("cwa-1000", pending.StatusPending, epoch))

	for i := 0; i < 4; i++ {
		sweep(t, h)
		p, ok := h.find("cwa-1000")
		require.True(t, ok)
		assert.Equal(t, 0, p.RetryCount)
		assert.Equal(t, pending.StatusPending, p.Status)
	}
	assert.Equal(t, 4, h.verifier.Calls())
	assert.Equal(t, 4, h.notes.Count(notify.KindPending))
	assert.Zero(t, h.committer.Count())
}

func TestSweep_FailedUpToRetryLimit(t *testing.T) {
	h := newHarness(t, step{res: failedResult})
	h.seed(t, attempt("cwa-1000", pending.StatusPending, epoch))

	for i := 1; i <= 4; i++ {
		sweep(t, h)
		p, ok := h.find("cwa-1000")
		require.True(t, ok, "after failure %d", i)
		assert.Equal(t, i, p.RetryCount)
		assert.Equal(t, pending.StatusFailed, p.Status)
	}
	assert.Zero(t, h.notes.Count(notify.KindFailed))

	sweep(t, h)
	_, ok := h.find("cwa-1000")
	assert.False(t, ok)
	assert.Equal(t, 1, h.notes.Count(notify.KindFailed))

	sweep(t, h)
	assert.Equal(t, 1, h.notes.Count(notify.KindFailed))
	assert.Equal(t, 5, h.verifier.Calls())
}

func TestSweep_StaleInitiatedIsRemoved(t *testing.T) {
	h := newHarness(t, step{res: pendingResult})
	h.seed(t, attempt("cwa-1000", pending.StatusInitiated, epoch))
	h.clock.Advance(6 * time.Minute)

	sweep(t, h)

	_, ok := h.find("cwa-1000")
	assert.False(t, ok)
	assert.Zero(t, h.verifier.Calls())
	assert.Equal(t, int64(1), h.counters.Get(counter.Abandoned))
}

func TestSweep_FreshInitiatedIsVerified(t *testing.T) {
	h := newHarness(t, step{res: pendingResult})
	h.seed(t, attempt("cwa-1000", pending.StatusInitiated, epoch))
	h.clock.Advance(4 * time.Minute)

	sweep(t, h)

	_, ok := h.find("cwa-1000")
	assert.True(t, ok)
	assert.Equal(t, 1, h.verifier.Calls())
}

func TestSweep_ExpiredIsRemovedRegardlessOfState(t *testing.T) {
	for _, status := range []pending.Status{pending.StatusPending, pending.StatusVerifying, pending.StatusFailed, pending.StatusInitiated} {
		t.Run(string(status), func(t *testing.T) {
			h := newHarness(t, step{res: successResult})
			p := attempt("cwa-1000", status, epoch)
			p.RetryCount = 1
			h.seed(t, p)
			h.clock.Advance(3 * time.Hour)

			sweep(t, h)

			_, ok := h.find("cwa-1000")
			assert.False(t, ok)
			assert.Zero(t, h.verifier.Calls())
			assert.Zero(t, h.committer.Count())
		})
	}
}

func TestSweep_ConvertsToSettlementCurrency(t *testing.T) {
	h := newHarness(t, step{res: successResult})
	p := attempt("cwa-1000", pending.StatusPending, epoch)
	p.Amount = 100
	p.Currency = "USD"
	h.seed(t, p)

	sweep(t, h)

	require.Equal(t, 1, h.committer.Count())
	assert.True(t, decimal.NewFromInt(9).Equal(h.committer.payments[0].Amount), h.committer.payments[0].Amount.String())
	assert.Equal(t, "GHS", h.committer.payments[0].Currency)
}

func TestSweep_TransportErrorKeepsAttemptUntilExpiry(t *testing.T) {
	h := newHarness(t, step{err: errors.New("connection reset")})
	h.seed(t, attempt("cwa-1000", pending.StatusPending, epoch))

	sweep(t, h)
	p, ok := h.find("cwa-1000")
	require.True(t, ok)
	assert.Equal(t, 1, p.RetryCount)
	assert.Equal(t, pending.StatusPending, p.Status)

	for i := 0; i < 7; i++ {
		h.clock.Advance(time.Minute)
		sweep(t, h)
	}
	p, ok = h.find("cwa-1000")
	require.True(t, ok)
	assert.Equal(t, DefaultConfig().RetryLimit, p.RetryCount)
	assert.Equal(t, pending.StatusPending, p.Status)
	assert.Zero(t, h.notes.Count(notify.KindTimeout))
	assert.Equal(t, int64(8), h.counters.Get(counter.Errored))
}

func TestSweep_TransportErrorPastExpiryTimesOutOnce(t *testing.T) {
	h := newHarness(t, step{err: errors.New("connection reset")})
	h.seed(t, attempt("cwa-1000", pending.StatusPending, epoch))
	sweep(t, h)

	// The window runs out while the verification call is in flight.
	h.verifier.onVerify = func(string) {
		h.clock.Advance(3 * time.Hour)
	}
	sweep(t, h)

	_, ok := h.find("cwa-1000")
	assert.False(t, ok)
	assert.Equal(t, 1, h.notes.Count(notify.KindTimeout))

	sweep(t, h)
	assert.Equal(t, 1, h.notes.Count(notify.KindTimeout))
	assert.Equal(t, 2, h.verifier.Calls())
}

func TestSweep_UnsettledSuccessIsInconclusive(t *testing.T) {
	odd := verify.Result{Status: verify.StatusSuccess, Data: &verify.Transaction{ID: 1, Status: "completed"}}
	h := newHarness(t, step{res: odd})
	h.seed(t, attempt("cwa-1000", pending.StatusPending, epoch))

	sweep(t, h)

	p, ok := h.find("cwa-1000")
	require.True(t, ok)
	assert.Equal(t, 1, p.RetryCount)
	assert.Zero(t, h.committer.Count())
}

func TestSweep_CommitErrorKeepsAttempt(t *testing.T) {
	h := newHarness(t, step{res: successResult})
	h.committer.err = errors.New("database is down")
	h.seed(t, attempt("cwa-1000", pending.StatusPending, epoch))

	for i := 0; i < 7; i++ {
		h.clock.Advance(time.Minute)
		sweep(t, h)
	}

	p, ok := h.find("cwa-1000")
	require.True(t, ok)
	assert.Equal(t, DefaultConfig().RetryLimit, p.RetryCount)
	assert.Zero(t, h.notes.Count(notify.KindSuccess))
	assert.Zero(t, h.notes.Count(notify.KindTimeout))
	assert.Zero(t, h.notes.Count(notify.KindFailed))

	h.committer.err = nil
	sweep(t, h)
	_, ok = h.find("cwa-1000")
	assert.False(t, ok)
	assert.Equal(t, 1, h.committer.Count())
	assert.Equal(t, 1, h.notes.Count(notify.KindSuccess))
}

func TestProcess_DoesNotResurrectRemovedRecord(t *testing.T) {
	h := newHarness(t, step{res: failedResult})
	h.seed(t, attempt("cwa-1000", pending.StatusPending, epoch))
	// The record disappears while verification is in flight.
	h.verifier.onVerify = func(txRef string) {
		require.NoError(t, pending.Remove(context.Background(), h.store, txRef))
	}

	sweep(t, h)

	all := pending.Load(context.Background(), h.store)
	assert.Empty(t, all)
}

func TestSweep_ConcurrentRequestIsDropped(t *testing.T) {
	h := newHarness(t, step{res: pendingResult})
	h.seed(t, attempt("cwa-1000", pending.StatusPending, epoch))

	entered := make(chan struct{})
	release := make(chan struct{})
	h.verifier.onVerify = func(string) {
		close(entered)
		<-release
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.rec.Sweep(context.Background())
	}()
	<-entered

	ran, err := h.rec.Sweep(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)

	ran, err = h.rec.ProcessOne(context.Background(), "cwa-1000")
	require.NoError(t, err)
	assert.False(t, ran)
	assert.False(t, h.rec.Refresh())

	close(release)
	<-done

	assert.Equal(t, 1, h.verifier.Calls())
	assert.Equal(t, int64(3), h.counters.Get(counter.SweepsDropped))
}

func TestRetryCountNeverExceedsLimit(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	outcomes := []step{
		{res: pendingResult},
		{res: failedResult},
		{err: errors.New("timeout")},
		{res: verify.Result{Status: "weird"}},
	}

	for round := 0; round < 50; round++ {
		steps := make([]step, 30)
		for i := range steps {
			steps[i] = outcomes[rng.Intn(len(outcomes))]
		}
		h := newHarness(t, steps...)
		h.seed(t, attempt("cwa-1000", pending.StatusPending, epoch))

		for i := 0; i < 30; i++ {
			sweep(t, h)
			p, ok := h.find("cwa-1000")
			if !ok {
				break
			}
			require.LessOrEqual(t, p.RetryCount, DefaultConfig().RetryLimit)
		}
	}
}

func TestBegin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.rec.Begin(ctx, BeginInput{UserID: 7, Plan: dailyPlan()})
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^cwa-1777885200000-[0-9a-f]{8}$`), p.TxRef)
	assert.Equal(t, "1777885200000-7", p.ID)
	assert.Equal(t, pending.StatusPending, p.Status)
	assert.Zero(t, p.RetryCount)
	assert.Equal(t, 10.0, p.Amount)
	assert.Equal(t, "GHS", p.Currency)
	assert.Equal(t, epoch.UnixMilli(), p.Timestamp)

	stored, ok := h.find(p.TxRef)
	require.True(t, ok)
	assert.Equal(t, p, stored)

	again, err := h.rec.Begin(ctx, BeginInput{UserID: 7, Plan: dailyPlan()})
	require.NoError(t, err)
	assert.NotEqual(t, p.TxRef, again.TxRef)
	assert.Len(t, pending.Load(ctx, h.store), 2)
}

func TestBegin_ReferencesAreUniqueAcrossSlots(t *testing.T) {
	ctx := context.Background()
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		h := newHarness(t)
		p, err := h.rec.Begin(ctx, BeginInput{UserID: uint(i + 1), Plan: dailyPlan()})
		require.NoError(t, err)
		require.False(t, seen[p.TxRef], p.TxRef)
		seen[p.TxRef] = true
	}
}

func TestBegin_PricesInDisplayCurrency(t *testing.T) {
	h := newHarness(t)

	p, err := h.rec.Begin(context.Background(), BeginInput{UserID: 7, Plan: dailyPlan(), Currency: "usd"})
	require.NoError(t, err)
	assert.Equal(t, 110.0, p.Amount)
	assert.Equal(t, "USD", p.Currency)

	p, err = h.rec.Begin(context.Background(), BeginInput{UserID: 7, Plan: dailyPlan(), Currency: "EUR"})
	require.NoError(t, err)
	assert.Equal(t, 10.0, p.Amount)
	assert.Equal(t, "GHS", p.Currency)
}

func TestBegin_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.rec.Begin(ctx, BeginInput{Plan: dailyPlan()})
	assert.ErrorIs(t, err, ErrInvalidInput)

	plan := dailyPlan()
	plan.Price = 0
	_, err = h.rec.Begin(ctx, BeginInput{UserID: 7, Plan: plan})
	assert.ErrorIs(t, err, ErrInvalidInput)

	plan = dailyPlan()
	plan.Period = "LIFETIME"
	_, err = h.rec.Begin(ctx, BeginInput{UserID: 7, Plan: plan})
	assert.ErrorIs(t, err, billing.ErrUnknownPlanPeriod)

	assert.Empty(t, pending.Load(ctx, h.store))
}

func TestHandleCheckout_Success(t *testing.T) {
	h := newHarness(t, step{res: pendingResult}, step{res: successResult})
	ctx := context.Background()
	p, err := h.rec.Begin(ctx, BeginInput{UserID: 7, Plan: dailyPlan()})
	require.NoError(t, err)

	require.NoError(t, h.rec.HandleCheckout(ctx, p.TxRef, Success{TransactionID: "4421", Reference: p.TxRef}))

	stored, ok := h.find(p.TxRef)
	require.True(t, ok)
	assert.Equal(t, "4421", stored.TransactionID)
	assert.Equal(t, pending.StatusPending, stored.Status)
	assert.Equal(t, 1, h.verifier.Calls())
	assert.Equal(t, []time.Duration{60 * time.Second}, h.timers.Delays())

	h.timers.FireAll()

	_, ok = h.find(p.TxRef)
	assert.False(t, ok)
	assert.Equal(t, 2, h.verifier.Calls())
	require.Equal(t, 1, h.committer.Count())
	assert.Equal(t, "4421 "+p.TxRef, h.committer.payments[0].Reference)
}

func TestHandleCheckout_SuccessValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, attempt("cwa-1000", pending.StatusPending, epoch))

	assert.ErrorIs(t, h.rec.HandleCheckout(ctx, "cwa-1000", Success{}), ErrInvalidInput)
	assert.ErrorIs(t, h.rec.HandleCheckout(ctx, "cwa-1000", Success{TransactionID: "1", Reference: "cwa-2"}), ErrInvalidInput)
	assert.ErrorIs(t, h.rec.HandleCheckout(ctx, "cwa-9", Success{TransactionID: "1"}), pending.ErrNotFound)
}

func TestHandleCheckout_FailureRemoves(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, attempt("cwa-1000", pending.StatusPending, epoch))

	require.NoError(t, h.rec.HandleCheckout(ctx, "cwa-1000", Failure{Reason: "cancelled"}))

	_, ok := h.find("cwa-1000")
	assert.False(t, ok)
	assert.Equal(t, 1, h.notes.Count(notify.KindFailed))
	assert.Zero(t, h.verifier.Calls())

	// Unknown references are ignored.
	require.NoError(t, h.rec.HandleCheckout(ctx, "cwa-1000", Failure{}))
}

func TestHandleCheckout_WindowClosed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, attempt("cwa-initiated", pending.StatusInitiated, epoch))
	h.seed(t, attempt("cwa-pending", pending.StatusPending, epoch))
	paid := attempt("cwa-paid", pending.StatusPending, epoch)
	paid.TransactionID = "99"
	h.seed(t, paid)

	for _, ref := range []string{"cwa-initiated", "cwa-pending", "cwa-paid"} {
		require.NoError(t, h.rec.HandleCheckout(ctx, ref, WindowClosed{}))
	}
	assert.Len(t, pending.Load(ctx, h.store), 3)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}, h.timers.Delays())

	h.timers.FireAll()

	_, ok := h.find("cwa-initiated")
	assert.False(t, ok)
	_, ok = h.find("cwa-pending")
	assert.False(t, ok)
	_, ok = h.find("cwa-paid")
	assert.True(t, ok)
	assert.Equal(t, int64(2), h.counters.Get(counter.Abandoned))
	assert.Zero(t, h.verifier.Calls())
	assert.Empty(t, h.notes.All())
}

func TestHandleCheckout_SuccessDuringCloseGrace(t *testing.T) {
	h := newHarness(t, step{res: pendingResult})
	ctx := context.Background()
	p, err := h.rec.Begin(ctx, BeginInput{UserID: 7, Plan: dailyPlan()})
	require.NoError(t, err)

	require.NoError(t, h.rec.HandleCheckout(ctx, p.TxRef, WindowClosed{}))
	require.NoError(t, h.rec.HandleCheckout(ctx, p.TxRef, Success{TransactionID: "4421", Reference: p.TxRef}))
	h.timers.FireAll()

	stored, ok := h.find(p.TxRef)
	require.True(t, ok)
	assert.Equal(t, "4421", stored.TransactionID)
	assert.Zero(t, h.counters.Get(counter.Abandoned))
}

func TestHandleCheckout_FailureIsCountedAsDeclined(t *testing.T) {
	h := newHarness(t)
	h.seed(t, attempt("cwa-1000", pending.StatusPending, epoch))

	require.NoError(t, h.rec.HandleCheckout(context.Background(), "cwa-1000", Failure{Reason: "cancelled"}))

	assert.Equal(t, int64(1), h.counters.Get(counter.Declined))
	assert.Zero(t, h.counters.Get(counter.Failed))
}

func TestClose_CancelsScheduledRechecks(t *testing.T) {
	h := newHarness(t, step{res: pendingResult})
	ctx := context.Background()
	h.seed(t, attempt("cwa-1000", pending.StatusPending, epoch))
	require.NoError(t, h.rec.HandleCheckout(ctx, "cwa-1000", Success{TransactionID: "1"}))

	h.rec.Close()
	h.timers.FireAll()

	assert.Equal(t, 1, h.verifier.Calls())
}

func TestRun_StopsWhenSlotEmpties(t *testing.T) {
	h := newHarness(t, step{res: successResult})
	h.seed(t, attempt("cwa-1000", pending.StatusPending, epoch))

	done := make(chan struct{})
	go func() {
		h.rec.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run loop did not exit on an empty slot")
	}
	assert.Equal(t, 1, h.committer.Count())
}

func TestRun_RefreshTriggersSweep(t *testing.T) {
	h := newHarness(t, step{res: pendingResult})
	h.seed(t, attempt("cwa-1000", pending.StatusPending, epoch))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.rec.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return h.verifier.Calls() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, h.rec.Refresh, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.verifier.Calls() >= 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
