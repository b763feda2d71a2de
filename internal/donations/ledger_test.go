package donations

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"meauxbility_api/internal/models"
)

func newTestLedger(t *testing.T, opts ...LedgerOption) *GormLedger {
	t.Helper()
	return NewGormLedger(newTestDB(t), nopLogger(), opts...)
}

func TestLedgerCreateDuplicateKey(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	seedAttempt(t, l, "a1", models.DonationStateCreated, "", testEpoch)

	dup := &models.DonationAttempt{ID: "a2", IdempotencyKey: "key-a1", AmountMinorUnits: 500, Currency: "usd"}
	err := l.Create(ctx, dup)
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("Create() error = %v; want ErrDuplicateKey", err)
	}

	got, err := l.FindByIdempotencyKey(ctx, "key-a1")
	if err != nil {
		t.Fatalf("FindByIdempotencyKey() error = %v", err)
	}
	if got.ID != "a1" {
		t.Errorf("ID = %s; want a1", got.ID)
	}
}

func TestLedgerNotFound(t *testing.T) {
	l := newTestLedger(t)
	if _, err := l.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v; want ErrNotFound", err)
	}
	if _, err := l.FindByGatewayIntentID(context.Background(), "pi_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindByGatewayIntentID() error = %v; want ErrNotFound", err)
	}
}

func TestLedgerTransition(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	clk := newClock(testEpoch)
	l := newTestLedger(t, WithPublisher(pub), WithLedgerClock(clk.Now))
	seedAttempt(t, l, "a1", models.DonationStatePendingConfirmation, "pi_1", testEpoch)

	clk.Advance(time.Minute)
	got, err := l.Transition(ctx, "a1", models.DonationStatePendingConfirmation, models.DonationStateCompleted, "")
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if got.State != models.DonationStateCompleted {
		t.Errorf("State = %s; want completed", got.State)
	}
	if !got.UpdatedAt.Equal(testEpoch.Add(time.Minute)) {
		t.Errorf("UpdatedAt = %v; want %v", got.UpdatedAt, testEpoch.Add(time.Minute))
	}

	tests := []struct {
		name     string
		from, to models.DonationState
	}{
		{"repeat of applied transition", models.DonationStatePendingConfirmation, models.DonationStateCompleted},
		{"out of terminal state", models.DonationStateCompleted, models.DonationStateFailed},
		{"stale from state", models.DonationStatePendingConfirmation, models.DonationStateFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Transition(ctx, "a1", tt.from, tt.to, "")
			var terr *InvalidTransitionError
			if !errors.As(err, &terr) {
				t.Fatalf("Transition() error = %v; want InvalidTransitionError", err)
			}
		})
	}

	final, _ := l.Get(ctx, "a1")
	if final.State != models.DonationStateCompleted {
		t.Errorf("State = %s; want completed", final.State)
	}
	if changes := pub.Changes(); len(changes) != 1 || changes[0].PreviousState != models.DonationStatePendingConfirmation {
		t.Errorf("published %+v; want one pending_confirmation -> completed change", changes)
	}
}

func TestLedgerTransitionConcurrent(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	seedAttempt(t, l, "a1", models.DonationStatePendingConfirmation, "pi_1", testEpoch)

	var applied int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Transition(ctx, "a1", models.DonationStatePendingConfirmation, models.DonationStateCompleted, "")
			if err == nil {
				atomic.AddInt32(&applied, 1)
			} else if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("Transition() unexpected error = %v", err)
			}
		}()
	}
	wg.Wait()

	if applied != 1 {
		t.Errorf("applied = %d; want exactly 1", applied)
	}
}

func TestLedgerAttachIntentOnce(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	seedAttempt(t, l, "a1", models.DonationStateCreated, "", testEpoch)

	got, moved, err := l.AttachIntent(ctx, "a1", "pi_1")
	if err != nil {
		t.Fatalf("AttachIntent() error = %v", err)
	}
	if !moved || got.State != models.DonationStatePendingConfirmation || got.IntentID() != "pi_1" {
		t.Fatalf("AttachIntent() = %+v, moved %v", got, moved)
	}

	got, moved, err = l.AttachIntent(ctx, "a1", "pi_2")
	if err != nil {
		t.Fatalf("second AttachIntent() error = %v", err)
	}
	if moved || got.IntentID() != "pi_1" {
		t.Errorf("second AttachIntent() changed intent to %s (moved %v)", got.IntentID(), moved)
	}
}

func TestLedgerAttachIntentAfterSweep(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	seedAttempt(t, l, "a1", models.DonationStateCanceled, "", testEpoch)

	got, moved, err := l.AttachIntent(ctx, "a1", "pi_late")
	if err != nil {
		t.Fatalf("AttachIntent() error = %v", err)
	}
	if moved {
		t.Error("canceled attempt should not move")
	}
	if got.State != models.DonationStateCanceled || got.IntentID() != "pi_late" {
		t.Errorf("got state %s intent %s; want canceled with pi_late recorded", got.State, got.IntentID())
	}
}

func TestLedgerReceiptClaim(t *testing.T) {
	ctx := context.Background()
	clk := newClock(testEpoch)
	l := newTestLedger(t, WithLedgerClock(clk.Now))
	seedAttempt(t, l, "a1", models.DonationStateCompleted, "pi_1", testEpoch)
	seedAttempt(t, l, "a2", models.DonationStatePendingConfirmation, "pi_2", testEpoch)

	if ok, _ := l.ClaimReceipt(ctx, "a2", time.Minute); ok {
		t.Error("claimed receipt for a pending attempt")
	}

	ok, err := l.ClaimReceipt(ctx, "a1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("ClaimReceipt() = %v, %v; want true", ok, err)
	}
	if ok, _ := l.ClaimReceipt(ctx, "a1", time.Minute); ok {
		t.Error("second claim within lease succeeded")
	}

	clk.Advance(2 * time.Minute)
	if ok, _ := l.ClaimReceipt(ctx, "a1", time.Minute); !ok {
		t.Error("claim after lease expiry failed")
	}

	if ok, _ := l.MarkNotified(ctx, "a1"); !ok {
		t.Error("MarkNotified() = false; want true")
	}
	if ok, _ := l.MarkNotified(ctx, "a1"); ok {
		t.Error("MarkNotified() twice = true; want false")
	}

	clk.Advance(time.Hour)
	if ok, _ := l.ClaimReceipt(ctx, "a1", time.Minute); ok {
		t.Error("claimed receipt of a notified attempt")
	}
}

func TestLedgerListStaleBoundary(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	cutoff := testEpoch
	seedAttempt(t, l, "before", models.DonationStatePendingConfirmation, "pi_1", cutoff.Add(-time.Second))
	seedAttempt(t, l, "at", models.DonationStatePendingConfirmation, "pi_2", cutoff)
	seedAttempt(t, l, "after", models.DonationStatePendingConfirmation, "pi_3", cutoff.Add(time.Second))
	seedAttempt(t, l, "other-state", models.DonationStateCreated, "", cutoff.Add(-time.Hour))

	got, err := l.ListStale(ctx, models.DonationStatePendingConfirmation, cutoff, 10)
	if err != nil {
		t.Fatalf("ListStale() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "before" {
		t.Errorf("ListStale() = %v; want only 'before'", ids(got))
	}
}

func TestLedgerClientOutcomeAndReview(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	seedAttempt(t, l, "a1", models.DonationStatePendingConfirmation, "pi_1", testEpoch)

	got, err := l.RecordClientOutcome(ctx, "a1", models.ClientOutcomeSucceeded)
	if err != nil {
		t.Fatalf("RecordClientOutcome() error = %v", err)
	}
	if got.State != models.DonationStatePendingConfirmation || got.ClientOutcome != models.ClientOutcomeSucceeded {
		t.Errorf("got state %s outcome %s", got.State, got.ClientOutcome)
	}
	if _, err := l.RecordClientOutcome(ctx, "missing", models.ClientOutcomeFailed); !errors.Is(err, ErrNotFound) {
		t.Errorf("RecordClientOutcome(missing) error = %v; want ErrNotFound", err)
	}

	if err := l.FlagForReview(ctx, "a1"); err != nil {
		t.Fatalf("FlagForReview() error = %v", err)
	}
	review, err := l.ListNeedsReview(ctx, 10)
	if err != nil {
		t.Fatalf("ListNeedsReview() error = %v", err)
	}
	if len(review) != 1 || review[0].ID != "a1" {
		t.Errorf("ListNeedsReview() = %v", ids(review))
	}
}

func ids(attempts []models.DonationAttempt) []string {
	out := make([]string, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, a.ID)
	}
	return out
}

func TestLedgerClientOutcomeKeepsUpdatedAt(t *testing.T) {
	ctx := context.Background()
	c := newClock(testEpoch)
	l := newTestLedger(t, WithLedgerClock(c.Now))
	seedAttempt(t, l, "a1", models.DonationStatePendingConfirmation, "pi_1", testEpoch)

	c.Advance(time.Hour)
	got, err := l.RecordClientOutcome(ctx, "a1", models.ClientOutcomeSucceeded)
	if err != nil {
		t.Fatalf("RecordClientOutcome() error = %v", err)
	}
	if !got.UpdatedAt.Equal(testEpoch) {
		t.Errorf("UpdatedAt = %v; want %v", got.UpdatedAt, testEpoch)
	}
	if got.ClientOutcome != models.ClientOutcomeSucceeded {
		t.Errorf("ClientOutcome = %s; want succeeded", got.ClientOutcome)
	}
}
