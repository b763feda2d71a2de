package donations

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"meauxbility_api/internal/models"
)

type chatRecorder struct {
	mu       sync.Mutex
	messages []string
}

func (c *chatRecorder) NotifyStaff(_ context.Context, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message)
	return nil
}

func newTestDispatcher(t *testing.T, ledger Ledger, mailer Mailer, chat StaffNotifier, now func() time.Time) *Dispatcher {
	t.Helper()
	return NewDispatcher(DispatcherDeps{
		Ledger:     ledger,
		Mailer:     mailer,
		StaffChat:  chat,
		StaffEmail: "staff@example.org",
		Org:        Organization{Name: "Meauxbility", EIN: "33-4214907"},
		ClaimLease: time.Minute,
		Logger:     nopLogger(),
		Now:        now,
	})
}

func TestNotifyDonorOnce(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	attempt := seedAttempt(t, ledger, "a1", models.DonationStateCompleted, "pi_1", testEpoch)
	mailer := &fakeMailer{}
	chat := &chatRecorder{}
	d := newTestDispatcher(t, ledger, mailer, chat, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.NotifyDonor(ctx, attempt); err != nil {
				t.Errorf("NotifyDonor() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if n := mailer.SentTo("donor@example.org"); n != 1 {
		t.Errorf("receipts = %d; want 1", n)
	}
	if n := mailer.SentTo("staff@example.org"); n != 1 {
		t.Errorf("staff emails = %d; want 1", n)
	}
	if len(chat.messages) != 1 {
		t.Errorf("chat alerts = %d; want 1", len(chat.messages))
	}
}

func TestNotifyDonorSendFailureReleasesClaim(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	attempt := seedAttempt(t, ledger, "a1", models.DonationStateCompleted, "pi_1", testEpoch)
	mailer := &fakeMailer{err: errors.New("provider down")}
	d := newTestDispatcher(t, ledger, mailer, nil, nil)

	if _, err := d.NotifyDonor(ctx, attempt); err == nil {
		t.Fatal("NotifyDonor() error = nil; want send failure")
	}
	stored, _ := ledger.Get(ctx, "a1")
	if stored.State != models.DonationStateCompleted {
		t.Errorf("State = %s; send failure must not change it", stored.State)
	}
	if stored.NotifiedAt != nil || stored.ReceiptClaimedAt != nil {
		t.Error("failed send left notified_at or a claim behind")
	}

	mailer.SetErr(nil)
	sent, err := d.NotifyDonor(ctx, attempt)
	if err != nil || !sent {
		t.Fatalf("NotifyDonor() = %v, %v; want sent", sent, err)
	}
}

func TestNotifyDonorWithoutEmail(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	attempt := &models.DonationAttempt{ID: "a1", IdempotencyKey: "k1", AmountMinorUnits: 500, Currency: "usd", State: models.DonationStateCompleted}
	if err := ledger.Create(ctx, attempt); err != nil {
		t.Fatal(err)
	}
	mailer := &fakeMailer{}
	d := newTestDispatcher(t, ledger, mailer, nil, nil)

	if _, err := d.NotifyDonor(ctx, attempt); err != nil {
		t.Fatalf("NotifyDonor() error = %v", err)
	}
	if mailer.SentTo("staff@example.org") != 1 {
		t.Error("staff alert not sent for anonymous donation")
	}
	stored, _ := ledger.Get(ctx, "a1")
	if stored.NotifiedAt == nil {
		t.Error("notified_at not set")
	}
}

func TestBackfillReceipts(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	seedAttempt(t, ledger, "old", models.DonationStateCompleted, "pi_1", testEpoch.Add(-time.Hour))
	seedAttempt(t, ledger, "recent", models.DonationStateCompleted, "pi_2", testEpoch.Add(-time.Minute))
	seedAttempt(t, ledger, "pending", models.DonationStatePendingConfirmation, "pi_3", testEpoch.Add(-time.Hour))
	mailer := &fakeMailer{}
	d := newTestDispatcher(t, ledger, mailer, nil, func() time.Time { return testEpoch })

	sent, err := d.BackfillReceipts(ctx, 15*time.Minute, 10)
	if err != nil {
		t.Fatalf("BackfillReceipts() error = %v", err)
	}
	if sent != 1 {
		t.Errorf("sent = %d; want 1", sent)
	}

	sent, _ = d.BackfillReceipts(ctx, 15*time.Minute, 10)
	if sent != 0 {
		t.Errorf("second backfill sent = %d; want 0", sent)
	}
}

func TestDispatchAsync(t *testing.T) {
	ledger := newTestLedger(t)
	attempt := seedAttempt(t, ledger, "a1", models.DonationStateCompleted, "pi_1", testEpoch)
	mailer := &fakeMailer{}
	d := newTestDispatcher(t, ledger, mailer, nil, nil)

	d.Dispatch(*attempt)
	d.Wait()

	if mailer.SentTo("donor@example.org") != 1 {
		t.Error("receipt not sent by Dispatch")
	}
}

// flakyLedger fails the first failures MarkNotified calls
type flakyLedger struct {
	*GormLedger
	mu       sync.Mutex
	failures int
}

func (l *flakyLedger) MarkNotified(ctx context.Context, id string) (bool, error) {
	l.mu.Lock()
	if l.failures > 0 {
		l.failures--
		l.mu.Unlock()
		return false, errors.New("connection reset")
	}
	l.mu.Unlock()
	return l.GormLedger.MarkNotified(ctx, id)
}

func TestNotifyDonorMarkNotifiedRetries(t *testing.T) {
	tests := []struct {
		name       string
		failures   int
		wantErr    bool
		wantReview bool
	}{
		{"recovers", 1, false, false},
		{"gives up", markNotifiedAttempts, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			base := newTestLedger(t)
			attempt := seedAttempt(t, base, "a1", models.DonationStateCompleted, "pi_1", testEpoch)
			ledger := &flakyLedger{GormLedger: base, failures: tt.failures}
			mailer := &fakeMailer{}
			d := newTestDispatcher(t, ledger, mailer, nil, nil)

			sent, err := d.NotifyDonor(ctx, attempt)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NotifyDonor() error = %v; wantErr %v", err, tt.wantErr)
			}
			if !sent {
				t.Error("NotifyDonor() sent = false; want true")
			}
			if n := mailer.SentTo("donor@example.org"); n != 1 {
				t.Errorf("receipts = %d; want 1", n)
			}

			stored, _ := base.Get(ctx, "a1")
			if stored.NeedsReview != tt.wantReview {
				t.Errorf("NeedsReview = %v; want %v", stored.NeedsReview, tt.wantReview)
			}
			if (stored.NotifiedAt != nil) == tt.wantErr {
				t.Errorf("NotifiedAt = %v with wantErr %v", stored.NotifiedAt, tt.wantErr)
			}
		})
	}
}
