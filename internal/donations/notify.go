package donations

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"meauxbility_api/internal/models"
	"meauxbility_api/internal/telemetry"
	"meauxbility_api/web/templates/emails"
)

// Dispatcher sends the donor receipt and the staff alert for completed
// attempts, at most once per attempt. Failures never touch the ledger state.
type Dispatcher struct {
	ledger     Ledger
	mailer     Mailer
	staffChat  StaffNotifier
	staffEmail string
	org        Organization
	lease      time.Duration
	timeout    time.Duration
	logger     *zap.Logger
	metrics    *telemetry.Metrics
	now        func() time.Time

	wg sync.WaitGroup
}

type DispatcherDeps struct {
	Ledger     Ledger
	Mailer     Mailer
	StaffChat  StaffNotifier // optional
	StaffEmail string        // optional
	Org        Organization
	// ClaimLease is how long a receipt claim blocks other senders
	ClaimLease time.Duration
	Timeout    time.Duration
	Logger     *zap.Logger
	Metrics    *telemetry.Metrics
	Now        func() time.Time
}

func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	d := &Dispatcher{
		ledger:     deps.Ledger,
		mailer:     deps.Mailer,
		staffChat:  deps.StaffChat,
		staffEmail: deps.StaffEmail,
		org:        deps.Org,
		lease:      deps.ClaimLease,
		timeout:    deps.Timeout,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		now:        deps.Now,
	}
	if d.now == nil {
		d.now = func() time.Time { return time.Now().UTC() }
	}
	if d.lease <= 0 {
		d.lease = 10 * time.Minute
	}
	if d.timeout <= 0 {
		d.timeout = 30 * time.Second
	}
	return d
}

// Dispatch notifies in the background. Call Wait before shutdown.
func (d *Dispatcher) Dispatch(attempt models.DonationAttempt) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if _, err := d.NotifyDonor(ctx, &attempt); err != nil {
			d.logger.Error("failed to notify donor", zap.String("attempt_id", attempt.ID), zap.Error(err))
		}
	}()
}

// Wait blocks until every dispatched notification finished
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// NotifyDonor claims the receipt, sends it and records notified_at. sent is
// false when another sender holds the claim or the receipt already went out.
// Attempts without a donor email only get the staff alert.
func (d *Dispatcher) NotifyDonor(ctx context.Context, attempt *models.DonationAttempt) (sent bool, err error) {
	claimed, err := d.ledger.ClaimReceipt(ctx, attempt.ID, d.lease)
	if err != nil {
		return false, err
	}
	if !claimed {
		d.metrics.Notification("receipt", "skipped")
		return false, nil
	}

	if attempt.DonorEmail != "" {
		if err := d.sendReceipt(ctx, attempt); err != nil {
			d.metrics.Notification("receipt", "failed")
			if rerr := d.ledger.ReleaseReceipt(ctx, attempt.ID); rerr != nil {
				d.logger.Error("failed to release receipt claim", zap.String("attempt_id", attempt.ID), zap.Error(rerr))
			}
			return false, fmt.Errorf("send receipt: %w", err)
		}
		d.metrics.Notification("receipt", "sent")
	}

	marked, err := d.markNotified(ctx, attempt)
	if err != nil {
		return true, err
	}
	if !marked {
		d.logger.Warn("receipt already marked notified", zap.String("attempt_id", attempt.ID))
	}

	d.notifyStaff(ctx, attempt)
	return true, nil
}

const markNotifiedAttempts = 3

// markNotified retries the notified_at write. Once the receipt went out a
// lost write means the claim lease expires and a backfill sends it again, so
// a final failure is logged for review.
func (d *Dispatcher) markNotified(ctx context.Context, attempt *models.DonationAttempt) (bool, error) {
	var err error
retry:
	for i := 0; i < markNotifiedAttempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				err = ctx.Err()
				break retry
			case <-time.After(time.Duration(i) * 50 * time.Millisecond):
			}
		}
		var marked bool
		if marked, err = d.ledger.MarkNotified(ctx, attempt.ID); err == nil {
			return marked, nil
		}
	}

	d.logger.Error("receipt sent but notified_at not recorded",
		zap.Bool("review", true),
		zap.String("attempt_id", attempt.ID),
		zap.Error(err),
	)
	if ferr := d.ledger.FlagForReview(ctx, attempt.ID); ferr != nil {
		d.logger.Error("failed to flag attempt for review", zap.String("attempt_id", attempt.ID), zap.Error(ferr))
	}
	return false, fmt.Errorf("mark notified: %w", err)
}

func (d *Dispatcher) sendReceipt(ctx context.Context, attempt *models.DonationAttempt) error {
	receipt := emails.ReceiptProps{
		OrganizationName: d.org.Name,
		OrganizationEIN:  d.org.EIN,
		DonorName:        attempt.DonorName,
		Amount:           FormatAmount(attempt.AmountMinorUnits, attempt.Currency),
		ReceiptNumber:    attempt.ID,
		Date:             attempt.UpdatedAt.Format("January 2, 2006"),
		Designation:      designation(attempt),
	}
	html, err := emails.Render(ctx, emails.DonationReceipt(receipt))
	if err != nil {
		return err
	}
	return d.mailer.Send(ctx, Email{
		To:      []string{attempt.DonorEmail},
		Subject: receipt.Subject(),
		HTML:    html,
		Text:    emails.DonationReceiptText(receipt),
	})
}

// notifyStaff is best effort; errors are logged
func (d *Dispatcher) notifyStaff(ctx context.Context, attempt *models.DonationAttempt) {
	alert := emails.DonationAlertProps{
		OrganizationName: d.org.Name,
		DonorName:        attempt.DonorName,
		DonorEmail:       attempt.DonorEmail,
		Amount:           FormatAmount(attempt.AmountMinorUnits, attempt.Currency),
		AttemptID:        attempt.ID,
		IntentID:         attempt.IntentID(),
		Designation:      designation(attempt),
	}

	if d.staffEmail != "" {
		html, err := emails.Render(ctx, emails.StaffDonationAlert(alert))
		if err == nil {
			err = d.mailer.Send(ctx, Email{
				To:      []string{d.staffEmail},
				Subject: alert.Subject(),
				HTML:    html,
				ReplyTo: attempt.DonorEmail,
			})
		}
		d.recordStaff("staff_email", attempt.ID, err)
	}

	if d.staffChat != nil {
		d.recordStaff("staff_chat", attempt.ID, d.staffChat.NotifyStaff(ctx, alert.ChatText()))
	}
}

func (d *Dispatcher) recordStaff(kind, attemptID string, err error) {
	if err != nil {
		d.metrics.Notification(kind, "failed")
		d.logger.Warn("failed to notify staff", zap.String("kind", kind), zap.String("attempt_id", attemptID), zap.Error(err))
		return
	}
	d.metrics.Notification(kind, "sent")
}

func designation(attempt *models.DonationAttempt) string {
	for _, key := range []string{"designation", "fund", "campaign"} {
		if v, ok := attempt.Metadata[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// BackfillReceipts retries receipts for completed attempts that were never
// marked notified and have been quiet for at least delay.
func (d *Dispatcher) BackfillReceipts(ctx context.Context, delay time.Duration, limit int) (sent int, err error) {
	attempts, err := d.ledger.ListUnnotified(ctx, d.now().Add(-delay), limit)
	if err != nil {
		return 0, err
	}

	for i := range attempts {
		ok, err := d.NotifyDonor(ctx, &attempts[i])
		if err != nil {
			d.logger.Warn("receipt backfill failed", zap.String("attempt_id", attempts[i].ID), zap.Error(err))
			continue
		}
		if ok {
			sent++
		}
	}
	return sent, nil
}
