package tasks

import (
	"context"
	"time"

	"meauxbility_api/internal/donations"
	"meauxbility_api/internal/models"
)

const (
	SweepStaleDonations = "sweep_stale_donations"
	BackfillReceipts    = "backfill_receipts"

	defaultBackfillLimit = 100
)

// StaleSweeper moves attempts the gateway never resolved to a terminal state
type StaleSweeper interface {
	Sweep(ctx context.Context) (donations.SweepResult, error)
}

// ReceiptBackfiller resends receipts that were never marked sent
type ReceiptBackfiller interface {
	BackfillReceipts(ctx context.Context, delay time.Duration, limit int) (int, error)
}

// SweepStaleDonationsTask wraps one sweep pass
type SweepStaleDonationsTask struct {
	Sweeper StaleSweeper
}

func (t *SweepStaleDonationsTask) TaskID() string {
	return SweepStaleDonations
}

func (t *SweepStaleDonationsTask) HandleExecution(ctx context.Context, _ models.ScheduledTask) (map[string]interface{}, error) {
	res, err := t.Sweeper.Sweep(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status":   "success",
		"failed":   res.Failed,
		"canceled": res.Canceled,
	}, nil
}

// BackfillReceiptsTask sends missing receipts. Arguments "delay" (a Go
// duration string) and "limit" override the defaults.
type BackfillReceiptsTask struct {
	Backfiller ReceiptBackfiller
	Delay      time.Duration
}

func (t *BackfillReceiptsTask) TaskID() string {
	return BackfillReceipts
}

func (t *BackfillReceiptsTask) HandleExecution(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
	delay := durationArg(task.Arguments, "delay", t.Delay)
	limit := intArg(task.Arguments, "limit", defaultBackfillLimit)

	sent, err := t.Backfiller.BackfillReceipts(ctx, delay, limit)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status": "success",
		"sent":   sent,
		"delay":  delay.String(),
	}, nil
}
