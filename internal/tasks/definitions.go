package tasks

import (
	"time"

	"meauxbility_api/internal/models"
)

// Deps are the services the donation jobs run against
type Deps struct {
	Sweeper       StaleSweeper
	Backfiller    ReceiptBackfiller
	BackfillDelay time.Duration
}

// DefineTasks registers all available tasks on reg
func DefineTasks(reg *Registry, deps Deps) {
	sweep := &SweepStaleDonationsTask{Sweeper: deps.Sweeper}
	reg.Register(sweep.TaskID(), sweep.HandleExecution)

	backfill := &BackfillReceiptsTask{Backfiller: deps.Backfiller, Delay: deps.BackfillDelay}
	reg.Register(backfill.TaskID(), backfill.HandleExecution)
}

// DefaultSchedule is the recurring schedule a fresh deployment starts with:
// the sweep every hour and the receipt backfill every fifteen minutes.
func DefaultSchedule(start time.Time) ([]*models.ScheduledTask, error) {
	hourly := "FREQ=HOURLY;INTERVAL=1"
	quarterHourly := "FREQ=MINUTELY;INTERVAL=15"

	sweep, err := BuildScheduledTask(SweepStaleDonations, nil, start, &hourly, models.ScheduledTaskTypeRecurring, 3)
	if err != nil {
		return nil, err
	}
	backfill, err := BuildScheduledTask(BackfillReceipts, map[string]interface{}{"limit": defaultBackfillLimit}, start, &quarterHourly, models.ScheduledTaskTypeRecurring, 3)
	if err != nil {
		return nil, err
	}
	return []*models.ScheduledTask{sweep, backfill}, nil
}
