package tasks

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"meauxbility_api/internal/donations"
	"meauxbility_api/internal/models"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "tasks.db")), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.ScheduledTask{}, &models.ScheduledTaskHistory{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestRunner(db *gorm.DB, reg *Registry, now time.Time) *Runner {
	r := NewRunner(db, reg, zap.NewNop())
	r.now = func() time.Time { return now }
	return r
}

func schedule(t *testing.T, db *gorm.DB, name string, due time.Time, rule string, maxAttempt int) models.ScheduledTask {
	t.Helper()
	var interval *string
	taskType := models.ScheduledTaskTypeOneTime
	if rule != "" {
		interval = &rule
		taskType = models.ScheduledTaskTypeRecurring
	}
	task, err := BuildScheduledTask(name, map[string]interface{}{"limit": 5}, due, interval, taskType, maxAttempt)
	if err != nil {
		t.Fatalf("BuildScheduledTask() error = %v", err)
	}
	if err := db.Create(task).Error; err != nil {
		t.Fatalf("failed to create task: %v", err)
	}
	return *task
}

func reload(t *testing.T, db *gorm.DB, id uint) models.ScheduledTask {
	t.Helper()
	var task models.ScheduledTask
	if err := db.First(&task, id).Error; err != nil {
		t.Fatalf("failed to reload task: %v", err)
	}
	return task
}

func historyStatuses(t *testing.T, db *gorm.DB, id uint) []string {
	t.Helper()
	var rows []models.ScheduledTaskHistory
	if err := db.Where("scheduled_task_id = ?", id).Order("id").Find(&rows).Error; err != nil {
		t.Fatalf("failed to load history: %v", err)
	}
	out := make([]string, len(rows))
	for i, h := range rows {
		out[i] = h.Status
	}
	return out
}

func TestRunDueOneTimeSuccess(t *testing.T) {
	db := newTestDB(t)
	reg := NewRegistry()
	var gotLimit int
	reg.Register("noop", func(_ context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
		gotLimit = intArg(task.Arguments, "limit", 0)
		return map[string]interface{}{"status": "success"}, nil
	})
	task := schedule(t, db, "noop", epoch.Add(-time.Minute), "", 3)

	ran, err := newTestRunner(db, reg, epoch).RunDue(context.Background())
	if err != nil {
		t.Fatalf("RunDue() error = %v", err)
	}
	if ran != 1 || gotLimit != 5 {
		t.Errorf("ran = %d, limit = %d; want 1, 5", ran, gotLimit)
	}
	if got := reload(t, db, task.ID).Status; got != models.ScheduledTaskStatusDone {
		t.Errorf("status = %s; want done", got)
	}
	if got := historyStatuses(t, db, task.ID); len(got) != 1 || got[0] != historySuccess {
		t.Errorf("history = %v", got)
	}
}

func TestRunDueSkipsFutureTasks(t *testing.T) {
	db := newTestDB(t)
	reg := NewRegistry()
	reg.Register("noop", func(context.Context, models.ScheduledTask) (map[string]interface{}, error) {
		t.Error("future task should not run")
		return nil, nil
	})
	schedule(t, db, "noop", epoch.Add(time.Minute), "", 1)

	ran, err := newTestRunner(db, reg, epoch).RunDue(context.Background())
	if err != nil || ran != 0 {
		t.Errorf("RunDue() = %d, %v; want 0, nil", ran, err)
	}
}

func TestRunDueRetriesUpToMaxAttempt(t *testing.T) {
	db := newTestDB(t)
	reg := NewRegistry()
	calls := 0
	reg.Register("flaky", func(context.Context, models.ScheduledTask) (map[string]interface{}, error) {
		calls++
		if calls < 2 {
			return nil, errors.New("transient")
		}
		return map[string]interface{}{}, nil
	})
	reg.Register("broken", func(context.Context, models.ScheduledTask) (map[string]interface{}, error) {
		return nil, errors.New("always")
	})
	flaky := schedule(t, db, "flaky", epoch.Add(-time.Minute), "", 3)
	broken := schedule(t, db, "broken", epoch.Add(-time.Minute), "", 2)

	if _, err := newTestRunner(db, reg, epoch).RunDue(context.Background()); err != nil {
		t.Fatalf("RunDue() error = %v", err)
	}

	if got := historyStatuses(t, db, flaky.ID); len(got) != 2 || got[1] != historySuccess {
		t.Errorf("flaky history = %v; want [failure success]", got)
	}
	if got := reload(t, db, flaky.ID).Status; got != models.ScheduledTaskStatusDone {
		t.Errorf("flaky status = %s; want done", got)
	}
	if got := historyStatuses(t, db, broken.ID); len(got) != 2 {
		t.Errorf("broken history = %v; want two failures", got)
	}
	if got := reload(t, db, broken.ID).Status; got != models.ScheduledTaskStatusFailure {
		t.Errorf("broken status = %s; want failure", got)
	}
}

func TestRunDueRecurringAdvances(t *testing.T) {
	db := newTestDB(t)
	reg := NewRegistry()
	reg.Register("sweep", func(context.Context, models.ScheduledTask) (map[string]interface{}, error) {
		return nil, errors.New("database unavailable")
	})
	task := schedule(t, db, "sweep", epoch, "FREQ=HOURLY;INTERVAL=1", 1)

	now := epoch.Add(10 * time.Minute)
	runner := newTestRunner(db, reg, now)
	if _, err := runner.RunDue(context.Background()); err != nil {
		t.Fatalf("RunDue() error = %v", err)
	}

	got := reload(t, db, task.ID)
	if got.Status != models.ScheduledTaskStatusActive {
		t.Errorf("status = %s; want active", got.Status)
	}
	if want := epoch.Add(time.Hour); !got.Due.Equal(want) {
		t.Errorf("due = %v; want %v", got.Due, want)
	}

	// not due again until the next occurrence
	ran, err := runner.RunDue(context.Background())
	if err != nil || ran != 0 {
		t.Errorf("second RunDue() = %d, %v; want 0, nil", ran, err)
	}
}

func TestRunDueClaimsOnce(t *testing.T) {
	db := newTestDB(t)
	reg := NewRegistry()
	calls := 0
	reg.Register("noop", func(context.Context, models.ScheduledTask) (map[string]interface{}, error) {
		calls++
		return nil, nil
	})
	task := schedule(t, db, "noop", epoch.Add(-time.Minute), "", 1)

	a := newTestRunner(db, reg, epoch)
	b := newTestRunner(db, reg, epoch)
	claimedA, err := a.claim(context.Background(), task)
	if err != nil {
		t.Fatalf("claim() error = %v", err)
	}
	claimedB, err := b.claim(context.Background(), task)
	if err != nil {
		t.Fatalf("claim() error = %v", err)
	}
	if !claimedA || claimedB {
		t.Errorf("claims = %v, %v; want true, false", claimedA, claimedB)
	}
}

func TestRunDueMissingHandler(t *testing.T) {
	db := newTestDB(t)
	task := schedule(t, db, "unknown", epoch.Add(-time.Minute), "", 1)

	if _, err := newTestRunner(db, NewRegistry(), epoch).RunDue(context.Background()); err != nil {
		t.Fatalf("RunDue() error = %v", err)
	}
	if got := reload(t, db, task.ID).Status; got != models.ScheduledTaskStatusFailure {
		t.Errorf("status = %s; want failure", got)
	}
	if got := historyStatuses(t, db, task.ID); len(got) != 1 || got[0] != historyHandlerNotFound {
		t.Errorf("history = %v", got)
	}
}

func TestEnsureScheduled(t *testing.T) {
	db := newTestDB(t)
	defaults, err := DefaultSchedule(epoch)
	if err != nil {
		t.Fatalf("DefaultSchedule() error = %v", err)
	}
	for _, task := range defaults {
		created, err := EnsureScheduled(context.Background(), db, task)
		if err != nil || !created {
			t.Fatalf("EnsureScheduled(%s) = %v, %v", task.TaskName, created, err)
		}
	}

	again, err := DefaultSchedule(epoch)
	if err != nil {
		t.Fatalf("DefaultSchedule() error = %v", err)
	}
	created, err := EnsureScheduled(context.Background(), db, again[0])
	if err != nil || created {
		t.Errorf("second EnsureScheduled() = %v, %v; want false, nil", created, err)
	}
}

type fakeSweeper struct{ res donations.SweepResult }

func (f fakeSweeper) Sweep(context.Context) (donations.SweepResult, error) { return f.res, nil }

type fakeBackfiller struct {
	delay time.Duration
	limit int
}

func (f *fakeBackfiller) BackfillReceipts(_ context.Context, delay time.Duration, limit int) (int, error) {
	f.delay, f.limit = delay, limit
	return 2, nil
}

func TestDonationTasks(t *testing.T) {
	backfiller := &fakeBackfiller{}
	reg := NewRegistry()
	DefineTasks(reg, Deps{
		Sweeper:       fakeSweeper{res: donations.SweepResult{Failed: 3, Canceled: 1}},
		Backfiller:    backfiller,
		BackfillDelay: 15 * time.Minute,
	})

	if names := reg.Names(); len(names) != 2 || names[0] != BackfillReceipts || names[1] != SweepStaleDonations {
		t.Fatalf("Names() = %v", names)
	}

	sweep, _ := reg.Get(SweepStaleDonations)
	res, err := sweep(context.Background(), models.ScheduledTask{})
	if err != nil || res["failed"] != 3 || res["canceled"] != 1 {
		t.Errorf("sweep result = %v, %v", res, err)
	}

	backfill, _ := reg.Get(BackfillReceipts)
	res, err = backfill(context.Background(), models.ScheduledTask{Arguments: map[string]interface{}{"limit": float64(7), "delay": "1h"}})
	if err != nil || res["sent"] != 2 {
		t.Errorf("backfill result = %v, %v", res, err)
	}
	if backfiller.delay != time.Hour || backfiller.limit != 7 {
		t.Errorf("backfill called with delay %v limit %d", backfiller.delay, backfiller.limit)
	}
}
