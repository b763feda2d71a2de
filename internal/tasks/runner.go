package tasks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"meauxbility_api/internal/models"
)

const (
	historySuccess         = "success"
	historyFailure         = "failure"
	historyHandlerNotFound = "handler_not_found"

	// a claim older than this belongs to a worker that died mid-run
	staleClaim = 30 * time.Minute
)

// Runner executes due scheduled tasks. Several runners may poll the same
// table; each run is claimed with a conditional update first.
type Runner struct {
	db       *gorm.DB
	registry *Registry
	logger   *zap.Logger
	now      func() time.Time
}

func NewRunner(db *gorm.DB, registry *Registry, logger *zap.Logger) *Runner {
	return &Runner{
		db:       db,
		registry: registry,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RunDue runs every active task whose due time has passed and returns how
// many this runner claimed.
func (r *Runner) RunDue(ctx context.Context) (int, error) {
	var pending []models.ScheduledTask
	err := r.db.WithContext(ctx).
		Where("status = ? AND due <= ?", models.ScheduledTaskStatusActive, r.now()).
		Order("due").
		Find(&pending).Error
	if err != nil {
		return 0, fmt.Errorf("failed to fetch pending tasks: %w", err)
	}

	ran := 0
	for _, task := range pending {
		if ctx.Err() != nil {
			return ran, ctx.Err()
		}
		claimed, err := r.claim(ctx, task)
		if err != nil {
			return ran, err
		}
		if !claimed {
			continue
		}
		ran++
		r.execute(ctx, task)
	}
	return ran, nil
}

func (r *Runner) claim(ctx context.Context, task models.ScheduledTask) (bool, error) {
	now := r.now()
	res := r.db.WithContext(ctx).Model(&models.ScheduledTask{}).
		Where("id = ? AND status = ? AND due = ?", task.ID, models.ScheduledTaskStatusActive, task.Due).
		Where("(last_run IS NULL OR last_run < due OR last_run < ?)", now.Add(-staleClaim)).
		Update("last_run", now)
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim task %d: %w", task.ID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// RunTask runs one task now, whatever its due time. Used by the CLI.
func (r *Runner) RunTask(ctx context.Context, name string, args map[string]interface{}) (map[string]interface{}, error) {
	handler, ok := r.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("no handler registered for task %q", name)
	}
	return handler(ctx, models.ScheduledTask{TaskName: name, Arguments: args, MaxAttempt: 1})
}

func (r *Runner) execute(ctx context.Context, task models.ScheduledTask) {
	log := r.logger.With(zap.Uint("task_id", task.ID), zap.String("task_name", task.TaskName))

	handler, found := r.registry.Get(task.TaskName)
	if !found {
		log.Error("task handler not found, marking as failure")
		r.record(ctx, task, r.now(), 0, historyHandlerNotFound, 1, map[string]interface{}{"error": "handler not found"})
		r.finish(ctx, log, task, map[string]interface{}{"status": models.ScheduledTaskStatusFailure})
		return
	}

	maxAttempt := task.MaxAttempt
	if maxAttempt < 1 {
		maxAttempt = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempt; attempt++ {
		start := r.now()
		result, err := handler(ctx, task)
		runtime := r.now().Sub(start)

		if err == nil {
			r.record(ctx, task, start, runtime, historySuccess, attempt, result)
			log.Info("task completed", zap.Int("attempt", attempt), zap.Duration("runtime", runtime))
			r.finish(ctx, log, task, r.nextState(task, true))
			return
		}

		lastErr = err
		r.record(ctx, task, start, runtime, historyFailure, attempt, map[string]interface{}{"error": err.Error()})
		log.Warn("task attempt failed", zap.Int("attempt", attempt), zap.Int("max_attempt", maxAttempt), zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}

	log.Error("task failed", zap.Error(lastErr))
	r.finish(ctx, log, task, r.nextState(task, false))
}

// nextState decides what happens to the row after a run. A recurring task
// moves to its next occurrence even when this run failed, so one bad run
// does not stop a periodic job.
func (r *Runner) nextState(task models.ScheduledTask, ok bool) map[string]interface{} {
	if task.TaskType != models.ScheduledTaskTypeRecurring {
		if ok {
			return map[string]interface{}{"status": models.ScheduledTaskStatusDone}
		}
		return map[string]interface{}{"status": models.ScheduledTaskStatusFailure}
	}

	next := task.NextDue(r.now())
	if !next.After(task.Due) {
		// the rule has no further occurrences
		return map[string]interface{}{"status": models.ScheduledTaskStatusDone}
	}
	return map[string]interface{}{"status": models.ScheduledTaskStatusActive, "due": next}
}

func (r *Runner) finish(ctx context.Context, log *zap.Logger, task models.ScheduledTask, updates map[string]interface{}) {
	if err := r.db.WithContext(ctx).Model(&models.ScheduledTask{}).Where("id = ?", task.ID).Updates(updates).Error; err != nil {
		log.Error("failed to update scheduled task", zap.Error(err))
	}
}

func (r *Runner) record(ctx context.Context, task models.ScheduledTask, runAt time.Time, runtime time.Duration, status string, attempt int, result map[string]interface{}) {
	history := models.ScheduledTaskHistory{
		ScheduledTaskID: task.ID,
		TaskName:        task.TaskName,
		RunAt:           runAt,
		RuntimeMillis:   runtime.Milliseconds(),
		Status:          status,
		AttemptNumber:   attempt,
		Arguments:       task.Arguments,
		Result:          result,
	}
	if err := r.db.WithContext(ctx).Create(&history).Error; err != nil {
		r.logger.Error("failed to record task history", zap.Uint("task_id", task.ID), zap.Error(err))
	}
}
