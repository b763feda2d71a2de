package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"meauxbility_api/internal/models"
)

// BuildScheduledTask builds a ScheduledTask row. args is any JSON-encodable
// value and is stored as a map.
func BuildScheduledTask(taskName string, args interface{}, due time.Time, recurringInterval *string, taskType models.ScheduledTaskType, maxAttempt int) (*models.ScheduledTask, error) {
	var mapArgs map[string]interface{}
	if args != nil {
		argsBytes, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal args: %w", err)
		}
		if err := json.Unmarshal(argsBytes, &mapArgs); err != nil {
			return nil, fmt.Errorf("task arguments must be a JSON object: %w", err)
		}
	}
	if maxAttempt < 1 {
		maxAttempt = 1
	}
	if taskType == models.ScheduledTaskTypeRecurring && (recurringInterval == nil || *recurringInterval == "") {
		return nil, errors.New("recurring task needs a recurring interval")
	}

	return &models.ScheduledTask{
		TaskName:          taskName,
		Arguments:         mapArgs,
		Due:               due,
		RecurringInterval: recurringInterval,
		Status:            models.ScheduledTaskStatusActive,
		TaskType:          taskType,
		MaxAttempt:        maxAttempt,
	}, nil
}

// EnsureScheduled inserts task unless an active task with the same name
// already exists. It reports whether a row was created.
func EnsureScheduled(ctx context.Context, db *gorm.DB, task *models.ScheduledTask) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&models.ScheduledTask{}).
		Where("task_name = ? AND status = ?", task.TaskName, models.ScheduledTaskStatusActive).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to look up task %s: %w", task.TaskName, err)
	}
	if count > 0 {
		return false, nil
	}
	if err := db.WithContext(ctx).Create(task).Error; err != nil {
		return false, fmt.Errorf("failed to schedule task %s: %w", task.TaskName, err)
	}
	return true, nil
}

func intArg(args map[string]interface{}, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return fallback
}

func durationArg(args map[string]interface{}, key string, fallback time.Duration) time.Duration {
	if s, ok := args[key].(string); ok {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
