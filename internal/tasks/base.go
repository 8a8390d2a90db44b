package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"schoolfees_app/internal/models"
	"schoolfees_app/internal/services"
)

// Deps carries the services task handlers need. The worker constructs
// one Deps and hands it to every execution; handlers never reach for
// globals.
type Deps struct {
	DB          *gorm.DB
	Cache       *services.RedisCache
	Email       *services.EmailService
	Stripe      *services.StripeService
	Outstanding *services.OutstandingService
	Cutover     time.Time
}

// BuildScheduledTask assembles a ScheduledTask row from typed args.
func BuildScheduledTask(taskName string, args interface{}, due time.Time, recurringInterval *string, taskType models.ScheduledTaskType, maxAttempt int) (*models.ScheduledTask, error) {
	argsBytes, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal args: %w", err)
	}

	var mapArgs map[string]interface{}
	if err := json.Unmarshal(argsBytes, &mapArgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into map: %w", err)
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

// EnsureRecurringTask inserts the named recurring task if it is not
// queued yet, so the worker can self-seed its schedule on startup.
func EnsureRecurringTask(db *gorm.DB, taskName, rruleStr string, firstDue time.Time) error {
	var count int64
	err := db.Model(&models.ScheduledTask{}).
		Where("task_name = ? AND status IN ?", taskName,
			[]models.ScheduledTaskStatus{models.ScheduledTaskStatusActive}).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	task, err := BuildScheduledTask(taskName, map[string]interface{}{}, firstDue, &rruleStr, models.ScheduledTaskTypeRecurring, 3)
	if err != nil {
		return err
	}
	return db.Create(task).Error
}
