package tasks

import (
	"time"

	"gorm.io/gorm"
)

// DefineTasks registers all available tasks.
func DefineTasks() {
	RegisterHandler(PaymentReminderTask.TaskID(), PaymentReminderTask.HandleExecution)
	RegisterHandler(DirectDebitCollectionTask.TaskID(), DirectDebitCollectionTask.HandleExecution)
}

// SeedRecurringTasks queues the standing billing jobs if absent, so a
// fresh deployment schedules itself.
func SeedRecurringTasks(db *gorm.DB) error {
	now := time.Now()
	if err := EnsureRecurringTask(db, PaymentReminderTask.TaskID(), PaymentReminderTask.RRule(), now); err != nil {
		return err
	}
	return EnsureRecurringTask(db, DirectDebitCollectionTask.TaskID(), DirectDebitCollectionTask.RRule(), now)
}
