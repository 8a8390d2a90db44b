package tasks

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"schoolfees_app/internal/models"
	"schoolfees_app/internal/services"
)

// PaymentReminderTaskDef emails each family a summary of its
// outstanding months. Read-only against the ledger; the resolver does
// all the arithmetic.
type PaymentReminderTaskDef struct{}

// TaskID returns the unique identifier for this task.
func (t *PaymentReminderTaskDef) TaskID() string {
	return "payment_reminder"
}

// RRule runs the reminder on the 1st of every month.
func (t *PaymentReminderTaskDef) RRule() string {
	return "FREQ=MONTHLY;BYMONTHDAY=1"
}

// HandleExecution resolves and mails outstanding months per family.
func (t *PaymentReminderTaskDef) HandleExecution(ctx context.Context, deps *Deps, task models.ScheduledTask) (map[string]interface{}, error) {
	var families []models.Family
	if err := deps.DB.WithContext(ctx).Find(&families).Error; err != nil {
		return nil, err
	}

	now := time.Now()
	sent := 0
	skipped := 0
	for _, family := range families {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if family.Email == "" {
			skipped++
			continue
		}

		months, err := deps.Outstanding.UnpaidMonthsForFamily(ctx, family.ID, now)
		if err != nil {
			log.Warn().Uint("family_id", family.ID).Err(err).Msg("reminder: outstanding resolution failed")
			skipped++
			continue
		}
		if len(months) == 0 {
			skipped++
			continue
		}

		var total models.Pence
		var lines []services.PaymentMonthLine
		for _, m := range months {
			total += m.TotalDue
			for _, st := range m.Students {
				lines = append(lines, services.PaymentMonthLine{
					StudentName: st.StudentName,
					Year:        m.Year,
					Month:       m.Month,
					Remaining:   st.Remaining,
				})
			}
		}

		deps.Email.SendPaymentReminder(family.Email, lines, total)
		sent++
	}

	return map[string]interface{}{
		"status":  "success",
		"sent":    sent,
		"skipped": skipped,
	}, nil
}

// PaymentReminderTask is the singleton instance.
var PaymentReminderTask = &PaymentReminderTaskDef{}
