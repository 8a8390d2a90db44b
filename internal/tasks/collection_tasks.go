package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"schoolfees_app/internal/models"
	"schoolfees_app/internal/services"
)

// DirectDebitCollectionTaskDef runs the daily direct-debit sweep: for
// every family whose mandate is active and whose preferred payment day
// is today, it creates one pending ledger record per outstanding month
// and an off-session payment intent for each. The webhook reconciler
// settles or fails the records when the processor reports back; this
// task never marks anything paid itself.
type DirectDebitCollectionTaskDef struct{}

// TaskID returns the unique identifier for this task.
func (t *DirectDebitCollectionTaskDef) TaskID() string {
	return "direct_debit_collection"
}

// RRule runs the sweep every day; the per-family day filter is applied
// inside the handler.
func (t *DirectDebitCollectionTaskDef) RRule() string {
	return "FREQ=DAILY"
}

// HandleExecution performs the sweep.
func (t *DirectDebitCollectionTaskDef) HandleExecution(ctx context.Context, deps *Deps, task models.ScheduledTask) (map[string]interface{}, error) {
	today := time.Now().Day()

	var families []models.Family
	err := deps.DB.WithContext(ctx).Preload("Students").
		Where("dd_status = ? AND dd_preferred_payment_day = ?", models.MandateActive, today).
		Find(&families).Error
	if err != nil {
		return nil, err
	}

	collected := 0
	failed := 0
	for _, family := range families {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err := t.collectFamily(ctx, deps, family); err != nil {
			log.Error().Uint("family_id", family.ID).Err(err).Msg("direct debit collection failed")
			failed++
			continue
		}
		collected++
	}

	return map[string]interface{}{
		"status":    "success",
		"families":  len(families),
		"collected": collected,
		"failed":    failed,
	}, nil
}

// collectFamily creates the pending records and payment intents for one
// family. A redis lock guards against overlapping sweeps collecting the
// same family twice.
func (t *DirectDebitCollectionTaskDef) collectFamily(ctx context.Context, deps *Deps, family models.Family) error {
	release, ok, err := deps.Cache.AcquireLock(ctx, fmt.Sprintf("collection:family:%d", family.ID), 10*time.Minute)
	if err != nil {
		return err
	}
	if !ok {
		log.Info().Uint("family_id", family.ID).Msg("collection already in progress, skipping")
		return nil
	}
	defer release()

	months, err := deps.Outstanding.UnpaidMonthsForFamily(ctx, family.ID, time.Now())
	if err != nil {
		return err
	}

	// One month failing must not starve the rest of the family's
	// months; collect what we can and report the first failure.
	var firstErr error
	for _, month := range months {
		if month.TotalDue <= 0 {
			continue
		}
		if err := t.collectMonth(ctx, deps, family, month); err != nil {
			log.Error().Uint("family_id", family.ID).
				Int("year", month.Year).Int("month", month.Month).Err(err).
				Msg("month collection failed, continuing with remaining months")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	deps.Cache.InvalidateFamily(ctx, family.ID)
	return firstErr
}

// SweepEligible reports whether the sweep may claim the month for this
// student. Partially-paid months stay with their original record, and
// a billing slot that is already claimed belongs to an in-flight or
// failed attempt that must resolve before the month can be rebilled.
func SweepEligible(so services.StudentOutstanding, slotClaimed bool) bool {
	return !so.Partial && !slotClaimed
}

// collectMonth creates one pending monthly record covering the month's
// outstanding students and requests collection from the processor. The
// payment intent id lands in the record's audit trail, which is what
// the reconciliation handler later matches on.
func (t *DirectDebitCollectionTaskDef) collectMonth(ctx context.Context, deps *Deps, family models.Family, month services.MonthOutstanding) error {
	students := make(map[uint]models.Student, len(family.Students))
	for _, st := range family.Students {
		students[st.ID] = st
	}

	var record models.LedgerRecord
	err := deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record = models.LedgerRecord{
			FamilyID:    family.ID,
			PaymentType: models.PaymentTypeMonthly,
			Year:        month.Year,
			Month:       month.Month,
			Reference:   uuid.NewString(),
			Status:      models.LedgerPending,
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}

		var expected models.Pence
		for _, so := range month.Students {
			student, ok := students[so.StudentID]
			if !ok {
				continue
			}

			key := models.ChargeBillingKey(student.ID, month.Year, month.Month)
			var claimed int64
			if err := tx.Model(&models.MonthCharge{}).Where("billing_key = ?", key).Count(&claimed).Error; err != nil {
				return err
			}
			if !SweepEligible(so, claimed > 0) {
				log.Info().Uint("student_id", student.ID).
					Int("year", month.Year).Int("month", month.Month).
					Msg("student-month not sweepable, skipping")
				continue
			}
			charge := models.MonthCharge{
				LedgerRecordID: record.ID,
				StudentID:      student.ID,
				Year:           month.Year,
				Month:          month.Month,
				MonthlyFee:     student.MonthlyFee,
				DiscountedFee:  so.Due,
				Paid:           0,
				BillingKey:     &key,
			}
			if err := tx.Create(&charge).Error; err != nil {
				return fmt.Errorf("student %d already billed for %04d-%02d: %w",
					student.ID, month.Year, month.Month, err)
			}

			ls := models.LedgerStudent{
				LedgerRecordID: record.ID,
				StudentID:      student.ID,
				Name:           student.Name,
				MonthlyFee:     student.MonthlyFee,
				DiscountedFee:  so.Due,
			}
			if err := tx.Create(&ls).Error; err != nil {
				return err
			}
			expected += so.Due
		}

		if expected == 0 {
			return gorm.ErrRecordNotFound // nothing new to bill, roll back the empty record
		}

		return tx.Model(&record).Updates(map[string]interface{}{
			"expected_total": expected,
			"remaining":      expected,
		}).Error
	})
	if err == gorm.ErrRecordNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	pi, err := deps.Stripe.CollectPayment(ctx,
		family.DirectDebit.CustomerID, family.DirectDebit.PaymentMethodID,
		record.ExpectedTotal, record.Reference)
	if err != nil {
		// Mark the attempt failed; the billing slots stay claimed so the
		// month is not double-billed while the operator investigates.
		log.Error().Uint("record_id", record.ID).Err(err).Msg("processor collection request failed")
		return deps.DB.WithContext(ctx).Model(&record).
			Update("status", models.LedgerFailed).Error
	}

	entry := models.PaymentEntry{
		LedgerRecordID:           record.ID,
		Amount:                   record.ExpectedTotal,
		Method:                   "direct_debit",
		Date:                     time.Now(),
		ProcessorPaymentIntentID: pi.ID,
	}
	return deps.DB.WithContext(ctx).Create(&entry).Error
}

// DirectDebitCollectionTask is the singleton instance.
var DirectDebitCollectionTask = &DirectDebitCollectionTaskDef{}
