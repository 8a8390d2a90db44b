package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"schoolfees_app/internal/apperrors"
	"schoolfees_app/internal/models"
)

// PaymentService is the payment recorder: it applies full or partial
// payments to ledger records, keeps the denormalized totals and status
// consistent, and triggers the confirmation notifications. All ledger
// mutations run inside a transaction with the record row locked, and
// month charges accumulate via SQL increments, so a webhook landing
// concurrently on the same record cannot lose an update.
type PaymentService struct {
	db                  *gorm.DB
	cache               *RedisCache
	email               *EmailService
	cutover             time.Time
	defaultAdmissionFee models.Pence
}

func NewPaymentService(db *gorm.DB, cache *RedisCache, email *EmailService, cutover time.Time, defaultAdmissionFee models.Pence) *PaymentService {
	return &PaymentService{
		db:                  db,
		cache:               cache,
		email:               email,
		cutover:             cutover,
		defaultAdmissionFee: defaultAdmissionFee,
	}
}

// MonthAllocation directs part of a payment at one student-month.
type MonthAllocation struct {
	StudentID uint
	Year      int
	Month     int
	Amount    models.Pence
}

// PaymentMeta describes the money movement being recorded.
type PaymentMeta struct {
	Method                   string
	Date                     time.Time
	ProcessorPaymentIntentID string
	OnHold                   bool // awaiting manual admin verification (e.g. bank transfer)
}

// DeriveStatus computes a record's status from its totals. remaining
// at or below zero settles the record; any money received makes it
// partial; an untouched record stays pending.
func DeriveStatus(expected, paid models.Pence) models.LedgerStatus {
	switch {
	case expected-paid <= 0:
		return models.LedgerPaid
	case paid > 0:
		return models.LedgerPartial
	default:
		return models.LedgerPending
	}
}

// AllocateAdmission splits an admission payment greedily: the fixed
// admission fee first, the remainder toward the first month. The caller
// treats the record as settled whatever the split yields.
func AllocateAdmission(amount, admissionFee models.Pence) (admissionPaid, firstMonthPaid models.Pence) {
	admissionPaid = amount
	if admissionPaid > admissionFee {
		admissionPaid = admissionFee
	}
	firstMonthPaid = amount - admissionPaid
	return admissionPaid, firstMonthPaid
}

// GroupAllocationsByMonth buckets allocations per calendar month,
// returning the months in chronological order. One ledger record is
// created per bucket.
func GroupAllocationsByMonth(allocs []MonthAllocation) ([]YearMonth, map[YearMonth][]MonthAllocation) {
	buckets := make(map[YearMonth][]MonthAllocation)
	for _, a := range allocs {
		ym := YearMonth{Year: a.Year, Month: a.Month}
		buckets[ym] = append(buckets[ym], a)
	}
	months := make([]YearMonth, 0, len(buckets))
	for ym := range buckets {
		months = append(months, ym)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })
	return months, buckets
}

// RecordMonthlyPayment applies a monthly payment covering one or more
// student-months. Distinct calendar months become distinct ledger
// records (all students for a month grouped into one record), and a
// single combined notification summarizes the whole payment.
func (s *PaymentService) RecordMonthlyPayment(ctx context.Context, familyID uint, allocs []MonthAllocation, meta PaymentMeta) ([]models.LedgerRecord, error) {
	if len(allocs) == 0 {
		return nil, apperrors.Validation("at least one allocation is required")
	}
	for _, a := range allocs {
		if a.Amount < 0 {
			return nil, apperrors.Validation("allocation amount must not be negative")
		}
		if a.Month < 1 || a.Month > 12 {
			return nil, apperrors.Validation("allocation month must be between 1 and 12")
		}
	}

	family, students, err := s.loadFamily(ctx, familyID)
	if err != nil {
		return nil, err
	}
	for _, a := range allocs {
		if _, ok := students[a.StudentID]; !ok {
			return nil, apperrors.NotFound("student")
		}
	}

	paymentType := models.PaymentTypeMonthly
	if meta.OnHold {
		paymentType = models.PaymentTypeMonthlyOnHold
	}

	months, buckets := GroupAllocationsByMonth(allocs)

	var (
		records []models.LedgerRecord
		lines   []PaymentMonthLine
		gross   models.Pence
	)
	for _, ym := range months {
		record, monthLines, err := s.applyMonthBucket(ctx, family, students, paymentType, ym, buckets[ym], meta)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
		lines = append(lines, monthLines...)
		for _, a := range buckets[ym] {
			gross += a.Amount
		}
	}

	s.cache.InvalidateFamily(ctx, family.ID)

	if meta.OnHold {
		s.email.SendPaymentOnHold(family.Email, gross, lines)
	} else {
		s.email.SendPaymentConfirmation(family.Email, gross, lines)
	}

	return records, nil
}

// applyMonthBucket creates or tops up the single ledger record for one
// family-month and applies every allocation in the bucket to it. Two
// concurrent first payments for the same family-month both miss the
// find; the partial unique index on (family_id, year, month) rejects
// the loser's insert, and the whole bucket is retried so it lands on
// the winner's record instead.
func (s *PaymentService) applyMonthBucket(ctx context.Context, family *models.Family, students map[uint]models.Student, paymentType models.PaymentType, ym YearMonth, allocs []MonthAllocation, meta PaymentMeta) (*models.LedgerRecord, []PaymentMonthLine, error) {
	var record models.LedgerRecord

	apply := func() error {
		record = models.LedgerRecord{}
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			// Find the month's record for this family, taking a row lock so a
			// concurrent payment or webhook serializes behind us.
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("family_id = ? AND year = ? AND month = ? AND payment_type IN ? AND status <> ?",
					family.ID, ym.Year, ym.Month,
					[]models.PaymentType{models.PaymentTypeMonthly, models.PaymentTypeMonthlyOnHold},
					models.LedgerCancelled).
				First(&record).Error
			switch {
			case err == gorm.ErrRecordNotFound:
				record = models.LedgerRecord{
					FamilyID:    family.ID,
					PaymentType: paymentType,
					Year:        ym.Year,
					Month:       ym.Month,
					Reference:   uuid.NewString(),
					Status:      models.LedgerPending,
				}
				if err := tx.Create(&record).Error; err != nil {
					return apperrors.Internal(err)
				}
			case err != nil:
				return apperrors.Internal(err)
			}

			var bucketGross models.Pence
			for _, a := range allocs {
				student := students[a.StudentID]
				discounted, err := DiscountedFee(student.MonthlyFee, family.DiscountPercent)
				if err != nil {
					return err
				}

				if err := s.upsertMonthCharge(tx, &record, student, ym, discounted, a.Amount); err != nil {
					return err
				}
				if err := s.upsertLedgerStudent(tx, &record, student, discounted); err != nil {
					return err
				}
				bucketGross += a.Amount
			}

			entry := models.PaymentEntry{
				LedgerRecordID:           record.ID,
				Amount:                   bucketGross,
				Method:                   meta.Method,
				Date:                     meta.Date,
				ProcessorPaymentIntentID: meta.ProcessorPaymentIntentID,
			}
			if err := tx.Create(&entry).Error; err != nil {
				return apperrors.Internal(err)
			}

			return s.recomputeRecord(tx, &record)
		})
	}

	err := apply()
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Lost the record-creation race; the winner's row is committed
		// and visible now, so the re-run locks it and tops it up.
		log.Info().Uint("family_id", family.ID).Int("year", ym.Year).Int("month", ym.Month).
			Msg("concurrent record creation detected, retrying on the winning record")
		err = apply()
	}
	if err != nil {
		return nil, nil, err
	}

	if err := s.db.WithContext(ctx).
		Preload("Charges").Preload("Students").Preload("Payments").
		First(&record, record.ID).Error; err != nil {
		return nil, nil, apperrors.Internal(err)
	}

	var lines []PaymentMonthLine
	for _, c := range record.Charges {
		remaining, _ := (c.DiscountedFee - c.Paid).ClampZero()
		lines = append(lines, PaymentMonthLine{
			StudentName: students[c.StudentID].Name,
			Year:        c.Year,
			Month:       c.Month,
			Paid:        c.Paid,
			Expected:    c.DiscountedFee,
			Remaining:   remaining,
		})
	}

	return &record, lines, nil
}

// upsertMonthCharge inserts or accumulates a student-month charge. The
// unique BillingKey index plus the ON CONFLICT increment make the
// find-or-create atomic: two concurrent payments for the same
// student-month both land, neither is lost, and no duplicate row can
// exist. A conflicting charge held by a different (non-cancelled)
// record means the month is already billed elsewhere.
func (s *PaymentService) upsertMonthCharge(tx *gorm.DB, record *models.LedgerRecord, student models.Student, ym YearMonth, discounted, amount models.Pence) error {
	key := models.ChargeBillingKey(student.ID, ym.Year, ym.Month)

	var existing models.MonthCharge
	err := tx.Where("billing_key = ?", key).First(&existing).Error
	if err == nil && existing.LedgerRecordID != record.ID {
		return apperrors.Conflict(fmt.Sprintf(
			"student %d is already billed for %04d-%02d in another record", student.ID, ym.Year, ym.Month))
	}
	if err != nil && err != gorm.ErrRecordNotFound {
		return apperrors.Internal(err)
	}

	charge := models.MonthCharge{
		LedgerRecordID: record.ID,
		StudentID:      student.ID,
		Year:           ym.Year,
		Month:          ym.Month,
		MonthlyFee:     student.MonthlyFee,
		DiscountedFee:  discounted,
		Paid:           amount,
		BillingKey:     &key,
	}
	err = tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "billing_key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"paid": gorm.Expr("month_charges.paid + ?", amount),
		}),
	}).Create(&charge).Error
	if err != nil {
		return apperrors.Internal(err)
	}
	return nil
}

// upsertLedgerStudent keeps the per-student snapshot row in sync; the
// subtotal itself is recomputed from charges in recomputeRecord.
func (s *PaymentService) upsertLedgerStudent(tx *gorm.DB, record *models.LedgerRecord, student models.Student, discounted models.Pence) error {
	var ls models.LedgerStudent
	err := tx.Where("ledger_record_id = ? AND student_id = ?", record.ID, student.ID).First(&ls).Error
	if err == gorm.ErrRecordNotFound {
		ls = models.LedgerStudent{
			LedgerRecordID: record.ID,
			StudentID:      student.ID,
			Name:           student.Name,
			MonthlyFee:     student.MonthlyFee,
			DiscountedFee:  discounted,
		}
		if err := tx.Create(&ls).Error; err != nil {
			return apperrors.Internal(err)
		}
		return nil
	}
	if err != nil {
		return apperrors.Internal(err)
	}
	return nil
}

// recomputeRecord rebuilds the denormalized totals from the charge rows
// inside the current transaction. A negative remaining is clamped to
// zero and logged as a data-inconsistency signal.
func (s *PaymentService) recomputeRecord(tx *gorm.DB, record *models.LedgerRecord) error {
	type sums struct {
		Expected models.Pence
		Paid     models.Pence
	}
	var t sums
	err := tx.Model(&models.MonthCharge{}).
		Select("COALESCE(SUM(discounted_fee),0) AS expected, COALESCE(SUM(paid),0) AS paid").
		Where("ledger_record_id = ?", record.ID).
		Scan(&t).Error
	if err != nil {
		return apperrors.Internal(err)
	}

	remaining, clamped := (t.Expected - t.Paid).ClampZero()
	if clamped {
		log.Warn().Uint("record_id", record.ID).
			Int64("expected", int64(t.Expected)).Int64("paid", int64(t.Paid)).
			Msg("remaining clamped to zero, paid exceeds expected")
	}

	record.ExpectedTotal = t.Expected
	record.Remaining = remaining
	record.Status = DeriveStatus(t.Expected, t.Paid)

	// Per-student subtotals from the same charge rows.
	if err := tx.Exec(`
		UPDATE ledger_students ls
		SET subtotal = COALESCE((
			SELECT SUM(mc.paid) FROM month_charges mc
			WHERE mc.ledger_record_id = ls.ledger_record_id AND mc.student_id = ls.student_id
		), 0)
		WHERE ls.ledger_record_id = ?`, record.ID).Error; err != nil {
		return apperrors.Internal(err)
	}

	err = tx.Model(record).Updates(map[string]interface{}{
		"expected_total": record.ExpectedTotal,
		"remaining":      record.Remaining,
		"status":         record.Status,
	}).Error
	if err != nil {
		return apperrors.Internal(err)
	}
	return nil
}

// TopUpRecord applies a further partial payment to an existing record.
// Admission records never accept top-ups: the admission fee is settled
// in full at creation time by business rule.
func (s *PaymentService) TopUpRecord(ctx context.Context, recordID uint, allocs []MonthAllocation, meta PaymentMeta) (*models.LedgerRecord, error) {
	var record models.LedgerRecord
	if err := s.db.WithContext(ctx).First(&record, recordID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.NotFound("ledger record")
		}
		return nil, apperrors.Internal(err)
	}

	if record.PaymentType.IsAdmission() {
		return nil, apperrors.Validation("partial payments are not allowed for admission fees; create a new payment instead")
	}
	if record.Status.Terminal() {
		return nil, apperrors.Conflict(fmt.Sprintf("record is %s and accepts no further payments", record.Status))
	}

	family, students, err := s.loadFamily(ctx, record.FamilyID)
	if err != nil {
		return nil, err
	}

	ym := YearMonth{Year: record.Year, Month: record.Month}
	for i, a := range allocs {
		if _, ok := students[a.StudentID]; !ok {
			return nil, apperrors.NotFound("student")
		}
		if a.Amount < 0 {
			return nil, apperrors.Validation("allocation amount must not be negative")
		}
		// A top-up targets the record's own month.
		if a.Year == 0 && a.Month == 0 {
			allocs[i].Year, allocs[i].Month = ym.Year, ym.Month
		} else if a.Year != ym.Year || a.Month != ym.Month {
			return nil, apperrors.Validation("top-up allocations must target the record's billing month")
		}
	}

	updated, lines, err := s.applyMonthBucket(ctx, family, students, record.PaymentType, ym, allocs, meta)
	if err != nil {
		return nil, err
	}

	s.cache.InvalidateFamily(ctx, family.ID)

	var gross models.Pence
	for _, a := range allocs {
		gross += a.Amount
	}
	if meta.OnHold || record.PaymentType.IsOnHold() {
		s.email.SendPaymentOnHold(family.Email, gross, lines)
	} else {
		s.email.SendPaymentConfirmation(family.Email, gross, lines)
	}

	return updated, nil
}

// RecordAdmissionPayment records the one-time enrollment payment. The
// amount is allocated greedily (admission fee first, remainder to the
// first month's discounted fee) and the record always settles in full,
// whatever was received: partial admission is not a supported state.
// An underpayment is logged for finance to audit.
func (s *PaymentService) RecordAdmissionPayment(ctx context.Context, familyID, studentID uint, amount models.Pence, meta PaymentMeta) (*models.LedgerRecord, error) {
	if amount <= 0 {
		return nil, apperrors.Validation("admission payment amount must be positive")
	}

	family, students, err := s.loadFamily(ctx, familyID)
	if err != nil {
		return nil, err
	}
	student, ok := students[studentID]
	if !ok {
		return nil, apperrors.NotFound("student")
	}

	admissionFee := s.defaultAdmissionFee
	if student.AdmissionFee != nil {
		admissionFee = *student.AdmissionFee
	}
	firstMonthFee, err := DiscountedFee(student.MonthlyFee, family.DiscountPercent)
	if err != nil {
		return nil, err
	}

	admissionPaid, firstMonthPaid := AllocateAdmission(amount, admissionFee)
	if amount < admissionFee+firstMonthFee {
		log.Warn().Uint("student_id", student.ID).
			Int64("amount", int64(amount)).
			Int64("expected", int64(admissionFee+firstMonthFee)).
			Msg("admission underpayment settled in full by business rule")
	}

	paymentType := models.PaymentTypeAdmission
	if meta.OnHold {
		paymentType = models.PaymentTypeAdmissionOnHold
	}

	// The admission settles the joining month, so it claims that month's
	// billing slot: a later monthly payment for the same month conflicts
	// instead of double-billing.
	start := student.JoiningDate
	if s.cutover.After(start) {
		start = s.cutover
	}
	firstMonth := YearMonth{Year: start.Year(), Month: int(start.Month())}

	var record models.LedgerRecord
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record = models.LedgerRecord{
			FamilyID:      family.ID,
			PaymentType:   paymentType,
			Year:          firstMonth.Year,
			Month:         firstMonth.Month,
			Reference:     uuid.NewString(),
			ExpectedTotal: admissionFee + firstMonthFee,
			Remaining:     0,
			Status:        models.LedgerPaid,
		}
		if err := tx.Create(&record).Error; err != nil {
			return apperrors.Internal(err)
		}

		ls := models.LedgerStudent{
			LedgerRecordID: record.ID,
			StudentID:      student.ID,
			Name:           student.Name,
			MonthlyFee:     student.MonthlyFee,
			DiscountedFee:  firstMonthFee,
			Subtotal:       amount,
			AdmissionFee:   admissionFee,
			AdmissionPaid:  admissionPaid,
			FirstMonthFee:  firstMonthFee,
			FirstMonthPaid: firstMonthPaid,
		}
		if err := tx.Create(&ls).Error; err != nil {
			return apperrors.Internal(err)
		}

		key := models.ChargeBillingKey(student.ID, firstMonth.Year, firstMonth.Month)
		charge := models.MonthCharge{
			LedgerRecordID: record.ID,
			StudentID:      student.ID,
			Year:           firstMonth.Year,
			Month:          firstMonth.Month,
			MonthlyFee:     student.MonthlyFee,
			DiscountedFee:  firstMonthFee,
			Paid:           firstMonthPaid,
			BillingKey:     &key,
		}
		if err := tx.Create(&charge).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperrors.Conflict(fmt.Sprintf(
					"student %d is already billed for %04d-%02d", student.ID, firstMonth.Year, firstMonth.Month))
			}
			return apperrors.Internal(err)
		}

		entry := models.PaymentEntry{
			LedgerRecordID:           record.ID,
			Amount:                   amount,
			Method:                   meta.Method,
			Date:                     meta.Date,
			ProcessorPaymentIntentID: meta.ProcessorPaymentIntentID,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.InvalidateFamily(ctx, family.ID)

	if meta.OnHold {
		s.email.SendPaymentOnHold(family.Email, amount, []PaymentMonthLine{{
			StudentName: student.Name,
			Year:        firstMonth.Year,
			Month:       firstMonth.Month,
			Paid:        amount,
		}})
	} else {
		s.email.SendAdmissionConfirmation(family.Email, student.Name, admissionPaid, firstMonthPaid)
	}

	return &record, nil
}

// loadFamily fetches the family with its students, enforcing the
// billing preconditions shared by every recorder entrypoint.
func (s *PaymentService) loadFamily(ctx context.Context, familyID uint) (*models.Family, map[uint]models.Student, error) {
	var family models.Family
	err := s.db.WithContext(ctx).Preload("Students").First(&family, familyID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, apperrors.NotFound("family")
		}
		return nil, nil, apperrors.Internal(err)
	}
	if family.Email == "" {
		return nil, nil, apperrors.Validation("family has no email address on record")
	}

	students := make(map[uint]models.Student, len(family.Students))
	for _, st := range family.Students {
		students[st.ID] = st
	}
	return &family, students, nil
}
