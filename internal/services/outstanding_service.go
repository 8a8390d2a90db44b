package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"schoolfees_app/internal/apperrors"
	"schoolfees_app/internal/models"
)

// OutstandingService is the read-only unpaid/partially-paid month
// resolver consulted by dashboards and reminder jobs. It never mutates
// ledger state; the family discount is re-read on every computation so
// a discount change affects future results without touching history.
type OutstandingService struct {
	db      *gorm.DB
	cache   *RedisCache
	cutover time.Time
}

func NewOutstandingService(db *gorm.DB, cache *RedisCache, cutover time.Time) *OutstandingService {
	return &OutstandingService{db: db, cache: cache, cutover: cutover}
}

// StudentOutstanding is one student's share of an outstanding month.
type StudentOutstanding struct {
	StudentID   uint         `json:"student_id"`
	StudentName string       `json:"student_name"`
	Due         models.Pence `json:"due"`
	Paid        models.Pence `json:"paid"`
	Remaining   models.Pence `json:"remaining"`
	Partial     bool         `json:"partial"`
}

// MonthOutstanding groups what a family still owes for one calendar
// month. The grouping key is always the month, never the student.
type MonthOutstanding struct {
	Year     int                  `json:"year"`
	Month    int                  `json:"month"`
	TotalDue models.Pence         `json:"total_due"`
	Students []StudentOutstanding `json:"students"`
}

// ChargeFact is the slice of ledger state the resolver needs: one row
// per existing student-month charge in a non-cancelled record.
type ChargeFact struct {
	StudentID     uint
	Year          int
	Month         int
	Paid          models.Pence
	DiscountedFee models.Pence
	Admission     bool // charge belongs to an admission-type record
}

// ResolveOutstanding computes the unpaid and partially-paid months for
// the given students. A month is covered by a charge with money against
// it, or unconditionally by an admission charge (admission always
// settles the first month, whatever was received). Non-enrolled
// students are excluded entirely. Output is sorted chronologically
// ascending.
func ResolveOutstanding(students []models.Student, discountPercent float64, charges []ChargeFact, cutover, asOf time.Time) ([]MonthOutstanding, error) {
	type key struct {
		studentID   uint
		year, month int
	}
	facts := make(map[key]ChargeFact, len(charges))
	for _, c := range charges {
		facts[key{c.StudentID, c.Year, c.Month}] = c
	}

	byMonth := make(map[YearMonth][]StudentOutstanding)
	for _, st := range students {
		if !st.Billable() {
			continue
		}
		due, err := DiscountedFee(st.MonthlyFee, discountPercent)
		if err != nil {
			return nil, err
		}
		for _, ym := range BillableMonths(st.JoiningDate, cutover, asOf) {
			fact, exists := facts[key{st.ID, ym.Year, ym.Month}]
			if exists && fact.Admission {
				continue
			}
			if exists && fact.Paid >= fact.DiscountedFee && fact.Paid > 0 {
				continue
			}

			entry := StudentOutstanding{
				StudentID:   st.ID,
				StudentName: st.Name,
				Due:         due,
				Remaining:   due,
			}
			if exists && fact.Paid > 0 {
				remaining, _ := (fact.DiscountedFee - fact.Paid).ClampZero()
				entry.Paid = fact.Paid
				entry.Remaining = remaining
				entry.Partial = true
			}
			byMonth[ym] = append(byMonth[ym], entry)
		}
	}

	months := make([]YearMonth, 0, len(byMonth))
	for ym := range byMonth {
		months = append(months, ym)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })

	result := make([]MonthOutstanding, 0, len(months))
	for _, ym := range months {
		mo := MonthOutstanding{Year: ym.Year, Month: ym.Month, Students: byMonth[ym]}
		for _, st := range mo.Students {
			mo.TotalDue += st.Remaining
		}
		result = append(result, mo)
	}
	return result, nil
}

// UnpaidMonthsForFamily resolves the family's outstanding months as of
// asOf. Current-month queries are served through the cache, which every
// payment mutation invalidates.
func (s *OutstandingService) UnpaidMonthsForFamily(ctx context.Context, familyID uint, asOf time.Time) ([]MonthOutstanding, error) {
	now := time.Now()
	cacheable := asOf.Year() == now.Year() && asOf.Month() == now.Month()
	if !cacheable {
		return s.resolveFamily(ctx, familyID, asOf)
	}
	return GetOrSet(s.cache, ctx, FamilyOutstandingKey(familyID), 10*time.Minute, func() ([]MonthOutstanding, error) {
		return s.resolveFamily(ctx, familyID, asOf)
	})
}

// UnpaidMonthsForStudent resolves a single student's outstanding
// months, using the student's own family discount.
func (s *OutstandingService) UnpaidMonthsForStudent(ctx context.Context, studentID uint, asOf time.Time) ([]MonthOutstanding, error) {
	var student models.Student
	if err := s.db.WithContext(ctx).First(&student, studentID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.NotFound("student")
		}
		return nil, apperrors.Internal(err)
	}

	var family models.Family
	if err := s.db.WithContext(ctx).First(&family, student.FamilyID).Error; err != nil {
		return nil, apperrors.Internal(err)
	}

	charges, err := s.loadCharges(ctx, []uint{student.ID})
	if err != nil {
		return nil, err
	}
	return ResolveOutstanding([]models.Student{student}, family.DiscountPercent, charges, s.cutover, asOf)
}

func (s *OutstandingService) resolveFamily(ctx context.Context, familyID uint, asOf time.Time) ([]MonthOutstanding, error) {
	var family models.Family
	err := s.db.WithContext(ctx).Preload("Students").First(&family, familyID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.NotFound("family")
		}
		return nil, apperrors.Internal(err)
	}

	ids := make([]uint, 0, len(family.Students))
	for _, st := range family.Students {
		ids = append(ids, st.ID)
	}
	charges, err := s.loadCharges(ctx, ids)
	if err != nil {
		return nil, err
	}
	return ResolveOutstanding(family.Students, family.DiscountPercent, charges, s.cutover, asOf)
}

// loadCharges pulls every student-month charge in non-cancelled records
// for the given students, tagged with whether the owning record is an
// admission type.
func (s *OutstandingService) loadCharges(ctx context.Context, studentIDs []uint) ([]ChargeFact, error) {
	if len(studentIDs) == 0 {
		return nil, nil
	}
	var facts []ChargeFact
	err := s.db.WithContext(ctx).
		Table("month_charges mc").
		Select(fmt.Sprintf(
			"mc.student_id, mc.year, mc.month, mc.paid, mc.discounted_fee, lr.payment_type IN ('%s','%s') AS admission",
			models.PaymentTypeAdmission, models.PaymentTypeAdmissionOnHold)).
		Joins("JOIN ledger_records lr ON lr.id = mc.ledger_record_id").
		Where("mc.student_id IN ? AND lr.status <> ? AND lr.deleted_at IS NULL", studentIDs, models.LedgerCancelled).
		Scan(&facts).Error
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return facts, nil
}
