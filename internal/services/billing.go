package services

import (
	"math"
	"time"

	"schoolfees_app/internal/apperrors"
	"schoolfees_app/internal/models"
)

// YearMonth identifies one billable calendar month.
type YearMonth struct {
	Year  int `json:"year"`
	Month int `json:"month"` // 1-12
}

// Before reports chronological order.
func (ym YearMonth) Before(other YearMonth) bool {
	if ym.Year != other.Year {
		return ym.Year < other.Year
	}
	return ym.Month < other.Month
}

// DiscountedFee applies the family discount percentage to a base fee,
// rounding half-up to the nearest penny. The rounding is applied here,
// at the operation, so accumulated subtotals never drift. A percentage
// outside [0,100] is a caller error and is rejected, not clamped.
func DiscountedFee(base models.Pence, discountPercent float64) (models.Pence, error) {
	if discountPercent < 0 || discountPercent > 100 {
		return 0, apperrors.Validation("discount percent must be between 0 and 100")
	}
	if discountPercent == 0 {
		return base, nil
	}
	discounted := float64(base) * (1 - discountPercent/100)
	return models.Pence(math.Floor(discounted + 0.5)), nil
}

// BillableMonths returns the ordered months a student owes for, from
// max(joiningDate, cutover) truncated to the 1st of that month through
// asOf's month inclusive. Empty when the start is after asOf.
func BillableMonths(joiningDate, cutover, asOf time.Time) []YearMonth {
	start := joiningDate
	if cutover.After(start) {
		start = cutover
	}
	start = time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(asOf.Year(), asOf.Month(), 1, 0, 0, 0, 0, time.UTC)

	var months []YearMonth
	for cur := start; !cur.After(end); cur = cur.AddDate(0, 1, 0) {
		months = append(months, YearMonth{Year: cur.Year(), Month: int(cur.Month())})
	}
	return months
}
