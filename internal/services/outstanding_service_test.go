package services

import (
	"testing"
	"time"

	"schoolfees_app/internal/models"
)

var (
	testCutover = time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC)
	testAsOf    = time.Date(2025, time.November, 15, 0, 0, 0, 0, time.UTC)
)

func enrolledStudent(id uint, name string, fee models.Pence, joining time.Time) models.Student {
	return models.Student{
		ID:          id,
		Name:        name,
		MonthlyFee:  fee,
		JoiningDate: joining,
		Status:      models.EnrollmentEnrolled,
	}
}

func TestResolveOutstandingNoChargesOwesEveryMonth(t *testing.T) {
	students := []models.Student{
		enrolledStudent(1, "Amira", 5000, time.Date(2025, time.September, 5, 0, 0, 0, 0, time.UTC)),
	}

	got, err := ResolveOutstanding(students, 0, nil, testCutover, testAsOf)
	if err != nil {
		t.Fatalf("ResolveOutstanding: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("got %d outstanding months; want 3 (sep, oct, nov)", len(got))
	}
	for i, want := range []YearMonth{{2025, 9}, {2025, 10}, {2025, 11}} {
		if got[i].Year != want.Year || got[i].Month != want.Month {
			t.Errorf("month[%d] = %d-%02d; want %v", i, got[i].Year, got[i].Month, want)
		}
		if got[i].TotalDue != 5000 {
			t.Errorf("month[%d].TotalDue = %d; want 5000", i, got[i].TotalDue)
		}
	}
}

func TestResolveOutstandingFullyPaidMonthExcluded(t *testing.T) {
	students := []models.Student{
		enrolledStudent(1, "Amira", 5000, time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC)),
	}
	charges := []ChargeFact{
		{StudentID: 1, Year: 2025, Month: 9, Paid: 5000, DiscountedFee: 5000},
		{StudentID: 1, Year: 2025, Month: 10, Paid: 5000, DiscountedFee: 5000},
	}

	got, err := ResolveOutstanding(students, 0, charges, testCutover, testAsOf)
	if err != nil {
		t.Fatalf("ResolveOutstanding: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("got %d outstanding months %v; want only november", len(got), got)
	}
	if got[0].Year != 2025 || got[0].Month != 11 {
		t.Errorf("outstanding month = %d-%02d; want 2025-11", got[0].Year, got[0].Month)
	}
}

func TestResolveOutstandingPartialMonthReported(t *testing.T) {
	students := []models.Student{
		enrolledStudent(1, "Amira", 5000, time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC)),
	}
	charges := []ChargeFact{
		{StudentID: 1, Year: 2025, Month: 9, Paid: 2000, DiscountedFee: 5000},
	}
	asOf := time.Date(2025, time.September, 20, 0, 0, 0, 0, time.UTC)

	got, err := ResolveOutstanding(students, 0, charges, testCutover, asOf)
	if err != nil {
		t.Fatalf("ResolveOutstanding: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("got %d outstanding months; want 1", len(got))
	}
	st := got[0].Students[0]
	if !st.Partial {
		t.Error("expected the month to be flagged partial")
	}
	if st.Paid != 2000 || st.Remaining != 3000 {
		t.Errorf("paid/remaining = %d/%d; want 2000/3000", st.Paid, st.Remaining)
	}
	if got[0].TotalDue != 3000 {
		t.Errorf("TotalDue = %d; want the remaining 3000", got[0].TotalDue)
	}
}

func TestResolveOutstandingAdmissionCoversJoiningMonth(t *testing.T) {
	// Admission always settles the joining month, even if the amount
	// received fell short of the listed fee.
	students := []models.Student{
		enrolledStudent(1, "Amira", 5000, time.Date(2025, time.September, 10, 0, 0, 0, 0, time.UTC)),
	}
	charges := []ChargeFact{
		{StudentID: 1, Year: 2025, Month: 9, Paid: 0, DiscountedFee: 5000, Admission: true},
	}
	asOf := time.Date(2025, time.October, 5, 0, 0, 0, 0, time.UTC)

	got, err := ResolveOutstanding(students, 0, charges, testCutover, asOf)
	if err != nil {
		t.Fatalf("ResolveOutstanding: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("got %d outstanding months %v; want only october", len(got), got)
	}
	if got[0].Month != 10 {
		t.Errorf("outstanding month = %d; want 10", got[0].Month)
	}
}

func TestResolveOutstandingNonEnrolledExcluded(t *testing.T) {
	onHold := enrolledStudent(2, "Bilal", 4000, time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC))
	onHold.Status = models.EnrollmentHold

	students := []models.Student{
		enrolledStudent(1, "Amira", 5000, time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC)),
		onHold,
	}

	got, err := ResolveOutstanding(students, 0, nil, testCutover, testAsOf)
	if err != nil {
		t.Fatalf("ResolveOutstanding: %v", err)
	}

	for _, mo := range got {
		for _, st := range mo.Students {
			if st.StudentID == 2 {
				t.Fatalf("non-enrolled student appeared in %d-%02d", mo.Year, mo.Month)
			}
		}
		if mo.TotalDue != 5000 {
			t.Errorf("%d-%02d TotalDue = %d; want 5000", mo.Year, mo.Month, mo.TotalDue)
		}
	}
}

func TestResolveOutstandingDiscountApplied(t *testing.T) {
	students := []models.Student{
		enrolledStudent(1, "Amira", 10000, time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC)),
	}
	asOf := time.Date(2025, time.September, 30, 0, 0, 0, 0, time.UTC)

	got, err := ResolveOutstanding(students, 10, nil, testCutover, asOf)
	if err != nil {
		t.Fatalf("ResolveOutstanding: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d months; want 1", len(got))
	}
	if got[0].Students[0].Due != 9000 {
		t.Errorf("Due = %d; want discounted 9000", got[0].Students[0].Due)
	}
}

func TestResolveOutstandingInvalidDiscountRejected(t *testing.T) {
	students := []models.Student{
		enrolledStudent(1, "Amira", 5000, time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC)),
	}
	if _, err := ResolveOutstanding(students, 120, nil, testCutover, testAsOf); err == nil {
		t.Fatal("expected error for discount above 100")
	}
}

func TestResolveOutstandingMultipleStudentsGroupedByMonth(t *testing.T) {
	students := []models.Student{
		enrolledStudent(1, "Amira", 5000, time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC)),
		enrolledStudent(2, "Bilal", 4000, time.Date(2025, time.October, 1, 0, 0, 0, 0, time.UTC)),
	}
	asOf := time.Date(2025, time.October, 15, 0, 0, 0, 0, time.UTC)

	got, err := ResolveOutstanding(students, 0, nil, testCutover, asOf)
	if err != nil {
		t.Fatalf("ResolveOutstanding: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("got %d months %v; want 2", len(got), got)
	}
	// September: Amira only. October: both.
	if len(got[0].Students) != 1 || got[0].TotalDue != 5000 {
		t.Errorf("september = %+v; want one student owing 5000", got[0])
	}
	if len(got[1].Students) != 2 || got[1].TotalDue != 9000 {
		t.Errorf("october = %+v; want two students owing 9000 total", got[1])
	}
}
