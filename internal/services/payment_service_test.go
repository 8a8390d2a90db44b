package services

import (
	"testing"

	"schoolfees_app/internal/models"
)

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name     string
		expected models.Pence
		paid     models.Pence
		want     models.LedgerStatus
	}{
		{"nothing paid", 5000, 0, models.LedgerPending},
		{"partially paid", 5000, 2000, models.LedgerPartial},
		{"exactly paid", 5000, 5000, models.LedgerPaid},
		{"overpaid", 5000, 6000, models.LedgerPaid},
		{"zero expected", 0, 0, models.LedgerPaid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveStatus(tt.expected, tt.paid); got != tt.want {
				t.Errorf("DeriveStatus(%d, %d) = %q; want %q", tt.expected, tt.paid, got, tt.want)
			}
		})
	}
}

func TestAllocateAdmission(t *testing.T) {
	tests := []struct {
		name           string
		amount         models.Pence
		admissionFee   models.Pence
		wantAdmission  models.Pence
		wantFirstMonth models.Pence
	}{
		{"exact fee nothing left for first month", 2000, 2000, 2000, 0},
		{"surplus flows to first month", 6500, 2000, 2000, 4500},
		{"underpayment all consumed by admission", 1500, 2000, 1500, 0},
		{"zero amount", 0, 2000, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adm, fm := AllocateAdmission(tt.amount, tt.admissionFee)
			if adm != tt.wantAdmission || fm != tt.wantFirstMonth {
				t.Errorf("AllocateAdmission(%d, %d) = (%d, %d); want (%d, %d)",
					tt.amount, tt.admissionFee, adm, fm, tt.wantAdmission, tt.wantFirstMonth)
			}
			if adm+fm != tt.amount {
				t.Errorf("allocation lost money: %d + %d != %d", adm, fm, tt.amount)
			}
		})
	}
}

func TestGroupAllocationsByMonth(t *testing.T) {
	allocs := []MonthAllocation{
		{StudentID: 2, Year: 2025, Month: 10, Amount: 4000},
		{StudentID: 1, Year: 2025, Month: 9, Amount: 5000},
		{StudentID: 2, Year: 2025, Month: 9, Amount: 4000},
		{StudentID: 1, Year: 2026, Month: 1, Amount: 5000},
	}

	months, buckets := GroupAllocationsByMonth(allocs)

	wantMonths := []YearMonth{{2025, 9}, {2025, 10}, {2026, 1}}
	if len(months) != len(wantMonths) {
		t.Fatalf("got %d months %v; want %v", len(months), months, wantMonths)
	}
	for i, ym := range months {
		if ym != wantMonths[i] {
			t.Errorf("months[%d] = %v; want %v", i, ym, wantMonths[i])
		}
	}

	if got := len(buckets[YearMonth{2025, 9}]); got != 2 {
		t.Errorf("september bucket has %d allocations; want 2", got)
	}
	if got := len(buckets[YearMonth{2025, 10}]); got != 1 {
		t.Errorf("october bucket has %d allocations; want 1", got)
	}
	var total models.Pence
	for _, bucket := range buckets {
		for _, a := range bucket {
			total += a.Amount
		}
	}
	if total != 18000 {
		t.Errorf("bucketed total = %d; want 18000", total)
	}
}
