package services

import (
	"testing"
	"time"

	"schoolfees_app/internal/models"
)

func TestDiscountedFee(t *testing.T) {
	tests := []struct {
		name     string
		base     models.Pence
		discount float64
		expected models.Pence
		wantErr  bool
	}{
		{
			name:     "no discount returns base unchanged",
			base:     5000,
			discount: 0,
			expected: 5000,
		},
		{
			name:     "ten percent off",
			base:     10000,
			discount: 10,
			expected: 9000,
		},
		{
			name:     "rounds half up",
			base:     3333,
			discount: 15,
			expected: 2833, // 2833.05 -> 2833
		},
		{
			name:     "exact half penny rounds up",
			base:     101,
			discount: 50,
			expected: 51, // 50.5 -> 51
		},
		{
			name:     "full discount",
			base:     4200,
			discount: 100,
			expected: 0,
		},
		{
			name:     "negative discount rejected",
			base:     5000,
			discount: -1,
			wantErr:  true,
		},
		{
			name:     "discount above 100 rejected",
			base:     5000,
			discount: 100.5,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DiscountedFee(tt.base, tt.discount)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("DiscountedFee(%d, %v) expected error, got %d", tt.base, tt.discount, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("DiscountedFee(%d, %v) unexpected error: %v", tt.base, tt.discount, err)
			}
			if got != tt.expected {
				t.Errorf("DiscountedFee(%d, %v) = %d; want %d", tt.base, tt.discount, got, tt.expected)
			}
		})
	}
}

func TestBillableMonths(t *testing.T) {
	cutover := time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		joining  time.Time
		asOf     time.Time
		expected []YearMonth
	}{
		{
			name:    "join before cutover starts at cutover",
			joining: time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC),
			asOf:    time.Date(2025, time.November, 10, 0, 0, 0, 0, time.UTC),
			expected: []YearMonth{
				{2025, 9}, {2025, 10}, {2025, 11},
			},
		},
		{
			name:    "join after cutover starts at joining month",
			joining: time.Date(2025, time.October, 20, 0, 0, 0, 0, time.UTC),
			asOf:    time.Date(2025, time.December, 1, 0, 0, 0, 0, time.UTC),
			expected: []YearMonth{
				{2025, 10}, {2025, 11}, {2025, 12},
			},
		},
		{
			name:    "mid-month join owes the joining month in full",
			joining: time.Date(2025, time.September, 28, 0, 0, 0, 0, time.UTC),
			asOf:    time.Date(2025, time.September, 30, 0, 0, 0, 0, time.UTC),
			expected: []YearMonth{
				{2025, 9},
			},
		},
		{
			name:     "future joining date yields nothing",
			joining:  time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC),
			asOf:     time.Date(2025, time.December, 1, 0, 0, 0, 0, time.UTC),
			expected: nil,
		},
		{
			name:    "spans a year boundary",
			joining: time.Date(2025, time.November, 1, 0, 0, 0, 0, time.UTC),
			asOf:    time.Date(2026, time.February, 5, 0, 0, 0, 0, time.UTC),
			expected: []YearMonth{
				{2025, 11}, {2025, 12}, {2026, 1}, {2026, 2},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BillableMonths(tt.joining, cutover, tt.asOf)
			if len(got) != len(tt.expected) {
				t.Fatalf("BillableMonths() returned %d months %v; want %d %v", len(got), got, len(tt.expected), tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("month[%d] = %v; want %v", i, got[i], tt.expected[i])
				}
			}
		})
	}
}

func TestYearMonthBefore(t *testing.T) {
	tests := []struct {
		name     string
		a, b     YearMonth
		expected bool
	}{
		{"earlier year", YearMonth{2024, 12}, YearMonth{2025, 1}, true},
		{"same year earlier month", YearMonth{2025, 3}, YearMonth{2025, 4}, true},
		{"equal", YearMonth{2025, 6}, YearMonth{2025, 6}, false},
		{"later month", YearMonth{2025, 8}, YearMonth{2025, 7}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Before(tt.b); got != tt.expected {
				t.Errorf("%v.Before(%v) = %v; want %v", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}
