package tasks

import (
	"testing"

	"schoolfees_app/internal/services"
)

func TestSweepEligible(t *testing.T) {
	tests := []struct {
		name        string
		partial     bool
		slotClaimed bool
		expected    bool
	}{
		{"unbilled month is sweepable", false, false, true},
		{"partially-paid month stays with its record", true, false, false},
		{"claimed slot belongs to an in-flight or failed attempt", false, true, false},
		{"partial and claimed", true, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			so := services.StudentOutstanding{StudentID: 1, Partial: tt.partial}
			if got := SweepEligible(so, tt.slotClaimed); got != tt.expected {
				t.Errorf("SweepEligible(partial=%v, claimed=%v) = %v; want %v",
					tt.partial, tt.slotClaimed, got, tt.expected)
			}
		})
	}
}
