package models

import "testing"

func TestLedgerStatusTerminal(t *testing.T) {
	tests := []struct {
		status   LedgerStatus
		expected bool
	}{
		{LedgerPending, false},
		{LedgerPartial, false},
		{LedgerPaid, true},
		{LedgerFailed, true},
		{LedgerCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.expected {
				t.Errorf("LedgerStatus(%q).Terminal() = %v; want %v", tt.status, got, tt.expected)
			}
		})
	}
}

func TestLedgerRecordTotalPaid(t *testing.T) {
	record := LedgerRecord{
		Payments: []PaymentEntry{
			{Amount: 2000},
			{Amount: 3000},
		},
	}
	if got := record.TotalPaid(); got != 5000 {
		t.Errorf("TotalPaid() = %d; want 5000", got)
	}

	var empty LedgerRecord
	if got := empty.TotalPaid(); got != 0 {
		t.Errorf("TotalPaid() on empty record = %d; want 0", got)
	}
}

func TestChargeBillingKey(t *testing.T) {
	if got := ChargeBillingKey(7, 2025, 9); got != "s7-2025-09" {
		t.Errorf("ChargeBillingKey(7, 2025, 9) = %q; want %q", got, "s7-2025-09")
	}
}
