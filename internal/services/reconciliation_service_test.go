package services

import (
	"testing"

	"schoolfees_app/internal/models"
)

func TestCanDowngrade(t *testing.T) {
	tests := []struct {
		name     string
		current  models.LedgerStatus
		expected bool
	}{
		{"pending can move", models.LedgerPending, true},
		{"partial can move", models.LedgerPartial, true},
		{"failed can move", models.LedgerFailed, true},
		{"cancelled can move", models.LedgerCancelled, true},
		{"paid is final", models.LedgerPaid, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanDowngrade(tt.current); got != tt.expected {
				t.Errorf("CanDowngrade(%q) = %v; want %v", tt.current, got, tt.expected)
			}
		})
	}
}

func TestTransitionAllowed(t *testing.T) {
	tests := []struct {
		name     string
		current  models.LedgerStatus
		target   models.LedgerStatus
		expected bool
	}{
		// A success always lands, whatever came before it.
		{"pending settles", models.LedgerPending, models.LedgerPaid, true},
		{"partial settles", models.LedgerPartial, models.LedgerPaid, true},
		{"failed settles on retry", models.LedgerFailed, models.LedgerPaid, true},

		// Paid is final: a redelivered failure, cancellation or pending
		// from before the settling success must not downgrade it.
		{"paid resists failure", models.LedgerPaid, models.LedgerFailed, false},
		{"paid resists cancellation", models.LedgerPaid, models.LedgerCancelled, false},
		{"paid resists pending", models.LedgerPaid, models.LedgerPending, false},

		{"pending fails", models.LedgerPending, models.LedgerFailed, true},
		{"pending cancels", models.LedgerPending, models.LedgerCancelled, true},
		{"same status is a no-op", models.LedgerFailed, models.LedgerFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TransitionAllowed(tt.current, tt.target); got != tt.expected {
				t.Errorf("TransitionAllowed(%q, %q) = %v; want %v", tt.current, tt.target, got, tt.expected)
			}
		})
	}
}

func TestMandateActivation(t *testing.T) {
	tests := []struct {
		name           string
		current        models.MandateState
		emailSent      bool
		wantTransition bool
		wantEmail      bool
	}{
		{"pending activates and emails", models.MandatePending, false, true, true},
		{"pending activates silently when already announced", models.MandatePending, true, true, false},
		{"already active is a no-op", models.MandateActive, false, false, false},
		{"cancelled never reactivates", models.MandateCancelled, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transition, sendEmail := MandateActivation(tt.current, tt.emailSent)
			if transition != tt.wantTransition || sendEmail != tt.wantEmail {
				t.Errorf("MandateActivation(%q, %v) = (%v, %v); want (%v, %v)",
					tt.current, tt.emailSent, transition, sendEmail, tt.wantTransition, tt.wantEmail)
			}
		})
	}
}
