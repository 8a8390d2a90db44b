package models

import "testing"

func TestPenceFromPounds(t *testing.T) {
	tests := []struct {
		name     string
		pounds   float64
		expected Pence
	}{
		{"whole pounds", 50, 5000},
		{"pounds and pence", 12.34, 1234},
		{"rounds half up", 0.005, 1},
		{"float noise rounds cleanly", 19.99, 1999},
		{"zero", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PenceFromPounds(tt.pounds); got != tt.expected {
				t.Errorf("PenceFromPounds(%v) = %d; want %d", tt.pounds, got, tt.expected)
			}
		})
	}
}

func TestPenceString(t *testing.T) {
	tests := []struct {
		name     string
		amount   Pence
		expected string
	}{
		{"whole pounds", 5000, "50.00"},
		{"pence only", 75, "0.75"},
		{"mixed", 1234, "12.34"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.amount.String(); got != tt.expected {
				t.Errorf("Pence(%d).String() = %q; want %q", tt.amount, got, tt.expected)
			}
		})
	}
}

func TestPenceClampZero(t *testing.T) {
	if got, clamped := Pence(-500).ClampZero(); got != 0 || !clamped {
		t.Errorf("Pence(-500).ClampZero() = (%d, %v); want (0, true)", got, clamped)
	}
	if got, clamped := Pence(300).ClampZero(); got != 300 || clamped {
		t.Errorf("Pence(300).ClampZero() = (%d, %v); want (300, false)", got, clamped)
	}
}
