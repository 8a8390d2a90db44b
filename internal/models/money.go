package models

import (
	"fmt"
	"math"
)

// Pence is a money amount in GBP minor units. All ledger arithmetic is
// done in pence; conversion to pounds happens only at presentation
// boundaries (JSON responses, email bodies).
type Pence int64

// PenceFromPounds converts a decimal pound amount to pence, rounding
// half-up to the nearest penny.
func PenceFromPounds(pounds float64) Pence {
	return Pence(math.Floor(pounds*100 + 0.5))
}

// Pounds converts back to a decimal pound amount.
func (p Pence) Pounds() float64 {
	return float64(p) / 100
}

// String formats the amount as a pound value, e.g. "45.00".
func (p Pence) String() string {
	return fmt.Sprintf("%.2f", p.Pounds())
}

// ClampZero returns the amount floored at zero and whether clamping
// happened. A clamp means paid exceeded expected somewhere upstream and
// should be logged by the caller.
func (p Pence) ClampZero() (Pence, bool) {
	if p < 0 {
		return 0, true
	}
	return p, false
}
