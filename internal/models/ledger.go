package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// PaymentType tags a ledger record. The on-hold variants mark money
// received but awaiting manual admin verification (bank transfer);
// the plain variants are confirmed on receipt (card, cash).
type PaymentType string

const (
	PaymentTypeAdmission       PaymentType = "admission"
	PaymentTypeAdmissionOnHold PaymentType = "admission_on_hold"
	PaymentTypeMonthly         PaymentType = "monthly"
	PaymentTypeMonthlyOnHold   PaymentType = "monthly_on_hold"
)

// IsAdmission reports whether t is one of the admission variants.
func (t PaymentType) IsAdmission() bool {
	return t == PaymentTypeAdmission || t == PaymentTypeAdmissionOnHold
}

// IsOnHold reports whether t awaits manual verification.
func (t PaymentType) IsOnHold() bool {
	return t == PaymentTypeAdmissionOnHold || t == PaymentTypeMonthlyOnHold
}

// LedgerStatus is the record lifecycle. paid, failed and cancelled are
// terminal; records are never physically deleted once terminal.
type LedgerStatus string

const (
	LedgerPending   LedgerStatus = "pending"
	LedgerPaid      LedgerStatus = "paid"
	LedgerPartial   LedgerStatus = "partial"
	LedgerFailed    LedgerStatus = "failed"
	LedgerCancelled LedgerStatus = "cancelled"
)

// Terminal reports whether the status admits no further mutation from
// ordinary payment recording.
func (s LedgerStatus) Terminal() bool {
	return s == LedgerPaid || s == LedgerFailed || s == LedgerCancelled
}

// LedgerRecord is one billing document: one family, one payment type
// and, for monthly types, one calendar month. ExpectedTotal and
// Remaining are denormalized sums maintained transactionally by the
// payment recorder.
type LedgerRecord struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	// The partial unique index is the record-level natural key: at most
	// one live monthly record per family-month. Cancelled records leave
	// the index so the month can be rebilled; admission records are
	// keyed per student by their MonthCharge.BillingKey instead.
	FamilyID    uint        `gorm:"index;uniqueIndex:uq_monthly_family_month,priority:1,where:payment_type LIKE 'monthly%' AND status <> 'cancelled' AND deleted_at IS NULL" json:"family_id"`
	PaymentType PaymentType `gorm:"type:varchar(30);index" json:"payment_type"`
	Year        int         `gorm:"uniqueIndex:uq_monthly_family_month,priority:2" json:"year,omitempty"`  // monthly types only
	Month       int         `gorm:"uniqueIndex:uq_monthly_family_month,priority:3" json:"month,omitempty"` // monthly types only, 1-12
	Reference   string      `gorm:"type:varchar(100);uniqueIndex" json:"reference"`                        // order id shared with the processor

	ExpectedTotal Pence        `json:"expected_total"`
	Remaining     Pence        `json:"remaining"`
	Status        LedgerStatus `gorm:"type:varchar(20);index" json:"status"`

	// Relationships
	Family   Family          `gorm:"foreignKey:FamilyID" json:"family,omitempty"`
	Students []LedgerStudent `gorm:"foreignKey:LedgerRecordID" json:"students,omitempty"`
	Charges  []MonthCharge   `gorm:"foreignKey:LedgerRecordID" json:"charges,omitempty"`
	Payments []PaymentEntry  `gorm:"foreignKey:LedgerRecordID" json:"payments,omitempty"`
}

// TotalPaid sums the record-level audit trail.
func (r LedgerRecord) TotalPaid() Pence {
	var total Pence
	for _, p := range r.Payments {
		total += p.Amount
	}
	return total
}

// LedgerStudent is the per-student slice of a record. For admission
// records it carries the greedy allocation split between the fixed
// admission fee and the first month's discounted fee.
type LedgerStudent struct {
	ID             uint `gorm:"primarykey" json:"id"`
	LedgerRecordID uint `gorm:"index" json:"ledger_record_id"`
	StudentID      uint `gorm:"index" json:"student_id"`

	Name          string `gorm:"type:varchar(255)" json:"name"`
	MonthlyFee    Pence  `json:"monthly_fee"`
	DiscountedFee Pence  `json:"discounted_fee"`
	Subtotal      Pence  `json:"subtotal"` // sum of this student's paid amounts within the record

	AdmissionFee   Pence `json:"admission_fee,omitempty"`
	AdmissionPaid  Pence `json:"admission_paid,omitempty"`
	FirstMonthFee  Pence `json:"first_month_fee,omitempty"`
	FirstMonthPaid Pence `json:"first_month_paid,omitempty"`
}

// MonthCharge is one billed calendar month for one student within a
// monthly record. Paid accumulates across partial payments and is never
// overwritten. BillingKey is the natural key enforcing the
// one-non-cancelled-record-per-student-month invariant: it is unique
// while set and nulled out when the record is cancelled, freeing the
// slot for rebilling.
type MonthCharge struct {
	ID             uint `gorm:"primarykey" json:"id"`
	LedgerRecordID uint `gorm:"index" json:"ledger_record_id"`
	StudentID      uint `gorm:"index" json:"student_id"`

	Year          int     `json:"year"`
	Month         int     `json:"month"` // 1-12
	MonthlyFee    Pence   `json:"monthly_fee"`
	DiscountedFee Pence   `json:"discounted_fee"`
	Paid          Pence   `json:"paid"`
	BillingKey    *string `gorm:"type:varchar(50);uniqueIndex" json:"-"`
}

// ChargeBillingKey builds the natural key for a student-month.
func ChargeBillingKey(studentID uint, year, month int) string {
	return fmt.Sprintf("s%d-%04d-%02d", studentID, year, month)
}

// PaymentEntry is one row of the append-only record-level audit trail.
// Entries are never mutated or removed; reversals would be modeled as
// new entries.
type PaymentEntry struct {
	ID             uint      `gorm:"primarykey" json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	LedgerRecordID uint      `gorm:"index" json:"ledger_record_id"`

	Amount                   Pence     `json:"amount"`
	Method                   string    `gorm:"type:varchar(50)" json:"method"` // e.g. "card", "bank_transfer", "direct_debit", "cash"
	Date                     time.Time `json:"date"`
	ProcessorPaymentIntentID string    `gorm:"type:varchar(100);index" json:"processor_payment_intent_id,omitempty"`
}
