package models

import (
	"time"

	"gorm.io/gorm"
)

// MandateState is the local lifecycle of a family's direct-debit
// mandate. A mandate becomes active only from pending, and only via an
// authoritative processor event; it is never synthesized locally.
type MandateState string

const (
	MandatePending   MandateState = "pending"
	MandateActive    MandateState = "active"
	MandateCancelled MandateState = "cancelled"
)

// DirectDebit is the embedded mandate sub-record. SuccessEmailSentAt is
// a persisted idempotency flag: the "mandate ready" email is sent at
// most once per mandate, surviving process restarts.
type DirectDebit struct {
	CustomerID          string       `gorm:"type:varchar(100);column:dd_customer_id" json:"customer_id,omitempty"`
	MandateID           string       `gorm:"type:varchar(100);column:dd_mandate_id;index" json:"mandate_id,omitempty"`
	PaymentMethodID     string       `gorm:"type:varchar(100);column:dd_payment_method_id" json:"payment_method_id,omitempty"`
	Status              MandateState `gorm:"type:varchar(20);column:dd_status" json:"status,omitempty"`
	MandateStatus       string       `gorm:"type:varchar(50);column:dd_mandate_status" json:"mandate_status,omitempty"` // processor's own status string, mirrored verbatim
	PreferredPaymentDay int          `gorm:"column:dd_preferred_payment_day" json:"preferred_payment_day,omitempty"`
	SetupDate           *time.Time   `gorm:"column:dd_setup_date" json:"setup_date,omitempty"`
	ActiveDate          *time.Time   `gorm:"column:dd_active_date" json:"active_date,omitempty"`
	SuccessEmailSentAt  *time.Time   `gorm:"column:dd_success_email_sent_at" json:"success_email_sent_at,omitempty"`
}

// Family groups students under one payer. DiscountPercent applies
// uniformly to every student's monthly fee and is re-read at each
// computation, never cached into historical records.
type Family struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Name            string  `gorm:"type:varchar(255)" json:"name"`
	Email           string  `gorm:"type:varchar(255);index" json:"email"`
	Phone           string  `gorm:"type:varchar(50)" json:"phone"`
	DiscountPercent float64 `gorm:"type:decimal(5,2);default:0" json:"discount_percent"`

	DirectDebit DirectDebit `gorm:"embedded" json:"direct_debit"`

	// Relationships
	Students      []Student      `gorm:"foreignKey:FamilyID" json:"students,omitempty"`
	LedgerRecords []LedgerRecord `gorm:"foreignKey:FamilyID" json:"ledger_records,omitempty"`
}

// HasActiveMandate reports whether recurring collection may run.
func (f Family) HasActiveMandate() bool {
	return f.DirectDebit.Status == MandateActive && f.DirectDebit.MandateID != ""
}
