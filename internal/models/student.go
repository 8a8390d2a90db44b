package models

import (
	"time"

	"gorm.io/gorm"
)

// EnrollmentStatus gates whether a student is billable. Only enrolled
// students accrue monthly fees; status changes are an admin concern and
// never driven by the billing core.
type EnrollmentStatus string

const (
	EnrollmentEnrolled EnrollmentStatus = "enrolled"
	EnrollmentHold     EnrollmentStatus = "hold"
	EnrollmentApproved EnrollmentStatus = "approved"
	EnrollmentRejected EnrollmentStatus = "rejected"
)

// Student represents an enrolled (or pending) pupil. MonthlyFee and
// JoiningDate are immutable inputs to billing.
type Student struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	FamilyID     uint             `gorm:"index" json:"family_id"`
	Name         string           `gorm:"type:varchar(255)" json:"name"`
	MonthlyFee   Pence            `json:"monthly_fee"`
	AdmissionFee *Pence           `json:"admission_fee,omitempty"` // overrides the system default when set
	JoiningDate  time.Time        `gorm:"type:date" json:"joining_date"`
	Status       EnrollmentStatus `gorm:"type:varchar(20);default:'hold';index" json:"status"`

	// Relationships
	Family Family `gorm:"foreignKey:FamilyID" json:"family,omitempty"`
}

// Billable reports whether the student should appear in billing runs.
func (s Student) Billable() bool {
	return s.Status == EnrollmentEnrolled
}
