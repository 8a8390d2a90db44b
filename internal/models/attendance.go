package models

import (
	"time"

	"gorm.io/gorm"
)

// AttendanceStatus is a single day's register entry.
type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "present"
	AttendanceAbsent  AttendanceStatus = "absent"
	AttendanceLate    AttendanceStatus = "late"
)

// AttendanceCounter tracks consecutive absences and latenesses per
// student for threshold alert emails. Counters reset whenever the
// streak breaks; the AlertSentAt stamps make the threshold email
// idempotent across repeated register submissions.
type AttendanceCounter struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	StudentID           uint             `gorm:"uniqueIndex" json:"student_id"`
	ConsecutiveAbsences int              `json:"consecutive_absences"`
	ConsecutiveLates    int              `json:"consecutive_lates"`
	AbsenceAlertSentAt  *time.Time       `json:"absence_alert_sent_at,omitempty"`
	LateAlertSentAt     *time.Time       `json:"late_alert_sent_at,omitempty"`
	LastStatus          AttendanceStatus `gorm:"type:varchar(20)" json:"last_status"`
}
