package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"schoolfees_app/internal/apperrors"
	"schoolfees_app/internal/models"
)

// alertThreshold is the consecutive count that triggers a parent email.
const alertThreshold = 3

// AttendanceService maintains per-student consecutive absence and
// lateness counters. It follows the same idempotent-counter design as
// the ledger: repeated submissions of the same register state never
// duplicate the alert email, because the sent flag is persisted with
// the counter.
type AttendanceService struct {
	db    *gorm.DB
	email *EmailService
}

func NewAttendanceService(db *gorm.DB, email *EmailService) *AttendanceService {
	return &AttendanceService{db: db, email: email}
}

// RecordAttendance applies one register entry for the student. Absent
// and late extend their streaks; anything else resets both counters and
// the alert flags.
func (s *AttendanceService) RecordAttendance(ctx context.Context, studentID uint, status models.AttendanceStatus) error {
	var student models.Student
	if err := s.db.WithContext(ctx).Preload("Family").First(&student, studentID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return apperrors.NotFound("student")
		}
		return apperrors.Internal(err)
	}

	var alert func()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var counter models.AttendanceCounter
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("student_id = ?", studentID).First(&counter).Error
		if err == gorm.ErrRecordNotFound {
			counter = models.AttendanceCounter{StudentID: studentID}
			if err := tx.Create(&counter).Error; err != nil {
				return apperrors.Internal(err)
			}
		} else if err != nil {
			return apperrors.Internal(err)
		}

		now := time.Now()
		switch status {
		case models.AttendanceAbsent:
			counter.ConsecutiveAbsences++
			counter.ConsecutiveLates = 0
			counter.LateAlertSentAt = nil
			if counter.ConsecutiveAbsences >= alertThreshold && counter.AbsenceAlertSentAt == nil {
				counter.AbsenceAlertSentAt = &now
				count := counter.ConsecutiveAbsences
				alert = func() {
					s.email.SendAttendanceAlert(student.Family.Email, student.Name, "absent", count)
				}
			}
		case models.AttendanceLate:
			counter.ConsecutiveLates++
			counter.ConsecutiveAbsences = 0
			counter.AbsenceAlertSentAt = nil
			if counter.ConsecutiveLates >= alertThreshold && counter.LateAlertSentAt == nil {
				counter.LateAlertSentAt = &now
				count := counter.ConsecutiveLates
				alert = func() {
					s.email.SendAttendanceAlert(student.Family.Email, student.Name, "late", count)
				}
			}
		default:
			counter.ConsecutiveAbsences = 0
			counter.ConsecutiveLates = 0
			counter.AbsenceAlertSentAt = nil
			counter.LateAlertSentAt = nil
		}
		counter.LastStatus = status

		if err := tx.Save(&counter).Error; err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if alert != nil {
		if student.Family.Email == "" {
			log.Warn().Uint("student_id", studentID).Msg("attendance alert due but family has no email")
		} else {
			alert()
		}
	}
	return nil
}
