package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v76"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"schoolfees_app/internal/apperrors"
	"schoolfees_app/internal/models"
)

// ReconciliationService consumes pre-verified processor events and
// idempotently transitions ledger records and mandate state. Processors
// deliver at least once and out of order; every handler here is safe to
// run repeatedly for the same event, and a settled record is never
// downgraded by a late pending/processing delivery.
//
// Idempotency has two layers: the WebhookEvent log (unique event id,
// inserted in the same transaction as the mutation, so a failed
// mutation leaves the event unconsumed for redelivery) and the state
// guards below for semantically duplicate events with fresh ids.
type ReconciliationService struct {
	db    *gorm.DB
	cache *RedisCache
	email *EmailService
}

func NewReconciliationService(db *gorm.DB, cache *RedisCache, email *EmailService) *ReconciliationService {
	return &ReconciliationService{db: db, cache: cache, email: email}
}

// CanDowngrade reports whether an incoming non-terminal status may
// replace the current one. Once a record is paid, later processing or
// pending events must not move it back.
func CanDowngrade(current models.LedgerStatus) bool {
	return current != models.LedgerPaid
}

// TransitionAllowed reports whether an event-driven transition to
// target may apply. Events arrive at least once and out of order: a
// redelivered failure or cancellation must never downgrade a record
// that a later success already settled, so every non-paid target is
// gated on CanDowngrade.
func TransitionAllowed(current, target models.LedgerStatus) bool {
	if current == target {
		return false
	}
	if target == models.LedgerPaid {
		return true
	}
	return CanDowngrade(current)
}

// MandateActivation decides the pending→active transition. The success
// email fires only on a genuine pending→active edge that has not
// already been announced; repeated active events are silent.
func MandateActivation(current models.MandateState, emailSent bool) (transition, sendEmail bool) {
	if current != models.MandatePending {
		return false, false
	}
	return true, !emailSent
}

// HandleEvent applies one processor event. A missing family or record
// is logged and treated as success so the processor does not
// retry-storm; an internal failure returns an error so the processor
// redelivers.
func (s *ReconciliationService) HandleEvent(ctx context.Context, event stripe.Event) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seen := models.WebhookEvent{
			EventID:   event.ID,
			EventType: string(event.Type),
			Payload:   json.RawMessage(event.Data.Raw),
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).Create(&seen)
		if res.Error != nil {
			return apperrors.Internal(res.Error)
		}
		if res.RowsAffected == 0 {
			log.Info().Str("event_id", event.ID).Str("type", string(event.Type)).
				Msg("event already processed, skipping")
			return nil
		}

		switch event.Type {
		case "setup_intent.created", "setup_intent.succeeded":
			return s.handleSetupIntent(ctx, tx, event)
		case "mandate.updated":
			return s.handleMandateUpdated(ctx, tx, event)
		case "payment_intent.succeeded":
			return s.handlePaymentOutcome(ctx, tx, event, models.LedgerPaid)
		case "payment_intent.payment_failed":
			return s.handlePaymentOutcome(ctx, tx, event, models.LedgerFailed)
		case "payment_intent.canceled":
			return s.handlePaymentOutcome(ctx, tx, event, models.LedgerCancelled)
		case "payment_intent.processing":
			return s.handlePaymentOutcome(ctx, tx, event, models.LedgerPending)
		case "charge.pending":
			return s.handleCharge(ctx, tx, event, models.LedgerPending)
		case "charge.failed":
			return s.handleCharge(ctx, tx, event, models.LedgerFailed)
		default:
			log.Debug().Str("type", string(event.Type)).Msg("ignoring unhandled event type")
			return nil
		}
	})
}

// handleSetupIntent records the start of mandate setup: status pending,
// ids captured, "verify your mandate" email. A family that already has
// an active mandate is left untouched.
func (s *ReconciliationService) handleSetupIntent(ctx context.Context, tx *gorm.DB, event stripe.Event) error {
	var si stripe.SetupIntent
	if err := json.Unmarshal(event.Data.Raw, &si); err != nil {
		log.Error().Str("event_id", event.ID).Err(err).Msg("malformed setup_intent payload")
		return nil
	}
	if si.Customer == nil {
		return nil
	}

	var family models.Family
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("dd_customer_id = ?", si.Customer.ID).First(&family).Error
	if err == gorm.ErrRecordNotFound {
		log.Warn().Str("customer_id", si.Customer.ID).Msg("setup intent for unknown family, ignoring")
		return nil
	}
	if err != nil {
		return apperrors.Internal(err)
	}
	if family.DirectDebit.Status == models.MandateActive {
		return nil
	}

	now := time.Now()
	updates := map[string]interface{}{
		"dd_status":     models.MandatePending,
		"dd_setup_date": &now,
	}
	if si.Mandate != nil {
		updates["dd_mandate_id"] = si.Mandate.ID
	}
	if si.PaymentMethod != nil {
		updates["dd_payment_method_id"] = si.PaymentMethod.ID
	}
	if err := tx.Model(&family).Updates(updates).Error; err != nil {
		return apperrors.Internal(err)
	}

	if event.Type == "setup_intent.created" && family.DirectDebit.Status != models.MandatePending {
		s.email.SendMandateVerify(family.Email)
	}
	return nil
}

// handleMandateUpdated mirrors the processor's mandate status. The
// local state machine only ever activates from pending, and the ready
// email is guarded by the persisted SuccessEmailSentAt flag, so
// duplicate active events never re-send it.
func (s *ReconciliationService) handleMandateUpdated(ctx context.Context, tx *gorm.DB, event stripe.Event) error {
	var mandate stripe.Mandate
	if err := json.Unmarshal(event.Data.Raw, &mandate); err != nil {
		log.Error().Str("event_id", event.ID).Err(err).Msg("malformed mandate payload")
		return nil
	}

	var family models.Family
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("dd_mandate_id = ?", mandate.ID).First(&family).Error
	if err == gorm.ErrRecordNotFound {
		log.Warn().Str("mandate_id", mandate.ID).Msg("mandate event for unknown family, ignoring")
		return nil
	}
	if err != nil {
		return apperrors.Internal(err)
	}

	updates := map[string]interface{}{
		"dd_mandate_status": string(mandate.Status),
	}

	switch mandate.Status {
	case stripe.MandateStatusActive:
		transition, sendEmail := MandateActivation(
			family.DirectDebit.Status, family.DirectDebit.SuccessEmailSentAt != nil)
		if !transition {
			// Mirror the processor status but never synthesize a local
			// activation from a non-pending state.
			if err := tx.Model(&family).Updates(updates).Error; err != nil {
				return apperrors.Internal(err)
			}
			return nil
		}
		now := time.Now()
		updates["dd_status"] = models.MandateActive
		updates["dd_active_date"] = &now
		if sendEmail {
			updates["dd_success_email_sent_at"] = &now
		}
		if err := tx.Model(&family).Updates(updates).Error; err != nil {
			return apperrors.Internal(err)
		}
		if sendEmail {
			s.email.SendMandateReady(family.Email)
		}

	case stripe.MandateStatusInactive:
		updates["dd_status"] = models.MandateCancelled
		if err := tx.Model(&family).Updates(updates).Error; err != nil {
			return apperrors.Internal(err)
		}
		s.email.SendMandateFailed(family.Email)

	default:
		if err := tx.Model(&family).Updates(updates).Error; err != nil {
			return apperrors.Internal(err)
		}
	}
	return nil
}

// handlePaymentOutcome transitions the ledger record matched by the
// event's payment intent id.
func (s *ReconciliationService) handlePaymentOutcome(ctx context.Context, tx *gorm.DB, event stripe.Event, target models.LedgerStatus) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		log.Error().Str("event_id", event.ID).Err(err).Msg("malformed payment_intent payload")
		return nil
	}
	return s.transitionByIntent(ctx, tx, pi.ID, target)
}

// handleCharge resolves the charge's parent payment intent and applies
// the same transition.
func (s *ReconciliationService) handleCharge(ctx context.Context, tx *gorm.DB, event stripe.Event, target models.LedgerStatus) error {
	var ch stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
		log.Error().Str("event_id", event.ID).Err(err).Msg("malformed charge payload")
		return nil
	}
	if ch.PaymentIntent == nil {
		return nil
	}
	return s.transitionByIntent(ctx, tx, ch.PaymentIntent.ID, target)
}

// transitionByIntent is the core of the state machine. The matching key
// is always the payment intent id recorded in the ledger audit trail.
// No matching record is an idempotent no-op: the record-creation path
// has not run yet and fabricating one here would corrupt the ledger.
func (s *ReconciliationService) transitionByIntent(ctx context.Context, tx *gorm.DB, intentID string, target models.LedgerStatus) error {
	if intentID == "" {
		return nil
	}

	var entry models.PaymentEntry
	err := tx.Where("processor_payment_intent_id = ?", intentID).First(&entry).Error
	if err == gorm.ErrRecordNotFound {
		log.Info().Str("intent_id", intentID).Msg("no ledger record matches payment intent yet, ignoring")
		return nil
	}
	if err != nil {
		return apperrors.Internal(err)
	}

	var record models.LedgerRecord
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&record, entry.LedgerRecordID).Error
	if err != nil {
		return apperrors.Internal(err)
	}

	if !TransitionAllowed(record.Status, target) {
		if record.Status != target {
			log.Info().Uint("record_id", record.ID).Str("intent_id", intentID).
				Str("target", string(target)).
				Msg("late event for settled record, ignoring")
		}
		return nil
	}

	switch target {
	case models.LedgerPaid:
		// Settle every charge in full; the collection entry already holds
		// the gross amount, so the conservation law balances here.
		if err := tx.Model(&models.MonthCharge{}).
			Where("ledger_record_id = ?", record.ID).
			Update("paid", gorm.Expr("discounted_fee")).Error; err != nil {
			return apperrors.Internal(err)
		}
		if err := tx.Exec(`
			UPDATE ledger_students ls
			SET subtotal = COALESCE((
				SELECT SUM(mc.paid) FROM month_charges mc
				WHERE mc.ledger_record_id = ls.ledger_record_id AND mc.student_id = ls.student_id
			), 0)
			WHERE ls.ledger_record_id = ?`, record.ID).Error; err != nil {
			return apperrors.Internal(err)
		}
		if err := tx.Model(&record).Updates(map[string]interface{}{
			"status":    models.LedgerPaid,
			"remaining": 0,
		}).Error; err != nil {
			return apperrors.Internal(err)
		}

		var family models.Family
		if err := tx.First(&family, record.FamilyID).Error; err == nil {
			s.email.SendDirectDebitSuccess(family.Email, record.PaymentType, entry.Amount)
		} else {
			log.Warn().Uint("family_id", record.FamilyID).Err(err).
				Msg("record settled but family lookup failed, skipping success email")
		}

	case models.LedgerCancelled:
		// Free the billing slots so the months can be rebilled.
		if err := tx.Model(&models.MonthCharge{}).
			Where("ledger_record_id = ?", record.ID).
			Update("billing_key", nil).Error; err != nil {
			return apperrors.Internal(err)
		}
		if err := tx.Model(&record).Update("status", models.LedgerCancelled).Error; err != nil {
			return apperrors.Internal(err)
		}

	default:
		if err := tx.Model(&record).Update("status", target).Error; err != nil {
			return apperrors.Internal(err)
		}
	}

	s.cache.InvalidateFamily(ctx, record.FamilyID)
	return nil
}
