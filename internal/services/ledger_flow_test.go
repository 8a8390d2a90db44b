package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v76"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"schoolfees_app/internal/models"
)

// These tests exercise the transactional billing invariants against a
// real database. Set TEST_DATABASE_URL and TEST_REDIS_URL (e.g. the
// local docker compose services) to run them; they skip otherwise.

type testEnv struct {
	db             *gorm.DB
	payments       *PaymentService
	reconciliation *ReconciliationService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	redisURL := os.Getenv("TEST_REDIS_URL")
	if dsn == "" || redisURL == "" {
		t.Skip("TEST_DATABASE_URL and TEST_REDIS_URL not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cache, err := NewRedisCache(redisURL)
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	email := NewEmailService("", "", "", "", "noreply@test.local")
	cutover := time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC)
	return &testEnv{
		db:             db,
		payments:       NewPaymentService(db, cache, email, cutover, 2000),
		reconciliation: NewReconciliationService(db, cache, email),
	}
}

// seedFamily creates a fresh family and enrolled student per test so
// billing keys never collide across runs.
func seedFamily(t *testing.T, db *gorm.DB, monthlyFee models.Pence) (models.Family, models.Student) {
	t.Helper()
	family := models.Family{
		Name:  "Test Family",
		Email: fmt.Sprintf("family-%d@test.local", time.Now().UnixNano()),
	}
	if err := db.Create(&family).Error; err != nil {
		t.Fatalf("create family: %v", err)
	}
	student := models.Student{
		FamilyID:    family.ID,
		Name:        "Amira",
		MonthlyFee:  monthlyFee,
		JoiningDate: time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC),
		Status:      models.EnrollmentEnrolled,
	}
	if err := db.Create(&student).Error; err != nil {
		t.Fatalf("create student: %v", err)
	}
	return family, student
}

func intentEvent(eventID, intentID string, eventType stripe.EventType) stripe.Event {
	raw, _ := json.Marshal(map[string]interface{}{"id": intentID})
	return stripe.Event{
		ID:   eventID,
		Type: eventType,
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestRecordMonthlyPaymentConservation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	family, student := seedFamily(t, env.db, 5000)

	alloc := func(amount models.Pence) []MonthAllocation {
		return []MonthAllocation{{StudentID: student.ID, Year: 2025, Month: 9, Amount: amount}}
	}
	meta := PaymentMeta{Method: "cash", Date: time.Now()}

	records, err := env.payments.RecordMonthlyPayment(ctx, family.ID, alloc(2000), meta)
	if err != nil {
		t.Fatalf("first payment: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records; want 1", len(records))
	}
	if records[0].Status != models.LedgerPartial {
		t.Errorf("status after partial = %q; want partial", records[0].Status)
	}

	// The second payment for the same month must land on the same
	// record, not create a duplicate.
	if _, err := env.payments.RecordMonthlyPayment(ctx, family.ID, alloc(3000), meta); err != nil {
		t.Fatalf("second payment: %v", err)
	}

	var liveRecords int64
	err = env.db.Model(&models.LedgerRecord{}).
		Where("family_id = ? AND year = ? AND month = ? AND status <> ?",
			family.ID, 2025, 9, models.LedgerCancelled).
		Count(&liveRecords).Error
	if err != nil {
		t.Fatalf("count records: %v", err)
	}
	if liveRecords != 1 {
		t.Fatalf("found %d live records for the month; want 1", liveRecords)
	}

	var record models.LedgerRecord
	if err := env.db.Preload("Charges").Preload("Payments").First(&record, records[0].ID).Error; err != nil {
		t.Fatalf("reload record: %v", err)
	}
	var chargePaid models.Pence
	for _, c := range record.Charges {
		chargePaid += c.Paid
	}
	if chargePaid != record.TotalPaid() {
		t.Errorf("conservation broken: charges hold %d, audit trail holds %d", chargePaid, record.TotalPaid())
	}
	if record.Status != models.LedgerPaid || record.Remaining != 0 {
		t.Errorf("record = %q remaining %d; want paid remaining 0", record.Status, record.Remaining)
	}

	// A settled record accepts no further payments.
	if _, err := env.payments.TopUpRecord(ctx, record.ID, alloc(100), meta); err == nil {
		t.Error("top-up on a settled record should be rejected")
	}
}

func TestHandleEventReplayAndSettledRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	family, student := seedFamily(t, env.db, 5000)

	nano := time.Now().UnixNano()
	intentID := fmt.Sprintf("pi_test_%d", nano)
	meta := PaymentMeta{Method: "direct_debit", Date: time.Now(), ProcessorPaymentIntentID: intentID}
	allocs := []MonthAllocation{{StudentID: student.ID, Year: 2025, Month: 9, Amount: 0}}

	records, err := env.payments.RecordMonthlyPayment(ctx, family.ID, allocs, meta)
	if err != nil {
		t.Fatalf("record payment: %v", err)
	}
	recordID := records[0].ID

	success := intentEvent(fmt.Sprintf("evt_test_%d_ok", nano), intentID, "payment_intent.succeeded")
	if err := env.reconciliation.HandleEvent(ctx, success); err != nil {
		t.Fatalf("success event: %v", err)
	}

	var record models.LedgerRecord
	if err := env.db.First(&record, recordID).Error; err != nil {
		t.Fatalf("reload record: %v", err)
	}
	if record.Status != models.LedgerPaid {
		t.Fatalf("status after success = %q; want paid", record.Status)
	}

	// Redelivery of the same event id is a no-op recorded exactly once.
	if err := env.reconciliation.HandleEvent(ctx, success); err != nil {
		t.Fatalf("replayed event: %v", err)
	}
	var seen int64
	if err := env.db.Model(&models.WebhookEvent{}).Where("event_id = ?", success.ID).Count(&seen).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if seen != 1 {
		t.Errorf("event logged %d times; want 1", seen)
	}

	// A late failure or cancellation from before the settling success
	// must not downgrade the record or release its billing slots.
	late := intentEvent(fmt.Sprintf("evt_test_%d_fail", nano), intentID, "payment_intent.payment_failed")
	if err := env.reconciliation.HandleEvent(ctx, late); err != nil {
		t.Fatalf("late failure event: %v", err)
	}
	cancel := intentEvent(fmt.Sprintf("evt_test_%d_cancel", nano), intentID, "payment_intent.canceled")
	if err := env.reconciliation.HandleEvent(ctx, cancel); err != nil {
		t.Fatalf("late cancel event: %v", err)
	}

	if err := env.db.First(&record, recordID).Error; err != nil {
		t.Fatalf("reload record: %v", err)
	}
	if record.Status != models.LedgerPaid {
		t.Errorf("status after late events = %q; want paid", record.Status)
	}
	var unclaimed int64
	err = env.db.Model(&models.MonthCharge{}).
		Where("ledger_record_id = ? AND billing_key IS NULL", recordID).
		Count(&unclaimed).Error
	if err != nil {
		t.Fatalf("count charges: %v", err)
	}
	if unclaimed != 0 {
		t.Errorf("%d billing slots released on a settled record; want 0", unclaimed)
	}
}
