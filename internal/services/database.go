package services

import (
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"schoolfees_app/internal/models"
)

// InitDB opens the Postgres connection with pooling configured.
func InitDB(dsn string) (*gorm.DB, error) {
	// TranslateError turns driver unique-violation errors into
	// gorm.ErrDuplicatedKey, which the payment recorder relies on to
	// detect lost record-creation races and billing-slot conflicts.
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Info().Msg("database connection established")
	return db, nil
}

// AutoMigrate runs schema migrations for all models. The unique
// indexes it creates (MonthCharge.BillingKey, WebhookEvent.EventID,
// LedgerRecord.Reference, the partial family-month index on
// ledger_records) are load-bearing: the billing invariants rely on
// them, not on application-level find-or-create checks.
func AutoMigrate(db *gorm.DB) error {
	log.Info().Msg("running database migrations")

	err := db.AutoMigrate(
		&models.Family{},
		&models.Student{},
		&models.LedgerRecord{},
		&models.LedgerStudent{},
		&models.MonthCharge{},
		&models.PaymentEntry{},
		&models.WebhookEvent{},
		&models.AttendanceCounter{},
		&models.ScheduledTask{},
		&models.ScheduledTaskHistory{},
	)
	if err != nil {
		return err
	}

	log.Info().Msg("database migrations completed")
	return nil
}
