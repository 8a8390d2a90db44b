package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"schoolfees_app/internal/apperrors"
	"schoolfees_app/internal/models"
	"schoolfees_app/internal/services"
)

// PaymentHandler exposes the payment recorder over HTTP.
type PaymentHandler struct {
	db       *gorm.DB
	payments *services.PaymentService
}

func NewPaymentHandler(db *gorm.DB, payments *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{db: db, payments: payments}
}

// CreatePayment records a new monthly or admission payment.
func (h *PaymentHandler) CreatePayment(c echo.Context) error {
	var req CreatePaymentRequest
	if err := bindAndValidate(c.Bind, &req); err != nil {
		return err
	}

	paymentType := models.PaymentType(req.PaymentType)
	meta := services.PaymentMeta{
		Method: req.Method,
		Date:   time.Now(),
		OnHold: paymentType.IsOnHold(),
	}

	if paymentType.IsAdmission() {
		if req.StudentID == 0 || req.Amount <= 0 {
			return apperrors.Validation("admission payments require student_id and a positive amount")
		}
		record, err := h.payments.RecordAdmissionPayment(
			c.Request().Context(), req.FamilyID, req.StudentID,
			models.PenceFromPounds(req.Amount), meta)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, renderRecord(*record))
	}

	if len(req.Allocations) == 0 {
		return apperrors.Validation("monthly payments require at least one allocation")
	}
	allocs := make([]services.MonthAllocation, 0, len(req.Allocations))
	for _, a := range req.Allocations {
		allocs = append(allocs, services.MonthAllocation{
			StudentID: a.StudentID,
			Year:      a.Year,
			Month:     a.Month,
			Amount:    models.PenceFromPounds(a.Amount),
		})
	}

	records, err := h.payments.RecordMonthlyPayment(c.Request().Context(), req.FamilyID, allocs, meta)
	if err != nil {
		return err
	}

	out := make([]RecordResponse, 0, len(records))
	for _, r := range records {
		out = append(out, renderRecord(r))
	}
	return c.JSON(http.StatusCreated, out)
}

// TopUpPayment applies a partial top-up to an existing record.
// Admission records are rejected with instructions to create a new
// payment instead.
func (h *PaymentHandler) TopUpPayment(c echo.Context) error {
	recordID, err := parseUintParam(c, "id")
	if err != nil {
		return err
	}

	var req TopUpRequest
	if err := bindAndValidate(c.Bind, &req); err != nil {
		return err
	}

	allocs := make([]services.MonthAllocation, 0, len(req.Allocations))
	for _, a := range req.Allocations {
		allocs = append(allocs, services.MonthAllocation{
			StudentID: a.StudentID,
			Year:      a.Year,
			Month:     a.Month,
			Amount:    models.PenceFromPounds(a.Amount),
		})
	}

	record, err := h.payments.TopUpRecord(c.Request().Context(), recordID, allocs, services.PaymentMeta{
		Method: req.Method,
		Date:   time.Now(),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, renderRecord(*record))
}

// GetPayment fetches one ledger record with its children.
func (h *PaymentHandler) GetPayment(c echo.Context) error {
	recordID, err := parseUintParam(c, "id")
	if err != nil {
		return err
	}

	var record models.LedgerRecord
	err = h.db.WithContext(c.Request().Context()).
		Preload("Students").Preload("Charges").Preload("Payments").
		First(&record, recordID).Error
	if err == gorm.ErrRecordNotFound {
		return apperrors.NotFound("ledger record")
	}
	if err != nil {
		return apperrors.Internal(err)
	}
	return c.JSON(http.StatusOK, renderRecord(record))
}

// ListFamilyPayments lists a family's ledger records, newest first.
func (h *PaymentHandler) ListFamilyPayments(c echo.Context) error {
	familyID, err := parseUintParam(c, "id")
	if err != nil {
		return err
	}

	var records []models.LedgerRecord
	err = h.db.WithContext(c.Request().Context()).
		Preload("Students").Preload("Charges").Preload("Payments").
		Where("family_id = ?", familyID).
		Order("created_at desc").
		Find(&records).Error
	if err != nil {
		return apperrors.Internal(err)
	}

	out := make([]RecordResponse, 0, len(records))
	for _, r := range records {
		out = append(out, renderRecord(r))
	}
	return c.JSON(http.StatusOK, out)
}

func parseUintParam(c echo.Context, name string) (uint, error) {
	v, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		return 0, apperrors.Validation("invalid " + name + " parameter")
	}
	return uint(v), nil
}
