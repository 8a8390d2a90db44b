package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"schoolfees_app/internal/apperrors"
	"schoolfees_app/internal/models"
	"schoolfees_app/internal/services"
)

// FamilyHandler exposes read access to the roster and the direct-debit
// setup entrypoint. The billing core never writes roster fields;
// enrollment and fees are maintained by the surrounding admin system.
type FamilyHandler struct {
	db     *gorm.DB
	stripe *services.StripeService
}

func NewFamilyHandler(db *gorm.DB, stripe *services.StripeService) *FamilyHandler {
	return &FamilyHandler{db: db, stripe: stripe}
}

// GetFamily returns the family with its students and mandate state.
func (h *FamilyHandler) GetFamily(c echo.Context) error {
	familyID, err := parseUintParam(c, "id")
	if err != nil {
		return err
	}

	var family models.Family
	err = h.db.WithContext(c.Request().Context()).
		Preload("Students").First(&family, familyID).Error
	if err == gorm.ErrRecordNotFound {
		return apperrors.NotFound("family")
	}
	if err != nil {
		return apperrors.Internal(err)
	}
	return c.JSON(http.StatusOK, family)
}

// SetupDirectDebit ensures a processor customer exists for the family
// and opens a mandate SetupIntent. The mandate only becomes active via
// processor webhooks; this endpoint never activates anything locally.
func (h *FamilyHandler) SetupDirectDebit(c echo.Context) error {
	familyID, err := parseUintParam(c, "id")
	if err != nil {
		return err
	}

	var req MandateSetupRequest
	if err := bindAndValidate(c.Bind, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()

	var family models.Family
	err = h.db.WithContext(ctx).First(&family, familyID).Error
	if err == gorm.ErrRecordNotFound {
		return apperrors.NotFound("family")
	}
	if err != nil {
		return apperrors.Internal(err)
	}
	if family.Email == "" {
		return apperrors.Validation("family has no email address on record")
	}
	if family.HasActiveMandate() {
		return apperrors.Conflict("family already has an active mandate")
	}

	customerID, err := h.stripe.EnsureCustomer(ctx, &family)
	if err != nil {
		return err
	}

	si, err := h.stripe.CreateMandateSetup(ctx, customerID)
	if err != nil {
		return err
	}

	err = h.db.WithContext(ctx).Model(&family).Updates(map[string]interface{}{
		"dd_customer_id":           customerID,
		"dd_preferred_payment_day": req.PreferredPaymentDay,
	}).Error
	if err != nil {
		return apperrors.Internal(err)
	}

	return c.JSON(http.StatusOK, map[string]string{
		"customer_id":   customerID,
		"setup_intent":  si.ID,
		"client_secret": si.ClientSecret,
	})
}
