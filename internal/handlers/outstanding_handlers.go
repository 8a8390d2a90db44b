package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"schoolfees_app/internal/apperrors"
	"schoolfees_app/internal/services"
)

// OutstandingHandler serves the unpaid-months queries behind dashboards
// and reminder tooling.
type OutstandingHandler struct {
	outstanding *services.OutstandingService
}

func NewOutstandingHandler(outstanding *services.OutstandingService) *OutstandingHandler {
	return &OutstandingHandler{outstanding: outstanding}
}

// FamilyUnpaidMonths returns the family's outstanding months grouped by
// calendar month, ascending.
func (h *OutstandingHandler) FamilyUnpaidMonths(c echo.Context) error {
	familyID, err := parseUintParam(c, "id")
	if err != nil {
		return err
	}
	asOf, err := parseAsOf(c)
	if err != nil {
		return err
	}

	months, err := h.outstanding.UnpaidMonthsForFamily(c.Request().Context(), familyID, asOf)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, renderOutstanding(months))
}

// StudentUnpaidMonths returns one student's outstanding months.
func (h *OutstandingHandler) StudentUnpaidMonths(c echo.Context) error {
	studentID, err := parseUintParam(c, "id")
	if err != nil {
		return err
	}
	asOf, err := parseAsOf(c)
	if err != nil {
		return err
	}

	months, err := h.outstanding.UnpaidMonthsForStudent(c.Request().Context(), studentID, asOf)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, renderOutstanding(months))
}

func parseAsOf(c echo.Context) (time.Time, error) {
	raw := c.QueryParam("as_of")
	if raw == "" {
		return time.Now(), nil
	}
	asOf, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, apperrors.Validation("as_of must be formatted YYYY-MM-DD")
	}
	return asOf, nil
}
