package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"schoolfees_app/internal/models"
	"schoolfees_app/internal/services"
)

// AttendanceHandler ingests register entries for the consecutive
// absence/lateness counters.
type AttendanceHandler struct {
	attendance *services.AttendanceService
}

func NewAttendanceHandler(attendance *services.AttendanceService) *AttendanceHandler {
	return &AttendanceHandler{attendance: attendance}
}

// RecordAttendance applies one register entry.
func (h *AttendanceHandler) RecordAttendance(c echo.Context) error {
	var req AttendanceRequest
	if err := bindAndValidate(c.Bind, &req); err != nil {
		return err
	}

	err := h.attendance.RecordAttendance(c.Request().Context(), req.StudentID, models.AttendanceStatus(req.Status))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
