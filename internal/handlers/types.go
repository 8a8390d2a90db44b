package handlers

import (
	"time"

	"github.com/go-playground/validator/v10"

	"schoolfees_app/internal/apperrors"
	"schoolfees_app/internal/models"
	"schoolfees_app/internal/services"
)

var validate = validator.New()

// bindAndValidate decodes the request body into dto and runs struct
// validation, translating failures into the error taxonomy.
func bindAndValidate(bind func(interface{}) error, dto interface{}) error {
	if err := bind(dto); err != nil {
		return apperrors.Validation("invalid request body")
	}
	if err := validate.Struct(dto); err != nil {
		var fields []apperrors.FieldError
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				fields = append(fields, apperrors.FieldError{
					Field:   fe.Field(),
					Message: "failed " + fe.Tag() + " validation",
				})
			}
		}
		return apperrors.Validation("request validation failed", fields...)
	}
	return nil
}

// AllocationRequest directs part of a payment at one student-month.
// Amounts cross the API in pounds and are converted to pence once,
// here at the boundary.
type AllocationRequest struct {
	StudentID uint    `json:"student_id" validate:"required"`
	Year      int     `json:"year" validate:"required,min=2000,max=2100"`
	Month     int     `json:"month" validate:"required,min=1,max=12"`
	Amount    float64 `json:"amount" validate:"required,gt=0"`
}

// CreatePaymentRequest creates a monthly or admission payment.
type CreatePaymentRequest struct {
	FamilyID    uint   `json:"family_id" validate:"required"`
	PaymentType string `json:"payment_type" validate:"required,oneof=admission admission_on_hold monthly monthly_on_hold"`
	Method      string `json:"method" validate:"required,oneof=card bank_transfer cash direct_debit"`

	// Monthly types.
	Allocations []AllocationRequest `json:"allocations,omitempty" validate:"omitempty,min=1,dive"`

	// Admission types.
	StudentID uint    `json:"student_id,omitempty"`
	Amount    float64 `json:"amount,omitempty" validate:"omitempty,gt=0"`
}

// TopUpRequest applies a further partial payment to an existing record.
type TopUpRequest struct {
	Method      string              `json:"method" validate:"required,oneof=card bank_transfer cash direct_debit"`
	Allocations []AllocationRequest `json:"allocations" validate:"required,min=1,dive"`
}

// AttendanceRequest is one register entry.
type AttendanceRequest struct {
	StudentID uint   `json:"student_id" validate:"required"`
	Status    string `json:"status" validate:"required,oneof=present absent late"`
}

// MandateSetupRequest starts direct-debit setup for a family.
type MandateSetupRequest struct {
	PreferredPaymentDay int `json:"preferred_payment_day" validate:"required,min=1,max=28"`
}

// ChargeResponse is the presentation of one student-month charge.
type ChargeResponse struct {
	StudentID     uint    `json:"student_id"`
	Year          int     `json:"year"`
	Month         int     `json:"month"`
	MonthlyFee    float64 `json:"monthly_fee"`
	DiscountedFee float64 `json:"discounted_fee"`
	Paid          float64 `json:"paid"`
}

// StudentLineResponse is the presentation of a record's per-student
// slice.
type StudentLineResponse struct {
	StudentID      uint    `json:"student_id"`
	Name           string  `json:"name"`
	Subtotal       float64 `json:"subtotal"`
	AdmissionFee   float64 `json:"admission_fee,omitempty"`
	AdmissionPaid  float64 `json:"admission_paid,omitempty"`
	FirstMonthFee  float64 `json:"first_month_fee,omitempty"`
	FirstMonthPaid float64 `json:"first_month_paid,omitempty"`
}

// PaymentEntryResponse is one audit-trail row.
type PaymentEntryResponse struct {
	Amount                   float64   `json:"amount"`
	Method                   string    `json:"method"`
	Date                     time.Time `json:"date"`
	ProcessorPaymentIntentID string    `json:"processor_payment_intent_id,omitempty"`
}

// RecordResponse is the presentation of a ledger record. All money is
// rendered in decimal pounds; pence never leave the service layer.
type RecordResponse struct {
	ID            uint                   `json:"id"`
	Reference     string                 `json:"reference"`
	FamilyID      uint                   `json:"family_id"`
	PaymentType   string                 `json:"payment_type"`
	Year          int                    `json:"year,omitempty"`
	Month         int                    `json:"month,omitempty"`
	ExpectedTotal float64                `json:"expected_total"`
	TotalPaid     float64                `json:"total_paid"`
	Remaining     float64                `json:"remaining"`
	Status        string                 `json:"status"`
	Students      []StudentLineResponse  `json:"students,omitempty"`
	Charges       []ChargeResponse       `json:"charges,omitempty"`
	Payments      []PaymentEntryResponse `json:"payments,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

func renderRecord(r models.LedgerRecord) RecordResponse {
	resp := RecordResponse{
		ID:            r.ID,
		Reference:     r.Reference,
		FamilyID:      r.FamilyID,
		PaymentType:   string(r.PaymentType),
		Year:          r.Year,
		Month:         r.Month,
		ExpectedTotal: r.ExpectedTotal.Pounds(),
		TotalPaid:     r.TotalPaid().Pounds(),
		Remaining:     r.Remaining.Pounds(),
		Status:        string(r.Status),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	for _, st := range r.Students {
		resp.Students = append(resp.Students, StudentLineResponse{
			StudentID:      st.StudentID,
			Name:           st.Name,
			Subtotal:       st.Subtotal.Pounds(),
			AdmissionFee:   st.AdmissionFee.Pounds(),
			AdmissionPaid:  st.AdmissionPaid.Pounds(),
			FirstMonthFee:  st.FirstMonthFee.Pounds(),
			FirstMonthPaid: st.FirstMonthPaid.Pounds(),
		})
	}
	for _, c := range r.Charges {
		resp.Charges = append(resp.Charges, ChargeResponse{
			StudentID:     c.StudentID,
			Year:          c.Year,
			Month:         c.Month,
			MonthlyFee:    c.MonthlyFee.Pounds(),
			DiscountedFee: c.DiscountedFee.Pounds(),
			Paid:          c.Paid.Pounds(),
		})
	}
	for _, p := range r.Payments {
		resp.Payments = append(resp.Payments, PaymentEntryResponse{
			Amount:                   p.Amount.Pounds(),
			Method:                   p.Method,
			Date:                     p.Date,
			ProcessorPaymentIntentID: p.ProcessorPaymentIntentID,
		})
	}
	return resp
}

// MonthOutstandingResponse renders one outstanding month in pounds.
type MonthOutstandingResponse struct {
	Year     int                          `json:"year"`
	Month    int                          `json:"month"`
	TotalDue float64                      `json:"total_due"`
	Students []StudentOutstandingResponse `json:"students"`
}

// StudentOutstandingResponse is one student's share of an outstanding
// month.
type StudentOutstandingResponse struct {
	StudentID   uint    `json:"student_id"`
	StudentName string  `json:"student_name"`
	Due         float64 `json:"due"`
	Paid        float64 `json:"paid"`
	Remaining   float64 `json:"remaining"`
	Partial     bool    `json:"partial"`
}

func renderOutstanding(months []services.MonthOutstanding) []MonthOutstandingResponse {
	out := make([]MonthOutstandingResponse, 0, len(months))
	for _, m := range months {
		mr := MonthOutstandingResponse{
			Year:     m.Year,
			Month:    m.Month,
			TotalDue: m.TotalDue.Pounds(),
		}
		for _, st := range m.Students {
			mr.Students = append(mr.Students, StudentOutstandingResponse{
				StudentID:   st.StudentID,
				StudentName: st.StudentName,
				Due:         st.Due.Pounds(),
				Paid:        st.Paid.Pounds(),
				Remaining:   st.Remaining.Pounds(),
				Partial:     st.Partial,
			})
		}
		out = append(out, mr)
	}
	return out
}
