package services

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog/log"

	"schoolfees_app/internal/models"
)

// EmailService sends billing notifications over SMTP. Every send in the
// billing core is fire-and-forget: a delivery failure is logged and
// never rolls back the ledger mutation that triggered it.
type EmailService struct {
	host     string
	port     string
	user     string
	password string
	from     string
}

func NewEmailService(host, port, user, password, from string) *EmailService {
	return &EmailService{
		host:     host,
		port:     port,
		user:     user,
		password: password,
		from:     from,
	}
}

// SendEmail delivers a plain-text message.
func (s *EmailService) SendEmail(to []string, subject, body string) error {
	if s.host == "" || s.port == "" || s.user == "" || s.password == "" {
		return fmt.Errorf("SMTP credentials not fully configured")
	}

	auth := smtp.PlainAuth("", s.user, s.password, s.host)

	message := []byte(fmt.Sprintf("To: %s\r\n"+
		"Subject: %s\r\n"+
		"\r\n"+
		"%s\r\n", to[0], subject, body))

	addr := fmt.Sprintf("%s:%s", s.host, s.port)

	if err := smtp.SendMail(addr, auth, s.from, to, message); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

// SendAsync delivers in a goroutine, logging failures. kind labels the
// notification in logs for observability.
func (s *EmailService) SendAsync(kind, to, subject, body string) {
	go func() {
		if err := s.SendEmail([]string{to}, subject, body); err != nil {
			log.Error().Str("kind", kind).Str("to", to).Err(err).Msg("notification send failed")
			return
		}
		log.Info().Str("kind", kind).Str("to", to).Msg("notification sent")
	}()
}

// PaymentMonthLine is one per-student, per-month line of a payment
// confirmation.
type PaymentMonthLine struct {
	StudentName string
	Year        int
	Month       int
	Paid        models.Pence
	Expected    models.Pence
	Remaining   models.Pence
}

// SendPaymentConfirmation sends the combined confirmation covering all
// months settled in one user-facing payment.
func (s *EmailService) SendPaymentConfirmation(to string, total models.Pence, lines []PaymentMonthLine) {
	var b strings.Builder
	fmt.Fprintf(&b, "Thank you, we have received your payment of %s.\n\n", total)
	for _, l := range lines {
		fmt.Fprintf(&b, "- %s, %04d-%02d: paid %s of %s (remaining %s)\n",
			l.StudentName, l.Year, l.Month, l.Paid, l.Expected, l.Remaining)
	}
	s.SendAsync("payment_confirmation", to, "Payment received", b.String())
}

// SendPaymentOnHold sends the pending-verification variant used for
// bank transfers awaiting manual admin confirmation.
func (s *EmailService) SendPaymentOnHold(to string, total models.Pence, lines []PaymentMonthLine) {
	var b strings.Builder
	fmt.Fprintf(&b, "We have recorded your payment of %s. It is pending verification and will be confirmed shortly.\n\n", total)
	for _, l := range lines {
		fmt.Fprintf(&b, "- %s, %04d-%02d: %s\n", l.StudentName, l.Year, l.Month, l.Paid)
	}
	s.SendAsync("payment_on_hold", to, "Payment received, pending verification", b.String())
}

// SendAdmissionConfirmation covers the admission settlement.
func (s *EmailService) SendAdmissionConfirmation(to, studentName string, admissionPaid, firstMonthPaid models.Pence) {
	body := fmt.Sprintf(
		"Admission payment received for %s.\nAdmission fee: %s\nFirst month: %s\n",
		studentName, admissionPaid, firstMonthPaid)
	s.SendAsync("admission_confirmation", to, "Admission payment received", body)
}

// SendMandateVerify asks the payer to complete mandate setup.
func (s *EmailService) SendMandateVerify(to string) {
	s.SendAsync("mandate_verify", to,
		"Verify your direct debit mandate",
		"Your direct debit setup has started. Please verify your mandate to enable automatic fee collection.\n")
}

// SendMandateReady confirms the mandate is active.
func (s *EmailService) SendMandateReady(to string) {
	s.SendAsync("mandate_ready", to,
		"Direct debit mandate active",
		"Your direct debit mandate is now active. Monthly fees will be collected automatically on your preferred payment date.\n")
}

// SendMandateFailed notifies that the mandate was cancelled or revoked.
func (s *EmailService) SendMandateFailed(to string) {
	s.SendAsync("mandate_failed", to,
		"Direct debit mandate cancelled",
		"Your direct debit mandate is no longer active. Please set up a new mandate or pay manually.\n")
}

// SendDirectDebitSuccess confirms a processor-settled payment.
func (s *EmailService) SendDirectDebitSuccess(to string, paymentType models.PaymentType, amount models.Pence) {
	subject := "Monthly fee payment successful"
	body := fmt.Sprintf("Your monthly fee payment of %s has been collected successfully.\n", amount)
	if paymentType.IsAdmission() {
		subject = "Admission fee payment successful"
		body = fmt.Sprintf("Your admission fee payment of %s has been collected successfully.\n", amount)
	}
	s.SendAsync("payment_success", to, subject, body)
}

// SendPaymentReminder lists a family's outstanding months.
func (s *EmailService) SendPaymentReminder(to string, months []PaymentMonthLine, total models.Pence) {
	var b strings.Builder
	fmt.Fprintf(&b, "You have outstanding school fees totalling %s:\n\n", total)
	for _, l := range months {
		fmt.Fprintf(&b, "- %s, %04d-%02d: %s outstanding\n", l.StudentName, l.Year, l.Month, l.Remaining)
	}
	b.WriteString("\nPlease arrange payment at your earliest convenience.\n")
	s.SendAsync("payment_reminder", to, "Outstanding school fees", b.String())
}

// SendAttendanceAlert flags a consecutive absence/lateness streak.
func (s *EmailService) SendAttendanceAlert(to, studentName, kind string, count int) {
	body := fmt.Sprintf("%s has been %s %d times in a row. Please contact the school office.\n",
		studentName, kind, count)
	s.SendAsync("attendance_alert", to, "Attendance alert: "+studentName, body)
}
