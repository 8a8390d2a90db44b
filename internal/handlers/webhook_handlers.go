package handlers

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v76/webhook"

	"schoolfees_app/internal/apperrors"
	"schoolfees_app/internal/services"
)

// WebhookHandler is the processor's ingress. Signature verification
// happens here, at the transport boundary; the reconciliation service
// only ever sees authenticated events.
type WebhookHandler struct {
	reconciliation *services.ReconciliationService
	signingSecret  string
}

func NewWebhookHandler(reconciliation *services.ReconciliationService, signingSecret string) *WebhookHandler {
	return &WebhookHandler{reconciliation: reconciliation, signingSecret: signingSecret}
}

// HandleStripeWebhook verifies and dispatches one event delivery. A
// verification failure is a 400 with no processing; a reconciliation
// failure is a 500 so the processor redelivers per its retry policy.
func (h *WebhookHandler) HandleStripeWebhook(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable payload")
	}

	event, err := webhook.ConstructEvent(payload, c.Request().Header.Get("Stripe-Signature"), h.signingSecret)
	if err != nil {
		log.Warn().Err(err).Msg("webhook signature verification failed")
		return echo.NewHTTPError(http.StatusBadRequest, "signature verification failed")
	}

	if err := h.reconciliation.HandleEvent(c.Request().Context(), event); err != nil {
		// Only infrastructure failures are worth a redelivery; a taxonomy
		// rejection would fail identically every time, so acknowledge it.
		if !apperrors.IsKind(err, apperrors.KindInternal) {
			log.Warn().Str("event_id", event.ID).Str("type", string(event.Type)).Err(err).
				Msg("event rejected, acknowledging to stop redelivery")
			return c.JSON(http.StatusOK, map[string]string{"status": "rejected"})
		}
		log.Error().Str("event_id", event.ID).Str("type", string(event.Type)).Err(err).
			Msg("event processing failed, processor will retry")
		return echo.NewHTTPError(http.StatusInternalServerError, "event processing failed")
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
