package services

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"schoolfees_app/internal/apperrors"
	"schoolfees_app/internal/models"
)

// StripeService wraps a constructed stripe client instance. The client
// is injected where needed; nothing mutates package-level SDK state, so
// tests and concurrent requests never share hidden configuration.
type StripeService struct {
	api *client.API
}

// NewStripeService builds a client with a bounded-timeout HTTP backend.
// Every processor call inherits the timeout; none of the ledger paths
// may block indefinitely on the processor.
func NewStripeService(secretKey string) *StripeService {
	api := &client.API{}
	api.Init(secretKey, stripe.NewBackends(&http.Client{Timeout: 15 * time.Second}))
	return &StripeService{api: api}
}

// EnsureCustomer returns the processor customer for the family,
// verifying a stored id still resolves. A stored id the processor no
// longer knows (resource_missing) is treated as a signal to create a
// fresh customer, not as a fatal error.
func (s *StripeService) EnsureCustomer(ctx context.Context, family *models.Family) (string, error) {
	if id := family.DirectDebit.CustomerID; id != "" {
		params := &stripe.CustomerParams{Params: stripe.Params{Context: ctx}}
		_, err := s.api.Customers.Get(id, params)
		if err == nil {
			return id, nil
		}
		if !isResourceMissing(err) {
			return "", apperrors.External("processor customer lookup failed", err)
		}
		log.Warn().Uint("family_id", family.ID).Str("customer_id", id).
			Msg("stored processor customer missing, creating a new one")
	}

	params := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
		Name:   stripe.String(family.Name),
		Email:  stripe.String(family.Email),
	}
	params.AddMetadata("family_id", strconv.FormatUint(uint64(family.ID), 10))

	cust, err := s.api.Customers.New(params)
	if err != nil {
		return "", apperrors.External("processor customer creation failed", err)
	}
	return cust.ID, nil
}

// CreateMandateSetup starts a bacs_debit SetupIntent for the customer.
// The resulting client secret is handed to the payer UI; the mandate
// itself only becomes active through webhook events.
func (s *StripeService) CreateMandateSetup(ctx context.Context, customerID string) (*stripe.SetupIntent, error) {
	params := &stripe.SetupIntentParams{
		Params:             stripe.Params{Context: ctx},
		Customer:           stripe.String(customerID),
		PaymentMethodTypes: stripe.StringSlice([]string{"bacs_debit"}),
	}
	si, err := s.api.SetupIntents.New(params)
	if err != nil {
		return nil, apperrors.External("processor mandate setup failed", err)
	}
	return si, nil
}

// GetMandate reads the authoritative mandate status from the processor.
func (s *StripeService) GetMandate(ctx context.Context, mandateID string) (*stripe.Mandate, error) {
	params := &stripe.MandateParams{Params: stripe.Params{Context: ctx}}
	m, err := s.api.Mandates.Get(mandateID, params)
	if err != nil {
		return nil, apperrors.External("processor mandate lookup failed", err)
	}
	return m, nil
}

// CollectPayment creates a confirmed off-session PaymentIntent against
// the family's stored payment method. reference ties the intent back to
// the ledger record it should settle.
func (s *StripeService) CollectPayment(ctx context.Context, customerID, paymentMethodID string, amount models.Pence, reference string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Params:             stripe.Params{Context: ctx},
		Amount:             stripe.Int64(int64(amount)),
		Currency:           stripe.String(string(stripe.CurrencyGBP)),
		Customer:           stripe.String(customerID),
		PaymentMethod:      stripe.String(paymentMethodID),
		PaymentMethodTypes: stripe.StringSlice([]string{"bacs_debit"}),
		Confirm:            stripe.Bool(true),
		OffSession:         stripe.Bool(true),
	}
	params.AddMetadata("reference", reference)

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, apperrors.External("processor payment collection failed", err)
	}
	return pi, nil
}

// CancelPayment cancels an in-flight PaymentIntent.
func (s *StripeService) CancelPayment(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCancelParams{Params: stripe.Params{Context: ctx}}
	if _, err := s.api.PaymentIntents.Cancel(intentID, params); err != nil {
		return apperrors.External("processor payment cancellation failed", err)
	}
	return nil
}

func isResourceMissing(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.Code == stripe.ErrorCodeResourceMissing
	}
	return false
}
