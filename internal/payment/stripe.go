package payment

import (
	"context"
	"strings"
	"time"

	ierr "homepro/internal/errors"
	"homepro/internal/logger"

	"github.com/cockroachdb/errors"
	"github.com/stripe/stripe-go/v82"
)

const ProviderStripe = "stripe"

// stripeAPI is the slice of the Stripe client the gateway uses.
type stripeAPI interface {
	CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error)
	RetrievePaymentIntent(ctx context.Context, id string, params *stripe.PaymentIntentRetrieveParams) (*stripe.PaymentIntent, error)
	CreateRefund(ctx context.Context, params *stripe.RefundCreateParams) (*stripe.Refund, error)
	RetrieveCustomer(ctx context.Context, id string) (*stripe.Customer, error)
}

type stripeClient struct {
	sc *stripe.Client
}

func (c stripeClient) CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error) {
	return c.sc.V1PaymentIntents.Create(ctx, params)
}

func (c stripeClient) RetrievePaymentIntent(ctx context.Context, id string, params *stripe.PaymentIntentRetrieveParams) (*stripe.PaymentIntent, error) {
	return c.sc.V1PaymentIntents.Retrieve(ctx, id, params)
}

func (c stripeClient) CreateRefund(ctx context.Context, params *stripe.RefundCreateParams) (*stripe.Refund, error) {
	return c.sc.V1Refunds.Create(ctx, params)
}

func (c stripeClient) RetrieveCustomer(ctx context.Context, id string) (*stripe.Customer, error) {
	return c.sc.V1Customers.Retrieve(ctx, id, nil)
}

// StripeGateway charges the customer's default payment method off-session.
type StripeGateway struct {
	api      stripeAPI
	currency string
}

func NewStripeGateway(secretKey, currency string) *StripeGateway {
	return &StripeGateway{
		api:      stripeClient{sc: stripe.NewClient(secretKey, nil)},
		currency: strings.ToLower(currency),
	}
}

func (g *StripeGateway) Charge(ctx context.Context, req ChargeRequest) (*Receipt, error) {
	paymentMethodID, err := g.defaultPaymentMethod(ctx, req.Payer)
	if err != nil {
		return nil, err
	}
	if paymentMethodID == "" {
		return nil, Declined("Add a payment method to your account", map[string]any{
			"account_id": req.Payer.AccountID,
		})
	}

	if req.Amount.IsZero() {
		return &Receipt{
			AccountID:      req.Payer.AccountID,
			Provider:       ProviderStripe,
			Amount:         req.Amount,
			Currency:       g.currency,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      time.Now(),
		}, nil
	}

	for n := 0; n < maxRecharges; n++ {
		key := ""
		if req.IdempotencyKey != "" {
			key = attemptKey(req.IdempotencyKey, n)
		}

		intent, err := g.api.CreatePaymentIntent(ctx, g.intentParams(req, paymentMethodID, key))
		if err != nil {
			return nil, classifyStripeError(err, req.Payer)
		}
		if intent.Status != stripe.PaymentIntentStatusSucceeded {
			return nil, Declined("The payment was not completed", map[string]any{
				"payment_intent_id": intent.ID,
				"status":            string(intent.Status),
			})
		}

		// a replayed key answers with the original intent as it was at the time
		if key != "" && replayed(intent) {
			refunded, err := g.refunded(ctx, intent.ID)
			if err != nil {
				return nil, err
			}
			if refunded {
				continue
			}
		}

		return &Receipt{
			ID:             intent.ID,
			AccountID:      req.Payer.AccountID,
			Provider:       ProviderStripe,
			Amount:         req.Amount,
			Currency:       g.currency,
			IdempotencyKey: key,
			CreatedAt:      time.Now(),
		}, nil
	}
	return nil, Unavailable(errors.Newf("idempotency key %s refunded %d times", req.IdempotencyKey, maxRecharges), ProviderStripe)
}

func (g *StripeGateway) intentParams(req ChargeRequest, paymentMethodID, key string) *stripe.PaymentIntentCreateParams {
	params := &stripe.PaymentIntentCreateParams{
		Amount:        stripe.Int64(ToCents(req.Amount)),
		Currency:      stripe.String(g.currency),
		Customer:      stripe.String(req.Payer.CustomerRef),
		PaymentMethod: stripe.String(paymentMethodID),
		Description:   stripe.String(req.Description),
		OffSession:    stripe.Bool(true),
		Confirm:       stripe.Bool(true),
		Metadata: map[string]string{
			"account_id":  req.Payer.AccountID,
			"charge_kind": string(req.Kind),
		},
	}
	if key != "" {
		params.SetIdempotencyKey(key)
	}
	return params
}

func replayed(intent *stripe.PaymentIntent) bool {
	return intent.LastResponse != nil && intent.LastResponse.Header.Get("Idempotent-Replayed") == "true"
}

// refunded reports whether any of the intent's charge has been refunded.
func (g *StripeGateway) refunded(ctx context.Context, intentID string) (bool, error) {
	params := &stripe.PaymentIntentRetrieveParams{}
	params.AddExpand("latest_charge")

	intent, err := g.api.RetrievePaymentIntent(ctx, intentID, params)
	if err != nil {
		return false, Unavailable(err, ProviderStripe)
	}
	charge := intent.LatestCharge
	return charge != nil && (charge.Refunded || charge.AmountRefunded > 0), nil
}

func (g *StripeGateway) Refund(ctx context.Context, receipt *Receipt) error {
	if receipt == nil || receipt.IsVerification() || receipt.ID == "" {
		return nil
	}

	params := &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(receipt.ID),
	}
	params.SetIdempotencyKey("refund:" + receipt.ID)

	if _, err := g.api.CreateRefund(ctx, params); err != nil {
		logger.Error("stripe refund failed", "error", err, "payment_intent_id", receipt.ID)
		return Unavailable(err, ProviderStripe)
	}
	return nil
}

func (g *StripeGateway) HasPaymentMethod(ctx context.Context, payer Payer) (bool, error) {
	id, err := g.defaultPaymentMethod(ctx, payer)
	if err != nil {
		return false, err
	}
	return id != "", nil
}

func (g *StripeGateway) defaultPaymentMethod(ctx context.Context, payer Payer) (string, error) {
	if payer.CustomerRef == "" {
		return "", nil
	}

	customer, err := g.api.RetrieveCustomer(ctx, payer.CustomerRef)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return "", nil
		}
		return "", Unavailable(err, ProviderStripe)
	}
	if customer.InvoiceSettings == nil || customer.InvoiceSettings.DefaultPaymentMethod == nil {
		return "", nil
	}
	return customer.InvoiceSettings.DefaultPaymentMethod.ID, nil
}

func classifyStripeError(err error, payer Payer) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return Unavailable(err, ProviderStripe)
	}

	details := map[string]any{
		"account_id":        payer.AccountID,
		"stripe_error_code": string(stripeErr.Code),
	}
	switch {
	case stripeErr.Code == stripe.ErrorCodeAuthenticationRequired:
		return Declined("Your bank requires you to confirm this payment. Update your payment method", details)
	case stripeErr.Code == stripe.ErrorCodeCardDeclined, stripeErr.Type == stripe.ErrorTypeCard:
		return Declined("Your payment method was declined", details)
	case stripeErr.Type == stripe.ErrorTypeIdempotency:
		return ierr.WithError(errors.Mark(err, ErrIdempotencyMismatch)).
			WithHint("A different payment is already recorded for this request. Please try again later").
			WithReportableDetails(details).
			Mark(ierr.ErrPayment)
	case stripeErr.Type == stripe.ErrorTypeInvalidRequest:
		return ierr.WithError(err).
			WithHint("The payment request was rejected").
			WithReportableDetails(details).
			Mark(ierr.ErrPayment)
	}
	return Unavailable(err, ProviderStripe)
}
