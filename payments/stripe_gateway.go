package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	config "github.com/reactfasttraining/course_booking/configs"
	"github.com/reactfasttraining/course_booking/models"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

const idempotencyKeyMetadata = "idempotency_key"

var ErrWebhookSignature = errors.New("invalid webhook signature")

type StripeGateway struct {
	sc            *client.API
	webhookSecret string
}

func NewStripeGateway(cfg config.Stripe) *StripeGateway {
	return &StripeGateway{
		sc:            client.New(cfg.SecretKey, nil),
		webhookSecret: cfg.WebhookSecret,
	}
}

// CreateIntent opens a payment intent. An "idempotency_key" metadata entry
// is also sent as the request's idempotency key so a retried create never
// produces a second intent.
func (g *StripeGateway) CreateIntent(ctx context.Context, amountPence int64, currency string, metadata map[string]string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountPence),
		Currency: stripe.String(strings.ToLower(currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	if key, ok := metadata[idempotencyKeyMetadata]; ok && key != "" {
		params.SetIdempotencyKey(key)
	}

	pi, err := g.sc.PaymentIntents.New(params)
	if err != nil {
		return nil, classifyStripeError("create_intent", err)
	}
	return intentFromStripe(pi), nil
}

func (g *StripeGateway) RetrieveIntent(ctx context.Context, intentID string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.sc.PaymentIntents.Get(intentID, params)
	if err != nil {
		return nil, classifyStripeError("retrieve_intent", err)
	}
	return intentFromStripe(pi), nil
}

// CancelIntent cancels an intent that has not been paid, so the customer can
// no longer complete it.
func (g *StripeGateway) CancelIntent(ctx context.Context, intentID string) (*Intent, error) {
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonRequestedByCustomer)),
	}
	params.Context = ctx

	pi, err := g.sc.PaymentIntents.Cancel(intentID, params)
	if err != nil {
		return nil, classifyStripeError("cancel_intent", err)
	}
	return intentFromStripe(pi), nil
}

func (g *StripeGateway) Refund(ctx context.Context, intentID string, amountPence int64) (*RefundResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
	}
	if amountPence > 0 {
		params.Amount = stripe.Int64(amountPence)
	}
	params.Context = ctx
	params.SetIdempotencyKey("refund-" + intentID)

	r, err := g.sc.Refunds.New(params)
	if err != nil {
		return nil, classifyStripeError("refund", err)
	}
	return &RefundResult{
		ID:          r.ID,
		AmountPence: r.Amount,
		Status:      string(r.Status),
	}, nil
}

// ParseWebhook verifies the Stripe-Signature header and returns the payment
// intent the event is about. Other event types yield a nil intent.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*Intent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWebhookSignature, err)
	}
	if !strings.HasPrefix(string(event.Type), "payment_intent.") {
		return nil, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("decode webhook payment intent: %w", err)
	}
	return intentFromStripe(&pi), nil
}

func intentFromStripe(pi *stripe.PaymentIntent) *Intent {
	intent := &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		AmountPence:  pi.Amount,
		Currency:     strings.ToUpper(string(pi.Currency)),
		Status:       MapStripeStatus(pi.Status, pi.LastPaymentError != nil),
	}
	if pi.LastPaymentError != nil {
		intent.FailureReason = string(pi.LastPaymentError.Code)
		if intent.FailureReason == "" {
			intent.FailureReason = pi.LastPaymentError.Msg
		}
	}
	if pi.Status == stripe.PaymentIntentStatusCanceled && pi.CancellationReason != "" {
		intent.FailureReason = string(pi.CancellationReason)
	}
	return intent
}

// MapStripeStatus folds Stripe's intent states onto the payment record
// states. An intent back in requires_payment_method after an attempt has
// failed; before any attempt it is simply pending.
func MapStripeStatus(status stripe.PaymentIntentStatus, hasPaymentError bool) models.PaymentStatus {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return models.PaymentSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return models.PaymentCanceled
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresCapture:
		return models.PaymentProcessing
	case stripe.PaymentIntentStatusRequiresAction, stripe.PaymentIntentStatusRequiresConfirmation:
		return models.PaymentRequiresAction
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if hasPaymentError {
			return models.PaymentFailed
		}
		return models.PaymentPending
	}
	return models.PaymentPending
}

func classifyStripeError(op string, err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		// No API response at all: network failure or deadline.
		return &GatewayError{Kind: Transient, Op: op, Err: err}
	}

	ge := &GatewayError{Kind: Permanent, Op: op, Code: string(se.Code), Err: err}
	switch {
	case se.HTTPStatusCode == http.StatusTooManyRequests,
		se.HTTPStatusCode >= http.StatusInternalServerError,
		se.Type == stripe.ErrorTypeAPI:
		ge.Kind = Transient
	case se.HTTPStatusCode == http.StatusUnauthorized,
		se.HTTPStatusCode == http.StatusForbidden:
		// A rotated or misconfigured key: the gateway never looked at the
		// payment, so the outage is ours.
		ge.Kind = Transient
	case se.Type == stripe.ErrorTypeCard:
		if se.DeclineCode != "" {
			ge.Code = string(se.DeclineCode)
		}
	}
	return ge
}
