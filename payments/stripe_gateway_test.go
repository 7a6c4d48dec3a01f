package payments

import (
	"errors"
	"net/http"
	"testing"

	config "github.com/reactfasttraining/course_booking/configs"
	"github.com/reactfasttraining/course_booking/models"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

func TestMapStripeStatus(t *testing.T) {
	cases := []struct {
		status   stripe.PaymentIntentStatus
		hadError bool
		want     models.PaymentStatus
	}{
		{stripe.PaymentIntentStatusSucceeded, false, models.PaymentSucceeded},
		{stripe.PaymentIntentStatusCanceled, false, models.PaymentCanceled},
		{stripe.PaymentIntentStatusProcessing, false, models.PaymentProcessing},
		{stripe.PaymentIntentStatusRequiresCapture, false, models.PaymentProcessing},
		{stripe.PaymentIntentStatusRequiresAction, false, models.PaymentRequiresAction},
		{stripe.PaymentIntentStatusRequiresConfirmation, false, models.PaymentRequiresAction},
		{stripe.PaymentIntentStatusRequiresPaymentMethod, false, models.PaymentPending},
		{stripe.PaymentIntentStatusRequiresPaymentMethod, true, models.PaymentFailed},
	}
	for _, tc := range cases {
		if got := MapStripeStatus(tc.status, tc.hadError); got != tc.want {
			t.Errorf("MapStripeStatus(%s, %v) = %s, want %s", tc.status, tc.hadError, got, tc.want)
		}
	}
}

func TestClassifyStripeError(t *testing.T) {
	t.Run("Given a card decline When classified Then it is permanent with the decline code", func(t *testing.T) {
		err := classifyStripeError("create_intent", &stripe.Error{
			Type:           stripe.ErrorTypeCard,
			Code:           stripe.ErrorCodeCardDeclined,
			DeclineCode:    "insufficient_funds",
			HTTPStatusCode: http.StatusPaymentRequired,
		})
		if !IsPermanent(err) {
			t.Fatalf("expected permanent, got %v", err)
		}
		var ge *GatewayError
		if !errors.As(err, &ge) || ge.Code != "insufficient_funds" {
			t.Errorf("expected decline code, got %+v", ge)
		}
	})

	t.Run("Given a 503 When classified Then it is transient", func(t *testing.T) {
		err := classifyStripeError("retrieve_intent", &stripe.Error{Type: stripe.ErrorTypeAPI, HTTPStatusCode: http.StatusServiceUnavailable})
		if !IsTransient(err) {
			t.Fatalf("expected transient, got %v", err)
		}
	})

	t.Run("Given rate limiting When classified Then it is transient", func(t *testing.T) {
		err := classifyStripeError("retrieve_intent", &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, HTTPStatusCode: http.StatusTooManyRequests})
		if !IsTransient(err) {
			t.Fatalf("expected transient, got %v", err)
		}
	})

	t.Run("Given a missing intent When classified Then it is permanent", func(t *testing.T) {
		err := classifyStripeError("retrieve_intent", &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, Code: stripe.ErrorCodeResourceMissing, HTTPStatusCode: http.StatusNotFound})
		if !IsPermanent(err) {
			t.Fatalf("expected permanent, got %v", err)
		}
	})

	t.Run("Given a rejected API key When classified Then it is transient", func(t *testing.T) {
		for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden} {
			err := classifyStripeError("retrieve_intent", &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, HTTPStatusCode: code})
			if !IsTransient(err) || IsPermanent(err) {
				t.Errorf("status %d: expected transient, got %v", code, err)
			}
		}
	})

	t.Run("Given a missing intent When checked Then only that error reads as missing", func(t *testing.T) {
		missing := classifyStripeError("retrieve_intent", &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, Code: stripe.ErrorCodeResourceMissing, HTTPStatusCode: http.StatusNotFound})
		invalid := classifyStripeError("retrieve_intent", &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, Code: stripe.ErrorCode("parameter_invalid_empty"), HTTPStatusCode: http.StatusBadRequest})
		if !IsMissing(missing) {
			t.Errorf("expected resource_missing to read as missing, got %v", missing)
		}
		if IsMissing(invalid) {
			t.Errorf("expected an invalid request not to read as missing, got %v", invalid)
		}
	})

	t.Run("Given a network failure When classified Then it is transient", func(t *testing.T) {
		err := classifyStripeError("refund", errors.New("dial tcp: connection refused"))
		if !IsTransient(err) {
			t.Fatalf("expected transient, got %v", err)
		}
	})
}

func TestParseWebhook(t *testing.T) {
	const secret = "whsec_test"
	gw := NewStripeGateway(config.Stripe{SecretKey: "sk_test_123", WebhookSecret: secret})

	sign := func(body string) *webhook.SignedPayload {
		return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: []byte(body), Secret: secret})
	}

	t.Run("Given a signed payment intent event When parsing Then the intent status is mapped", func(t *testing.T) {
		signed := sign(`{"id":"evt_1","object":"event","type":"payment_intent.payment_failed",
			"data":{"object":{"id":"pi_1","object":"payment_intent","status":"requires_payment_method","amount":50000,"currency":"gbp",
			"last_payment_error":{"code":"card_declined","message":"Your card was declined."}}}}`)

		intent, err := gw.ParseWebhook(signed.Payload, signed.Header)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if intent.ID != "pi_1" || intent.Status != models.PaymentFailed || intent.FailureReason != "card_declined" {
			t.Errorf("unexpected intent %+v", intent)
		}
		if intent.Currency != "GBP" || intent.AmountPence != 50000 {
			t.Errorf("unexpected amount %d %s", intent.AmountPence, intent.Currency)
		}
	})

	t.Run("Given a tampered payload When parsing Then the signature is rejected", func(t *testing.T) {
		signed := sign(`{"id":"evt_2","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_2"}}}`)

		_, err := gw.ParseWebhook([]byte(`{"id":"evt_2","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_3"}}}`), signed.Header)
		if !errors.Is(err, ErrWebhookSignature) {
			t.Fatalf("expected ErrWebhookSignature, got %v", err)
		}
	})

	t.Run("Given an unrelated event When parsing Then no intent is returned", func(t *testing.T) {
		signed := sign(`{"id":"evt_3","object":"event","type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`)

		intent, err := gw.ParseWebhook(signed.Payload, signed.Header)
		if err != nil || intent != nil {
			t.Errorf("expected nothing, got %+v (%v)", intent, err)
		}
	})
}
