package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	config "github.com/reactfasttraining/course_booking/configs"
	"github.com/reactfasttraining/course_booking/database/databasetest"
	"github.com/reactfasttraining/course_booking/jobs"
	"github.com/reactfasttraining/course_booking/models"
	"github.com/reactfasttraining/course_booking/payments"
	"github.com/reactfasttraining/course_booking/services"
	"github.com/sirupsen/logrus/hooks/test"
	"gorm.io/gorm"
)

type noGateway struct{}

func (noGateway) CreateIntent(context.Context, int64, string, map[string]string) (*payments.Intent, error) {
	return nil, payments.ErrCircuitOpen
}

func (noGateway) RetrieveIntent(context.Context, string) (*payments.Intent, error) {
	return nil, payments.ErrCircuitOpen
}

func (noGateway) CancelIntent(context.Context, string) (*payments.Intent, error) {
	return nil, payments.ErrCircuitOpen
}

func (noGateway) Refund(context.Context, string, int64) (*payments.RefundResult, error) {
	return nil, payments.ErrCircuitOpen
}

type stubParser struct {
	intent *payments.Intent
	err    error
}

func (p stubParser) ParseWebhook([]byte, string) (*payments.Intent, error) { return p.intent, p.err }

type stubRunner struct {
	report jobs.RecoveryReport
	err    error
}

func (r stubRunner) RunOnce(context.Context) (jobs.RecoveryReport, error) { return r.report, r.err }

type testApp struct {
	app     *fiber.App
	db      *gorm.DB
	session models.CourseSession
}

func newTestApp(t *testing.T, parser WebhookParser, runner RecoveryRunner) *testApp {
	t.Helper()

	db := databasetest.Open(t)
	log, _ := test.NewNullLogger()
	ledger := services.NewCapacityLedger(db, log)
	invoices := services.NewInvoiceService(db, config.Invoice{Prefix: "INV", VATRatePercent: 20}, nil, nil, log)
	bookings := services.NewBookingService(db, ledger, noGateway{}, nil, nil, log)
	reconciler := services.NewPaymentReconciler(db, ledger, invoices, noGateway{}, nil, nil, log)

	bh := NewBookingHandler(bookings)
	ph := NewPaymentHandler(reconciler, parser, log)
	sh := NewSessionHandler(ledger, nil, log)
	ah := NewAdminHandler(runner, payments.NewCircuitBreaker(5, 0), log)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(log)})
	app.Post("/api/bookings", bh.CreateBooking)
	app.Get("/api/bookings/:id", bh.GetBooking)
	app.Post("/api/bookings/:id/cancel", bh.CancelBooking)
	app.Post("/api/bookings/:id/payment-intent", bh.CreatePaymentIntent)
	app.Post("/api/payments/webhook", ph.HandleStripeWebhook)
	app.Get("/api/sessions/:id/availability", sh.GetAvailability)
	app.Post("/api/admin/recovery/run", ah.RunRecovery)
	app.Get("/api/admin/recovery/breaker", ah.BreakerStatus)

	return &testApp{app: app, db: db, session: databasetest.SeedSession(t, db, 5, 3, 50000)}
}

func (a *testApp) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.app.Test(req, 10000)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (a *testApp) bookingBody(seats int, ref string) fiber.Map {
	return fiber.Map{
		"session_id":         a.session.ID.String(),
		"seat_count":         seats,
		"contact":            fiber.Map{"full_name": "Katherine Johnson", "email": "kj@example.com"},
		"total_amount_pence": int64(seats) * a.session.PricePerSeatPence,
		"terms_accepted":     true,
		"payment_reference":  ref,
	}
}

func TestBookingRoutes(t *testing.T) {
	t.Run("Given free seats When posting a booking Then it is created", func(t *testing.T) {
		a := newTestApp(t, stubParser{}, stubRunner{})

		code, body := a.do(t, "POST", "/api/bookings", a.bookingBody(2, "pi_http"))
		if code != fiber.StatusCreated {
			t.Fatalf("expected 201, got %d: %v", code, body)
		}
		data := body["data"].(map[string]any)
		if data["remaining_seats"] != float64(0) {
			t.Errorf("expected 0 remaining seats, got %v", data["remaining_seats"])
		}

		code, _ = a.do(t, "POST", "/api/bookings", a.bookingBody(2, "pi_http"))
		if code != fiber.StatusOK {
			t.Errorf("expected 200 for a repeated payment reference, got %d", code)
		}
	})

	t.Run("Given too few seats When posting a booking Then 409 is returned", func(t *testing.T) {
		a := newTestApp(t, stubParser{}, stubRunner{})

		code, body := a.do(t, "POST", "/api/bookings", a.bookingBody(3, ""))
		if code != fiber.StatusConflict {
			t.Fatalf("expected 409, got %d: %v", code, body)
		}
		if body["reason"] != "insufficient_seats" || body["remaining"] != float64(2) {
			t.Errorf("unexpected body %v", body)
		}
	})

	t.Run("Given an invalid body When posting a booking Then 422 lists the fields", func(t *testing.T) {
		a := newTestApp(t, stubParser{}, stubRunner{})
		req := a.bookingBody(1, "")
		req["contact"] = fiber.Map{"full_name": "Katherine Johnson"}

		code, body := a.do(t, "POST", "/api/bookings", req)
		if code != fiber.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d: %v", code, body)
		}
		fields := body["fields"].(map[string]any)
		if fields["contact.email"] != "is required" {
			t.Errorf("unexpected fields %v", fields)
		}
	})

	t.Run("Given a bad or unknown id When reading a booking Then 400 or 404 is returned", func(t *testing.T) {
		a := newTestApp(t, stubParser{}, stubRunner{})

		if code, _ := a.do(t, "GET", "/api/bookings/not-a-uuid", nil); code != fiber.StatusBadRequest {
			t.Errorf("expected 400, got %d", code)
		}
		if code, _ := a.do(t, "GET", "/api/bookings/"+uuid.NewString(), nil); code != fiber.StatusNotFound {
			t.Errorf("expected 404, got %d", code)
		}
	})

	t.Run("Given the gateway breaker is open When requesting a payment intent Then 503 is returned", func(t *testing.T) {
		a := newTestApp(t, stubParser{}, stubRunner{})
		_, body := a.do(t, "POST", "/api/bookings", a.bookingBody(1, ""))
		booking := body["data"].(map[string]any)["booking"].(map[string]any)

		code, _ := a.do(t, "POST", fmt.Sprintf("/api/bookings/%s/payment-intent", booking["id"]), nil)
		if code != fiber.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", code)
		}
	})

	t.Run("Given a cancelled booking When cancelling again Then 409 is returned", func(t *testing.T) {
		a := newTestApp(t, stubParser{}, stubRunner{})
		_, body := a.do(t, "POST", "/api/bookings", a.bookingBody(1, ""))
		id := body["data"].(map[string]any)["booking"].(map[string]any)["id"]
		path := fmt.Sprintf("/api/bookings/%s/cancel", id)

		if code, _ := a.do(t, "POST", path, fiber.Map{"reason": "changed plans"}); code != fiber.StatusOK {
			t.Fatalf("expected 200, got %d", code)
		}
		if code, _ := a.do(t, "POST", path, nil); code != fiber.StatusConflict {
			t.Errorf("expected 409, got %d", code)
		}

		code, body := a.do(t, "GET", fmt.Sprintf("/api/sessions/%s/availability", a.session.ID), nil)
		if code != fiber.StatusOK || body["data"].(map[string]any)["remaining"] != float64(2) {
			t.Errorf("expected 2 seats back on sale, got %d %v", code, body)
		}
	})
}

func TestWebhookRoute(t *testing.T) {
	t.Run("Given a verified success event When it arrives Then the booking is confirmed", func(t *testing.T) {
		a := newTestApp(t, stubParser{intent: &payments.Intent{ID: "pi_hook", Status: models.PaymentSucceeded}}, stubRunner{})
		_, body := a.do(t, "POST", "/api/bookings", a.bookingBody(1, "pi_hook"))
		id := body["data"].(map[string]any)["booking"].(map[string]any)["id"]

		code, body := a.do(t, "POST", "/api/payments/webhook", fiber.Map{})
		if code != fiber.StatusOK || body["outcome"] != string(services.OutcomeConfirmed) {
			t.Fatalf("expected a confirmed outcome, got %d %v", code, body)
		}

		var booking models.Booking
		if err := a.db.First(&booking, "id = ?", id).Error; err != nil {
			t.Fatalf("load booking: %v", err)
		}
		if booking.Status != models.BookingConfirmed {
			t.Errorf("expected confirmed, got %s", booking.Status)
		}
	})

	t.Run("Given a bad signature When a webhook arrives Then 400 is returned", func(t *testing.T) {
		a := newTestApp(t, stubParser{err: fmt.Errorf("%w: no match", payments.ErrWebhookSignature)}, stubRunner{})

		if code, _ := a.do(t, "POST", "/api/payments/webhook", fiber.Map{}); code != fiber.StatusBadRequest {
			t.Errorf("expected 400, got %d", code)
		}
	})

	t.Run("Given an intent we never issued When a webhook arrives Then it is acknowledged", func(t *testing.T) {
		a := newTestApp(t, stubParser{intent: &payments.Intent{ID: "pi_foreign", Status: models.PaymentSucceeded}}, stubRunner{})

		if code, _ := a.do(t, "POST", "/api/payments/webhook", fiber.Map{}); code != fiber.StatusOK {
			t.Errorf("expected 200, got %d", code)
		}
	})
}

func TestAdminRoutes(t *testing.T) {
	t.Run("Given a run in progress When triggering recovery Then 409 is returned", func(t *testing.T) {
		a := newTestApp(t, stubParser{}, stubRunner{err: jobs.ErrRecoveryRunning})

		if code, _ := a.do(t, "POST", "/api/admin/recovery/run", nil); code != fiber.StatusConflict {
			t.Errorf("expected 409, got %d", code)
		}
	})

	t.Run("Given a healthy breaker When inspecting it Then it reports closed", func(t *testing.T) {
		a := newTestApp(t, stubParser{}, stubRunner{report: jobs.RecoveryReport{Checked: 2}})

		code, body := a.do(t, "GET", "/api/admin/recovery/breaker", nil)
		if code != fiber.StatusOK || body["data"].(map[string]any)["state"] != "closed" {
			t.Errorf("unexpected response %d %v", code, body)
		}
		code, body = a.do(t, "POST", "/api/admin/recovery/run", nil)
		if code != fiber.StatusOK || body["data"].(map[string]any)["checked"] != float64(2) {
			t.Errorf("unexpected response %d %v", code, body)
		}
	})
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"circuit open", payments.ErrCircuitOpen, fiber.StatusServiceUnavailable},
		{"card declined", &payments.GatewayError{Kind: payments.Permanent, Op: "create_intent", Code: "card_declined", Err: errors.New("declined")}, fiber.StatusPaymentRequired},
		{"gateway timeout", &payments.GatewayError{Kind: payments.Transient, Op: "create_intent", Err: context.DeadlineExceeded}, fiber.StatusServiceUnavailable},
		{"not cancellable", services.ErrBookingNotCancellable, fiber.StatusConflict},
		{"session missing", &services.CapacityError{Kind: services.SessionNotFound}, fiber.StatusNotFound},
		{"unexpected", errors.New("connection reset"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := errorResponse(tt.err)
			if code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, code)
			}
			if code == fiber.StatusInternalServerError && body["message"] != "internal server error" {
				t.Errorf("expected internal details to be hidden, got %v", body["message"])
			}
		})
	}
}
