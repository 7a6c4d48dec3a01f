package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	config "github.com/reactfasttraining/course_booking/configs"
	"github.com/reactfasttraining/course_booking/database/databasetest"
	"github.com/reactfasttraining/course_booking/models"
	"github.com/reactfasttraining/course_booking/notifications"
	"github.com/reactfasttraining/course_booking/payments"
	"github.com/reactfasttraining/course_booking/services"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"gorm.io/gorm"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (d *recordingDispatcher) Notify(event notifications.EventType, payload notifications.Payload) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, notifications.NewEvent(event, payload))
}

func (d *recordingDispatcher) Count(t notifications.EventType) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, ev := range d.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

// stubGateway answers RetrieveIntent from a table of statuses or errors.
type stubGateway struct {
	mu       sync.Mutex
	statuses map[string]models.PaymentStatus
	errs     map[string]error
	err      error
	calls    int
	refunds  []string
}

func newStubGateway() *stubGateway {
	return &stubGateway{statuses: map[string]models.PaymentStatus{}, errs: map[string]error{}}
}

func (g *stubGateway) CreateIntent(context.Context, int64, string, map[string]string) (*payments.Intent, error) {
	return nil, &payments.GatewayError{Kind: payments.Permanent, Op: "create_intent"}
}

func (g *stubGateway) RetrieveIntent(_ context.Context, id string) (*payments.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	if err, ok := g.errs[id]; ok {
		return nil, err
	}
	status, ok := g.statuses[id]
	if !ok {
		status = models.PaymentProcessing
	}
	return &payments.Intent{ID: id, Status: status}, nil
}

func (g *stubGateway) CancelIntent(context.Context, string) (*payments.Intent, error) {
	return nil, &payments.GatewayError{Kind: payments.Permanent, Op: "cancel_intent"}
}

func (g *stubGateway) Refund(_ context.Context, id string, amount int64) (*payments.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, id)
	return &payments.RefundResult{ID: "re_" + id, AmountPence: amount, Status: "succeeded"}, nil
}

func (g *stubGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type stubBreaker struct{ open bool }

func (b stubBreaker) Allowing() bool { return !b.open }

type jobEnv struct {
	db         *gorm.DB
	bookings   *services.BookingService
	reconciler *services.PaymentReconciler
	gateway    *stubGateway
	dispatcher *recordingDispatcher
	log        *logrus.Logger
	logs       *test.Hook
}

func newJobEnv(t *testing.T) *jobEnv {
	t.Helper()

	db := databasetest.Open(t)
	log, hook := test.NewNullLogger()
	gw := newStubGateway()
	dispatcher := &recordingDispatcher{}
	ledger := services.NewCapacityLedger(db, log)
	invoices := services.NewInvoiceService(db, config.Invoice{Prefix: "INV", VATRatePercent: 20}, nil, nil, log)

	return &jobEnv{
		db:         db,
		bookings:   services.NewBookingService(db, ledger, gw, dispatcher, nil, log),
		reconciler: services.NewPaymentReconciler(db, ledger, invoices, gw, dispatcher, nil, log),
		gateway:    gw,
		dispatcher: dispatcher,
		log:        log,
		logs:       hook,
	}
}

func recoveryConfig() config.Recovery {
	return config.Recovery{
		StuckAfter:  10 * time.Minute,
		BatchSize:   50,
		BaseBackoff: time.Minute,
		MaxBackoff:  time.Hour,
	}
}

// bookWithPayment creates a pending booking paid through intentID whose
// payment was opened age ago.
func bookWithPayment(t *testing.T, env *jobEnv, session models.CourseSession, seats int, intentID string, age time.Duration) models.Booking {
	t.Helper()

	res, err := env.bookings.CreateBooking(context.Background(), services.CreateBookingRequest{
		SessionID:        session.ID.String(),
		SeatCount:        seats,
		Contact:          services.ContactDetails{FullName: "Alan Turing", Email: "alan@example.com"},
		TotalAmountPence: int64(seats) * session.PricePerSeatPence,
		TermsAccepted:    true,
		PaymentReference: intentID,
	})
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}

	err = env.db.Model(&models.Payment{}).
		Where("gateway_intent_id = ?", intentID).
		UpdateColumns(map[string]any{
			"status":     models.PaymentProcessing,
			"created_at": time.Now().UTC().Add(-age),
		}).Error
	if err != nil {
		t.Fatalf("age payment: %v", err)
	}
	return res.Booking
}

func loadPayment(t *testing.T, db *gorm.DB, intentID string) models.Payment {
	t.Helper()
	var p models.Payment
	if err := db.First(&p, "gateway_intent_id = ?", intentID).Error; err != nil {
		t.Fatalf("load payment %s: %v", intentID, err)
	}
	return p
}

func bookingStatus(t *testing.T, db *gorm.DB, id any) models.BookingStatus {
	t.Helper()
	var b models.Booking
	if err := db.First(&b, "id = ?", id).Error; err != nil {
		t.Fatalf("load booking: %v", err)
	}
	return b.Status
}
