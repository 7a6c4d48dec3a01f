package services

import (
	"context"
	"sync"
	"testing"

	config "github.com/reactfasttraining/course_booking/configs"
	"github.com/reactfasttraining/course_booking/database/databasetest"
	"github.com/reactfasttraining/course_booking/models"
	"github.com/reactfasttraining/course_booking/notifications"
	"github.com/reactfasttraining/course_booking/payments"
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

func (d *recordingDispatcher) Of(t notifications.EventType) []notifications.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []notifications.Event
	for _, ev := range d.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fakeGateway struct {
	mu       sync.Mutex
	statuses map[string]models.PaymentStatus
	refunds  []string
	cancels  []string
	created  int
	err      error
	// cancelErr fails CancelIntent only.
	cancelErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{statuses: map[string]models.PaymentStatus{}}
}

func (g *fakeGateway) Set(intentID string, status models.PaymentStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[intentID] = status
}

func (g *fakeGateway) CreateIntent(ctx context.Context, amount int64, currency string, md map[string]string) (*payments.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.created++
	id := "pi_created_" + md["booking_id"]
	g.statuses[id] = models.PaymentPending
	return &payments.Intent{ID: id, ClientSecret: id + "_secret", AmountPence: amount, Currency: currency, Status: models.PaymentPending}, nil
}

func (g *fakeGateway) RetrieveIntent(ctx context.Context, id string) (*payments.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	status, ok := g.statuses[id]
	if !ok {
		status = models.PaymentProcessing
	}
	return &payments.Intent{ID: id, Status: status}, nil
}

func (g *fakeGateway) CancelIntent(ctx context.Context, id string) (*payments.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelErr != nil {
		return nil, g.cancelErr
	}
	g.cancels = append(g.cancels, id)
	g.statuses[id] = models.PaymentCanceled
	return &payments.Intent{ID: id, Status: models.PaymentCanceled}, nil
}

func (g *fakeGateway) Refund(ctx context.Context, id string, amount int64) (*payments.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.refunds = append(g.refunds, id)
	return &payments.RefundResult{ID: "re_" + id, AmountPence: amount, Status: "succeeded"}, nil
}

type testEnv struct {
	db         *gorm.DB
	ledger     *CapacityLedger
	bookings   *BookingService
	reconciler *PaymentReconciler
	invoices   *InvoiceService
	gateway    *fakeGateway
	dispatcher *recordingDispatcher
	logs       *test.Hook
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := databasetest.Open(t)
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	gw := newFakeGateway()
	dispatcher := &recordingDispatcher{}
	ledger := NewCapacityLedger(db, log)
	invoices := NewInvoiceService(db, config.Invoice{Prefix: "INV", VATRatePercent: 20}, nil, nil, log)

	return &testEnv{
		db:         db,
		ledger:     ledger,
		bookings:   NewBookingService(db, ledger, gw, dispatcher, nil, log),
		reconciler: NewPaymentReconciler(db, ledger, invoices, gw, dispatcher, nil, log),
		invoices:   invoices,
		gateway:    gw,
		dispatcher: dispatcher,
		logs:       hook,
	}
}

func bookingRequest(session models.CourseSession, seats int, ref string) CreateBookingRequest {
	return CreateBookingRequest{
		SessionID: session.ID.String(),
		SeatCount: seats,
		Contact: ContactDetails{
			FullName: "Grace Hopper",
			Email:    "Grace@Example.com",
			Phone:    "+44 20 7946 0000",
		},
		TotalAmountPence: int64(seats) * session.PricePerSeatPence,
		Currency:         "GBP",
		TermsAccepted:    true,
		PaymentReference: ref,
	}
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
