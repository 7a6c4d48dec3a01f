package payments

import (
	"context"

	"github.com/reactfasttraining/course_booking/models"
)

type Intent struct {
	ID            string
	ClientSecret  string
	AmountPence   int64
	Currency      string
	Status        models.PaymentStatus
	FailureReason string
}

type RefundResult struct {
	ID          string
	AmountPence int64
	Status      string
}

// Gateway is a pass-through to the payment provider. Implementations hold
// no booking logic.
type Gateway interface {
	CreateIntent(ctx context.Context, amountPence int64, currency string, metadata map[string]string) (*Intent, error)
	RetrieveIntent(ctx context.Context, intentID string) (*Intent, error)
	CancelIntent(ctx context.Context, intentID string) (*Intent, error)
	Refund(ctx context.Context, intentID string, amountPence int64) (*RefundResult, error)
}
