package services

import (
	"context"

	"github.com/reactfasttraining/course_booking/models"
	"github.com/reactfasttraining/course_booking/payments"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// refundPayment returns a captured payment in full and records the refund
// on the payment row. The gateway dedupes refunds per intent.
func refundPayment(ctx context.Context, db *gorm.DB, gateway payments.Gateway, log logrus.FieldLogger, payment models.Payment) (*payments.RefundResult, error) {
	fields := logrus.Fields{"booking_id": payment.BookingID, "intent_id": payment.GatewayIntentID}

	refund, err := gateway.Refund(ctx, payment.GatewayIntentID, payment.AmountPence)
	if err != nil {
		log.WithFields(fields).WithError(err).Error("🔥 Refund failed, manual follow up required")
		return nil, err
	}

	err = db.WithContext(ctx).Model(&payment).Updates(map[string]any{
		"refund_id":      refund.ID,
		"refunded_pence": refund.AmountPence,
	}).Error
	if err != nil {
		log.WithFields(fields).WithField("refund_id", refund.ID).WithError(err).Error("🔥 Refund issued but not recorded")
		return refund, err
	}

	log.WithFields(fields).WithField("refund_id", refund.ID).Info("refund issued")
	return refund, nil
}
