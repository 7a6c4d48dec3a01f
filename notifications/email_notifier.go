package notifications

import (
	"context"
	"errors"

	"github.com/avast/retry-go"
	config "github.com/reactfasttraining/course_booking/configs"
	"github.com/sirupsen/logrus"
)

// AttachmentProvider supplies files to attach to an event's email, such
// as the invoice PDF for a confirmed booking.
type AttachmentProvider interface {
	Attachments(ctx context.Context, ev Event) ([]Attachment, error)
}

// EmailNotifier is the Handler that turns events into customer emails.
type EmailNotifier struct {
	sender      EmailSender
	attachments AttachmentProvider
	retry       config.Email
	log         logrus.FieldLogger
}

func NewEmailNotifier(sender EmailSender, attachments AttachmentProvider, cfg config.Email, log logrus.FieldLogger) *EmailNotifier {
	return &EmailNotifier{sender: sender, attachments: attachments, retry: cfg, log: log}
}

func (n *EmailNotifier) Handle(ctx context.Context, ev Event) error {
	if n.sender == nil {
		n.log.WithField("event", ev.Type).Debug("Email client not initialized, skipping email send.")
		return nil
	}

	msg, ok, err := composeEmail(ev)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if n.attachments != nil {
		files, err := n.attachments.Attachments(ctx, ev)
		if err != nil {
			n.log.WithFields(logrus.Fields{"event": ev.Type, "booking_id": ev.Payload.BookingID}).
				WithError(err).Warn("sending email without attachments")
		}
		msg.Attachments = files
	}

	attempts := n.retry.Attempts
	if attempts == 0 {
		attempts = 1
	}

	return retry.Do(
		func() error {
			return n.sender.Send(ctx, msg)
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(n.retry.Delay),
		retry.MaxDelay(n.retry.MaxDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryableSend),
		retry.OnRetry(func(attempt uint, err error) {
			n.log.WithFields(logrus.Fields{"event": ev.Type, "attempt": attempt + 1}).
				WithError(err).Warn("email send failed, retrying")
		}),
	)
}

func isRetryableSend(err error) bool {
	if errors.Is(err, ErrInvalidRecipient) {
		return false
	}
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.Temporary()
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
