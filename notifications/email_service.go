package notifications

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	config "github.com/reactfasttraining/course_booking/configs"
	"github.com/sirupsen/logrus"
)

const brevoEndpoint = "https://api.brevo.com/v3/smtp/email"

var (
	ErrEmailNotConfigured = errors.New("email service not configured")
	ErrInvalidRecipient   = errors.New("invalid recipient email")
)

type Attachment struct {
	Name    string
	Content []byte
}

type Email struct {
	ToName      string
	ToEmail     string
	Subject     string
	HTMLBody    string
	Attachments []Attachment
}

// EmailSender is the email transport. Delivery is best effort.
type EmailSender interface {
	Send(ctx context.Context, msg Email) error
}

// SendError is a non-success response from the transport.
type SendError struct {
	StatusCode int
	Body       string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("email provider returned %d: %s", e.StatusCode, e.Body)
}

func (e *SendError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

type BrevoSender struct {
	APIKey      string
	SenderEmail string
	SenderName  string
	Endpoint    string

	client *http.Client
	log    logrus.FieldLogger
}

type brevoAttachment struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type brevoPayload struct {
	Sender      map[string]string   `json:"sender"`
	To          []map[string]string `json:"to"`
	Subject     string              `json:"subject"`
	HTMLContent string              `json:"htmlContent"`
	Attachment  []brevoAttachment   `json:"attachment,omitempty"`
}

func NewBrevoSender(cfg config.Email, log logrus.FieldLogger) (*BrevoSender, error) {
	if cfg.BrevoAPIKey == "" || cfg.SenderEmail == "" || cfg.SenderName == "" {
		return nil, ErrEmailNotConfigured
	}

	return &BrevoSender{
		APIKey:      cfg.BrevoAPIKey,
		SenderEmail: cfg.SenderEmail,
		SenderName:  cfg.SenderName,
		Endpoint:    brevoEndpoint,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}, nil
}

func (s *BrevoSender) Send(ctx context.Context, msg Email) error {
	if msg.ToEmail == "" || !strings.Contains(msg.ToEmail, "@") {
		return fmt.Errorf("%w: %q", ErrInvalidRecipient, msg.ToEmail)
	}

	recipientName := msg.ToName
	if recipientName == "" {
		recipientName = msg.ToEmail[:strings.Index(msg.ToEmail, "@")]
	}

	payload := brevoPayload{
		Sender:      map[string]string{"name": s.SenderName, "email": s.SenderEmail},
		To:          []map[string]string{{"email": msg.ToEmail, "name": recipientName}},
		Subject:     msg.Subject,
		HTMLContent: msg.HTMLBody,
	}
	for _, a := range msg.Attachments {
		payload.Attachment = append(payload.Attachment, brevoAttachment{
			Name:    a.Name,
			Content: base64.StdEncoding.EncodeToString(a.Content),
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("api-key", s.APIKey)
	req.Header.Set("content-type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusCreated {
		return &SendError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	s.log.WithFields(logrus.Fields{
		"to":          msg.ToEmail,
		"subject":     msg.Subject,
		"attachments": len(msg.Attachments),
	}).Info("✅ Email sent successfully")
	return nil
}
