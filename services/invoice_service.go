package services

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"time"

	"github.com/google/uuid"
	config "github.com/reactfasttraining/course_booking/configs"
	"github.com/reactfasttraining/course_booking/models"
	"github.com/reactfasttraining/course_booking/notifications"
	"github.com/reactfasttraining/course_booking/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxNumberProbes bounds the skip-ahead when a formatted number is already
// taken, e.g. after a manual import.
const maxNumberProbes = 50

//go:embed templates/invoice.html
var invoiceHTML string

var invoiceTemplate = template.Must(template.New("invoice").
	Funcs(template.FuncMap{"money": utils.FormatMoney}).
	Parse(invoiceHTML))

var ErrInvoiceNumberExhausted = errors.New("could not allocate a free invoice number")

type InvoiceService struct {
	db       *gorm.DB
	cfg      config.Invoice
	renderer PDFRenderer
	store    DocumentStore
	log      logrus.FieldLogger
}

// NewInvoiceService builds the invoice issuer. renderer and store are
// optional; without a renderer no PDF is attached to emails.
func NewInvoiceService(db *gorm.DB, cfg config.Invoice, renderer PDFRenderer, store DocumentStore, log logrus.FieldLogger) *InvoiceService {
	return &InvoiceService{db: db, cfg: cfg, renderer: renderer, store: store, log: log}
}

// Issue creates the invoice for a booking inside tx. Calling it again for
// the same booking returns the existing invoice.
func (s *InvoiceService) Issue(ctx context.Context, tx *gorm.DB, booking models.Booking, issuedAt time.Time) (*models.Invoice, error) {
	var existing models.Invoice
	err := tx.WithContext(ctx).First(&existing, "booking_id = ?", booking.ID).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	number, err := s.nextNumber(ctx, tx, issuedAt.Year())
	if err != nil {
		return nil, err
	}

	net, vat := utils.VATFromGross(booking.AmountPence, s.cfg.VATRatePercent)
	invoice := models.Invoice{
		BookingID:  booking.ID,
		Number:     number,
		NetPence:   net,
		VATPence:   vat,
		GrossPence: booking.AmountPence,
		Currency:   booking.Currency,
		IssuedAt:   issuedAt,
	}
	if err := tx.WithContext(ctx).Omit(clause.Associations).Create(&invoice).Error; err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}
	return &invoice, nil
}

// nextNumber advances the year's sequence row under a row lock and
// returns the first formatted number not already on an invoice.
func (s *InvoiceService) nextNumber(ctx context.Context, tx *gorm.DB, year int) (string, error) {
	tx = tx.WithContext(ctx)

	err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.InvoiceSequence{Year: year}).Error
	if err != nil {
		return "", fmt.Errorf("init invoice sequence: %w", err)
	}

	var seq models.InvoiceSequence
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&seq, "year = ?", year).Error; err != nil {
		return "", fmt.Errorf("lock invoice sequence: %w", err)
	}

	next := seq.LastValue
	for i := 0; i < maxNumberProbes; i++ {
		next++
		number := utils.FormatInvoiceNumber(s.cfg.Prefix, year, next)

		var taken int64
		if err := tx.Model(&models.Invoice{}).Where("number = ?", number).Count(&taken).Error; err != nil {
			return "", err
		}
		if taken > 0 {
			s.log.WithField("number", number).Warn("invoice number already used, skipping")
			continue
		}

		if err := tx.Model(&models.InvoiceSequence{}).Where("year = ?", year).Update("last_value", next).Error; err != nil {
			return "", fmt.Errorf("advance invoice sequence: %w", err)
		}
		return number, nil
	}
	return "", ErrInvoiceNumberExhausted
}

type invoiceView struct {
	models.Invoice
	SellerName     string
	SellerAddress  string
	VATNumber      string
	VATRatePercent int64
	CustomerName   string
	CustomerEmail  string
	CompanyName    string
	CourseTitle    string
	Location       string
	SessionStart   time.Time
	SeatCount      int
}

func (s *InvoiceService) RenderHTML(ctx context.Context, bookingID uuid.UUID) (*models.Invoice, string, error) {
	var invoice models.Invoice
	err := s.db.WithContext(ctx).
		Preload("Booking.Session").
		Preload("Booking.Customer").
		First(&invoice, "booking_id = ?", bookingID).Error
	if err != nil {
		return nil, "", err
	}

	b := invoice.Booking
	view := invoiceView{
		Invoice:        invoice,
		SellerName:     s.cfg.SellerName,
		SellerAddress:  s.cfg.SellerAddress,
		VATNumber:      s.cfg.VATNumber,
		VATRatePercent: s.cfg.VATRatePercent,
		CustomerName:   b.Customer.FullName,
		CustomerEmail:  b.Customer.Email,
		CompanyName:    b.Customer.CompanyName,
		CourseTitle:    b.Session.CourseTitle,
		Location:       b.Session.Location,
		SessionStart:   b.Session.StartTime,
		SeatCount:      b.SeatCount,
	}

	var out bytes.Buffer
	if err := invoiceTemplate.Execute(&out, view); err != nil {
		return nil, "", fmt.Errorf("render invoice %s: %w", invoice.Number, err)
	}
	return &invoice, out.String(), nil
}

// Attachments implements notifications.AttachmentProvider. Confirmed
// bookings get their invoice as a PDF, which is also uploaded to the
// document store the first time it is rendered.
func (s *InvoiceService) Attachments(ctx context.Context, ev notifications.Event) ([]notifications.Attachment, error) {
	if ev.Type != notifications.EventBookingConfirmed || s.renderer == nil || !s.cfg.RenderPDF {
		return nil, nil
	}

	invoice, html, err := s.RenderHTML(ctx, ev.Payload.BookingID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	pdf, err := s.renderer.Render(ctx, html)
	if err != nil {
		return nil, fmt.Errorf("print invoice %s: %w", invoice.Number, err)
	}

	if s.store != nil && invoice.DocumentURL == nil {
		url, err := s.store.Upload(ctx, invoice.Number, pdf)
		if err != nil {
			s.log.WithField("invoice", invoice.Number).WithError(err).Warn("invoice upload failed")
		} else if err := s.db.WithContext(ctx).Model(invoice).Update("document_url", url).Error; err != nil {
			s.log.WithField("invoice", invoice.Number).WithError(err).Warn("failed to record invoice url")
		}
	}

	return []notifications.Attachment{{Name: invoice.Number + ".pdf", Content: pdf}}, nil
}
