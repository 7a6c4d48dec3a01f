package notifications

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/reactfasttraining/course_booking/utils"
)

type emailTemplate struct {
	subject string
	body    *template.Template
}

var funcs = template.FuncMap{
	"money": utils.FormatMoney,
}

const layout = `<div style="font-family:Arial,sans-serif;max-width:600px">{{template "content" .}}<p style="color:#666;font-size:12px">Booking reference: {{.BookingID}}</p></div>`

func mustTemplate(content string) *template.Template {
	t := template.Must(template.New("layout").Funcs(funcs).Parse(layout))
	return template.Must(t.New("content").Parse(content))
}

var emailTemplates = map[EventType]emailTemplate{
	EventBookingCreated: {
		subject: "We have received your booking for %s",
		body: mustTemplate(`<h1>Booking received</h1>
<p>Hi {{.CustomerName}},</p>
<p>We are holding {{.SeatCount}} seat(s) on <b>{{.CourseTitle}}</b> starting {{.SessionStart.Format "Monday 2 January 2006, 15:04"}}.</p>
<p>Total: {{money .AmountPence .Currency}}. Your booking is confirmed as soon as your payment clears.</p>`),
	},
	EventBookingConfirmed: {
		subject: "Booking confirmed: %s",
		body: mustTemplate(`<h1>You're booked!</h1>
<p>Hi {{.CustomerName}},</p>
<p>Your payment has been received and {{.SeatCount}} seat(s) on <b>{{.CourseTitle}}</b> are confirmed.</p>
<p><b>When:</b> {{.SessionStart.Format "Monday 2 January 2006, 15:04"}}<br><b>Where:</b> {{.Location}}</p>
{{if .InvoiceNumber}}<p>Your invoice {{.InvoiceNumber}} is attached.</p>{{end}}`),
	},
	EventBookingCancelled: {
		subject: "Booking cancelled: %s",
		body: mustTemplate(`<h1>Booking cancelled</h1>
<p>Hi {{.CustomerName}},</p>
<p>Your booking for <b>{{.CourseTitle}}</b> has been cancelled.{{if .Reason}} Reason: {{.Reason}}.{{end}}</p>
<p>If you paid for this booking, a refund of {{money .AmountPence .Currency}} is on its way.</p>`),
	},
	EventPaymentFailed: {
		subject: "Payment unsuccessful: %s",
		body: mustTemplate(`<h1>Payment unsuccessful</h1>
<p>Hi {{.CustomerName}},</p>
<p>We could not take payment for your booking on <b>{{.CourseTitle}}</b>, so the seats have been released.</p>
<p>You are welcome to book again while places remain.</p>`),
	},
	EventPaymentPendingReminder: {
		subject: "Your payment for %s is still pending",
		body: mustTemplate(`<h1>Payment pending</h1>
<p>Hi {{.CustomerName}},</p>
<p>We are still waiting for your payment of {{money .AmountPence .Currency}} for <b>{{.CourseTitle}}</b>. Your seats are held while we confirm it with your bank.</p>
<p>If your bank asked you to approve the payment, please complete that step.</p>`),
	},
	EventSessionReminder: {
		subject: "Reminder: %s starts soon",
		body: mustTemplate(`<h1>See you soon</h1>
<p>Hi {{.CustomerName}},</p>
<p>This is a friendly reminder that <b>{{.CourseTitle}}</b> starts {{.SessionStart.Format "Monday 2 January 2006, 15:04"}}.</p>
<p><b>Where:</b> {{.Location}}</p>`),
	},
}

// composeEmail renders the customer email for an event. The second return
// is false for events that have no customer email.
func composeEmail(ev Event) (Email, bool, error) {
	tmpl, ok := emailTemplates[ev.Type]
	if !ok {
		return Email{}, false, nil
	}

	var body bytes.Buffer
	if err := tmpl.body.ExecuteTemplate(&body, "layout", ev.Payload); err != nil {
		return Email{}, true, fmt.Errorf("render %s: %w", ev.Type, err)
	}

	return Email{
		ToName:   ev.Payload.CustomerName,
		ToEmail:  ev.Payload.CustomerEmail,
		Subject:  fmt.Sprintf(tmpl.subject, ev.Payload.CourseTitle),
		HTMLBody: body.String(),
	}, true, nil
}
