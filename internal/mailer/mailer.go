package mailer

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Message kinds.
const (
	KindVerification  = "verification"
	KindPasswordReset = "password_reset"
)

// Message is a single outgoing mail.
type Message struct {
	Kind    string `json:"kind"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// Sender delivers a message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// VerificationMessage builds the mail carrying an email verification code.
func VerificationMessage(to, code string) Message {
	return Message{
		Kind:    KindVerification,
		To:      to,
		Subject: "Verify your email address",
		Text:    fmt.Sprintf("Your verification code is %s.", code),
	}
}

// PasswordResetMessage builds the mail carrying a password reset code.
func PasswordResetMessage(to, code string) Message {
	return Message{
		Kind:    KindPasswordReset,
		To:      to,
		Subject: "Reset your password",
		Text:    fmt.Sprintf("Your password reset code is %s. It expires in 30 minutes.", code),
	}
}

// LogSender writes messages to the process log instead of sending them.
type LogSender struct{}

func (LogSender) Send(_ context.Context, msg Message) error {
	log.Printf("mail to=%s subject=%q\n%s", msg.To, msg.Subject, msg.Text)
	return nil
}

// SendGrid delivers messages through the SendGrid v3 API.
type SendGrid struct {
	client     *sendgrid.Client
	from       *sgmail.Email
	subjPrefix string
}

// NewSendGrid creates a sender with the given API key and from address.
func NewSendGrid(apiKey, appName, fromAddr string) *SendGrid {
	return &SendGrid{
		client:     sendgrid.NewSendClient(apiKey),
		from:       sgmail.NewEmail(appName, fromAddr),
		subjPrefix: "[" + appName + "] ",
	}
}

func (s *SendGrid) Send(ctx context.Context, msg Message) error {
	m := sgmail.NewSingleEmail(s.from, s.subjPrefix+msg.Subject, sgmail.NewEmail("", msg.To), msg.Text, "")
	res, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if res.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("sendgrid: status %d: %s", res.StatusCode, res.Body)
	}
	return nil
}
