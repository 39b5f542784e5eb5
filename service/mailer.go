package service

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/noturnachs/wasteph-sub000/config"
	"gopkg.in/gomail.v2"
)

// Mail is one outbound message with an optional document attachment.
type Mail struct {
	To         string
	Subject    string
	HTML       string
	Attachment *Attachment
}

type Attachment struct {
	Filename    string
	Content     []byte
	ContentType string
}

// SendResult is the delivery outcome. Delivery failure is data, not an
// exception: callers must check Success. There is no retry, backoff or queue
// here; retrying is an explicit, user-triggered operation that re-invokes
// Send with previously persisted inputs.
type SendResult struct {
	Success   bool
	MessageID string
	Err       error
}

// MailGateway delivers documents by email.
type MailGateway interface {
	Send(ctx context.Context, mail Mail) SendResult
}

// SMTPGateway sends through a plain SMTP relay.
type SMTPGateway struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPGateway(cfg config.SMTPConfig) *SMTPGateway {
	return &SMTPGateway{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (g *SMTPGateway) Send(ctx context.Context, mail Mail) SendResult {
	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), g.dialer.Host)

	m := gomail.NewMessage()
	m.SetHeader("From", g.from)
	m.SetHeader("To", mail.To)
	m.SetHeader("Subject", mail.Subject)
	m.SetHeader("Message-Id", messageID)
	m.SetBody("text/html", mail.HTML)
	if att := mail.Attachment; att != nil {
		m.Attach(att.Filename,
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(att.Content)
				return err
			}),
			gomail.SetHeader(map[string][]string{
				"Content-Type": {att.ContentType},
			}),
		)
	}

	// gomail has no context support; run the dial-and-send in a goroutine so
	// the caller's timeout still bounds the operation.
	done := make(chan error, 1)
	go func() {
		done <- g.dialer.DialAndSend(m)
	}()

	select {
	case err := <-done:
		if err != nil {
			return SendResult{Success: false, Err: err}
		}
		return SendResult{Success: true, MessageID: messageID}
	case <-ctx.Done():
		return SendResult{Success: false, Err: ctx.Err()}
	}
}
