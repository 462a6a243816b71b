// Package mailer sends transactional e-mail such as class invitations and
// password reset links.
package mailer

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/noah-isme/gradebook-api/pkg/config"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// Message is a single outbound e-mail.
type Message struct {
	ToName  string
	ToEmail string
	Subject string
	Text    string
	HTML    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// New returns a SendGrid mailer when an API key is configured, otherwise a
// LogMailer.
func New(cfg config.MailConfig, logger *zap.Logger) Mailer {
	if cfg.SendgridAPIKey == "" {
		return NewLogMailer(logger)
	}
	return NewSendgridMailer(cfg, logger)
}

// SendgridMailer delivers through the SendGrid v3 API.
type SendgridMailer struct {
	key    string
	from   *sgmail.Email
	prefix string
	logger *zap.Logger
}

// NewSendgridMailer builds a SendgridMailer.
func NewSendgridMailer(cfg config.MailConfig, logger *zap.Logger) *SendgridMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := cfg.FromName
	if name == "" {
		name = "Gradebook"
	}
	return &SendgridMailer{
		key:    cfg.SendgridAPIKey,
		from:   sgmail.NewEmail(name, cfg.FromAddress),
		prefix: "[" + name + "] ",
		logger: logger,
	}
}

func (m *SendgridMailer) build(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = m.prefix + msg.Subject
	p.AddTos(sgmail.NewEmail(msg.ToName, msg.ToEmail))

	v3 := sgmail.NewV3Mail()
	v3.SetFrom(m.from)
	v3.AddPersonalizations(p)
	v3.AddContent(sgmail.NewContent("text/plain", msg.Text))
	if msg.HTML != "" {
		v3.AddContent(sgmail.NewContent("text/html", msg.HTML))
	}
	return v3
}

// Send implements Mailer.
func (m *SendgridMailer) Send(ctx context.Context, msg Message) error {
	if msg.ToEmail == "" {
		return fmt.Errorf("send mail: recipient is required")
	}
	req := sendgrid.GetRequest(m.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m.build(msg))

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}

	// sendgrid.API takes no context; the caller stops waiting when ctx ends.
	var (
		status  int
		sendErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		res, err := sendgrid.API(req)
		if err != nil {
			sendErr = err
			return
		}
		status = res.StatusCode
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("send mail: %w", ctx.Err())
	case <-done:
	}
	if sendErr != nil {
		return fmt.Errorf("send mail: %w", sendErr)
	}
	if status >= http.StatusBadRequest {
		return fmt.Errorf("send mail: sendgrid responded %d", status)
	}
	m.logger.Debug("mail sent", zap.String("to", msg.ToEmail), zap.String("subject", msg.Subject))
	return nil
}

// LogMailer writes messages to the logger and keeps them in memory.
type LogMailer struct {
	logger *zap.Logger
	mu     sync.Mutex
	sent   []Message
}

// NewLogMailer builds a LogMailer.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

// Send implements Mailer.
func (m *LogMailer) Send(_ context.Context, msg Message) error {
	if msg.ToEmail == "" {
		return fmt.Errorf("send mail: recipient is required")
	}
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	m.logger.Info("mail (console)",
		zap.String("to", msg.ToEmail),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Text),
	)
	return nil
}

// Sent returns a copy of the delivered messages.
func (m *LogMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}
