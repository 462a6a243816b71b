package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/gradebook-api/pkg/jobs"
	"github.com/noah-isme/gradebook-api/pkg/mailer"
)

const (
	mailJobType     = "mail.send"
	mailSendTimeout = 15 * time.Second
)

// MailDispatcher satisfies mailer.Mailer by queueing messages for a
// background worker, so callers never wait on the mail provider.
type MailDispatcher struct {
	mailer mailer.Mailer
	queue  jobDispatcher
	logger *zap.Logger
}

// NewMailDispatcher wraps m. Until SetQueue is called, Send delivers inline.
func NewMailDispatcher(m mailer.Mailer, logger *zap.Logger) *MailDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MailDispatcher{mailer: m, logger: logger}
}

// SetQueue routes messages through a job queue whose handler is Handle.
func (d *MailDispatcher) SetQueue(queue jobDispatcher) {
	d.queue = queue
}

// Send enqueues msg.
func (d *MailDispatcher) Send(ctx context.Context, msg mailer.Message) error {
	if d.queue == nil {
		return d.mailer.Send(ctx, msg)
	}
	if err := d.queue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: mailJobType, Payload: msg}); err != nil {
		d.logger.Warn("mail enqueue failed", zap.String("to", msg.ToEmail), zap.Error(err))
		return err
	}
	return nil
}

// Handle is the queue handler delivering one message.
func (d *MailDispatcher) Handle(ctx context.Context, job jobs.Job) error {
	msg, ok := job.Payload.(mailer.Message)
	if !ok {
		return fmt.Errorf("unexpected mail payload %T", job.Payload)
	}
	ctx, cancel := context.WithTimeout(ctx, mailSendTimeout)
	defer cancel()
	return d.mailer.Send(ctx, msg)
}
