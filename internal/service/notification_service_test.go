package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gradebook-api/internal/models"
	appErrors "github.com/noah-isme/gradebook-api/pkg/errors"
	"github.com/noah-isme/gradebook-api/pkg/jobs"
	"github.com/noah-isme/gradebook-api/pkg/mailer"
)

type memoryNotificationRepo struct {
	mu      sync.Mutex
	rows    []models.Notification
	failErr error
}

func (r *memoryNotificationRepo) CreateMany(_ context.Context, rows []models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	for i := range rows {
		if rows[i].ID == "" {
			rows[i].ID = "n-" + rows[i].UserID
		}
	}
	r.rows = append(r.rows, rows...)
	return nil
}

func (r *memoryNotificationRepo) ListByUser(_ context.Context, userID string, _ models.PageRequest) ([]models.Notification, int, error) {
	var out []models.Notification
	for _, row := range r.rows {
		if row.UserID == userID {
			out = append(out, row)
		}
	}
	return out, len(out), nil
}

func (r *memoryNotificationRepo) CountUnseen(_ context.Context, userID string) (int, error) {
	count := 0
	for _, row := range r.rows {
		if row.UserID == userID && !row.Seen {
			count++
		}
	}
	return count, nil
}

func (r *memoryNotificationRepo) MarkSeen(_ context.Context, userID, id string) error {
	for i := range r.rows {
		if r.rows[i].ID == id && r.rows[i].UserID == userID {
			r.rows[i].Seen = true
			return nil
		}
	}
	return sql.ErrNoRows
}

// recipients returns every user that got a notification of type t.
func (r *memoryNotificationRepo) recipients(t models.NotificationType) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, row := range r.rows {
		if row.Type == t {
			out = append(out, row.UserID)
		}
	}
	return out
}

type recordingPublisher struct {
	keys []string
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, _ interface{}) error {
	p.keys = append(p.keys, routingKey)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

type queueStub struct {
	jobs []jobs.Job
	err  error
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func TestNotificationServiceInlineDelivery(t *testing.T) {
	repo := &memoryNotificationRepo{}
	pub := &recordingPublisher{}
	svc := NewNotificationService(repo, pub, NewMetricsService(), nil)

	svc.NotifyMany(context.Background(), []string{"u1", "u2", "u1", ""}, models.NotificationPayload{
		Title: "Grade finalized",
		Type:  models.NotificationCompositionFinalized,
		Data:  map[string]interface{}{"composition_id": "c1"},
	})

	require.Len(t, repo.rows, 2)
	assert.ElementsMatch(t, []string{"u1", "u2"}, repo.recipients(models.NotificationCompositionFinalized))
	var data map[string]string
	require.NoError(t, json.Unmarshal(repo.rows[0].Data, &data))
	assert.Equal(t, "c1", data["composition_id"])
	assert.Equal(t, []string{"notification.GRADE_COMPOSITION_FINALIZED", "notification.GRADE_COMPOSITION_FINALIZED"}, pub.keys)
}

func TestNotificationServiceSwallowsFailures(t *testing.T) {
	repo := &memoryNotificationRepo{failErr: errors.New("db down")}
	svc := NewNotificationService(repo, nil, nil, nil)

	assert.NotPanics(t, func() {
		svc.Notify(context.Background(), "u1", models.NotificationPayload{Type: models.NotificationComment})
	})
	assert.Empty(t, repo.rows)

	queue := &queueStub{err: errors.New("queue full")}
	svc.SetQueue(queue)
	svc.Notify(context.Background(), "u1", models.NotificationPayload{Type: models.NotificationComment})
}

func TestNotificationServiceQueuesAndHandles(t *testing.T) {
	repo := &memoryNotificationRepo{}
	pub := &recordingPublisher{err: errors.New("broker unavailable")}
	svc := NewNotificationService(repo, pub, nil, nil)
	queue := &queueStub{}
	svc.SetQueue(queue)

	svc.Notify(context.Background(), "u1", models.NotificationPayload{Type: models.NotificationReviewDecision})
	require.Len(t, queue.jobs, 1)
	assert.Empty(t, repo.rows)

	require.NoError(t, svc.Handle(context.Background(), queue.jobs[0]))
	assert.Len(t, repo.rows, 1)
	assert.JSONEq(t, "{}", string(repo.rows[0].Data))

	err := svc.Handle(context.Background(), jobs.Job{Payload: "bogus"})
	assert.Error(t, err)
}

func TestNotificationServiceReadSide(t *testing.T) {
	repo := &memoryNotificationRepo{}
	svc := NewNotificationService(repo, nil, nil, nil)
	ctx := context.Background()
	svc.NotifyMany(ctx, []string{"u1"}, models.NotificationPayload{Type: models.NotificationComment})

	items, pagination, err := svc.List(ctx, "u1", models.PageRequest{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, pagination.TotalCount)

	count, err := svc.CountUnseen(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, svc.MarkSeen(ctx, "u1", items[0].ID))
	count, err = svc.CountUnseen(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, count)

	err = svc.MarkSeen(ctx, "u2", items[0].ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestMailDispatcher(t *testing.T) {
	logMailer := mailer.NewLogMailer(nil)
	dispatcher := NewMailDispatcher(logMailer, nil)
	msg := mailer.Message{ToEmail: "a@example.com", Subject: "hi"}

	require.NoError(t, dispatcher.Send(context.Background(), msg))
	assert.Len(t, logMailer.Sent(), 1)

	queue := &queueStub{}
	dispatcher.SetQueue(queue)
	require.NoError(t, dispatcher.Send(context.Background(), msg))
	require.Len(t, queue.jobs, 1)
	assert.Len(t, logMailer.Sent(), 1)

	require.NoError(t, dispatcher.Handle(context.Background(), queue.jobs[0]))
	assert.Len(t, logMailer.Sent(), 2)
}
