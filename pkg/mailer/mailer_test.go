package mailer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gradebook-api/pkg/config"
)

func TestNewFallsBackToLogMailer(t *testing.T) {
	m := New(config.MailConfig{}, nil)
	logMailer, ok := m.(*LogMailer)
	require.True(t, ok)

	require.NoError(t, logMailer.Send(context.Background(), Message{ToEmail: "a@example.com", Subject: "Hi", Text: "hello"}))
	assert.Error(t, logMailer.Send(context.Background(), Message{Subject: "no recipient"}))
	sent := logMailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Hi", sent[0].Subject)
}

func TestSendgridMailerBuild(t *testing.T) {
	m := NewSendgridMailer(config.MailConfig{SendgridAPIKey: "key", FromAddress: "noreply@example.com", FromName: "Gradebook"}, nil)
	v3 := m.build(Message{ToName: "Ana", ToEmail: "ana@example.com", Subject: "Invite", Text: "join", HTML: "<b>join</b>"})

	require.Len(t, v3.Personalizations, 1)
	assert.Equal(t, "[Gradebook] Invite", v3.Personalizations[0].Subject)
	assert.Equal(t, "ana@example.com", v3.Personalizations[0].To[0].Address)
	assert.Len(t, v3.Content, 2)
	assert.Equal(t, "noreply@example.com", v3.From.Address)
}

func TestSendgridMailerHonoursCancelledContext(t *testing.T) {
	m := NewSendgridMailer(config.MailConfig{SendgridAPIKey: "key", FromAddress: "noreply@example.com"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Send(ctx, Message{ToEmail: "ana@example.com", Subject: "Invite", Text: "join"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Error(t, m.Send(context.Background(), Message{Subject: "no recipient"}))
}
