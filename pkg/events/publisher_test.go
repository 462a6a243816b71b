package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRabbitMQPublisherDisabledWithoutURL(t *testing.T) {
	pub, err := NewRabbitMQPublisher("", "", nil)
	require.NoError(t, err)
	assert.IsType(t, NopPublisher{}, pub)
	assert.NoError(t, pub.Publish(context.Background(), RoutingKey("GRADE_FINALIZED"), map[string]string{"a": "b"}))
	assert.NoError(t, pub.Close())
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "notification.REVIEW_CREATED", RoutingKey("REVIEW_CREATED"))
}
