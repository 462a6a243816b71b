package repository

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/gradebook-api/pkg/errors"
)

func unreachableRedis() redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestCacheRepositoryDeleteWithoutKeys(t *testing.T) {
	repo := NewCacheRepository(unreachableRedis(), nil)
	assert.NoError(t, repo.Delete(context.Background()))
}

func TestCacheRepositorySetRejectsUnencodableValue(t *testing.T) {
	repo := NewCacheRepository(unreachableRedis(), nil)
	err := repo.Set(context.Background(), "gradebook:board:class-1", make(chan int), time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "marshal cache value")
}

func TestCacheRepositoryGetSurfacesConnectionErrors(t *testing.T) {
	repo := NewCacheRepository(unreachableRedis(), nil)
	var dest map[string]string
	err := repo.Get(context.Background(), "gradebook:board:class-1", &dest)
	require.Error(t, err)
	assert.NotErrorIs(t, err, appErrors.ErrCacheMiss)
}
