//go:build integration

package history_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-arcana/pkg/history"
)

func openRedis(t *testing.T) *history.RedisStore {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := history.OpenRedis(ctx, url,
		history.WithTTL(time.Minute),
		history.WithKeyPrefix("arcana:test:"),
		history.WithSystemPrompt("sys"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRedisStoreLifecycle(t *testing.T) {
	s := openRedis(t)
	ctx := context.Background()
	id := uuid.NewString()
	defer s.Delete(ctx, id)

	_, err := s.Messages(ctx, id)
	assert.ErrorIs(t, err, history.ErrNotFound)

	msgs, err := s.GetOrCreate(ctx, id)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "sys", msgs[0].Content)

	_, err = s.Append(ctx, id, history.NewUserMessage("hi"))
	require.NoError(t, err)
	msgs, err = s.Append(ctx, id, history.NewAssistantMessage("hello"))
	require.NoError(t, err)
	assert.Len(t, msgs, 3)

	require.NoError(t, s.Delete(ctx, id))
	_, err = s.Append(ctx, id, history.NewUserMessage("late"))
	assert.ErrorIs(t, err, history.ErrNotFound)
}

func TestRedisStoreConcurrentCreate(t *testing.T) {
	s := openRedis(t)
	ctx := context.Background()
	id := uuid.NewString()
	defer s.Delete(ctx, id)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.GetOrCreate(ctx, id)
		}()
	}
	wg.Wait()

	msgs, err := s.Messages(ctx, id)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}
