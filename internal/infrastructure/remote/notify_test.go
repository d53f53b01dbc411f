package remote

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The feed owns the process's connection to the notice broker; its failure
// modes must not wedge the caller. These tests run against an unreachable
// broker on purpose.
func newUnreachableFeed(t *testing.T) *ChangeFeed {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:            "127.0.0.1:1",
		DialTimeout:     50 * time.Millisecond,
		MaxRetries:      -1,
		MinRetryBackoff: -1,
		MaxRetryBackoff: -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return NewChangeFeedWithClient(client, "equiptrack.", []string{"tsd"})
}

func TestChangeFeed_SubscribeReturnsErrorWhenBrokerUnreachable(t *testing.T) {
	feed := newUnreachableFeed(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- feed.Subscribe(ctx, func(ChangeNotice) {})
	}()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Subscribe did not return; callers running it synchronously would hang")
	}

	// A failed run releases the running flag so the caller can retry.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	assert.Error(t, feed.Subscribe(ctx2, func(ChangeNotice) {}))
}

func TestChangeFeed_CloseWithoutSubscribeIsSafe(t *testing.T) {
	feed := newUnreachableFeed(t)
	assert.NoError(t, feed.Close())
}
