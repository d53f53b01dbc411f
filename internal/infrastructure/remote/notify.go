package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/equiptrack/station/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const feedCloseTimeout = 5 * time.Second

// ChangeNotice tells subscribers that a remote table changed. It carries no
// row data on purpose: the station treats it as an invalidation signal and
// refetches, never as a data feed.
type ChangeNotice struct {
	Table     string `json:"table"`
	Timestamp int64  `json:"timestamp"`
}

// ChangeFeed listens on Redis Pub/Sub for remote table change notices. One
// channel per watched table, named channelPrefix + table.
type ChangeFeed struct {
	client     *redis.Client
	ownsClient bool
	prefix     string
	tables     []string
	logger     *zap.Logger
	cancelFn   context.CancelFunc
	doneCh     chan struct{}
	doneOnce   sync.Once
	mu         sync.Mutex
	isRunning  bool
}

// ChangeFeedOption is a functional option for configuring the feed
type ChangeFeedOption func(*ChangeFeed)

// WithFeedLogger sets the logger for the feed
func WithFeedLogger(logger *zap.Logger) ChangeFeedOption {
	return func(f *ChangeFeed) { f.logger = logger }
}

// NewChangeFeed creates a change feed watching the given tables.
func NewChangeFeed(cfg *config.RedisConfig, tables []string, opts ...ChangeFeedOption) (*ChangeFeed, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	feed := &ChangeFeed{
		client:     client,
		ownsClient: true,
		prefix:     cfg.ChannelPrefix,
		tables:     tables,
		logger:     zap.NewNop(),
		doneCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(feed)
	}
	return feed, nil
}

// NewChangeFeedWithClient creates a feed on an existing Redis client.
// The caller retains ownership of the client and is responsible for closing it.
func NewChangeFeedWithClient(client *redis.Client, prefix string, tables []string, opts ...ChangeFeedOption) *ChangeFeed {
	feed := &ChangeFeed{
		client:     client,
		ownsClient: false,
		prefix:     prefix,
		tables:     tables,
		logger:     zap.NewNop(),
		doneCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(feed)
	}
	return feed
}

// Subscribe blocks listening for change notices and invokes the callback
// for each one. Run it in a goroutine; stop it by cancelling the context
// or calling Close.
func (f *ChangeFeed) Subscribe(ctx context.Context, callback func(ChangeNotice)) error {
	f.mu.Lock()
	if f.isRunning {
		f.mu.Unlock()
		return fmt.Errorf("subscription already running")
	}
	f.isRunning = true
	f.mu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancelFn = cancel
	f.mu.Unlock()

	channels := make([]string, len(f.tables))
	for i, table := range f.tables {
		channels[i] = f.prefix + table
	}

	pubsub := f.client.Subscribe(subCtx, channels...)
	defer pubsub.Close()

	if _, err := pubsub.Receive(subCtx); err != nil {
		f.mu.Lock()
		f.isRunning = false
		f.mu.Unlock()
		f.markDone()
		return fmt.Errorf("failed to subscribe to change channels: %w", err)
	}

	f.logger.Info("Subscribed to remote change feed",
		zap.Strings("channels", channels))

	ch := pubsub.Channel()
	for {
		select {
		case <-subCtx.Done():
			f.logger.Info("Remote change feed stopped")
			f.mu.Lock()
			f.isRunning = false
			f.mu.Unlock()
			f.markDone()
			return subCtx.Err()
		case msg, ok := <-ch:
			if !ok {
				f.logger.Warn("Remote change feed channel closed")
				f.mu.Lock()
				f.isRunning = false
				f.mu.Unlock()
				f.markDone()
				return nil
			}

			notice := ChangeNotice{Timestamp: time.Now().UnixNano()}
			if len(msg.Payload) > 0 {
				if err := json.Unmarshal([]byte(msg.Payload), &notice); err != nil {
					f.logger.Debug("Change notice without JSON payload",
						zap.String("channel", msg.Channel))
				}
			}
			if notice.Table == "" {
				// Fall back to the channel name when the publisher sent a
				// bare ping.
				notice.Table = msg.Channel[len(f.prefix):]
			}

			go func(n ChangeNotice) {
				defer func() {
					if r := recover(); r != nil {
						f.logger.Error("Panic in change feed callback",
							zap.Any("panic", r))
					}
				}()
				callback(n)
			}(notice)
		}
	}
}

func (f *ChangeFeed) markDone() {
	f.doneOnce.Do(func() { close(f.doneCh) })
}

// Close stops the subscription and releases the client if owned.
func (f *ChangeFeed) Close() error {
	f.mu.Lock()
	cancelFn := f.cancelFn
	f.mu.Unlock()

	if cancelFn != nil {
		cancelFn()
		select {
		case <-f.doneCh:
		case <-time.After(feedCloseTimeout):
			f.logger.Warn("Timeout waiting for change feed to stop")
		}
	}

	if f.ownsClient {
		return f.client.Close()
	}
	return nil
}
