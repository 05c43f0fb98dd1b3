// Package redis implements a Redis pub/sub adapter.
//
// Publishes call completion events as JSON to a configurable Redis
// channel. Retries with exponential backoff on connection errors.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/cychenyin/tchannel/adapter"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "tchannel:call_completed"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Config configures the Redis pub/sub adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default: tchannel:call_completed).
	Channel string
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default 3).
	Retries int
}

// Adapter publishes call completion events via Redis PUBLISH.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a Redis pub/sub adapter from the given config.
// Returns an error if the URL is empty or invalid.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	return &Adapter{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// backoffBase is the delay before the first retry; each later retry
// doubles it.
const backoffBase = 500 * time.Millisecond

// Publish sends the event as a JSON PUBLISH to the configured channel.
// Failed attempts are retried with exponential backoff until the retry
// budget or the context runs out.
func (a *Adapter) Publish(ctx context.Context, event *adapter.CallCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	attempts := 1 + a.config.Retries
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := a.sleepBackoff(ctx, i); err != nil {
				return err
			}
		}
		if lastErr = a.publishOnce(ctx, body); lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("redis: failed after %d attempts: %w", attempts, lastErr)
}

// publishOnce performs a single PUBLISH bounded by the per-attempt timeout.
func (a *Adapter) publishOnce(ctx context.Context, body []byte) error {
	publishCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()
	return a.client.Publish(publishCtx, a.config.Channel, body).Err()
}

func (a *Adapter) sleepBackoff(ctx context.Context, retry int) error {
	delay := backoffBase << (retry - 1)
	select {
	case <-ctx.Done():
		return fmt.Errorf("redis: canceled during backoff: %w", ctx.Err())
	case <-time.After(delay):
		return nil
	}
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.client.Close()
}

// Verify Adapter implements the adapter interface.
var _ adapter.Adapter = (*Adapter)(nil)
