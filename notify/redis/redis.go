// Package redis publishes transfer events to a Redis pub/sub channel.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/wsfs/notify"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "wsfs:file_received"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Config configures the Redis publisher.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel (default wsfs:file_received).
	Channel string
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure.
	Retries int
}

// Publisher sends events with PUBLISH.
type Publisher struct {
	config Config
	client *goredis.Client
}

// New creates a Redis publisher. Returns an error if the URL is empty or
// invalid.
func New(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis publisher requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis publisher: invalid URL: %w", err)
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

	return &Publisher{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Channel returns the configured channel.
func (p *Publisher) Channel() string {
	return p.config.Channel
}

// Publish sends the event as JSON to the configured channel, retrying with
// exponential backoff.
func (p *Publisher) Publish(ctx context.Context, event *notify.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	var lastErr error
	attempts := 1 + p.config.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redis: context canceled: %w", err)
		}
		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("redis: context canceled during backoff: %w", ctx.Err())
			case <-time.After(notify.Backoff(i)):
			}
		}

		publishCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		lastErr = p.client.Publish(publishCtx, p.config.Channel, body).Err()
		cancel()

		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("redis: failed after %d attempts: %w", attempts, lastErr)
}

// Close releases the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

var _ notify.Publisher = (*Publisher)(nil)
