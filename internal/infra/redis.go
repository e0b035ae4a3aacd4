package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

const (
	startupRetries  = 5
	startupMaxDelay = 2 * time.Second
)

// NewRedisClient parses url, builds a client and waits for a successful ping.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, errors.New("redis url is required")
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opt)

	if err := retry.Do(ctx, startupBackoff(), func(ctx context.Context) error {
		return retry.RetryableError(client.Ping(ctx).Err())
	}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

func startupBackoff() retry.Backoff {
	b := retry.NewFibonacci(200 * time.Millisecond)
	b = retry.WithCappedDuration(startupMaxDelay, b)
	return retry.WithMaxRetries(startupRetries, b)
}
