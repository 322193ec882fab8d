package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection settings, loadable via pkg/config.
type Config struct {
	// ConnectionURL in the form "redis://:password@localhost:6379/0".
	ConnectionURL string `env:"REDIS_URL,required" envDefault:"redis://localhost:6379/0"`
	// RetryAttempts is the number of connection attempts before giving up.
	RetryAttempts int `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	// RetryInterval is the wait between connection attempts.
	RetryInterval time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`
	// ConnectTimeout bounds the total time spent connecting.
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
}

var (
	ErrFailedToParseConnString = errors.New("failed to parse redis connection string")
	ErrNotReady                = errors.New("redis did not become ready within the given time period")
	ErrHealthcheckFailed       = errors.New("redis healthcheck failed")
)

// Connect establishes a Redis connection, retrying per the config. The
// returned client backs both the shared cache tier and change propagation.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opt, err := redis.ParseURL(cfg.ConnectionURL)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseConnString, err)
	}

	for range cfg.RetryAttempts {
		client := redis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}

	return nil, ErrNotReady
}

// Healthcheck returns a probe function suitable for readiness endpoints.
func Healthcheck(client redis.UniversalClient) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}
