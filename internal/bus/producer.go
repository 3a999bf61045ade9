// Package bus owns the event-bus producer connection. The server keeps the
// connection alive for its whole lifetime as a boundary for future
// audit/replication fan-out; the coordination logic never publishes through
// it today.
package bus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
)

const dialAttempts = 5

type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// Connect verifies the broker is reachable (retrying with backoff, since the
// broker often comes up alongside this server) and returns a producer bound
// to it. Startup should fail if this fails.
func Connect(ctx context.Context, broker string, logger *slog.Logger) (*Producer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dial := func() error {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			return err
		}
		return conn.Close()
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), dialAttempts), ctx)
	if err := backoff.Retry(dial, policy); err != nil {
		return nil, fmt.Errorf("dial event bus %s: %w", broker, err)
	}

	logger.Info("event bus connected", "broker", broker)
	return &Producer{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(broker),
			Balancer: &kafka.LeastBytes{},
		},
		logger: logger,
	}, nil
}

func (p *Producer) Close() error {
	p.logger.Info("event bus disconnecting")
	return p.writer.Close()
}
