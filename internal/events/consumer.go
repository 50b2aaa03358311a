package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/fleet"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// Releaser returns a driver to the available pool once their ride is over.
type Releaser interface {
	Release(ctx context.Context, ev models.CompletionEvent) (models.Driver, error)
}

// PoolReleaser completes rides against a fleet registry.
type PoolReleaser struct {
	Service *matcher.Service
	Pool    *fleet.Registry
}

func (p PoolReleaser) Release(ctx context.Context, ev models.CompletionEvent) (models.Driver, error) {
	return p.Service.CompleteRide(ctx, ev.DriverID, ev.Loc, p.Pool)
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// CompletionConsumer reads "ride completed" messages and frees the drivers
// they name.
type CompletionConsumer struct {
	reader   messageReader
	releaser Releaser
	logger   *slog.Logger

	Attempts   int
	RetryDelay time.Duration
	MaxBackoff time.Duration
}

func NewCompletionConsumer(brokers []string, topic, group string, releaser Releaser, logger *slog.Logger) *CompletionConsumer {
	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 1, MaxBytes: 10e6})
	return newCompletionConsumer(r, releaser, logger)
}

func newCompletionConsumer(r messageReader, releaser Releaser, logger *slog.Logger) *CompletionConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &CompletionConsumer{
		reader:     r,
		releaser:   releaser,
		logger:     logger,
		Attempts:   3,
		RetryDelay: 200 * time.Millisecond,
		MaxBackoff: 30 * time.Second,
	}
}

// Run consumes until ctx is cancelled. Read errors back off exponentially;
// a message that cannot be applied is logged and skipped.
func (c *CompletionConsumer) Run(ctx context.Context) error {
	backoff := c.initialBackoff()
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("completion consumer stopping")
				return nil
			}
			c.logger.Warn("kafka read error", "error", err, "backoff", backoff.String())
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff *= 2
			if c.MaxBackoff > 0 && backoff > c.MaxBackoff {
				backoff = c.MaxBackoff
			}
			continue
		}
		backoff = c.initialBackoff()

		if err := c.handle(ctx, m.Value); err != nil {
			c.logger.Error("completion not applied", "error", err, "offset", m.Offset, "partition", m.Partition)
		}
	}
}

func (c *CompletionConsumer) initialBackoff() time.Duration {
	if c.MaxBackoff > 0 && c.MaxBackoff < time.Second {
		return c.MaxBackoff
	}
	return time.Second
}

func (c *CompletionConsumer) handle(ctx context.Context, value []byte) error {
	observability.CompletionsConsumed.Inc()
	ev, err := decodeCompletion(value)
	if err != nil {
		observability.CompletionsInvalid.Inc()
		return err
	}
	d, err := applyWithRetry(ctx, c.releaser, ev, c.Attempts, c.RetryDelay)
	if err != nil {
		observability.CompletionsFailed.Inc()
		return fmt.Errorf("release driver %s: %w", ev.DriverID, err)
	}
	observability.CompletionsApplied.Inc()
	c.logger.Debug("driver released", "driver_id", d.ID, "lat", d.Loc.Lat, "lon", d.Loc.Lon)
	return nil
}

func (c *CompletionConsumer) Close() error {
	return c.reader.Close()
}

func decodeCompletion(value []byte) (models.CompletionEvent, error) {
	var ev models.CompletionEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return ev, fmt.Errorf("invalid message: %w", err)
	}
	if ev.DriverID == "" {
		return ev, errors.New("invalid message: missing driver_id")
	}
	if err := ev.Loc.Validate(); err != nil {
		return ev, fmt.Errorf("invalid message: %w", err)
	}
	return ev, nil
}

// applyWithRetry retries only persistence failures; any other error is final.
func applyWithRetry(ctx context.Context, r Releaser, ev models.CompletionEvent, attempts int, delay time.Duration) (models.Driver, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		d, err := r.Release(ctx, ev)
		if err == nil {
			return d, nil
		}
		lastErr = err
		if !errors.Is(err, fleet.ErrPersistence) || i == attempts-1 {
			break
		}
		if !sleep(ctx, delay) {
			return models.Driver{}, errors.Join(lastErr, ctx.Err())
		}
		delay *= 2
	}
	return models.Driver{}, lastErr
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
