package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
)

const (
	TypeRideMatched    = "ride.matched"
	TypeDriverReleased = "driver.released"
)

type RideMatched struct {
	Type        string       `json:"type"`
	RideID      int64        `json:"ride_id"`
	RiderID     string       `json:"rider_id"`
	DriverID    string       `json:"driver_id"`
	Pickup      models.Coord `json:"pickup"`
	DistanceKm  float64      `json:"distance_km"`
	Fare        float64      `json:"fare"`
	DurationMin float64      `json:"duration_min"`
	CreatedAt   time.Time    `json:"created_at"`
}

type DriverReleased struct {
	Type          string       `json:"type"`
	DriverID      string       `json:"driver_id"`
	Loc           models.Coord `json:"loc"`
	TotalEarnings float64      `json:"total_earnings"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes fleet events keyed by driver id, so one driver's
// events stay ordered within a partition.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.Hash{}})
	return &KafkaPublisher{writer: w, timeout: 2 * time.Second}
}

func (k *KafkaPublisher) PublishMatch(ctx context.Context, m models.MatchResult) error {
	return k.publish(ctx, m.Driver.ID, RideMatched{
		Type:        TypeRideMatched,
		RideID:      m.Ride.ID,
		RiderID:     m.Rider.ID,
		DriverID:    m.Driver.ID,
		Pickup:      m.Rider.Loc,
		DistanceKm:  m.DistanceKm,
		Fare:        m.Fare,
		DurationMin: m.DurationMin,
		CreatedAt:   m.Ride.CreatedAt,
	})
}

func (k *KafkaPublisher) PublishRelease(ctx context.Context, d models.Driver) error {
	return k.publish(ctx, d.ID, DriverReleased{
		Type:          TypeDriverReleased,
		DriverID:      d.ID,
		Loc:           d.Loc,
		TotalEarnings: d.TotalEarnings,
	})
}

func (k *KafkaPublisher) publish(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if k.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.timeout)
		defer cancel()
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b}); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
