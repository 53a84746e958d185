package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/HJ8A/proyecto-asistencia/internal/models"
)

// AttendanceHandler receives one decoded event. Returning an error naks the message.
type AttendanceHandler func(ctx context.Context, ev models.AttendanceEvent) error

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// ConsumeAttendance delivers events recorded from now on to handler until ctx ends.
func (c *Consumer) ConsumeAttendance(ctx context.Context, consumerName string, handler AttendanceHandler) error {
	stream, err := c.js.Stream(ctx, AttendanceStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", AttendanceStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    3,
		FilterSubject: AttendanceSubjectBase + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for ctx.Err() == nil {
			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch attendance events", "error", err)
				time.Sleep(time.Second)
				continue
			}
			for msg := range batch.Messages() {
				handleMessage(ctx, msg, handler)
			}
		}
	}()

	slog.Info("attendance consumer started", "consumer", consumerName)
	return nil
}

func handleMessage(ctx context.Context, msg jetstream.Msg, handler AttendanceHandler) {
	var ev models.AttendanceEvent
	if err := json.Unmarshal(msg.Data(), &ev); err != nil {
		// Undecodable payloads will never succeed.
		slog.Error("unmarshal attendance event", "error", err, "subject", msg.Subject())
		_ = msg.Term()
		return
	}
	if err := handler(ctx, ev); err != nil {
		slog.Error("handle attendance event", "event_id", ev.ID, "error", err)
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

func (c *Consumer) Close() {
	c.nc.Close()
}
