package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/HJ8A/proyecto-asistencia/internal/models"
)

const (
	AttendanceStreamName  = "ATTENDANCE"
	AttendanceSubjectBase = "attendance"
)

func connect(natsURL string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

// Producer publishes recorded attendance events and sends control requests.
type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Producer{nc: nc, js: js}, nil
}

// EnsureStreams creates the attendance stream, retrying while NATS starts up.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	cfg := jetstream.StreamConfig{
		Name:        AttendanceStreamName,
		Subjects:    []string{AttendanceSubjectBase + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Duplicates:  2 * time.Minute,
		Description: "Recorded attendance events",
	}

	const maxAttempts = 30
	for attempt := 1; ; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
		cancel()
		if err == nil {
			slog.Info("ensured NATS stream", "name", cfg.Name)
			return nil
		}
		if attempt == maxAttempts {
			return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
		}
		slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// PublishAttendance sends ev on attendance.<method>. The event id is the
// JetStream message id, so a retried publish is deduplicated by the server.
func (p *Producer) PublishAttendance(ctx context.Context, ev *models.AttendanceEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal attendance event: %w", err)
	}
	_, err = p.js.Publish(ctx, AttendanceSubject(ev.Method), payload,
		jetstream.WithMsgID(strconv.FormatInt(ev.ID, 10)))
	if err != nil {
		return fmt.Errorf("publish attendance event: %w", err)
	}
	return nil
}

func AttendanceSubject(m models.Method) string {
	return AttendanceSubjectBase + "." + string(m)
}

// RequestControl sends a control action to the kiosk and waits for its reply.
func (p *Producer) RequestControl(ctx context.Context, action string) (ControlReply, error) {
	data, err := json.Marshal(ControlRequest{Action: action})
	if err != nil {
		return ControlReply{}, fmt.Errorf("marshal control request: %w", err)
	}
	msg, err := p.nc.RequestWithContext(ctx, ControlSubject, data)
	if err != nil {
		return ControlReply{}, fmt.Errorf("control %s: %w", action, err)
	}
	var reply ControlReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return ControlReply{}, fmt.Errorf("decode control reply: %w", err)
	}
	return reply, nil
}

// Conn is the underlying connection, shared with the control subscription.
func (p *Producer) Conn() *nats.Conn { return p.nc }

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
