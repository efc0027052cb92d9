package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/piperunner/internal/logfields"
)

// publishTimeout bounds a single JetStream publish so a slow broker cannot
// stall the run goroutine.
const publishTimeout = 5 * time.Second

// NATSEmitter publishes events to a JetStream subject. All event types go to
// the one configured subject; consumers discriminate on the payload's type
// field.
type NATSEmitter struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	subject string
}

// NewNATSEmitter connects to the broker and prepares the JetStream context.
func NewNATSEmitter(url, subject string) (*NATSEmitter, error) {
	if url == "" || subject == "" {
		return nil, fmt.Errorf("nats emitter needs both url and subject")
	}

	conn, err := nats.Connect(url, nats.Name("piperunner"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	slog.Info("NATS emitter connected",
		slog.String("url", url),
		slog.String("subject", subject))

	return &NATSEmitter{conn: conn, js: js, subject: subject}, nil
}

// Emit publishes one event.
func (e *NATSEmitter) Emit(ctx context.Context, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := e.js.Publish(ctx, e.subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	slog.Debug("Published run event",
		slog.String("event", string(ev.Type)),
		logfields.RunID(ev.RunID),
		logfields.Pipeline(ev.Pipeline))
	return nil
}

// Close drains the connection.
func (e *NATSEmitter) Close() error {
	if e.conn != nil {
		e.conn.Close()
	}
	return nil
}
