package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// Event is one audit or telemetry record. Sinks are fire-and-forget:
// the pipeline never lets a sink failure block a job transition.
type Event struct {
	Type     string
	Actor    string
	TenantID uuid.UUID
	Payload  map[string]any
}

// Sink receives pipeline events.
type Sink interface {
	Record(ctx context.Context, event Event) error
}

// LogrusSink emits events as structured log lines; it serves as the
// telemetry collaborator.
type LogrusSink struct {
	logger *logrus.Logger
}

// NewLogrusSink wraps a logrus logger as a telemetry sink.
func NewLogrusSink(logger *logrus.Logger) *LogrusSink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogrusSink{logger: logger}
}

func (s *LogrusSink) Record(_ context.Context, event Event) error {
	s.logger.WithFields(logrus.Fields{
		"event":  event.Type,
		"actor":  event.Actor,
		"tenant": event.TenantID,
		"detail": event.Payload,
	}).Info("pipeline event")
	return nil
}

// PostgresSink appends events to the audit_events table. Audit writes
// deliberately use the pool, never the ambient transaction: a failed
// commit should still leave its audit trail.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink wires an audit sink backed by pgxpool.
func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

func (s *PostgresSink) Record(ctx context.Context, event Event) error {
	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal audit payload: %w", err)
	}

	_, err = s.pool.Exec(
		ctx,
		`INSERT INTO audit_events (id, event_type, actor, tenant_id, payload) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), event.Type, event.Actor, event.TenantID, payloadJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}

var _ Sink = (*LogrusSink)(nil)
var _ Sink = (*PostgresSink)(nil)
