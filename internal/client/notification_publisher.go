package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-procurement-approvals/internal/service"
)

// publisher is the subset of *nats.Conn used for publishing.
type publisher interface {
	Publish(subject string, data []byte) error
}

// NotificationPublisher publishes approval events to NATS for consumption by
// the notifications service.
//
// Subject convention: <prefix>.<event_type>
// Event types: requisition_submitted, decision_recorded, approval_required,
//
//	requisition_approved, requisition_rejected
//
// All publish operations are non-fatal: errors are logged but never propagated
// to the caller, so notification failures never interrupt approval operations.
type NotificationPublisher struct {
	conn   publisher
	prefix string
	log    zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	ID           string                 `json:"id"`
	EventType    string                 `json:"event_type"`
	ProjectID    string                 `json:"project_id"`
	ActorID      string                 `json:"actor_id"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Level        int                    `json:"level,omitempty"`
	Roles        []string               `json:"roles,omitempty"`
	IsActionable bool                   `json:"is_actionable,omitempty"`
	Category     string                 `json:"category"`
	OccurredAt   time.Time              `json:"occurred_at"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// ConnectNATS dials the broker with reconnect handling suitable for a
// long-running service.
func ConnectNATS(url, name string, log zerolog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// NewNotificationPublisher creates a publisher backed by the given connection.
// A nil connection yields a publisher that drops every event.
func NewNotificationPublisher(conn *nats.Conn, prefix string, log zerolog.Logger) *NotificationPublisher {
	if conn == nil {
		return newNotificationPublisher(nil, prefix, log)
	}
	return newNotificationPublisher(conn, prefix, log)
}

func newNotificationPublisher(conn publisher, prefix string, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{
		conn:   conn,
		prefix: prefix,
		log:    log.With().Str("component", "notification_publisher").Logger(),
	}
}

// Publish implements service.NotificationService.
func (p *NotificationPublisher) Publish(ctx context.Context, n service.Notification) {
	if p.conn == nil {
		return
	}
	if ctx.Err() != nil {
		p.log.Warn().Err(ctx.Err()).Str("event_type", n.EventType).Msg("notification: context done, event dropped")
		return
	}

	event := &NotificationEvent{
		ID:           uuid.NewString(),
		EventType:    n.EventType,
		ProjectID:    n.ProjectID,
		ActorID:      n.ActorID,
		ResourceType: "requisition",
		ResourceID:   n.RequisitionID,
		Level:        n.Level,
		Roles:        n.Roles,
		IsActionable: n.EventType == service.EventApprovalRequired,
		Category:     "procurement_approval",
		OccurredAt:   time.Now().UTC(),
		Payload:      n.Payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", n.EventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("%s.%s", p.prefix, n.EventType)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("requisition_id", n.RequisitionID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("requisition_id", n.RequisitionID).
		Msg("notification: event published")
}
