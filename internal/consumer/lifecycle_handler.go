package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/enrollment/internal/domain"
	"example.com/enrollment/internal/events"
)

// LifecycleHandler reacts to activity lifecycle events from the
// activity-management service. A cancelled activity cancels every active
// enrollment; completed activities only update the local projection. Every
// message is also written to the audit log.
type LifecycleHandler struct {
	service *domain.Service
	pool    *pgxpool.Pool
	logger  *log.Logger
}

// NewLifecycleHandler constructs a handler over the enrollment service.
func NewLifecycleHandler(service *domain.Service, pool *pgxpool.Pool) *LifecycleHandler {
	return &LifecycleHandler{
		service: service,
		pool:    pool,
		logger:  log.New(log.Writer(), "[lifecycle] ", log.LstdFlags),
	}
}

// Handle implements Handler.
func (h *LifecycleHandler) Handle(ctx context.Context, msg Message) error {
	if err := h.appendAuditLog(ctx, msg); err != nil {
		return err
	}

	if msg.EventType != events.TypeActivityStatusChanged {
		return nil
	}

	var payload events.ActivityStatusChanged
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("decode %s: %w", msg.EventType, err)
	}

	status := domain.ActivityStatus(payload.Status)
	switch status {
	case domain.ActivityStatusCancelled, domain.ActivityStatusCompleted:
	default:
		return nil
	}

	cancelled, err := h.service.DeactivateActivity(ctx, payload.ActivityID, status)
	if err != nil {
		// Unknown activities were never projected locally; nothing to cancel.
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if cancelled > 0 {
		h.logger.Printf("activity %s %s: cancelled %d enrollments", payload.ActivityID, status, cancelled)
	}
	return nil
}

func (h *LifecycleHandler) appendAuditLog(ctx context.Context, msg Message) error {
	_, err := h.pool.Exec(ctx,
		`INSERT INTO enrollment_event_log (event_type, schema_id, schema_subject, topic, partition, record_offset, payload, received_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		msg.EventType,
		msg.SchemaID,
		msg.SchemaSubject,
		msg.Topic,
		msg.Partition,
		msg.Offset,
		msg.Payload,
		msg.Timestamp,
	)
	return err
}
