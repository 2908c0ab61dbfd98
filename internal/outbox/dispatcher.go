// Package outbox delivers staged enrollment events to Kafka. Events are
// written to the outbox table in the same transaction as the state change
// they describe; the dispatcher drains and publishes them afterwards.
package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// Dispatcher drains the outbox table and delivers events to Kafka using
// Schema Registry metadata.
type Dispatcher struct {
	pool             *pgxpool.Pool
	producer         messageWriter
	registry         schemaRegistrar
	dlq              *DLQWriter
	pollInterval     time.Duration
	batchSize        int
	schemaIDCache    sync.Map
	shutdownComplete chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(pool *pgxpool.Pool, producer messageWriter, registry schemaRegistrar, pollInterval time.Duration, batchSize int) *Dispatcher {
	return &Dispatcher{
		pool:             pool,
		producer:         producer,
		registry:         registry,
		dlq:              NewDLQWriter(pool),
		pollInterval:     pollInterval,
		batchSize:        batchSize,
		shutdownComplete: make(chan struct{}),
	}
}

// Start launches the polling loop. It should be called in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer func() {
		ticker.Stop()
		close(d.shutdownComplete)
	}()

	for {
		if err := d.processBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("outbox dispatcher error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until the dispatcher stops.
func (d *Dispatcher) Wait() {
	<-d.shutdownComplete
}

func (d *Dispatcher) processBatch(ctx context.Context) error {
	start := time.Now()

	messages, err := d.fetchAndClaim(ctx)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}
	defer batchDuration.Observe(time.Since(start).Seconds())

	if err := d.deliver(ctx, messages); err != nil {
		log.Printf("outbox: delivery failure: %v", err)
		failedCounter.Add(float64(len(messages)))
		if dlqErr := d.moveToDLQ(ctx, messages, err.Error()); dlqErr != nil {
			return dlqErr
		}
		return d.markPublished(ctx, messages)
	}

	deliveredCounter.Add(float64(len(messages)))
	return d.markPublished(ctx, messages)
}

func (d *Dispatcher) fetchAndClaim(ctx context.Context) ([]Message, error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	const query = `SELECT event_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload
        FROM outbox
        WHERE published_at IS NULL
        ORDER BY event_id
        LIMIT $1
        FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, query, d.batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.EventID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Topic, &msg.SchemaSubject, &msg.PartitionKey, &msg.Payload); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
		ids = append(ids, msg.EventID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return nil, tx.Rollback(ctx)
	}

	if _, err := tx.Exec(ctx, `UPDATE outbox SET claimed_at = NOW() WHERE event_id = ANY($1)`, ids); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return messages, nil
}

func (d *Dispatcher) deliver(ctx context.Context, messages []Message) error {
	batches := make(map[string][]kafka.Message)

	for _, msg := range messages {
		meta, ok := schemaCatalog[msg.EventType]
		if !ok {
			return fmt.Errorf("no schema metadata for event_type=%s", msg.EventType)
		}

		cacheKey := fmt.Sprintf("%s::%s", msg.SchemaSubject, meta.Schema)
		var schemaID int
		if cached, found := d.schemaIDCache.Load(cacheKey); found {
			schemaID = cached.(int)
		} else {
			id, err := d.registry.EnsureSchema(ctx, msg.SchemaSubject, meta.Schema)
			if err != nil {
				return err
			}
			d.schemaIDCache.Store(cacheKey, id)
			schemaID = id
		}

		record := kafka.Message{
			Key:   []byte(msg.PartitionKey),
			Value: encodeWireFormat(schemaID, msg.Payload),
			Time:  time.Now().UTC(),
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(msg.EventType)},
				{Key: "schema_subject", Value: []byte(msg.SchemaSubject)},
			},
		}
		batches[msg.Topic] = append(batches[msg.Topic], record)
	}

	for topic, batch := range batches {
		if err := d.producer.WriteMessages(ctx, topic, batch...); err != nil {
			return err
		}
	}

	return nil
}

func (d *Dispatcher) markPublished(ctx context.Context, messages []Message) error {
	ids := make([]int64, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.EventID)
	}

	_, err := d.pool.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, ids)
	return err
}

func (d *Dispatcher) moveToDLQ(ctx context.Context, messages []Message, reason string) error {
	for _, msg := range messages {
		entryReason := fmt.Sprintf("%s (topic=%s)", reason, msg.Topic)
		if err := d.dlq.Write(ctx, msg, entryReason); err != nil {
			return err
		}
		dlqCounter.WithLabelValues(msg.Topic).Inc()
	}
	return nil
}

// Message represents a row fetched from the outbox table.
type Message struct {
	EventID       int64
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
}

// encodeWireFormat applies Confluent framing for Schema Registry aware payloads.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	frame[0] = 0
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}
