package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wallet-auth-service/internal/bucketing"
	"wallet-auth-service/internal/client"
	"wallet-auth-service/internal/config"
	"wallet-auth-service/internal/models"
	"wallet-auth-service/internal/util"
)

// Auditor records security events. Recording is append-only and best-effort:
// a sink outage is logged but never fails the auth operation that produced
// the event.
type Auditor interface {
	Record(ctx context.Context, event *models.AuditEvent)
}

// NewEvent fills the envelope fields callers should not have to repeat.
func NewEvent(eventType, subjectHash, sessionID, ipHash, details string) *models.AuditEvent {
	return &models.AuditEvent{
		EventID:     uuid.New().String(),
		EventType:   eventType,
		SubjectHash: subjectHash,
		SessionID:   sessionID,
		IPHash:      ipHash,
		OccurredAt:  time.Now().UTC(),
		Details:     details,
	}
}

// ClickHouseAuditor writes events to ClickHouse and optionally mirrors them
// to Kafka and Elasticsearch for downstream consumers.
type ClickHouseAuditor struct {
	clickhouse *client.ClickHouseClient
	kafka      *client.KafkaProducer
	es         *client.ESClient
	buckets    *bucketing.Manager
	auditTopic string
	auditIndex string
}

func NewClickHouseAuditor(cfg *config.Config, ch *client.ClickHouseClient, kafka *client.KafkaProducer, es *client.ESClient, buckets *bucketing.Manager) *ClickHouseAuditor {
	return &ClickHouseAuditor{
		clickhouse: ch,
		kafka:      kafka,
		es:         es,
		buckets:    buckets,
		auditTopic: cfg.Kafka.AuditTopic,
		auditIndex: cfg.Elasticsearch.AuditIndex,
	}
}

const insertAuditEvent = `
    INSERT INTO audit_events (
        event_bucket, event_id, event_type, subject_hash, session_id,
        ip_hash, occurred_at, details
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func (a *ClickHouseAuditor) Record(ctx context.Context, event *models.AuditEvent) {
	event.EventBucket = a.buckets.EventBucket(event.SubjectHash)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	err := a.clickhouse.Exec(writeCtx, insertAuditEvent,
		event.EventBucket, event.EventID, event.EventType, event.SubjectHash,
		event.SessionID, event.IPHash, event.OccurredAt, event.Details)
	if err != nil {
		util.Error("Failed to record audit event",
			zap.String("event_type", event.EventType),
			zap.String("event_id", event.EventID),
			zap.Error(err))
	}

	if a.kafka != nil {
		a.mirrorToKafka(writeCtx, event)
	}
	if a.es != nil {
		a.indexToES(writeCtx, event)
	}
}

func (a *ClickHouseAuditor) mirrorToKafka(ctx context.Context, event *models.AuditEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		util.Error("Failed to marshal audit event", zap.Error(err))
		return
	}

	err = a.kafka.ProduceMessage(ctx, a.auditTopic, []byte(event.SubjectHash), payload, map[string]string{
		"event_type": event.EventType,
	})
	if err != nil {
		util.Error("Failed to mirror audit event to Kafka",
			zap.String("event_id", event.EventID),
			zap.Error(err))
	}
}

func (a *ClickHouseAuditor) indexToES(ctx context.Context, event *models.AuditEvent) {
	res, err := a.es.IndexDocument(ctx, a.auditIndex, event.EventID, event)
	if err != nil {
		util.Error("Failed to index audit event",
			zap.String("event_id", event.EventID),
			zap.Error(err))
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		util.Error("Elasticsearch rejected audit event",
			zap.String("event_id", event.EventID),
			zap.String("status", res.Status()))
	}
}

// LogAuditor writes events to the structured log only. Used in development
// and as the fallback when no ClickHouse connection is configured.
type LogAuditor struct {
	buckets *bucketing.Manager
}

func NewLogAuditor(buckets *bucketing.Manager) *LogAuditor {
	return &LogAuditor{buckets: buckets}
}

func (a *LogAuditor) Record(_ context.Context, event *models.AuditEvent) {
	event.EventBucket = a.buckets.EventBucket(event.SubjectHash)

	util.Info("Audit event",
		zap.String("event_type", event.EventType),
		zap.String("event_id", event.EventID),
		zap.String("subject_hash", event.SubjectHash),
		zap.String("session_id", event.SessionID),
		zap.Int("event_bucket", event.EventBucket),
		zap.String("details", event.Details))
}
