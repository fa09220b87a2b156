package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wallet-auth-service/internal/client"
	"wallet-auth-service/internal/config"
	"wallet-auth-service/internal/util"
)

// CodeSender hands a one-time code to a delivery channel (SMS, email). The
// code leaves the process here and nowhere else; senders must not log it.
type CodeSender interface {
	SendCode(ctx context.Context, identifier, code string, expiresAt time.Time) error
}

// codeDeliveryMessage is the wire format consumed by the delivery workers.
type codeDeliveryMessage struct {
	Identifier string    `json:"identifier"`
	Code       string    `json:"code"`
	ExpiresAt  time.Time `json:"expires_at"`
	IssuedAt   time.Time `json:"issued_at"`
}

// KafkaSender publishes codes to the delivery topic. Actual SMS/email fan-out
// is owned by a separate consumer service.
type KafkaSender struct {
	producer *client.KafkaProducer
	topic    string
}

func NewKafkaSender(cfg *config.Config, producer *client.KafkaProducer) *KafkaSender {
	return &KafkaSender{
		producer: producer,
		topic:    cfg.Kafka.DeliveryTopic,
	}
}

func (s *KafkaSender) SendCode(ctx context.Context, identifier, code string, expiresAt time.Time) error {
	payload, err := json.Marshal(codeDeliveryMessage{
		Identifier: identifier,
		Code:       code,
		ExpiresAt:  expiresAt,
		IssuedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal delivery message: %w", err)
	}

	err = s.producer.ProduceMessage(ctx, s.topic, []byte(identifier), payload, map[string]string{
		"message_type": "otp_delivery",
	})
	if err != nil {
		return fmt.Errorf("failed to dispatch code delivery: %w", err)
	}

	return nil
}

// LogSender is the development sender. It logs that a code was issued but
// never the code itself.
type LogSender struct{}

func NewLogSender() *LogSender {
	return &LogSender{}
}

func (s *LogSender) SendCode(_ context.Context, identifier, _ string, expiresAt time.Time) error {
	util.Info("OTP delivery dispatched (log sender)",
		zap.Int("identifier_length", len(identifier)),
		zap.Time("expires_at", expiresAt))
	return nil
}
