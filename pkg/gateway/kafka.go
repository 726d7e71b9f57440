package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/uhyunpark/custodex/pkg/util"
)

// KafkaGateway hands transfers to the signing service over a Kafka topic.
// A send is acknowledged by every in-sync replica before Transfer returns.
type KafkaGateway struct {
	producer sarama.SyncProducer
	topic    string
	log      *zap.SugaredLogger
}

func NewKafkaGateway(brokers []string, topic string, log *zap.SugaredLogger) (*KafkaGateway, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_7_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaGatewayWithProducer(producer, topic, log), nil
}

func NewKafkaGatewayWithProducer(p sarama.SyncProducer, topic string, log *zap.SugaredLogger) *KafkaGateway {
	return &KafkaGateway{producer: p, topic: topic, log: util.Sugar(log)}
}

func (g *KafkaGateway) Transfer(ctx context.Context, t Transfer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal transfer: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: g.topic,
		Key:   sarama.StringEncoder(t.To.Hex()),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("transfer_id"), Value: []byte(t.ID.String())},
		},
	}
	partition, offset, err := g.producer.SendMessage(msg)
	if err != nil {
		g.log.Errorw("transfer_publish_failed", "transfer_id", t.ID, "to", t.To.Hex(), "quantity", t.Quantity.String(), "err", err)
		return fmt.Errorf("%w: %v", ErrTransferRejected, err)
	}
	g.log.Infow("transfer_published", "transfer_id", t.ID, "to", t.To.Hex(), "quantity", t.Quantity.String(),
		"partition", partition, "offset", offset)
	return nil
}

func (g *KafkaGateway) Close() error {
	return g.producer.Close()
}
