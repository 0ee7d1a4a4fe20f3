package notify

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/store-backoffice/internal/domain/order"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ order.Notifier = (*Kafka)(nil)

// Kafka publishes order events to a topic. Writes are asynchronous: delivery
// failures are logged and never reach the caller.
type Kafka struct {
	writer messageWriter
	lg     *zap.Logger
	now    func() time.Time
}

// NewKafka creates a publisher writing to topic on brokers.
func NewKafka(brokers []string, topic string, lg *zap.Logger) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	if topic == "" {
		return nil, errors.New("no kafka topic configured")
	}

	k := &Kafka{lg: lg, now: time.Now}
	k.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion:   k.completed,
	}
	return k, nil
}

// OrderPlaced enqueues an order.placed event keyed by invoice code, so that
// all events of one order land on the same partition.
func (k *Kafka) OrderPlaced(ctx context.Context, o *order.Order) {
	msg := kafka.Message{
		Key:   []byte(o.InvoiceCode),
		Value: encodeOrderPlaced(uuid.New(), k.now(), o),
		Time:  k.now(),
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		zctx.From(ctx).Warn("Publish order event failed",
			zap.String("invoice", o.InvoiceCode),
			zap.Error(err),
		)
	}
}

func (k *Kafka) completed(messages []kafka.Message, err error) {
	if err == nil {
		return
	}
	for _, m := range messages {
		k.lg.Error("Order event delivery failed",
			zap.ByteString("key", m.Key),
			zap.Error(err),
		)
	}
}

// Close flushes pending messages.
func (k *Kafka) Close() error {
	return k.writer.Close()
}

var _ order.Notifier = Log{}

// Log only logs placed orders. It is used when no broker is configured.
type Log struct{}

func (Log) OrderPlaced(ctx context.Context, o *order.Order) {
	zctx.From(ctx).Info("Order event",
		zap.String("type", EventOrderPlaced),
		zap.Int64("order_id", o.ID),
		zap.String("invoice", o.InvoiceCode),
	)
}
