// Package sink publishes persisted notifications to external consumers.
package sink

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"codecrew/internal/service"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// MessageWriter 是 *kafka.Writer 中 sink 用到的部分，便于测试替换。
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka 把通知写入一个 topic，以目标用户 id 作为 key，保证同一用户的通知落在同一分区。
type Kafka struct {
	w MessageWriter
}

// NewKafka 创建异步 writer：Publish 不等待 broker 确认，失败只记录日志。
func NewKafka(brokers []string, topic string) *Kafka {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Warn().Err(err).Int("count", len(msgs)).Msg("kafka notification batch")
			}
		},
	}
	return &Kafka{w: w}
}

func NewKafkaWithWriter(w MessageWriter) *Kafka {
	return &Kafka{w: w}
}

func (k *Kafka) Publish(ctx context.Context, n service.NotificationDTO) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return k.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(n.UserID), 10)),
		Value: b,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(n.Type)},
		},
	})
}

func (k *Kafka) Close() error {
	return k.w.Close()
}
