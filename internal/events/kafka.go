package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/hitoshi/brewfeed/internal/model"
)

// KafkaPublisher はKafkaトピックへイベントを発行するPublisher。
// キーを user_id:post_id とし、同じ組のイベントは同じパーティションで順序を保つ。
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher はKafkaPublisherを生成する。
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            1,
		ReadTimeout:            10 * time.Second,
		WriteTimeout:           10 * time.Second,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: w}
}

// Publish はイベントを同期的に書き込む。
func (p *KafkaPublisher) Publish(ctx context.Context, e model.Event) error {
	data, err := Encode(e)
	if err != nil {
		return err
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.ActorID + ":" + e.ContentID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "message-id", Value: []byte(uuid.NewString())},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Close はライターを閉じる。
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaSubscriber はコンシューマグループで1件ずつメッセージを受け取るSubscriber。
type KafkaSubscriber struct {
	reader *kafka.Reader
}

// NewKafkaSubscriber はKafkaSubscriberを生成する。
// オフセットはAck（CommitMessages）時に同期的にコミットされる。
func NewKafkaSubscriber(brokers []string, topic, groupID string) *KafkaSubscriber {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
		StartOffset: kafka.FirstOffset,
		Dialer: &kafka.Dialer{
			Timeout:   10 * time.Second,
			DualStack: true,
		},
	})
	return &KafkaSubscriber{reader: r}
}

// Next は次のメッセージを取得する。コミットはDelivery.Ackで行う。
func (s *KafkaSubscriber) Next(ctx context.Context) (Delivery, error) {
	msg, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	return &kafkaDelivery{reader: s.reader, msg: msg}, nil
}

// Close はリーダーを閉じる。
func (s *KafkaSubscriber) Close() error {
	return s.reader.Close()
}

type kafkaDelivery struct {
	reader *kafka.Reader
	msg    kafka.Message
}

func (d *kafkaDelivery) Body() []byte {
	return d.msg.Value
}

func (d *kafkaDelivery) Ack(ctx context.Context) error {
	return d.reader.CommitMessages(ctx, d.msg)
}

// compile-time interface checks
var (
	_ Publisher  = (*KafkaPublisher)(nil)
	_ Subscriber = (*KafkaSubscriber)(nil)
)
