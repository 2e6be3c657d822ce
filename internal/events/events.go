// Package events はいいね/いいね取り消しイベントを運ぶイベントチャネルを提供する。
// ワイヤ形式のコーデックと、NATS JetStream・Kafkaの2種類のトランスポートを含む。
package events

import (
	"context"
	"fmt"

	"github.com/hitoshi/brewfeed/internal/model"
)

// Publisher はイベントをチャネルへ発行する。
type Publisher interface {
	// Publish は1回の往復でイベントを発行する。リトライはしない。
	Publish(ctx context.Context, e model.Event) error
	Close() error
}

// Delivery は配送された1メッセージ。Ackするまで次のメッセージは配送されない。
type Delivery interface {
	Body() []byte
	Ack(ctx context.Context) error
}

// Subscriber はチャネルからメッセージを1件ずつ受け取る。
type Subscriber interface {
	// Next は次のメッセージが届くかctxが終了するまでブロックする。
	Next(ctx context.Context) (Delivery, error)
	Close() error
}

// Config はトランスポートの接続設定。
type Config struct {
	Broker       string // "nats" または "kafka"
	NatsURL      string
	KafkaBrokers []string
	Group        string // NATSのdurable名 / Kafkaのコンシューマグループ
	Queue        string // NATSのサブジェクト / Kafkaのトピック
}

// NewPublisher は設定に応じたPublisherを生成する。
func NewPublisher(cfg Config) (Publisher, error) {
	switch cfg.Broker {
	case "nats":
		p, err := NewNatsPublisher(cfg.NatsURL, cfg.Queue)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "kafka":
		return NewKafkaPublisher(cfg.KafkaBrokers, cfg.Queue), nil
	default:
		return nil, fmt.Errorf("unsupported event broker: %q", cfg.Broker)
	}
}

// NewSubscriber は設定に応じたSubscriberを生成する。
func NewSubscriber(ctx context.Context, cfg Config) (Subscriber, error) {
	switch cfg.Broker {
	case "nats":
		s, err := NewNatsSubscriber(ctx, cfg.NatsURL, cfg.Queue, cfg.Group)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "kafka":
		return NewKafkaSubscriber(cfg.KafkaBrokers, cfg.Queue, cfg.Group), nil
	default:
		return nil, fmt.Errorf("unsupported event broker: %q", cfg.Broker)
	}
}
