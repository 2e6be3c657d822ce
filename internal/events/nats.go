package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/hitoshi/brewfeed/internal/model"
)

const (
	// fetchWait は1回のプル要求でメッセージを待つ最大時間。
	fetchWait = 5 * time.Second
	// streamSetupTimeout はストリーム作成の最大待ち時間。
	streamSetupTimeout = 5 * time.Second
)

// streamName はサブジェクトに対応する永続ストリーム名を返す（likes → LIKES）。
func streamName(subject string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "*", "_", ">", "_").Replace(subject))
}

// streamConfig はファイル永続・ワークキュー保持のストリーム設定を返す。
// ワークキュー保持のため、Ackされたメッセージはストリームから削除される。
func streamConfig(subject string) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:      streamName(subject),
		Subjects:  []string{subject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
		Replicas:  1,
	}
}

// NatsPublisher はJetStreamストリームへイベントを発行するPublisher。
type NatsPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	subject string

	mu          sync.Mutex
	streamReady bool
}

// NewNatsPublisher はNATSに接続してNatsPublisherを生成する。
// ストリームは最初の発行時に作成する。起動時にNATSへ到達できなくても生成に成功し、
// 接続が確立するまでの発行は失敗として呼び出し元へ返る。
func NewNatsPublisher(url, subject string) (*NatsPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("brewfeed-publisher"), nats.MaxReconnects(-1), nats.RetryOnFailedConnect(true))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}
	return &NatsPublisher{nc: nc, js: js, subject: subject}, nil
}

// ensureStream はストリームが存在することを保証する。成功するまで毎回試行する。
func (p *NatsPublisher) ensureStream(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.streamReady {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, streamSetupTimeout)
	defer cancel()
	if _, err := p.js.CreateOrUpdateStream(ctx, streamConfig(p.subject)); err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	p.streamReady = true
	return nil
}

// Publish はイベントを発行し、ストリームへの永続化確認を待つ。
// Nats-Msg-Idを付与し、重複発行はブローカー側で排除される。
func (p *NatsPublisher) Publish(ctx context.Context, e model.Event) error {
	if err := p.ensureStream(ctx); err != nil {
		return err
	}
	data, err := Encode(e)
	if err != nil {
		return err
	}
	if _, err := p.js.Publish(ctx, p.subject, data, jetstream.WithMsgID(uuid.NewString())); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Close は未送信データをフラッシュして接続を閉じる。
func (p *NatsPublisher) Close() error {
	return p.nc.Drain()
}

// NatsSubscriber はdurableプルコンシューマからメッセージを1件ずつ受け取るSubscriber。
type NatsSubscriber struct {
	nc       *nats.Conn
	consumer jetstream.Consumer
}

// NewNatsSubscriber はストリームとdurableコンシューマを用意してNatsSubscriberを生成する。
// MaxAckPending=1 により、Ackされるまで次のメッセージは配送されない。
func NewNatsSubscriber(ctx context.Context, url, subject, durable string) (*NatsSubscriber, error) {
	nc, err := nats.Connect(url, nats.Name("brewfeed-consumer"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	setupCtx, cancel := context.WithTimeout(ctx, streamSetupTimeout)
	defer cancel()

	stream, err := js.CreateOrUpdateStream(setupCtx, streamConfig(subject))
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create stream: %w", err)
	}
	consumer, err := stream.CreateOrUpdateConsumer(setupCtx, jetstream.ConsumerConfig{
		Durable:       durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxAckPending: 1,
		FilterSubject: subject,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create consumer: %w", err)
	}

	return &NatsSubscriber{nc: nc, consumer: consumer}, nil
}

// Next は次のメッセージを待つ。待ち時間切れの場合はctxが有効な限り待ち続ける。
func (s *NatsSubscriber) Next(ctx context.Context) (Delivery, error) {
	for {
		fetchCtx, cancel := context.WithTimeout(ctx, fetchWait)
		msg, err := s.consumer.Next(jetstream.FetchContext(fetchCtx))
		cancel()
		if err == nil {
			return &natsDelivery{msg: msg}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			continue
		}
		return nil, fmt.Errorf("nats fetch: %w", err)
	}
}

// Close は接続を閉じる。
func (s *NatsSubscriber) Close() error {
	s.nc.Close()
	return nil
}

type natsDelivery struct {
	msg jetstream.Msg
}

func (d *natsDelivery) Body() []byte {
	return d.msg.Data()
}

// Ack はサーバーの受領確認まで待つ。
func (d *natsDelivery) Ack(ctx context.Context) error {
	return d.msg.DoubleAck(ctx)
}

// compile-time interface checks
var (
	_ Publisher  = (*NatsPublisher)(nil)
	_ Subscriber = (*NatsSubscriber)(nil)
)
