// Package consume はイベントチャネルのコンシューマを提供する。
// 配送されたいいね/いいね取り消しイベントを1件ずつ、いいね状態ストアへ冪等に適用する。
package consume

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/brewfeed/internal/events"
	"github.com/hitoshi/brewfeed/internal/metrics"
	"github.com/hitoshi/brewfeed/internal/model"
)

// defaultRetryPause は受信エラー後に次の受信を試みるまでの待ち時間。
const defaultRetryPause = 2 * time.Second

// Applier はイベントをいいね状態ストアに適用するインターフェース。
// changedは状態が変化したかどうか（冪等なno-opの場合はfalse）。
type Applier interface {
	Apply(ctx context.Context, e model.Event) (changed bool, err error)
}

// Worker は単一ゴルーチンで配送を1件ずつ処理するコンシューマ。
// 同時に処理中の配送は常に1件のみ。
type Worker struct {
	sub        events.Subscriber
	applier    Applier
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	RetryPause time.Duration
}

// NewWorker はWorkerを生成する。
func NewWorker(sub events.Subscriber, applier Applier, logger *slog.Logger, m metrics.MetricsCollector) *Worker {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Worker{
		sub:        sub,
		applier:    applier,
		logger:     logger,
		metrics:    m,
		RetryPause: defaultRetryPause,
	}
}

// Run はコンテキストがキャンセルされるまで配送を処理し続ける。
// キャンセルによる終了時はnilを返す。
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("イベントコンシューマを開始しました")

	for {
		d, err := w.sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("イベントコンシューマを停止しました")
				return nil
			}
			w.logger.Error("メッセージの受信に失敗しました",
				slog.String("error", err.Error()),
			)
			select {
			case <-ctx.Done():
				w.logger.Info("イベントコンシューマを停止しました")
				return nil
			case <-time.After(w.RetryPause):
			}
			continue
		}

		// 処理中の配送はシャットダウン要求があっても適用とAckまで終える
		w.handle(context.WithoutCancel(ctx), d)
	}
}

// handle は1件の配送を処理する。適用の成否にかかわらず必ずAckする。
// 適用失敗時はトランザクションがロールバックされた上でメッセージは破棄される。
func (w *Worker) handle(ctx context.Context, d events.Delivery) {
	start := time.Now()

	e, err := events.Decode(d.Body())
	if err != nil {
		w.metrics.RecordEventRejected()
		w.logger.Warn("不正な形式のイベントを破棄します",
			slog.String("error", err.Error()),
			slog.Int("body_bytes", len(d.Body())),
		)
		w.ack(ctx, d)
		return
	}

	changed, err := w.applier.Apply(ctx, e)
	if err != nil {
		w.metrics.RecordEventApplyFailure(string(e.Kind))
		w.logger.Error("イベントの適用に失敗しました。メッセージは破棄されます",
			slog.String("kind", string(e.Kind)),
			slog.String("user_id", e.ActorID),
			slog.String("post_id", e.ContentID),
			slog.String("error", err.Error()),
		)
		w.ack(ctx, d)
		return
	}

	w.metrics.RecordEventApplied(string(e.Kind), changed)
	w.logger.Info("イベントを適用しました",
		slog.String("kind", string(e.Kind)),
		slog.String("user_id", e.ActorID),
		slog.String("post_id", e.ContentID),
		slog.Bool("changed", changed),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	w.ack(ctx, d)
}

func (w *Worker) ack(ctx context.Context, d events.Delivery) {
	if err := d.Ack(ctx); err != nil && !errors.Is(err, context.Canceled) {
		w.logger.Error("メッセージのAckに失敗しました",
			slog.String("error", err.Error()),
		)
	}
}
