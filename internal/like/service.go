// Package like はいいね/いいね取り消し操作のビジネスロジックを提供する。
// エッジからのイベント発行、いいね状態ストアへの直接書き込み、コンシューマからの適用を扱う。
package like

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hitoshi/brewfeed/internal/events"
	"github.com/hitoshi/brewfeed/internal/metrics"
	"github.com/hitoshi/brewfeed/internal/model"
	"github.com/hitoshi/brewfeed/internal/repository"
)

// Outcome はいいね操作の結果。
type Outcome struct {
	Event model.Event
	// Changed は直接書き込みで状態が変化したかどうか（発行のみの場合は常にfalse）。
	Changed bool
	// Propagated はイベントチャネルへの発行が成功したかどうか。
	Propagated bool
}

// Propagator はイベントをベストエフォートで発行する。
// 発行失敗は記録するが呼び出し元の操作は失敗させない。
type Propagator struct {
	publisher events.Publisher
	logger    *slog.Logger
	metrics   metrics.MetricsCollector
}

// NewPropagator はPropagatorを生成する。
func NewPropagator(publisher events.Publisher, logger *slog.Logger, m metrics.MetricsCollector) *Propagator {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Propagator{publisher: publisher, logger: logger, metrics: m}
}

// Publish はイベントを生成して発行する。入力が不正な場合のみエラーを返す。
func (p *Propagator) Publish(ctx context.Context, kind model.EventKind, actorID, contentID string) (Outcome, error) {
	e, err := newEvent(kind, actorID, contentID)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Event: e, Propagated: p.publish(ctx, e)}, nil
}

func (p *Propagator) publish(ctx context.Context, e model.Event) bool {
	if p == nil {
		return false
	}
	if err := p.publisher.Publish(ctx, e); err != nil {
		p.metrics.RecordEventPublishFailure(string(e.Kind))
		p.logger.ErrorContext(ctx, "イベントの発行に失敗しました。状態の伝搬は遅延または欠落します",
			slog.String("kind", string(e.Kind)),
			slog.String("user_id", e.ActorID),
			slog.String("post_id", e.ContentID),
			slog.String("error", err.Error()),
		)
		return false
	}
	p.metrics.RecordEventPublished(string(e.Kind))
	return true
}

// Service はいいね状態ストアを所有するサービス。
type Service struct {
	repo       repository.LikeRepository
	propagator *Propagator
	logger     *slog.Logger
}

// NewService はServiceを生成する。
func NewService(repo repository.LikeRepository, propagator *Propagator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, propagator: propagator, logger: logger}
}

// Apply はイベントをいいね状態ストアに冪等に適用する。コンシューマから呼ばれる。
func (s *Service) Apply(ctx context.Context, e model.Event) (bool, error) {
	return s.repo.Apply(ctx, e)
}

// Record は直接書き込みを行った後にイベントを発行する。
// 書き込みはコンシューマと同じApplyを通るため、どちらが先に書いても結果は同じになる。
func (s *Service) Record(ctx context.Context, kind model.EventKind, actorID, contentID string) (Outcome, error) {
	e, err := newEvent(kind, actorID, contentID)
	if err != nil {
		return Outcome{}, err
	}

	changed, err := s.repo.Apply(ctx, e)
	if err != nil {
		s.logger.ErrorContext(ctx, "いいね状態の直接書き込みに失敗しました",
			slog.String("kind", string(e.Kind)),
			slog.String("user_id", e.ActorID),
			slog.String("post_id", e.ContentID),
			slog.String("error", err.Error()),
		)
		return Outcome{}, err
	}
	s.logger.InfoContext(ctx, "いいね状態を直接書き込みました",
		slog.String("kind", string(e.Kind)),
		slog.String("user_id", e.ActorID),
		slog.String("post_id", e.ContentID),
		slog.Bool("changed", changed),
	)

	return Outcome{
		Event:      e,
		Changed:    changed,
		Propagated: s.propagator.publish(ctx, e),
	}, nil
}

// Liked は指定ユーザーがいいねしたコンテンツIDを返す。
func (s *Service) Liked(ctx context.Context, userID string) ([]string, error) {
	return s.repo.ListContentIDs(ctx, userID)
}

func newEvent(kind model.EventKind, actorID, contentID string) (model.Event, error) {
	if !kind.Valid() {
		return model.Event{}, model.NewInvalidRequestError("unknown like action")
	}
	if strings.TrimSpace(actorID) == "" {
		return model.Event{}, model.NewInvalidRequestError("user_id is required")
	}
	if strings.TrimSpace(contentID) == "" {
		return model.Event{}, model.NewInvalidRequestError("post_id is required")
	}
	return model.NewEvent(kind, actorID, contentID), nil
}
