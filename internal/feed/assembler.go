package feed

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/brewfeed/internal/metrics"
	"github.com/hitoshi/brewfeed/internal/model"
	"github.com/hitoshi/brewfeed/internal/security"
)

const (
	// WindowSize は再構築時に対象とする最新レビューの件数。
	WindowSize = 100
	// PageSize は1回の読み出しで返す件数。
	PageSize = 3
	// defaultBackgroundTimeout はバックグラウンド再構築1回あたりの上限時間。
	defaultBackgroundTimeout = 30 * time.Second
)

// Collaborators はフィード組み立てが呼び出す下流サービス。
// upstream.Clientが実装する。
type Collaborators interface {
	Verify(ctx context.Context, authorization string) (model.Identity, error)
	LikedContentIDs(ctx context.Context, authorization string) ([]string, error)
	ListReviews(ctx context.Context) ([]model.Review, error)
}

// Store はフィードキャッシュと閲覧済みセットの操作。Cacheが実装する。
type Store interface {
	Get(ctx context.Context, owner string) (*model.FeedCacheEntry, error)
	Store(ctx context.Context, owner string, items []model.FeedItem) (*model.FeedCacheEntry, error)
	MarkViewed(ctx context.Context, owner string, contentIDs []string) error
	Viewed(ctx context.Context, owner string) (map[string]struct{}, error)
}

// Assembler はレビュー・いいね・閲覧済みセットを組み合わせてフィードを組み立てる。
type Assembler struct {
	upstream  Collaborators
	store     Store
	sanitizer security.TextSanitizer
	logger    *slog.Logger
	metrics   metrics.MetricsCollector

	backgroundTimeout time.Duration
	inflight          singleflight.Group
	wg                sync.WaitGroup
}

// Option はAssemblerの任意設定。
type Option func(*Assembler)

// WithBackgroundTimeout はバックグラウンド再構築のタイムアウトを設定する。
func WithBackgroundTimeout(d time.Duration) Option {
	return func(a *Assembler) {
		if d > 0 {
			a.backgroundTimeout = d
		}
	}
}

// WithMetrics はメトリクス収集先を設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(a *Assembler) {
		if m != nil {
			a.metrics = m
		}
	}
}

// NewAssembler はAssemblerを生成する。
func NewAssembler(upstream Collaborators, store Store, sanitizer security.TextSanitizer, logger *slog.Logger, opts ...Option) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	if sanitizer == nil {
		sanitizer = security.NewReviewSanitizer()
	}
	a := &Assembler{
		upstream:          upstream,
		store:             store,
		sanitizer:         sanitizer,
		logger:            logger,
		metrics:           metrics.Nop{},
		backgroundTimeout: defaultBackgroundTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Refresh は呼び出し元のフィードを再構築してキャッシュに保存する。
func (a *Assembler) Refresh(ctx context.Context, authorization string) (*model.FeedCacheEntry, error) {
	id, err := a.upstream.Verify(ctx, authorization)
	if err != nil {
		return nil, err
	}
	return a.rebuild(ctx, authorization, id)
}

// Read はキャッシュから次のページ（最大PageSize件）を返し、返した項目を閲覧済みにする。
// キャッシュミス時は同期的に再構築して1回だけ再取得する。
// 応答後のためにバックグラウンド再構築を予約する。
func (a *Assembler) Read(ctx context.Context, authorization string) ([]model.FeedItem, error) {
	id, err := a.upstream.Verify(ctx, authorization)
	if err != nil {
		return nil, err
	}

	entry, err := a.store.Get(ctx, id.UserID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		a.metrics.RecordFeedCacheMiss()
		if _, err := a.rebuild(ctx, authorization, id); err != nil {
			return nil, err
		}
		entry, err = a.store.Get(ctx, id.UserID)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, model.NewFeedUnavailableError()
		}
	} else {
		a.metrics.RecordFeedCacheHit()
	}

	n := min(PageSize, len(entry.Items))
	page := make([]model.FeedItem, n)
	copy(page, entry.Items[:n])

	ids := make([]string, 0, len(page))
	for _, item := range page {
		ids = append(ids, item.ID)
	}
	if err := a.store.MarkViewed(ctx, id.UserID, ids); err != nil {
		return nil, err
	}

	a.scheduleRefresh(authorization, id)
	return page, nil
}

// Wait は予約済みのバックグラウンド再構築がすべて終わるまで待つ。
func (a *Assembler) Wait() {
	a.wg.Wait()
}

// scheduleRefresh はリクエストから切り離したコンテキストで再構築を実行する。
// 同一ユーザーの再構築が進行中の場合は新たに実行せず、その結果を共有する。
func (a *Assembler) scheduleRefresh(authorization string, id model.Identity) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), a.backgroundTimeout)
		defer cancel()

		_, err, shared := a.inflight.Do(id.UserID, func() (any, error) {
			return a.rebuild(ctx, authorization, id)
		})
		if err != nil {
			a.logger.Warn("バックグラウンドでのフィード再構築に失敗しました",
				slog.String("user_id", id.UserID),
				slog.String("error", err.Error()),
			)
			return
		}
		a.logger.Debug("バックグラウンドでフィードを再構築しました",
			slog.String("user_id", id.UserID),
			slog.Bool("shared", shared),
		)
	}()
}

// rebuild は検証済みIDについてフィードを組み立てて保存する。
// いいね一覧 → 全レビュー → 最新WindowSize件 → 閲覧済み除外 → いいね状態付与 の順に処理する。
func (a *Assembler) rebuild(ctx context.Context, authorization string, id model.Identity) (*model.FeedCacheEntry, error) {
	start := time.Now()

	entry, err := a.assemble(ctx, authorization, id)
	if err != nil {
		a.metrics.RecordFeedRefreshFailure()
		return nil, err
	}

	a.metrics.RecordFeedRefresh(time.Since(start), len(entry.Items))
	a.logger.Info("フィードを再構築しました",
		slog.String("user_id", id.UserID),
		slog.Int("item_count", len(entry.Items)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return entry, nil
}

func (a *Assembler) assemble(ctx context.Context, authorization string, id model.Identity) (*model.FeedCacheEntry, error) {
	likedIDs, err := a.upstream.LikedContentIDs(ctx, authorization)
	if err != nil {
		return nil, err
	}
	liked := make(map[string]struct{}, len(likedIDs))
	for _, cid := range likedIDs {
		liked[cid] = struct{}{}
	}

	reviews, err := a.upstream.ListReviews(ctx)
	if err != nil {
		return nil, err
	}

	viewed, err := a.store.Viewed(ctx, id.UserID)
	if err != nil {
		return nil, err
	}

	window := newestWindow(reviews, WindowSize)
	items := make([]model.FeedItem, 0, len(window))
	for i := len(window) - 1; i >= 0; i-- {
		r := window[i]
		if _, seen := viewed[r.ID]; seen {
			continue
		}
		_, isLiked := liked[r.ID]
		items = append(items, a.toItem(r, isLiked))
	}

	return a.store.Store(ctx, id.UserID, items)
}

func (a *Assembler) toItem(r model.Review, liked bool) model.FeedItem {
	return model.FeedItem{
		ID:           r.ID,
		Headline:     a.sanitizer.SanitizeText(r.Headline),
		Body:         a.sanitizer.SanitizeText(r.Body),
		Rating:       r.Rating,
		ProductID:    r.ProductID,
		UserEmail:    r.UserEmail,
		UserNickname: a.sanitizer.SanitizeText(r.UserNickname),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		Liked:        liked,
	}
}

// newestWindow はレビューを作成日時の昇順に並べ、末尾（最新）のsize件を返す。
// 作成日時が同じ場合はIDで順序を固定する。
func newestWindow(reviews []model.Review, size int) []model.Review {
	sorted := make([]model.Review, len(reviews))
	copy(sorted, reviews)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt.Time) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt.Time)
		}
		return sorted[i].ID < sorted[j].ID
	})
	if len(sorted) > size {
		sorted = sorted[len(sorted)-size:]
	}
	return sorted
}
