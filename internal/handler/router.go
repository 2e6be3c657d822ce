package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/brewfeed/internal/middleware"
)

// CommonDeps はエッジAPIといいねサービスで共通のルーター依存関係。
type CommonDeps struct {
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Health            *HealthHandler
	Metrics           http.Handler // nilの場合 /metrics は公開しない
}

// EdgeDeps はNewEdgeRouterに必要な依存関係をまとめた構造体。
type EdgeDeps struct {
	CommonDeps

	Verifier  IdentityVerifier
	Likes     LikesReader
	Publisher LikePublisher
	Feed      FeedServiceInterface
}

// LikesDeps はNewLikesRouterに必要な依存関係をまとめた構造体。
type LikesDeps struct {
	CommonDeps

	Verifier    IdentityVerifier
	LikeService LikeServiceInterface
}

// newBaseRouter は共通ミドルウェアと認証不要ルートを設定したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORS → Logging → Recovery → APIHeaders
func newBaseRouter(deps *CommonDeps) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewAPIHeadersMiddleware())

	health := deps.Health
	if health == nil {
		health = NewHealthHandler(nil, logger)
	}
	r.Method(http.MethodGet, "/health", health)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}
	return r
}

// withLikeLimit はいいね操作専用のレート制限を付与する。RateLimiterがnilの場合は何もしない。
func withLikeLimit(r chi.Router, rl *middleware.RateLimiter) chi.Router {
	if rl == nil {
		return r
	}
	return r.With(rl.LikeMiddleware())
}

// authenticated はBearer → RateLimit(General) のグループを構成する。
func authenticated(r chi.Router, rl *middleware.RateLimiter, fn func(r chi.Router)) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewBearerMiddleware())
		if rl != nil {
			r.Use(rl.GeneralMiddleware())
		}
		fn(r)
	})
}

// NewEdgeRouter はエッジAPIのルーティングとミドルウェアチェーンを構成したhttp.Handlerを返す。
func NewEdgeRouter(deps *EdgeDeps) http.Handler {
	r := newBaseRouter(&deps.CommonDeps)
	h := NewEdgeHandler(deps.Verifier, deps.Likes, deps.Publisher, deps.Feed, deps.Logger)

	authenticated(r, deps.RateLimiter, func(r chi.Router) {
		// いいね/いいね取り消し（専用レート制限を追加）
		withLikeLimit(r, deps.RateLimiter).Post("/post_like/{id}", h.PostLike)
		withLikeLimit(r, deps.RateLimiter).Delete("/post_like/{id}", h.DeleteLike)

		r.Get("/get_likes", h.GetLikes)

		// フィード
		r.Post("/refresh_feed", h.RefreshFeed)
		r.Get("/get_feed", h.GetFeed)
	})

	return r
}

// NewLikesRouter はいいね状態ストアサービスのルーティングを構成したhttp.Handlerを返す。
func NewLikesRouter(deps *LikesDeps) http.Handler {
	r := newBaseRouter(&deps.CommonDeps)
	h := NewLikesHandler(deps.Verifier, deps.LikeService, deps.Logger)

	authenticated(r, deps.RateLimiter, func(r chi.Router) {
		r.Get("/likes", h.ListLikes)
		withLikeLimit(r, deps.RateLimiter).Post("/like", h.Like)
		withLikeLimit(r, deps.RateLimiter).Delete("/like", h.Unlike)
	})

	return r
}

// NewOpsRouter は /health と /metrics のみを公開するルーターを返す。
// HTTP APIを持たないワーカーの監視用。
func NewOpsRouter(deps *CommonDeps) http.Handler {
	return newBaseRouter(deps)
}
