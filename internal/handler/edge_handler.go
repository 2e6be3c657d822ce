package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/brewfeed/internal/like"
	"github.com/hitoshi/brewfeed/internal/model"
)

// IdentityVerifier は呼び出し元のトークンを検証サービスで検証するインターフェース。
type IdentityVerifier interface {
	Verify(ctx context.Context, authorization string) (model.Identity, error)
}

// LikesReader はいいね読み出しサービスからいいね済みコンテンツIDを取得するインターフェース。
type LikesReader interface {
	LikedContentIDs(ctx context.Context, authorization string) ([]string, error)
}

// LikePublisher はいいね操作イベントを発行するインターフェース。like.Propagatorが実装する。
type LikePublisher interface {
	Publish(ctx context.Context, kind model.EventKind, actorID, contentID string) (like.Outcome, error)
}

// FeedServiceInterface はフィードハンドラーが必要とするサービスインターフェース。
// feed.Assemblerが実装する。
type FeedServiceInterface interface {
	Refresh(ctx context.Context, authorization string) (*model.FeedCacheEntry, error)
	Read(ctx context.Context, authorization string) ([]model.FeedItem, error)
}

// likeResponse はいいね/いいね取り消しのAPIレスポンス。
type likeResponse struct {
	Msg        string `json:"msg"`
	PostID     string `json:"post_id"`
	Propagated bool   `json:"propagated"`
	Changed    *bool  `json:"changed,omitempty"`
}

// feedResponse はフィードのAPIレスポンス。
type feedResponse struct {
	Source  string           `json:"source"`
	Reviews []model.FeedItem `json:"reviews"`
}

// EdgeHandler は利用者向けエッジAPIのHTTPハンドラー。
type EdgeHandler struct {
	verifier  IdentityVerifier
	likes     LikesReader
	publisher LikePublisher
	feed      FeedServiceInterface
	logger    *slog.Logger
}

// NewEdgeHandler はEdgeHandlerを生成する。
func NewEdgeHandler(verifier IdentityVerifier, likes LikesReader, publisher LikePublisher, feed FeedServiceInterface, logger *slog.Logger) *EdgeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EdgeHandler{
		verifier:  verifier,
		likes:     likes,
		publisher: publisher,
		feed:      feed,
		logger:    logger,
	}
}

// PostLike はいいねイベントを発行する。
// POST /post_like/{id}
func (h *EdgeHandler) PostLike(w http.ResponseWriter, r *http.Request) {
	h.publishLike(w, r, model.EventLike, "Like event published")
}

// DeleteLike はいいね取り消しイベントを発行する。
// DELETE /post_like/{id}
func (h *EdgeHandler) DeleteLike(w http.ResponseWriter, r *http.Request) {
	h.publishLike(w, r, model.EventUnlike, "Unlike event published")
}

// publishLike は検証済みユーザーのイベントを発行する。
// 発行に失敗してもリクエストは失敗させず、202とpropagated=falseを返す。
func (h *EdgeHandler) publishLike(w http.ResponseWriter, r *http.Request, kind model.EventKind, msg string) {
	authorization, ok := authorizationOrFail(w, r)
	if !ok {
		return
	}

	identity, err := h.verifier.Verify(r.Context(), authorization)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	postID := chi.URLParam(r, "id")
	outcome, err := h.publisher.Publish(r.Context(), kind, identity.UserID, postID)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, likeStatus(outcome), likeResponse{
		Msg:        msg,
		PostID:     postID,
		Propagated: outcome.Propagated,
	})
}

// GetLikes は呼び出し元がいいねしたコンテンツIDの一覧を返す。
// GET /get_likes
func (h *EdgeHandler) GetLikes(w http.ResponseWriter, r *http.Request) {
	authorization, ok := authorizationOrFail(w, r)
	if !ok {
		return
	}

	if _, err := h.verifier.Verify(r.Context(), authorization); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	ids, err := h.likes.LikedContentIDs(r.Context(), authorization)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

// RefreshFeed はフィードを再構築して全件を返す。
// POST /refresh_feed
func (h *EdgeHandler) RefreshFeed(w http.ResponseWriter, r *http.Request) {
	authorization, ok := authorizationOrFail(w, r)
	if !ok {
		return
	}

	entry, err := h.feed.Refresh(r.Context(), authorization)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, feedResponse{Source: "fresh", Reviews: nonNilItems(entry.Items)})
}

// GetFeed はキャッシュから次のページを返す。
// GET /get_feed
func (h *EdgeHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	authorization, ok := authorizationOrFail(w, r)
	if !ok {
		return
	}

	page, err := h.feed.Read(r.Context(), authorization)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, feedResponse{Source: "cache", Reviews: nonNilItems(page)})
}

func likeStatus(o like.Outcome) int {
	if o.Propagated {
		return http.StatusOK
	}
	return http.StatusAccepted
}

func nonNilItems(items []model.FeedItem) []model.FeedItem {
	if items == nil {
		return []model.FeedItem{}
	}
	return items
}
