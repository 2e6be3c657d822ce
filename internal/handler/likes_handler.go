package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/brewfeed/internal/like"
	"github.com/hitoshi/brewfeed/internal/model"
)

// LikeServiceInterface はいいね状態ストアサービスのインターフェース。like.Serviceが実装する。
type LikeServiceInterface interface {
	Record(ctx context.Context, kind model.EventKind, actorID, contentID string) (like.Outcome, error)
	Liked(ctx context.Context, userID string) ([]string, error)
}

// LikesHandler はいいね状態ストアサービスのHTTPハンドラー。
// 読み出し（GET /likes）と直接書き込み（POST/DELETE /like）を提供する。
type LikesHandler struct {
	verifier IdentityVerifier
	service  LikeServiceInterface
	logger   *slog.Logger
}

// NewLikesHandler はLikesHandlerを生成する。
func NewLikesHandler(verifier IdentityVerifier, service LikeServiceInterface, logger *slog.Logger) *LikesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LikesHandler{verifier: verifier, service: service, logger: logger}
}

// ListLikes は呼び出し元のいいね済みコンテンツIDを返す。
// GET /likes
func (h *LikesHandler) ListLikes(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identify(w, r)
	if !ok {
		return
	}

	ids, err := h.service.Liked(r.Context(), identity.UserID)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

// Like はいいねを直接書き込み、イベントを発行する。
// POST /like?post_id=
func (h *LikesHandler) Like(w http.ResponseWriter, r *http.Request) {
	h.record(w, r, model.EventLike, "Like event published")
}

// Unlike はいいねを直接削除し、イベントを発行する。
// DELETE /like?post_id=
func (h *LikesHandler) Unlike(w http.ResponseWriter, r *http.Request) {
	h.record(w, r, model.EventUnlike, "Unlike event published")
}

func (h *LikesHandler) record(w http.ResponseWriter, r *http.Request, kind model.EventKind, msg string) {
	postID := strings.TrimSpace(r.URL.Query().Get("post_id"))
	if postID == "" {
		handleServiceError(w, r, h.logger, model.NewInvalidRequestError("post_id is required"))
		return
	}

	identity, ok := h.identify(w, r)
	if !ok {
		return
	}

	outcome, err := h.service.Record(r.Context(), kind, identity.UserID, postID)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	changed := outcome.Changed
	writeJSON(w, likeStatus(outcome), likeResponse{
		Msg:        msg,
		PostID:     postID,
		Propagated: outcome.Propagated,
		Changed:    &changed,
	})
}

func (h *LikesHandler) identify(w http.ResponseWriter, r *http.Request) (model.Identity, bool) {
	authorization, ok := authorizationOrFail(w, r)
	if !ok {
		return model.Identity{}, false
	}
	identity, err := h.verifier.Verify(r.Context(), authorization)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return model.Identity{}, false
	}
	return identity, true
}
