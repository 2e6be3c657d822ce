package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/brewfeed/internal/like"
	"github.com/hitoshi/brewfeed/internal/middleware"
	"github.com/hitoshi/brewfeed/internal/model"
)

// --- モック定義 ---

type mockVerifier struct {
	verifyFn func(ctx context.Context, authorization string) (model.Identity, error)
}

func (m *mockVerifier) Verify(ctx context.Context, authorization string) (model.Identity, error) {
	if m.verifyFn != nil {
		return m.verifyFn(ctx, authorization)
	}
	return model.Identity{UserID: "42"}, nil
}

type mockLikesReader struct {
	likedFn func(ctx context.Context, authorization string) ([]string, error)
}

func (m *mockLikesReader) LikedContentIDs(ctx context.Context, authorization string) ([]string, error) {
	if m.likedFn != nil {
		return m.likedFn(ctx, authorization)
	}
	return nil, nil
}

type mockPublisher struct {
	publishFn func(ctx context.Context, kind model.EventKind, actorID, contentID string) (like.Outcome, error)
}

func (m *mockPublisher) Publish(ctx context.Context, kind model.EventKind, actorID, contentID string) (like.Outcome, error) {
	if m.publishFn != nil {
		return m.publishFn(ctx, kind, actorID, contentID)
	}
	return like.Outcome{Event: model.NewEvent(kind, actorID, contentID), Propagated: true}, nil
}

type mockFeedService struct {
	refreshFn func(ctx context.Context, authorization string) (*model.FeedCacheEntry, error)
	readFn    func(ctx context.Context, authorization string) ([]model.FeedItem, error)
}

func (m *mockFeedService) Refresh(ctx context.Context, authorization string) (*model.FeedCacheEntry, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx, authorization)
	}
	return &model.FeedCacheEntry{}, nil
}

func (m *mockFeedService) Read(ctx context.Context, authorization string) ([]model.FeedItem, error) {
	if m.readFn != nil {
		return m.readFn(ctx, authorization)
	}
	return nil, nil
}

type mockLikeService struct {
	recordFn func(ctx context.Context, kind model.EventKind, actorID, contentID string) (like.Outcome, error)
	likedFn  func(ctx context.Context, userID string) ([]string, error)
}

func (m *mockLikeService) Record(ctx context.Context, kind model.EventKind, actorID, contentID string) (like.Outcome, error) {
	if m.recordFn != nil {
		return m.recordFn(ctx, kind, actorID, contentID)
	}
	return like.Outcome{Changed: true, Propagated: true}, nil
}

func (m *mockLikeService) Liked(ctx context.Context, userID string) ([]string, error) {
	if m.likedFn != nil {
		return m.likedFn(ctx, userID)
	}
	return []string{}, nil
}

// --- テストヘルパー ---

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// parseErrorBody はレスポンスボディから統一エラーフォーマットをパースする。
func parseErrorBody(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v (raw: %s)", err, w.Body.String())
	}
	return body
}
