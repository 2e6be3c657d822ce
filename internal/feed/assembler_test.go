package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/brewfeed/internal/model"
)

// mockCollaborators はCollaboratorsのテスト用モック。
type mockCollaborators struct {
	verifyFn  func(ctx context.Context, authorization string) (model.Identity, error)
	likedFn   func(ctx context.Context, authorization string) ([]string, error)
	reviewsFn func(ctx context.Context) ([]model.Review, error)
}

func (m *mockCollaborators) Verify(ctx context.Context, authorization string) (model.Identity, error) {
	if m.verifyFn != nil {
		return m.verifyFn(ctx, authorization)
	}
	return model.Identity{UserID: "u1"}, nil
}

func (m *mockCollaborators) LikedContentIDs(ctx context.Context, authorization string) ([]string, error) {
	if m.likedFn != nil {
		return m.likedFn(ctx, authorization)
	}
	return []string{}, nil
}

func (m *mockCollaborators) ListReviews(ctx context.Context) ([]model.Review, error) {
	if m.reviewsFn != nil {
		return m.reviewsFn(ctx)
	}
	return nil, nil
}

// missingStore は常にキャッシュミスを返すStore。
type missingStore struct{}

func (missingStore) Get(context.Context, string) (*model.FeedCacheEntry, error) { return nil, nil }
func (missingStore) Viewed(context.Context, string) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}
func (missingStore) Store(_ context.Context, owner string, items []model.FeedItem) (*model.FeedCacheEntry, error) {
	return &model.FeedCacheEntry{Owner: owner, Items: items}, nil
}
func (missingStore) MarkViewed(context.Context, string, []string) error { return nil }

// numberedReviews はr1..rnのレビューを作成日時の昇順で生成する。
func numberedReviews(n int) []model.Review {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	reviews := make([]model.Review, 0, n)
	for i := 1; i <= n; i++ {
		ts := model.Timestamp{Time: base.Add(time.Duration(i) * time.Minute)}
		reviews = append(reviews, model.Review{
			ID:        fmt.Sprintf("r%d", i),
			Headline:  fmt.Sprintf("review %d", i),
			Body:      "tasty",
			Rating:    5,
			ProductID: "beer-1",
			CreatedAt: ts,
			UpdatedAt: ts,
		})
	}
	return reviews
}

func ids(items []model.FeedItem) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.ID)
	}
	return out
}

func equalIDs(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestAssembler_Read_PagesThroughFeed(t *testing.T) {
	cache, _ := newTestCache(t)
	reviews := numberedReviews(10)
	up := &mockCollaborators{
		reviewsFn: func(context.Context) ([]model.Review, error) { return reviews, nil },
	}
	a := NewAssembler(up, cache, nil, nil)
	ctx := context.Background()

	first, err := a.Read(ctx, "Bearer t")
	if err != nil {
		t.Fatalf("first Read returned error: %v", err)
	}
	a.Wait()
	if got := ids(first); !equalIDs(got, "r10", "r9", "r8") {
		t.Errorf("first page = %v, want [r10 r9 r8]", got)
	}

	second, err := a.Read(ctx, "Bearer t")
	if err != nil {
		t.Fatalf("second Read returned error: %v", err)
	}
	a.Wait()
	if got := ids(second); !equalIDs(got, "r7", "r6", "r5") {
		t.Errorf("second page = %v, want [r7 r6 r5]", got)
	}

	viewed, err := cache.Viewed(ctx, "u1")
	if err != nil {
		t.Fatalf("Viewed returned error: %v", err)
	}
	if len(viewed) != 6 {
		t.Errorf("viewed count = %d, want 6", len(viewed))
	}
}

func TestAssembler_Read_SameCacheSamePage(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	if _, err := cache.Store(ctx, "u1", sampleItems("r5", "r4", "r3", "r2", "r1")); err != nil {
		t.Fatalf("Store returned error: %v", err)
	}

	var reviewCalls atomic.Int32
	up := &mockCollaborators{
		reviewsFn: func(context.Context) ([]model.Review, error) {
			reviewCalls.Add(1)
			return nil, errors.New("reviews down")
		},
	}
	a := NewAssembler(up, cache, nil, nil)

	page, err := a.Read(ctx, "Bearer t")
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	a.Wait()
	if got := ids(page); !equalIDs(got, "r5", "r4", "r3") {
		t.Errorf("page = %v, want first three cached items", got)
	}

	// バックグラウンド再構築が失敗した場合はキャッシュが変わらず、応答にも影響しない
	entry, err := cache.Get(ctx, "u1")
	if err != nil || entry == nil {
		t.Fatalf("Get = %v, %v; want hit", entry, err)
	}
	if len(entry.Items) != 5 {
		t.Errorf("cached items = %d, want 5", len(entry.Items))
	}
	if reviewCalls.Load() != 1 {
		t.Errorf("ListReviews called %d times, want 1", reviewCalls.Load())
	}
}

func TestAssembler_Read_ShortFeedReturnsRemaining(t *testing.T) {
	cache, _ := newTestCache(t)
	up := &mockCollaborators{
		reviewsFn: func(context.Context) ([]model.Review, error) { return numberedReviews(2), nil },
	}
	a := NewAssembler(up, cache, nil, nil)

	page, err := a.Read(context.Background(), "Bearer t")
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	a.Wait()
	if got := ids(page); !equalIDs(got, "r2", "r1") {
		t.Errorf("page = %v, want [r2 r1]", got)
	}

	page, err = a.Read(context.Background(), "Bearer t")
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	a.Wait()
	if len(page) != 0 {
		t.Errorf("page = %v, want empty once everything is viewed", ids(page))
	}
}

func TestAssembler_Read_VerifyFailure(t *testing.T) {
	cache, _ := newTestCache(t)
	up := &mockCollaborators{
		verifyFn: func(context.Context, string) (model.Identity, error) {
			return model.Identity{}, model.NewUpstreamError("verifier", http.StatusUnauthorized, "Invalid token")
		},
	}
	a := NewAssembler(up, cache, nil, nil)

	_, err := a.Read(context.Background(), "Bearer bad")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Message != "Invalid token" {
		t.Errorf("error = %+v, want 401 Invalid token", apiErr)
	}
}

func TestAssembler_Read_RefreshFailureOnMissPropagates(t *testing.T) {
	cache, _ := newTestCache(t)
	up := &mockCollaborators{
		likedFn: func(context.Context, string) ([]string, error) {
			return nil, model.NewServiceUnavailableError("likes-service")
		},
	}
	a := NewAssembler(up, cache, nil, nil)

	_, err := a.Read(context.Background(), "Bearer t")
	if !model.HasCode(err, model.ErrCodeServiceUnavailable) {
		t.Fatalf("expected SERVICE_UNAVAILABLE, got %v", err)
	}
}

func TestAssembler_Read_StillMissingAfterRefresh(t *testing.T) {
	a := NewAssembler(&mockCollaborators{}, missingStore{}, nil, nil)

	_, err := a.Read(context.Background(), "Bearer t")
	if !model.HasCode(err, model.ErrCodeFeedUnavailable) {
		t.Fatalf("expected FEED_UNAVAILABLE, got %v", err)
	}
}

func TestAssembler_Refresh_BuildsWindow(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	if err := cache.MarkViewed(ctx, "u1", []string{"r150", "r148"}); err != nil {
		t.Fatalf("MarkViewed returned error: %v", err)
	}

	reviews := numberedReviews(150)
	// 入力順に依存しないことを確認するため逆順で返す
	shuffled := make([]model.Review, len(reviews))
	for i, r := range reviews {
		shuffled[len(reviews)-1-i] = r
	}

	up := &mockCollaborators{
		likedFn:   func(context.Context, string) ([]string, error) { return []string{"r149", "r1"}, nil },
		reviewsFn: func(context.Context) ([]model.Review, error) { return shuffled, nil },
	}
	a := NewAssembler(up, cache, nil, nil)

	entry, err := a.Refresh(ctx, "Bearer t")
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}

	if len(entry.Items) != 98 {
		t.Fatalf("items = %d, want 98 (window of 100 minus 2 viewed)", len(entry.Items))
	}
	if entry.Items[0].ID != "r149" || entry.Items[len(entry.Items)-1].ID != "r51" {
		t.Errorf("range = %s..%s, want r149..r51", entry.Items[0].ID, entry.Items[len(entry.Items)-1].ID)
	}
	for _, item := range entry.Items {
		if item.ID == "r150" || item.ID == "r148" {
			t.Errorf("viewed item %s should be excluded", item.ID)
		}
		if item.Liked != (item.ID == "r149") {
			t.Errorf("item %s liked = %v", item.ID, item.Liked)
		}
	}
	if !mr.Exists("feed:u1") {
		t.Error("expected feed to be stored")
	}

	stored, err := cache.Get(ctx, "u1")
	if err != nil || stored == nil {
		t.Fatalf("Get = %v, %v; want hit", stored, err)
	}
	if stored.Items[0].ID != "r149" {
		t.Errorf("stored first item = %s, want r149", stored.Items[0].ID)
	}
}

func TestAssembler_Refresh_SanitizesText(t *testing.T) {
	cache, _ := newTestCache(t)
	reviews := numberedReviews(1)
	reviews[0].Headline = "<script>alert(1)</script>Great <b>stout</b>"
	reviews[0].Body = "Fish &amp; chips"
	up := &mockCollaborators{
		reviewsFn: func(context.Context) ([]model.Review, error) { return reviews, nil },
	}
	a := NewAssembler(up, cache, nil, nil)

	entry, err := a.Refresh(context.Background(), "Bearer t")
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	if got := entry.Items[0].Headline; got != "Great stout" {
		t.Errorf("Headline = %q, want %q", got, "Great stout")
	}
	if got := entry.Items[0].Body; got != "Fish & chips" {
		t.Errorf("Body = %q, want %q", got, "Fish & chips")
	}
}

func TestAssembler_Refresh_TiesOrderedByID(t *testing.T) {
	cache, _ := newTestCache(t)
	ts := model.Timestamp{Time: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	reviews := []model.Review{
		{ID: "b", CreatedAt: ts},
		{ID: "c", CreatedAt: ts},
		{ID: "a", CreatedAt: ts},
	}
	up := &mockCollaborators{
		reviewsFn: func(context.Context) ([]model.Review, error) { return reviews, nil },
	}
	a := NewAssembler(up, cache, nil, nil)

	entry, err := a.Refresh(context.Background(), "Bearer t")
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	if got := ids(entry.Items); !equalIDs(got, "c", "b", "a") {
		t.Errorf("order = %v, want [c b a]", got)
	}
}

func TestAssembler_Refresh_ResetsTTL(t *testing.T) {
	cache, mr := newTestCache(t)
	up := &mockCollaborators{
		reviewsFn: func(context.Context) ([]model.Review, error) { return numberedReviews(3), nil },
	}
	a := NewAssembler(up, cache, nil, nil)
	ctx := context.Background()

	if _, err := a.Refresh(ctx, "Bearer t"); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	mr.FastForward(50 * time.Minute)
	if ttl := mr.TTL("feed:u1"); ttl != 10*time.Minute {
		t.Fatalf("TTL = %v, want 10m", ttl)
	}

	if _, err := a.Refresh(ctx, "Bearer t"); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	if ttl := mr.TTL("feed:u1"); ttl != time.Hour {
		t.Errorf("TTL after refresh = %v, want 1h", ttl)
	}
}

func TestAssembler_Refresh_ReviewsFailure(t *testing.T) {
	cache, mr := newTestCache(t)
	up := &mockCollaborators{
		reviewsFn: func(context.Context) ([]model.Review, error) {
			return nil, model.NewUpstreamError("reviews-service", http.StatusBadGateway, "Failed to fetch reviews")
		},
	}
	a := NewAssembler(up, cache, nil, nil)

	_, err := a.Refresh(context.Background(), "Bearer t")
	if !model.HasCode(err, model.ErrCodeUpstreamError) {
		t.Fatalf("expected UPSTREAM_ERROR, got %v", err)
	}
	if mr.Exists("feed:u1") {
		t.Error("feed must not be stored when reviews cannot be fetched")
	}
}

func TestAssembler_BackgroundRefreshUsesDetachedContext(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := cache.Store(ctx, "u1", sampleItems("r1")); err != nil {
		t.Fatalf("Store returned error: %v", err)
	}

	var bgErr atomic.Value
	up := &mockCollaborators{
		reviewsFn: func(c context.Context) ([]model.Review, error) {
			if err := c.Err(); err != nil {
				bgErr.Store(err)
			}
			return numberedReviews(4), nil
		},
	}
	a := NewAssembler(up, cache, nil, nil, WithBackgroundTimeout(5*time.Second))

	if _, err := a.Read(ctx, "Bearer t"); err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	cancel()
	a.Wait()

	if v := bgErr.Load(); v != nil {
		t.Errorf("background refresh saw cancelled context: %v", v)
	}
	entry, err := cache.Get(context.Background(), "u1")
	if err != nil || entry == nil {
		t.Fatalf("Get = %v, %v; want hit", entry, err)
	}
	// r1は閲覧済みなので除外される
	if got := ids(entry.Items); !equalIDs(got, "r4", "r3", "r2") {
		t.Errorf("refreshed items = %v, want [r4 r3 r2]", got)
	}
}

func TestAssembler_Read_ExpiredEntryRebuildsBeforeServing(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	if _, err := cache.Store(ctx, "u1", sampleItems("old3", "old2", "old1")); err != nil {
		t.Fatalf("Store returned error: %v", err)
	}
	mr.FastForward(61 * time.Minute)

	reviews := numberedReviews(150)
	up := &mockCollaborators{
		likedFn:   func(context.Context, string) ([]string, error) { return []string{"r149"}, nil },
		reviewsFn: func(context.Context) ([]model.Review, error) { return reviews, nil },
	}
	a := NewAssembler(up, cache, nil, nil)

	first, err := a.Read(ctx, "Bearer t")
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	a.Wait()
	if got := ids(first); !equalIDs(got, "r150", "r149", "r148") {
		t.Fatalf("first page = %v, want [r150 r149 r148]", got)
	}
	for _, item := range first {
		if item.Liked != (item.ID == "r149") {
			t.Errorf("item %s liked = %v", item.ID, item.Liked)
		}
	}

	// バックグラウンド再構築は閲覧済みの3件を除いた窓で置き換える
	entry, err := cache.Get(ctx, "u1")
	if err != nil || entry == nil {
		t.Fatalf("Get = %v, %v; want hit", entry, err)
	}
	if len(entry.Items) != 97 || entry.Items[0].ID != "r147" {
		t.Errorf("cached = %d items starting at %s, want 97 starting at r147", len(entry.Items), entry.Items[0].ID)
	}

	second, err := a.Read(ctx, "Bearer t")
	if err != nil {
		t.Fatalf("second Read returned error: %v", err)
	}
	a.Wait()
	if got := ids(second); !equalIDs(got, "r147", "r146", "r145") {
		t.Errorf("second page = %v, want [r147 r146 r145]", got)
	}
}
