// Package upstream は下流の協調サービス（ユーザー検証、レビュー保存、いいね読み出し）の
// HTTPクライアントを提供する。呼び出し先は毎回Router経由で解決する。
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/brewfeed/internal/metrics"
	"github.com/hitoshi/brewfeed/internal/model"
)

// maxErrorBodyBytes はエラー詳細として読み取るレスポンスボディの上限。
const maxErrorBodyBytes = 4 << 10

// EndpointResolver はサービス名から呼び出し先のベースURLを解決するインターフェース。
// discovery.Routerが実装する。
type EndpointResolver interface {
	Endpoint(ctx context.Context, name string) (string, error)
}

// Services は協調サービスのレジストリ上の名前。
type Services struct {
	Verifier string
	Reviews  string
	Likes    string
}

// Client は協調サービスを呼び出すHTTPクライアント。
type Client struct {
	httpClient *http.Client
	resolver   EndpointResolver
	services   Services
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
}

// NewClient はClientを生成する。
func NewClient(httpClient *http.Client, resolver EndpointResolver, services Services, logger *slog.Logger, m metrics.MetricsCollector) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Client{
		httpClient: httpClient,
		resolver:   resolver,
		services:   services,
		logger:     logger,
		metrics:    m,
	}
}

// verifyResponse は検証サービスの応答。
// user_idは文字列・数値のどちらでも受け付け、欠落時はidを参照する。
// user_emailやnicknameも返るが、識別にはuser_idのみを使う。
type verifyResponse struct {
	UserID json.RawMessage `json:"user_id"`
	ID     json.RawMessage `json:"id"`
}

// Verify はBearerトークンを検証サービスに渡し、呼び出し元のIDを取得する。
// 非成功ステータスはそのままUpstreamErrorとして返す。
func (c *Client) Verify(ctx context.Context, authorization string) (model.Identity, error) {
	var resp verifyResponse
	if err := c.getJSON(ctx, c.services.Verifier, "/verify", authorization, "Token verification error", &resp); err != nil {
		return model.Identity{}, err
	}

	userID := rawID(resp.UserID)
	if userID == "" {
		userID = rawID(resp.ID)
	}
	if userID == "" {
		return model.Identity{}, model.NewUpstreamError(c.services.Verifier, http.StatusBadGateway, "user_id missing from verify response")
	}

	return model.Identity{UserID: userID}, nil
}

// ListReviews はレビュー保存サービスから全レビューを取得する。サービス側の絞り込みは行わない。
func (c *Client) ListReviews(ctx context.Context) ([]model.Review, error) {
	var reviews []model.Review
	if err := c.getJSON(ctx, c.services.Reviews, "/reviews/", "", "Review fetch error", &reviews); err != nil {
		return nil, err
	}
	return reviews, nil
}

// LikedContentIDs はいいね状態ストアの読み出し口から呼び出し元がいいねしたコンテンツIDを取得する。
func (c *Client) LikedContentIDs(ctx context.Context, authorization string) ([]string, error) {
	var ids []string
	if err := c.getJSON(ctx, c.services.Likes, "/likes", authorization, "Fetch likes error", &ids); err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// getJSON はサービスを解決してGETし、成功時にボディをoutへデコードする。
// 1回だけ試行し、リトライはしない。
func (c *Client) getJSON(ctx context.Context, service, path, authorization, defaultDetail string, out any) error {
	base, err := c.resolver.Endpoint(ctx, service)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", service, err)
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.RecordUpstreamLatency(service, time.Since(start))
	if err != nil {
		c.metrics.RecordUpstreamStatus(service, 0)
		c.logger.ErrorContext(ctx, "upstream call failed",
			slog.String("service", service),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return model.NewUpstreamError(service, http.StatusBadGateway, defaultDetail)
	}
	defer resp.Body.Close()
	c.metrics.RecordUpstreamStatus(service, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		detail := ExtractErrorDetail(body, defaultDetail)
		c.logger.WarnContext(ctx, "upstream returned non-success status",
			slog.String("service", service),
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
			slog.String("detail", detail),
		)
		return model.NewUpstreamError(service, resp.StatusCode, detail)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.logger.ErrorContext(ctx, "failed to decode upstream response",
			slog.String("service", service),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return model.NewUpstreamError(service, http.StatusBadGateway, defaultDetail)
	}
	return nil
}

// ExtractErrorDetail は下流のエラーボディから呼び出し元へ転送する詳細メッセージを取り出す。
// JSONのdetailが文字列ならそれを、そうでなければ本文のテキストを、空ならdefaultDetailを返す。
func ExtractErrorDetail(body []byte, defaultDetail string) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Detail) > 0 {
		var s string
		if err := json.Unmarshal(payload.Detail, &s); err == nil && s != "" {
			return s
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return defaultDetail
}

// rawID は文字列または数値のJSON値をID文字列に変換する。
func rawID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return ""
}
