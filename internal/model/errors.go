// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, upstream, feed, system
	Action   string // ユーザー向け対処方法
	Status   int    // 応答すべきHTTPステータス（0の場合はコードから決定する）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated    = "UNAUTHENTICATED"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeUpstreamError      = "UPSTREAM_ERROR"
	ErrCodeFeedUnavailable    = "FEED_UNAVAILABLE"
	ErrCodeInvalidEvent       = "INVALID_EVENT"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
)

// NewUnauthenticatedError はBearerトークン欠落・不正時のエラーを生成する。
func NewUnauthenticatedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  reason,
		Category: "auth",
		Action:   "ログインし直してください。",
		Status:   http.StatusUnauthorized,
	}
}

// NewServiceUnavailableError はレジストリから利用可能なインスタンスが得られない場合のエラーを生成する。
func NewServiceUnavailableError(service string) *APIError {
	return &APIError{
		Code:     ErrCodeServiceUnavailable,
		Message:  fmt.Sprintf("%s not available", service),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Status:   http.StatusServiceUnavailable,
	}
}

// NewUpstreamError は下流サービスが非成功ステータスを返した場合のエラーを生成する。
// statusとdetailは呼び出し元へそのまま転送される。
func NewUpstreamError(service string, status int, detail string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamError,
		Message:  detail,
		Category: "upstream",
		Action:   fmt.Sprintf("%s の状態を確認してください。", service),
		Status:   status,
	}
}

// NewFeedUnavailableError はリフレッシュ後もキャッシュにフィードが存在しない場合のエラーを生成する。
func NewFeedUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeFeedUnavailable,
		Message:  "Unable to refresh feed",
		Category: "feed",
		Action:   "しばらく待ってから再度お試しください。",
		Status:   http.StatusInternalServerError,
	}
}

// NewInvalidEventError はイベントのペイロードが既知の形式に一致しない場合のエラーを生成する。
func NewInvalidEventError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEvent,
		Message:  fmt.Sprintf("invalid event: %s", reason),
		Category: "validation",
		Action:   "イベントの形式を確認してください。",
		Status:   http.StatusBadRequest,
	}
}

// NewInvalidRequestError はリクエストパラメータが不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  reason,
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
		Status:   http.StatusBadRequest,
	}
}

// HasCode はerrがAPIErrorであり、指定コードを持つかどうかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
