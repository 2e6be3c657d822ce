package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/brewfeed/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// detailは下流サービスのエラー本文と同じキーで、サービス間でそのまま転送できる。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Detail   string `json:"detail"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// StatusOf はAPIErrorに対応するHTTPステータスを返す。
func StatusOf(apiErr *model.APIError) int {
	if apiErr.Status >= 400 && apiErr.Status <= 599 {
		return apiErr.Status
	}
	switch apiErr.Code {
	case model.ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case model.ErrCodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case model.ErrCodeUpstreamError:
		return http.StatusBadGateway
	case model.ErrCodeInvalidEvent, model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusOf(apiErr))
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Detail:   apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Status:   http.StatusInternalServerError,
	})
}
