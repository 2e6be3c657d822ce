// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/brewfeed/internal/middleware"
	"github.com/hitoshi/brewfeed/internal/model"
)

// handleServiceError はサービス層から返されたエラーを統一エラーフォーマットのレスポンスに変換する。
// APIError以外のエラーは詳細をログのみに記録し、500を返す。
func handleServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, apiErr)
		return
	}

	logger.ErrorContext(r.Context(), "internal server error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w)
}

// authorizationOrFail はBearerミドルウェアが注入したAuthorizationヘッダー値を返す。
// 取得できない場合は401を書き込んでokにfalseを返す。
func authorizationOrFail(w http.ResponseWriter, r *http.Request) (string, bool) {
	authorization, err := middleware.AuthorizationFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, model.NewUnauthenticatedError("Missing or invalid Authorization header"))
		return "", false
	}
	return authorization, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
