package middleware

import "net/http"

// NewAPIHeadersMiddleware はJSON APIの応答に共通ヘッダーを付与するミドルウェアを返す。
// フィードの読み出しは閲覧済みセットを更新するため、中間キャッシュに保存させない。
func NewAPIHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}
