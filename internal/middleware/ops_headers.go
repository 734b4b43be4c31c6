package middleware

import "net/http"

// NewOpsHeadersMiddleware は/metricsと/healthの応答ヘッダーを設定する。
// スクレイプ結果とヘルス状態は常に最新である必要があるため、中間キャッシュと検索エンジンの索引を禁止する。
func NewOpsHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Cache-Control", "no-store")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Robots-Tag", "noindex")
			next.ServeHTTP(w, r)
		})
	}
}
