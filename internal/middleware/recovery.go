package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// PanicRecorder は回復したpanicを記録する。metrics.Collectorが実装する。
type PanicRecorder interface {
	RecordOpsPanic(path string)
}

// NewRecoveryMiddleware は運用エンドポイントのpanicを回復し、/healthと同じ形式のJSONで500を返す。
// http.ErrAbortHandlerは接続の中断なので、記録せずにそのまま再送出する。recorderはnilでもよい。
func NewRecoveryMiddleware(logger *slog.Logger, recorder PanicRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				logger.Error("運用エンドポイントでpanicが発生しました",
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				)
				if recorder != nil {
					recorder.RecordOpsPanic(r.URL.Path)
				}

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "error"})
			}()
			next.ServeHTTP(w, r)
		})
	}
}
