package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Strob0t/TaskForge/internal/port/cache"
)

const (
	headerIdempotencyKey    = "Idempotency-Key"
	headerIdempotentReplay  = "Idempotent-Replay"
	maxIdempotencyBody      = 1 << 20 // 1 MB
	idempotencyKeyNamespace = "idem:"
)

// idempotencyEntry stores a captured HTTP response.
type idempotencyEntry struct {
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers"`
	Body       []byte              `json:"body"`
}

// Idempotency returns middleware that deduplicates mutating requests by the
// Idempotency-Key header. A repeated submission replays the captured
// response instead of enqueueing the task again. Replayed responses carry
// Idempotent-Replay: true.
func Idempotency(log *slog.Logger, store cache.Cache, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(headerIdempotencyKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			// Scope the key to method and path so one client key cannot
			// replay across endpoints.
			key = idempotencyKeyNamespace + r.Method + " " + r.URL.Path + " " + key

			if data, found, err := store.Get(r.Context(), key); err == nil && found {
				var cached idempotencyEntry
				if err := json.Unmarshal(data, &cached); err == nil {
					for k, vals := range cached.Headers {
						for _, v := range vals {
							w.Header().Add(k, v)
						}
					}
					w.Header().Set(headerIdempotentReplay, "true")
					w.WriteHeader(cached.StatusCode)
					_, _ = w.Write(cached.Body)
					return
				}
				log.Warn("idempotency: corrupt cache entry", "key", key)
			} else if err != nil {
				// A broken cache must not block submissions.
				log.Warn("idempotency: cache lookup failed", "key", key, "error", err)
			}

			rec := &responseRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
				body:           &bytes.Buffer{},
			}
			next.ServeHTTP(rec, r)

			// Only successful outcomes are worth replaying; a validation
			// failure should be retryable with the same key.
			if rec.statusCode >= 500 || rec.statusCode == http.StatusBadRequest {
				return
			}
			if rec.body.Len() > maxIdempotencyBody {
				return
			}
			headers := w.Header().Clone()
			// The replayed response gets its own request ID.
			headers.Del(headerRequestID)
			cached := idempotencyEntry{
				StatusCode: rec.statusCode,
				Headers:    headers,
				Body:       rec.body.Bytes(),
			}
			data, err := json.Marshal(cached)
			if err != nil {
				return
			}
			if err := store.Set(r.Context(), key, data, ttl); err != nil {
				log.Warn("idempotency: failed to store response", "key", key, "error", err)
			}
		})
	}
}

// responseRecorder wraps http.ResponseWriter to capture the response.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
