package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/draftpulse/contest-payments/internal/http/response"
	"github.com/draftpulse/contest-payments/internal/service"
)

const maxIdempotentBody = 1 << 20

// Idempotency replays cached responses for repeated POSTs carrying the same
// Idempotency-Key. The fingerprint ties the key to the subject, route, and
// body, so reusing a key with a different payload is rejected instead of
// silently replayed.
func Idempotency(store service.IdempotencyStore, scope string, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotentBody))
			if err != nil {
				response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "unreadable request body", nil)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			fingerprint := requestFingerprint(r, body)

			begin, err := store.Begin(r.Context(), scope, key, fingerprint, ttl)
			if err != nil {
				// The store being down must not block payments; the
				// services still dedupe on their own keys.
				next.ServeHTTP(w, r)
				return
			}
			switch begin.State {
			case service.IdempotencyStateReplay:
				w.Header().Set("Content-Type", begin.Cached.ContentType)
				w.Header().Set("Idempotency-Replayed", "true")
				w.WriteHeader(begin.Cached.StatusCode)
				_, _ = w.Write(begin.Cached.Body)
				return
			case service.IdempotencyStateConflict:
				response.Error(w, r, http.StatusUnprocessableEntity, "IDEMPOTENCY_CONFLICT", "idempotency key was used with a different request", nil)
				return
			case service.IdempotencyStateInProgress:
				response.Error(w, r, http.StatusConflict, "IDEMPOTENCY_IN_PROGRESS", "a request with this idempotency key is still running", nil)
				return
			}

			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			// Do not cache server errors; the client should retry them.
			if rec.status < http.StatusInternalServerError {
				_ = store.Complete(r.Context(), scope, key, fingerprint, service.CachedHTTPResponse{
					StatusCode:  rec.status,
					ContentType: rec.Header().Get("Content-Type"),
					Body:        rec.body.Bytes(),
				}, ttl)
			}
		})
	}
}

func requestFingerprint(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{0})
	h.Write([]byte(UserIDFromContext(r.Context())))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}
