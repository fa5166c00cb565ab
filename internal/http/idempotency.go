package http

import (
	"bytes"
	"crypto/sha256"
	"io"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"piggybank/internal/log"
)

const (
	// IdempotencyHeader lets a client retry a POST without repeating it.
	IdempotencyHeader = "Idempotency-Key"

	defaultIdempotencyTTL = 10 * time.Minute
	maxIdempotencyKeyLen  = 128
)

type recordedResponse struct {
	fingerprint [sha256.Size]byte
	pending     bool
	status      int
	contentType string
	body        []byte
}

// idempotencyCache replays the first response for a repeated
// Idempotency-Key on POST requests within the TTL. A key is bound to the
// body and secret it was first sent with.
type idempotencyCache struct {
	entries *gocache.Cache
}

func newIdempotencyCache(ttl time.Duration) *idempotencyCache {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return &idempotencyCache{entries: gocache.New(ttl, ttl)}
}

// recorder tees the response body so it can be replayed.
type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (c *idempotencyCache) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(IdempotencyHeader)
		if r.Method != http.MethodPost || key == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxIdempotencyKeyLen {
			writeError(w, r, http.StatusBadRequest, "idempotency key too long")
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "could not read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		fp := fingerprint(body, secretFrom(r))

		cacheKey := r.Method + " " + r.URL.Path + " " + key
		logger := log.FromContext(r.Context())

		if err := c.entries.Add(cacheKey, recordedResponse{fingerprint: fp, pending: true}, gocache.DefaultExpiration); err != nil {
			v, found := c.entries.Get(cacheKey)
			prev, _ := v.(recordedResponse)
			if !found {
				// Expired between Add and Get.
				next.ServeHTTP(w, r)
				return
			}
			if prev.fingerprint != fp {
				logger.WarnContext(r.Context(), "Idempotency key reused for a different request", log.FieldIdempotency, key)
				writeError(w, r, http.StatusUnprocessableEntity, "idempotency key was already used for a different request")
				return
			}
			if prev.pending {
				writeError(w, r, http.StatusConflict, "a request with this idempotency key is still in progress")
				return
			}
			logger.InfoContext(r.Context(), "Replaying idempotent response", log.FieldIdempotency, key)
			w.Header().Set("Content-Type", prev.contentType)
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(prev.status)
			_, _ = w.Write(prev.body)
			return
		}

		rec := &recorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		if !replayable(rec.status) {
			c.entries.Delete(cacheKey)
			return
		}
		c.entries.SetDefault(cacheKey, recordedResponse{
			fingerprint: fp,
			status:      rec.status,
			contentType: w.Header().Get("Content-Type"),
			body:        rec.body.Bytes(),
		})
	})
}

// replayable excludes responses a retry could legitimately change.
func replayable(status int) bool {
	switch {
	case status == 0, status >= http.StatusInternalServerError:
		return false
	case status == http.StatusUnauthorized, status == http.StatusTooManyRequests:
		return false
	default:
		return true
	}
}

func fingerprint(body []byte, secret string) [sha256.Size]byte {
	h := sha256.New()
	h.Write(body)
	h.Write([]byte{0})
	h.Write([]byte(secret))
	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (c *idempotencyCache) stop() {
	c.entries.Flush()
}
