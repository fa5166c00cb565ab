package http

import (
	"net/http"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"piggybank/internal/log"
)

const (
	// SecretHeader carries the guardian secret.
	SecretHeader = "X-Guardian-Secret"

	limiterIdleTTL  = 10 * time.Minute
	limiterCleanup  = 5 * time.Minute
	defaultAuthRate = 10
)

// authLimiter throttles requests that present a guardian secret, per client
// IP, so the secret cannot be guessed quickly. Idle clients expire from the
// cache.
type authLimiter struct {
	perMinute int
	clients   *gocache.Cache
}

func newAuthLimiter(perMinute int) *authLimiter {
	if perMinute <= 0 {
		perMinute = defaultAuthRate
	}
	return &authLimiter{
		perMinute: perMinute,
		clients:   gocache.New(limiterIdleTTL, limiterCleanup),
	}
}

func (l *authLimiter) limiter(clientIP string) *rate.Limiter {
	if v, ok := l.clients.Get(clientIP); ok {
		l.clients.SetDefault(clientIP, v)
		return v.(*rate.Limiter)
	}
	lim := rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.perMinute)
	if err := l.clients.Add(clientIP, lim, gocache.DefaultExpiration); err != nil {
		// Lost a race with another request from the same client.
		if v, ok := l.clients.Get(clientIP); ok {
			return v.(*rate.Limiter)
		}
	}
	return lim
}

// allow reports whether clientIP may attempt another authorization now.
func (l *authLimiter) allow(clientIP string) bool {
	return l.limiter(clientIP).Allow()
}

// Middleware applies the limit only to requests that carry a secret.
func (l *authLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(SecretHeader) == "" {
			next.ServeHTTP(w, r)
			return
		}
		clientIP := extractClientIP(r)
		if !l.allow(clientIP) {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Authorization rate limit exceeded",
				log.FieldClientIP, clientIP,
				log.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", strconv.Itoa(int((time.Minute/time.Duration(l.perMinute)).Seconds())+1))
			writeError(w, r, http.StatusTooManyRequests, "too many authorization attempts, try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *authLimiter) stop() {
	l.clients.Flush()
}
