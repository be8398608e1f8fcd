package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"evaltrack/internal/transport/http/api"
)

// maxTrackedKeys bounds the bucket map; expired buckets are swept past it.
const maxTrackedKeys = 10000

type rateBucket struct {
	count int
	reset time.Time
}

// fixedWindow allows limit hits per key in each window.
type fixedWindow struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	keyOf   func(*http.Request) string
	buckets map[string]*rateBucket
	now     func() time.Time
}

func newFixedWindow(limit int, window time.Duration, keyOf func(*http.Request) string) *fixedWindow {
	return &fixedWindow{
		limit:   limit,
		window:  window,
		keyOf:   keyOf,
		buckets: map[string]*rateBucket{},
		now:     time.Now,
	}
}

// RateLimit throttles every request per signed-in user, or per client IP
// for anonymous calls.
func RateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	fw := newFixedWindow(limit, window, actorOrIPKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if fw.admit(w, r) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// SensitiveMutationRateLimit adds tighter limits to credential endpoints
// (per IP and per account named in the body) and to workflow and presence
// transitions (per actor).
func SensitiveMutationRateLimit(baseLimit int, window time.Duration) func(http.Handler) http.Handler {
	credentials := []*fixedWindow{
		newFixedWindow(max(baseLimit/4, 1), window, clientIPKey),
		newFixedWindow(max(baseLimit/4, 1), window, accountOrIPKey),
	}
	transitions := []*fixedWindow{
		newFixedWindow(max(baseLimit/2, 1), window, actorOrIPKey),
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var limits []*fixedWindow
			switch mutationScope(r) {
			case scopeCredentials:
				limits = credentials
			case scopeTransition:
				limits = transitions
			}
			for _, fw := range limits {
				if !fw.admit(w, r) {
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// admit counts r and writes the rate headers. Over the limit it answers 429
// and returns false.
func (fw *fixedWindow) admit(w http.ResponseWriter, r *http.Request) bool {
	if fw.limit <= 0 {
		return true
	}
	key := fw.keyOf(r)
	if key == "" {
		key = clientIPKey(r)
	}
	count, resetIn := fw.hit(key)

	seconds := int((resetIn + time.Second - 1) / time.Second)
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(fw.limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(fw.limit-count, 0)))
	w.Header().Set("X-RateLimit-Reset", strconv.Itoa(seconds))
	if count <= fw.limit {
		return true
	}

	w.Header().Set("Retry-After", strconv.Itoa(max(seconds, 1)))
	slog.Warn("rate limit exceeded", "key", key, "method", r.Method, "path", r.URL.Path, "limit", fw.limit)
	api.Fail(w, http.StatusTooManyRequests, "rate_limited", "too many requests", GetRequestID(r.Context()))
	return false
}

func (fw *fixedWindow) hit(key string) (int, time.Duration) {
	now := fw.now()
	fw.mu.Lock()
	defer fw.mu.Unlock()
	bucket, ok := fw.buckets[key]
	if !ok || !now.Before(bucket.reset) {
		if len(fw.buckets) >= maxTrackedKeys {
			fw.sweep(now)
		}
		bucket = &rateBucket{reset: now.Add(fw.window)}
		fw.buckets[key] = bucket
	}
	bucket.count++
	return bucket.count, bucket.reset.Sub(now)
}

func (fw *fixedWindow) sweep(now time.Time) {
	for key, bucket := range fw.buckets {
		if !now.Before(bucket.reset) {
			delete(fw.buckets, key)
		}
	}
}

func actorOrIPKey(r *http.Request) string {
	if user, ok := GetUser(r.Context()); ok && user.UserID != "" {
		return "user:" + user.UserID
	}
	return clientIPKey(r)
}

// accountOrIPKey keys login attempts by the account id in the JSON body, so
// one client cannot spread guesses over many addresses.
func accountOrIPKey(r *http.Request) string {
	if account := peekJSONString(r, "id"); account != "" {
		return "account:" + strings.ToLower(account)
	}
	return clientIPKey(r)
}

// peekJSONString reads a top-level string field and restores the body.
func peekJSONString(r *http.Request, field string) string {
	if r.Body == nil || !strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
		return ""
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var payload map[string]any
	if json.Unmarshal(raw, &payload) != nil {
		return ""
	}
	value, _ := payload[field].(string)
	return strings.TrimSpace(value)
}

type rateScope int

const (
	scopeNone rateScope = iota
	scopeCredentials
	scopeTransition
)

var credentialPaths = map[string]bool{
	"/auth/login":           true,
	"/auth/change-password": true,
	"/auth/mfa/setup":       true,
	"/auth/mfa/enable":      true,
	"/auth/mfa/disable":     true,
}

var presencePaths = map[string]bool{
	"/movements/check-out": true,
	"/movements/check-in":  true,
}

var workflowSteps = []string{"/submit", "/respond", "/finalize"}

func mutationScope(r *http.Request) rateScope {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return scopeNone
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/v1")
	switch {
	case credentialPaths[path]:
		return scopeCredentials
	case presencePaths[path]:
		return scopeTransition
	case strings.HasPrefix(path, "/evaluations/"):
		for _, step := range workflowSteps {
			if strings.HasSuffix(path, step) {
				return scopeTransition
			}
		}
	}
	return scopeNone
}
