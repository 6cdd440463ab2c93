package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func get(h http.Handler, remote string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/track/ABCD2345", nil)
	req.RemoteAddr = remote
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestLimiter_Allow(t *testing.T) {
	l := NewLimiter(RateLimitConfig{Max: 3, Window: time.Minute})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, want := range []int{2, 1, 0} {
		d := l.Allow("a", base.Add(time.Duration(i)*time.Second))
		require.True(t, d.Allowed)
		assert.Equal(t, want, d.Remaining)
		assert.Equal(t, base.Add(time.Minute), d.ResetAt)
	}
	assert.False(t, l.Allow("a", base.Add(5*time.Second)).Allowed)
	assert.True(t, l.Allow("b", base.Add(5*time.Second)).Allowed)

	// Half way into the next window the previous one still counts for half.
	d := l.Allow("a", base.Add(90*time.Second))
	require.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.True(t, l.Allow("a", base.Add(91*time.Second)).Allowed)
	assert.False(t, l.Allow("a", base.Add(92*time.Second)).Allowed)

	// Two windows later the key starts fresh.
	d = l.Allow("a", base.Add(3*time.Minute))
	require.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
}

func TestLimiter_Evict(t *testing.T) {
	l := NewLimiter(RateLimitConfig{Max: 1, Window: time.Minute})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.Allow("a", now)
	l.Allow("b", now.Add(2*time.Minute))

	l.evict(now.Add(2*time.Minute + time.Second))
	assert.NotContains(t, l.windows, "a")
	assert.Contains(t, l.windows, "b")
}

func TestLimiter_Middleware(t *testing.T) {
	h := NewLimiter(RateLimitConfig{Max: 2, Window: time.Minute}).Middleware()(okHandler())

	for range 2 {
		w := get(h, "10.0.0.1:9999", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}

	w := get(h, "10.0.0.1:5678", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var (
		code int
		msg  string
	)
	require.NoError(t, jx.DecodeBytes(w.Body.Bytes()).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "code":
			code, err = d.Int()
		case "message":
			msg, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	}))
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "rate limit exceeded", msg)

	assert.Equal(t, http.StatusOK, get(h, "10.0.0.2:1234", nil).Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		trust   bool
		remote  string
		headers map[string]string
		want    string
	}{
		{name: "remote addr", remote: "192.168.1.1:4444", want: "192.168.1.1"},
		{name: "forwarded ignored", remote: "192.168.1.1:4444", headers: map[string]string{"X-Forwarded-For": "203.0.113.50"}, want: "192.168.1.1"},
		{name: "forwarded trusted", trust: true, remote: "192.168.1.1:4444", headers: map[string]string{"X-Forwarded-For": "203.0.113.50, 70.41.3.18"}, want: "203.0.113.50"},
		{name: "real ip trusted", trust: true, remote: "192.168.1.1:4444", headers: map[string]string{"X-Real-IP": "198.51.100.7"}, want: "198.51.100.7"},
		{name: "no port", remote: "192.168.1.9", want: "192.168.1.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req, tt.trust))
		})
	}
}

func TestLimiter_CustomKeyFunc(t *testing.T) {
	h := NewLimiter(RateLimitConfig{
		Max:     1,
		Window:  time.Minute,
		KeyFunc: func(r *http.Request) string { return r.Header.Get("X-User-ID") },
	}).Middleware()(okHandler())

	assert.Equal(t, http.StatusOK, get(h, "10.0.0.1:1", map[string]string{"X-User-ID": "u-1"}).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(h, "10.0.0.2:1", map[string]string{"X-User-ID": "u-1"}).Code)
	assert.Equal(t, http.StatusOK, get(h, "10.0.0.1:1", map[string]string{"X-User-ID": "u-2"}).Code)
}
