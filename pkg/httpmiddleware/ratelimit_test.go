package httpmiddleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func TestLimiter_Take(t *testing.T) {
	l := NewLimiter(1, 3, nil)

	for i, want := range []int{2, 1, 0} {
		remaining, wait, ok := l.Take("a", epoch)
		require.True(t, ok, "token %d", i)
		assert.Equal(t, want, remaining)
		assert.Zero(t, wait)
	}

	_, wait, ok := l.Take("a", epoch)
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)

	// A rejected take does not push the refill further out.
	_, wait, ok = l.Take("a", epoch.Add(500*time.Millisecond))
	assert.False(t, ok)
	assert.Equal(t, 500*time.Millisecond, wait)

	remaining, _, ok := l.Take("a", epoch.Add(time.Second))
	assert.True(t, ok)
	assert.Zero(t, remaining)

	_, _, ok = l.Take("b", epoch)
	assert.True(t, ok, "keys have separate buckets")
}

func TestLimiter_ZeroBurst(t *testing.T) {
	l := NewLimiter(10, 0, nil)

	_, wait, ok := l.Take("a", epoch)
	assert.False(t, ok)
	assert.Equal(t, 3600, retryAfter(wait))
}

func TestLimiter_Sweep(t *testing.T) {
	l := NewLimiter(1, 2, nil)

	_, _, _ = l.Take("busy", epoch)
	_, _, _ = l.Take("busy", epoch)
	_, _, _ = l.Take("idle", epoch)
	require.Equal(t, 2, l.Len())

	assert.Equal(t, 0, l.Sweep(epoch))
	assert.Equal(t, 1, l.Sweep(epoch.Add(time.Second)), "idle refilled")
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, 1, l.Sweep(epoch.Add(2*time.Second)))
	assert.Zero(t, l.Len())
}

func TestLimiter_RunStopsWithContext(t *testing.T) {
	l := NewLimiter(1, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx, time.Millisecond) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestLimiter_Middleware(t *testing.T) {
	l := NewLimiter(0.5, 2, func(r *http.Request) string { return r.Header.Get("X-Client") })
	l.now = func() time.Time { return epoch }

	calls := 0
	h := l.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(client string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Client", client)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := send("alpha")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))

	require.Equal(t, http.StatusNoContent, send("alpha").Code)

	rec = send("alpha")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	code, msg := decodeError(t, rec.Body.Bytes())
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "rate limit exceeded", msg)

	assert.Equal(t, http.StatusNoContent, send("beta").Code)
	assert.Equal(t, 3, calls)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "remote addr", remote: "192.0.2.7:4711", want: "192.0.2.7"},
		{name: "remote addr without port", remote: "192.0.2.7", want: "192.0.2.7"},
		{
			name:    "first forwarded hop",
			headers: map[string]string{"X-Forwarded-For": " 203.0.113.50 , 70.41.3.18", "X-Real-IP": "198.51.100.1"},
			remote:  "10.0.0.1:1",
			want:    "203.0.113.50",
		},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "198.51.100.1"}, remote: "10.0.0.1:1", want: "198.51.100.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}
