package httpx

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitExceeded(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := NewRateLimiter(1, 1).Wrap(ok)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/sign-in", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, req)
	assert.Equal(t, http.StatusOK, rr1.Code)

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req)
	assert.Equal(t, http.StatusTooManyRequests, rr2.Code)
	assert.NotEmpty(t, rr2.Header().Get("Retry-After"))

	other := httptest.NewRequest(http.MethodPost, "/v1/auth/sign-in", nil)
	other.RemoteAddr = "10.0.0.2:1234"
	rr3 := httptest.NewRecorder()
	handler.ServeHTTP(rr3, other)
	assert.Equal(t, http.StatusOK, rr3.Code)
}

func TestSweepDropsIdleBuckets(t *testing.T) {
	l := NewRateLimiter(1, 1)
	require.True(t, l.allow("10.0.0.1"))
	l.mu.Lock()
	l.sweepLocked(time.Now().Add(10 * time.Minute))
	l.mu.Unlock()
	assert.Empty(t, l.buckets)
}

func TestSpoofedForwardedForSharesBucket(t *testing.T) {
	l := NewRateLimiter(0.001, 1)
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := l.Wrap(ok)

	admitted := 0
	for i := range 50 {
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/sign-in", nil)
		req.RemoteAddr = "198.51.100.9:5555"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code == http.StatusOK {
			admitted++
		}
	}
	assert.Equal(t, 1, admitted)
	assert.Len(t, l.buckets, 1)
}

func TestBucketTableIsBounded(t *testing.T) {
	l := NewRateLimiter(1, 1)
	l.maxBuckets = 2
	require.True(t, l.allow("a"))
	require.True(t, l.allow("b"))
	require.True(t, l.allow("c"))
	assert.False(t, l.allow("d"), "new clients share the overflow bucket")
	assert.Len(t, l.buckets, 3)
	assert.Contains(t, l.buckets, overflowKey)
}

func TestClientIPResolver(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8", "192.0.2.1"})
	require.NoError(t, err)
	res := ClientIPResolver{Trusted: trusted}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.9:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	assert.Equal(t, "198.51.100.9", res.ClientIP(req), "untrusted peer keeps its own address")
	assert.Equal(t, "198.51.100.9", ClientIP(req))

	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "1.1.1.1, 203.0.113.7, 192.0.2.1")
	assert.Equal(t, "203.0.113.7", res.ClientIP(req), "right-most untrusted hop wins")

	req.Header.Del("X-Forwarded-For")
	assert.Equal(t, "10.0.0.1", res.ClientIP(req))

	req.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "2001:db8::/64", res.Key(req))

	_, err = ParseTrustedProxies([]string{"not-an-ip"})
	require.Error(t, err)
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var dst struct {
		Email string `json:"email"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.c","extra":1}`))
	require.Error(t, DecodeJSON(httptest.NewRecorder(), req, &dst))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.c"}`))
	require.NoError(t, DecodeJSON(httptest.NewRecorder(), req, &dst))
	assert.Equal(t, "a@b.c", dst.Email)
}
