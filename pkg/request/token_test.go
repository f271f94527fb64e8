package request

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/forum/pkg/errors"
)

// authServer 模拟签发与刷新接口
type authServer struct {
	*httptest.Server
	issued        atomic.Int32
	refreshed     atomic.Int32
	ttl           time.Duration
	rejectRefresh atomic.Bool
	gate          chan struct{}
}

func newAuthServer(t *testing.T, ttl time.Duration, gate ...chan struct{}) *authServer {
	a := &authServer{ttl: ttl}
	if len(gate) > 0 {
		a.gate = gate[0]
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/token", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["username"] == "" {
			writeEnvelope(w, http.StatusBadRequest, 6205, nil, "username is required")
			return
		}
		if a.gate != nil {
			<-a.gate
		}
		n := a.issued.Add(1)
		a.write(w, body["username"]+"-issued-"+itoa(n))
	})
	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if a.rejectRefresh.Load() || !strings.HasPrefix(auth, "Bearer ") {
			writeEnvelope(w, http.StatusUnauthorized, 6204, nil, "token is expired")
			return
		}
		n := a.refreshed.Add(1)
		a.write(w, strings.TrimPrefix(auth, "Bearer ")+"-refreshed-"+itoa(n))
	})
	a.Server = httptest.NewServer(mux)
	t.Cleanup(a.Close)
	return a
}

func (a *authServer) write(w http.ResponseWriter, token string) {
	writeEnvelope(w, http.StatusOK, http.StatusOK, TokenResponse{Token: token, ExpiresAt: time.Now().Add(a.ttl)}, "success")
}

func itoa(n int32) string {
	return strconv.Itoa(int(n))
}

func TestTokenManagerCachesToken(t *testing.T) {
	srv := newAuthServer(t, time.Hour)
	m := NewTokenManager(New(WithBaseURL(srv.URL)), "alice")

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice-issued-1", tok)

	again, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tok, again)
	assert.Equal(t, int32(1), srv.issued.Load())
	assert.Zero(t, srv.refreshed.Load())
}

func TestTokenManagerRefreshesNearExpiry(t *testing.T) {
	srv := newAuthServer(t, time.Hour)
	now := time.Now()
	m := NewTokenManager(New(WithBaseURL(srv.URL)), "alice",
		WithTokenClock(func() time.Time { return now }),
		WithRefreshSkew(time.Minute))

	_, err := m.Token(context.Background())
	require.NoError(t, err)

	now = now.Add(59*time.Minute + 30*time.Second)
	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice-issued-1-refreshed-1", tok)
	assert.Equal(t, int32(1), srv.issued.Load())
}

func TestTokenManagerReissuesWhenRefreshRejected(t *testing.T) {
	srv := newAuthServer(t, time.Hour)
	now := time.Now()
	m := NewTokenManager(New(WithBaseURL(srv.URL)), "alice", WithTokenClock(func() time.Time { return now }))

	_, err := m.Token(context.Background())
	require.NoError(t, err)

	srv.rejectRefresh.Store(true)
	now = now.Add(2 * time.Hour)
	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice-issued-2", tok)
}

func TestTokenManagerSingleFlight(t *testing.T) {
	gate := make(chan struct{})
	srv := newAuthServer(t, time.Hour, gate)
	m := NewTokenManager(New(WithBaseURL(srv.URL)), "alice")

	const n = 8
	var wg sync.WaitGroup
	tokens := make([]string, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := m.Token(context.Background())
			assert.NoError(t, err)
			tokens[i] = tok
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), srv.issued.Load())
	for _, tok := range tokens {
		assert.Equal(t, "alice-issued-1", tok)
	}
}

func TestTokenManagerIssueFailure(t *testing.T) {
	srv := newAuthServer(t, time.Hour)
	m := NewTokenManager(New(WithBaseURL(srv.URL)), "")

	_, err := m.Token(context.Background())
	assert.ErrorIs(t, err, ErrTokenUnavailable)
	assert.ErrorIs(t, err, ErrRequestFailed)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, opIssue, apiErr.Op)
	assert.Equal(t, 6205, apiErr.Code)
	assert.Equal(t, "username is required", apiErr.Message)
}

func TestTokenManagerRetriesIssue(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeEnvelope(w, http.StatusOK, http.StatusOK, TokenResponse{Token: "ok", ExpiresAt: time.Now().Add(time.Hour)}, "success")
	}))
	defer srv.Close()

	client := New(WithBaseURL(srv.URL), WithRetry(&RetryConfig{MaxAttempts: 2, InitialDelay: 5 * time.Millisecond}))
	tok, err := NewTokenManager(client, "alice").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", tok)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestTokenManagerInvalidate(t *testing.T) {
	srv := newAuthServer(t, time.Hour)
	m := NewTokenManager(New(WithBaseURL(srv.URL)), "alice")

	_, err := m.Token(context.Background())
	require.NoError(t, err)
	m.Invalidate()

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice-issued-2", tok)
	assert.Zero(t, srv.refreshed.Load())
}
