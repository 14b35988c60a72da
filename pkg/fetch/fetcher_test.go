package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openzim/ifixit/pkg/config"
	"github.com/openzim/ifixit/pkg/utils"
)

func testConfig(maxRetries int) *config.AppConfig {
	return &config.AppConfig{
		MaxRetries:          maxRetries,
		InitialRetryDelay:   10 * time.Millisecond,
		MaxRetryDelay:       50 * time.Millisecond,
		APIRetryMaxDuration: 200 * time.Millisecond,
		MaxRequestsPerHost:  2,
	}
}

// testLogger returns a logger that discards output
func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// mockServer answers with statusCodes in sequence, repeating the last one.
func mockServer(t *testing.T, statusCodes []int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	attempts := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idx := int(attempts.Add(1)) - 1
		if idx >= len(statusCodes) {
			idx = len(statusCodes) - 1
		}
		w.WriteHeader(statusCodes[idx])
	}))
	t.Cleanup(server.Close)
	return server, attempts
}

func doFetch(t *testing.T, f *Fetcher, ctx context.Context, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	return f.FetchWithRetry(ctx, ClassPage, req)
}

func TestFetchWithRetry_Statuses(t *testing.T) {
	tests := []struct {
		name         string
		codes        []int
		retries      int
		wantStatus   int
		wantErr      error
		wantAttempts int32
		wantResp     bool
	}{
		{"ok", []int{200}, 3, 200, nil, 1, true},
		{"server error then ok", []int{500, 502, 200}, 3, 200, nil, 3, true},
		{"rate limited then ok", []int{429, 200}, 3, 200, nil, 2, true},
		{"mixed retryable", []int{500, 429, 500, 200}, 3, 200, nil, 4, true},
		{"server error exhausted", []int{500}, 3, 0, utils.ErrRetryFailed, 4, false},
		{"no retries", []int{503}, 0, 0, utils.ErrRetryFailed, 1, false},
		{"not found", []int{404}, 3, 404, utils.ErrClientHTTPError, 1, true},
		{"forbidden", []int{403}, 3, 403, utils.ErrClientHTTPError, 1, true},
		{"redirect not followed", []int{304}, 3, 304, utils.ErrOtherHTTPError, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, attempts := mockServer(t, tt.codes)
			f := NewFetcher(testClient(), testConfig(tt.retries), nil, testLogger())

			resp, err := doFetch(t, f, context.Background(), server.URL)
			if resp != nil {
				defer resp.Body.Close()
			}

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			if tt.wantResp {
				require.NotNil(t, resp)
				assert.Equal(t, tt.wantStatus, resp.StatusCode)
			} else {
				assert.Nil(t, resp)
			}
			assert.Equal(t, tt.wantAttempts, attempts.Load())
		})
	}
}

func TestFetchWithRetry_ExhaustedKeepsCause(t *testing.T) {
	server, _ := mockServer(t, []int{500})
	f := NewFetcher(testClient(), testConfig(1), nil, testLogger())

	_, err := doFetch(t, f, context.Background(), server.URL)
	assert.ErrorIs(t, err, utils.ErrRetryFailed)
	assert.ErrorIs(t, err, utils.ErrServerHTTPError)
	assert.Equal(t, "RetryFailed_HTTPServer", utils.CategorizeError(err))
}

func TestFetchWithRetry_ExhaustedOnNetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()
	f := NewFetcher(testClient(), testConfig(1), nil, testLogger())

	_, err := doFetch(t, f, context.Background(), url)
	require.ErrorIs(t, err, utils.ErrRetryFailed)
	assert.Equal(t, "RetryFailed_ConnectionRefused", utils.CategorizeError(err))
}

func TestFetchWithRetry_CancelledBeforeAttempt(t *testing.T) {
	server, attempts := mockServer(t, []int{200})
	f := NewFetcher(testClient(), testConfig(3), nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := doFetch(t, f, ctx, server.URL)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, attempts.Load())
}

func TestFetchWithRetry_TimeoutDuringBackoff(t *testing.T) {
	server, attempts := mockServer(t, []int{500})
	cfg := testConfig(3)
	cfg.InitialRetryDelay = 10 * time.Second
	cfg.MaxRetryDelay = 10 * time.Second
	f := NewFetcher(testClient(), cfg, nil, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	resp, err := doFetch(t, f, ctx, server.URL)
	assert.Nil(t, resp)
	assert.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestFetchWithRetry_TimeoutDuringRequest(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(slow.Close)
	f := NewFetcher(testClient(), testConfig(3), nil, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	resp, err := doFetch(t, f, ctx, slow.URL)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchWithRetry_NetworkErrorRetried(t *testing.T) {
	attempts := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Error("server doesn't support hijacking")
				return
			}
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	f := NewFetcher(testClient(), testConfig(3), nil, testLogger())

	resp, err := doFetch(t, f, context.Background(), server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestFetchWithRetry_ThrottledPerClass(t *testing.T) {
	server, attempts := mockServer(t, []int{200})
	limiter := NewRateLimiter(map[RequestClass]time.Duration{ClassPage: 60 * time.Millisecond}, testLogger())
	f := NewFetcher(testClient(), testConfig(0), limiter, testLogger())

	start := time.Now()
	for i := 0; i < 3; i++ {
		resp, err := doFetch(t, f, context.Background(), server.URL)
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestBackoffDelay(t *testing.T) {
	initial := 100 * time.Millisecond
	max := time.Second
	for attempt := 1; attempt <= 8; attempt++ {
		d := backoffDelay(attempt, initial, max)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, max+max/10)
	}
	d := backoffDelay(1, initial, max)
	assert.InDelta(t, float64(initial), float64(d), float64(initial)/10+1)
}
