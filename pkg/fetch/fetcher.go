package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openzim/ifixit/pkg/config"
	"github.com/openzim/ifixit/pkg/utils"
)

// Fetcher performs throttled HTTP requests with retry on transient failures
type Fetcher struct {
	client  *http.Client
	cfg     *config.AppConfig // retry settings
	limiter *RateLimiter
	log     *logrus.Entry
}

// NewFetcher creates a new Fetcher instance. limiter may be nil.
func NewFetcher(client *http.Client, cfg *config.AppConfig, limiter *RateLimiter, log *logrus.Entry) *Fetcher {
	return &Fetcher{
		client:  client,
		cfg:     cfg,
		limiter: limiter,
		log:     log,
	}
}

// Client exposes the underlying HTTP client for single-shot requests.
func (f *Fetcher) Client() *http.Client {
	return f.client
}

// backoffDelay returns initial * 2^(attempt-1) capped at max, with +/-10% jitter.
func backoffDelay(attempt int, initial, max time.Duration) time.Duration {
	delay := time.Duration(float64(initial) * math.Pow(2, float64(attempt-1)))
	if delay <= 0 || delay > max {
		delay = max
	}
	var jitter time.Duration
	if delay >= 5 {
		jitter = time.Duration(rand.Int63n(int64(delay)/5)) - (delay / 10)
	}
	if delay+jitter < 0 {
		return 0
	}
	return delay + jitter
}

func drain(resp *http.Response) {
	if resp == nil {
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// FetchWithRetry sends req, waiting on the class throttle before every
// attempt. Network errors, 5xx and 429 are retried with exponential backoff;
// other 4xx come back at once with the response (caller closes the body)
// and an ErrClientHTTPError.
func (f *Fetcher) FetchWithRetry(ctx context.Context, class RequestClass, req *http.Request) (*http.Response, error) {
	var lastErr error
	var currentResp *http.Response

	reqLog := f.log.WithFields(logrus.Fields{"url": req.URL.String(), "class": class})
	maxRetries := f.cfg.MaxRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return nil, fmt.Errorf("context cancelled (%v) during retry backoff after error: %w", ctx.Err(), lastErr)
			}
			return nil, fmt.Errorf("context cancelled before first attempt: %w", ctx.Err())
		}

		if attempt > 0 {
			delay := backoffDelay(attempt, f.cfg.InitialRetryDelay, f.cfg.MaxRetryDelay)
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": maxRetries, "delay": delay}).Warn("Retrying request...")

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled (%v) during retry delay after error: %w", ctx.Err(), lastErr)
			}
		}

		if err := f.limiter.Wait(ctx, class); err != nil {
			return nil, err
		}

		currentResp, lastErr = f.client.Do(req.WithContext(ctx))

		if lastErr != nil {
			drain(currentResp)
			currentResp = nil
			if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return nil, lastErr
				}
			}
			reqLog.WithField("attempt", attempt).Warnf("Network error: %v", lastErr)
			continue
		}

		statusCode := currentResp.StatusCode
		resLog := reqLog.WithFields(logrus.Fields{"status_code": statusCode, "attempt": attempt})

		switch {
		case statusCode >= 200 && statusCode < 300:
			resLog.Debug("Successfully fetched")
			return currentResp, nil

		case statusCode >= 500:
			resLog.Warn("Server error, retrying...")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, statusCode, currentResp.Status)
			drain(currentResp)
			currentResp = nil
			continue

		case statusCode == http.StatusTooManyRequests:
			resLog.Warn("Received 429 Too Many Requests, retrying...")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, currentResp.Status)
			drain(currentResp)
			currentResp = nil
			continue

		case statusCode >= 400 && statusCode < 500:
			resLog.Debug("Client error (4xx), not retrying")
			return currentResp, fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, currentResp.Status)

		default:
			resLog.Warnf("Non-retryable/unexpected status: %d", statusCode)
			return currentResp, fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, statusCode, currentResp.Status)
		}
	}

	reqLog.Warnf("All %d fetch attempts failed. Last error: %v", maxRetries+1, lastErr)
	drain(currentResp)

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
	}
	return nil, utils.ErrRetryFailed
}
