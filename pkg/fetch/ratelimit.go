package fetch

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RequestClass groups requests that share a courtesy delay.
type RequestClass string

const (
	ClassPage RequestClass = "page" // HTML pages of the website
	ClassAPI  RequestClass = "api"  // JSON API calls
	ClassCDN  RequestClass = "cdn"  // Asset downloads
)

// RateLimiter spaces requests of each class by its configured delay.
// A zero delay disables throttling for that class.
type RateLimiter struct {
	limiters map[RequestClass]*rate.Limiter
	log      *logrus.Entry
}

// NewRateLimiter creates a limiter allowing one request per delay for each class.
func NewRateLimiter(delays map[RequestClass]time.Duration, log *logrus.Entry) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[RequestClass]*rate.Limiter, len(delays)),
		log:      log,
	}
	for class, delay := range delays {
		limit := rate.Inf
		if delay > 0 {
			limit = rate.Every(delay)
		}
		rl.limiters[class] = rate.NewLimiter(limit, 1)
	}
	return rl
}

// Wait blocks until a request of the given class may be sent, or ctx is done.
// Unknown classes are never throttled.
func (rl *RateLimiter) Wait(ctx context.Context, class RequestClass) error {
	if rl == nil {
		return nil
	}
	limiter, ok := rl.limiters[class]
	if !ok || limiter.Limit() == rate.Inf {
		return nil
	}
	r := limiter.Reserve()
	delay := r.Delay()
	if delay <= 0 {
		return nil
	}
	rl.log.WithFields(logrus.Fields{"class": class, "sleep": delay}).Debug("Rate limit applying sleep")

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}
