package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/openzim/ifixit/pkg/utils"
)

const defaultEvictionInterval = 5 * time.Minute

type hostSlots struct {
	slots     *semaphore.Weighted
	users     int       // holders plus waiters
	idleSince time.Time // zero while in use or never used
}

// HostSemaphorePool caps concurrent downloads per host. Asset workers share
// one pool, so a CDN host never sees more than the configured number of
// parallel transfers whatever the worker count.
type HostSemaphorePool struct {
	mu      sync.Mutex
	hosts   map[string]*hostSlots
	perHost int64
	timeout time.Duration
	log     *logrus.Entry
}

// NewHostSemaphorePool returns a pool allowing maxPerHost transfers per
// host. A positive timeout bounds how long Acquire waits.
func NewHostSemaphorePool(maxPerHost int, timeout time.Duration, log *logrus.Entry) *HostSemaphorePool {
	if maxPerHost <= 0 {
		maxPerHost = 2
		log.Warnf("max_requests_per_host unset, using %d", maxPerHost)
	}
	return &HostSemaphorePool{
		hosts:   make(map[string]*hostSlots),
		perHost: int64(maxPerHost),
		timeout: timeout,
		log:     log,
	}
}

func (p *HostSemaphorePool) join(host string) *hostSlots {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.hosts[host]
	if !ok {
		h = &hostSlots{slots: semaphore.NewWeighted(p.perHost)}
		p.hosts[host] = h
		p.log.WithFields(logrus.Fields{"host": host, "limit": p.perHost}).Debug("Tracking new asset host")
	}
	h.users++
	h.idleSince = time.Time{}
	return h
}

func (p *HostSemaphorePool) leave(h *hostSlots) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h.users--
	if h.users == 0 {
		h.idleSince = time.Now()
	}
}

// Acquire takes a transfer slot on host and returns the function giving it
// back. The error wraps ErrSemaphoreTimeout when the pool timeout elapsed
// first; a done ctx is returned as is.
func (p *HostSemaphorePool) Acquire(ctx context.Context, host string) (func(), error) {
	h := p.join(host)

	waitCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := h.slots.Acquire(waitCtx, 1); err != nil {
		p.leave(h)
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: host %s after %v", utils.ErrSemaphoreTimeout, host, p.timeout)
		}
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			h.slots.Release(1)
			p.leave(h)
		})
	}, nil
}

// RunEviction forgets hosts idle for a whole interval, until ctx is done.
// A non-positive interval means five minutes.
func (p *HostSemaphorePool) RunEviction(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultEvictionInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.log.Debugf("Host eviction stopped: %v", ctx.Err())
			return nil
		case now := <-ticker.C:
			p.evict(now.Add(-interval))
		}
	}
}

// evict drops the hosts nobody used since before cutoff.
func (p *HostSemaphorePool) evict(cutoff time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	before := len(p.hosts)
	for host, h := range p.hosts {
		if h.users == 0 && !h.idleSince.IsZero() && !h.idleSince.After(cutoff) {
			delete(p.hosts, host)
		}
	}
	if n := before - len(p.hosts); n > 0 {
		p.log.WithField("remaining", len(p.hosts)).Debugf("Evicted %d idle asset hosts", n)
	}
}

// Len returns the number of tracked hosts.
func (p *HostSemaphorePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.hosts)
}
