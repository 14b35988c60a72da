package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"

	"github.com/openzim/ifixit/pkg/utils"
)

const maxRobotsSize = 512 << 10

// Robots applies the website's robots.txt to page requests. The file is
// loaded on first use. A missing, unreachable or unparsable file allows
// everything.
type Robots struct {
	client    *http.Client
	limiter   *RateLimiter
	host      string
	robotsURL string
	agent     string
	log       *logrus.Entry

	mu     sync.Mutex
	loaded bool
	data   *robotstxt.RobotsData // nil: allow all
}

// NewRobots prepares the rules of the site at mainURL for userAgent.
func NewRobots(client *http.Client, mainURL, userAgent string, limiter *RateLimiter, log *logrus.Entry) (*Robots, error) {
	u, err := url.Parse(mainURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: main URL %q", utils.ErrParsing, mainURL)
	}
	robotsURL := &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}
	return &Robots{
		client:    client,
		limiter:   limiter,
		host:      u.Host,
		robotsURL: robotsURL.String(),
		agent:     userAgent,
		log:       log.WithField("robots_url", robotsURL.String()),
	}, nil
}

func (r *Robots) rules(ctx context.Context) *robotstxt.RobotsData {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return r.data
	}
	data, err := r.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// the next request tries again
			return nil
		}
		r.log.WithField("category", utils.CategorizeError(err)).Warnf("robots.txt unavailable, every page is allowed: %v", err)
	}
	r.data = data
	r.loaded = true
	if data != nil {
		r.log.Info("Loaded robots.txt")
	}
	return r.data
}

func (r *Robots) fetch(ctx context.Context) (*robotstxt.RobotsData, error) {
	if err := r.limiter.Wait(ctx, ClassPage); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer drain(resp)
	// robotstxt reads 5xx as "disallow all"; an outage must not stop the run
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", utils.ErrServerHTTPError, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("%w: robots.txt: %w", utils.ErrParsing, err)
	}
	return data, nil
}

// Allowed reports whether rawURL may be requested. URLs on other hosts and
// a nil Robots are always allowed.
func (r *Robots) Allowed(ctx context.Context, rawURL string) bool {
	if r == nil {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host != r.host {
		return true
	}
	data := r.rules(ctx)
	if data == nil {
		return true
	}
	return data.TestAgent(u.RequestURI(), r.agent)
}
