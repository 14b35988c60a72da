package rewrite

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Follower resolves the URL an href finally lands on after redirects.
type Follower interface {
	FinalURL(ctx context.Context, href string) (string, error)
}

// Canonicalizer maps website hrefs to the path they redirect to. Results
// are memoized for the whole run and concurrent lookups of the same href
// share one request.
type Canonicalizer struct {
	follower Follower
	memo     sync.Map // href -> canonical
	group    singleflight.Group
	log      *logrus.Entry
}

// NewCanonicalizer creates a Canonicalizer using follower for live lookups.
func NewCanonicalizer(follower Follower, log *logrus.Entry) *Canonicalizer {
	return &Canonicalizer{follower: follower, log: log.WithField("component", "canonicalizer")}
}

// Canonical returns href's final location without scheme (and without host
// when the redirect stayed on the same host), URL-decoded. When the lookup
// fails the href's own path is used.
func (c *Canonicalizer) Canonical(ctx context.Context, href string) string {
	if v, ok := c.memo.Load(href); ok {
		return v.(string)
	}
	v, _, _ := c.group.Do(href, func() (any, error) {
		if v, ok := c.memo.Load(href); ok {
			return v, nil
		}
		res, cacheable := c.resolve(ctx, href)
		if cacheable {
			c.memo.Store(href, res)
		}
		return res, nil
	})
	return v.(string)
}

// Path is Canonical without its leading slash, as used for archive paths.
func (c *Canonicalizer) Path(ctx context.Context, href string) string {
	return strings.TrimPrefix(c.Canonical(ctx, href), "/")
}

// Len returns the number of memoized hrefs.
func (c *Canonicalizer) Len() int {
	n := 0
	c.memo.Range(func(_, _ any) bool { n++; return true })
	return n
}

func (c *Canonicalizer) resolve(ctx context.Context, href string) (string, bool) {
	final, err := c.follower.FinalURL(ctx, href)
	if err != nil {
		c.log.WithField("href", href).Debugf("Could not follow href, keeping its own path: %v", err)
		// a cancelled run must not poison the memo
		return stripOrigin(href, href), ctx.Err() == nil
	}
	res := stripOrigin(final, href)
	c.log.WithFields(logrus.Fields{"href": href, "canonical": res}).Debug("Normalized href")
	return res, true
}

// stripOrigin removes the scheme of target, and its host too when it is the
// host of origin, then URL-decodes the rest. Query strings are kept.
func stripOrigin(target, origin string) string {
	tu, err := url.Parse(target)
	if err != nil || tu.Scheme == "" {
		return target
	}
	rest := strings.TrimPrefix(target, tu.Scheme+"://")
	if ou, err := url.Parse(origin); err == nil && ou.Host == tu.Host {
		rest = strings.TrimPrefix(rest, tu.Host)
	}
	if decoded, err := url.PathUnescape(rest); err == nil {
		return decoded
	}
	return rest
}
