package rewrite

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/openzim/ifixit/pkg/models"
	"github.com/openzim/ifixit/pkg/utils"
)

// Resolver turns a classified reference into the archive path of its
// target, registering the target for scraping when it is new.
type Resolver interface {
	Resolve(ctx context.Context, ref Reference) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, ref Reference) (string, error)

func (f ResolverFunc) Resolve(ctx context.Context, ref Reference) (string, error) {
	return f(ctx, ref)
}

// AssetDeferrer schedules an asset and returns its archive path.
type AssetDeferrer interface {
	Defer(rawURL string) (string, bool)
}

// Alternatives of the markup pattern, in priority order. "." never crosses
// a line break, so every construct is matched within one line.
const (
	imgExpr     = `<img(?P<image_before>.*?)src\s*=\s*"(?P<image_url>.*?)"`
	hrefExpr    = `href\s*=\s*"(?P<href_url>.*?)"`
	youtubeExpr = `<div(?P<part1>.+?)youtube-player(?P<part2>.+?)src=[\\"']+(?P<youtubesrc>.+?)"(?P<part3>.+?)</div>`
	bgImageExpr = `background-image:url\((?P<quote1>&quot;|"|')(?P<bgdimgurl>.*?)(?P<quote2>&quot;|"|')\)`
	videoExpr   = `<video(?P<videostuff>.*)</video>`
	iframeExpr  = `<iframe.*?src\s*=\s*"(?P<iframe_url>.*?)".*?</iframe>`
)

var markupPattern = regexp.MustCompile(strings.Join([]string{imgExpr, hrefExpr, youtubeExpr, bgImageExpr, videoExpr, iframeExpr}, "|"))

var markupGroups = func() map[string]int {
	idx := make(map[string]int)
	for i, name := range markupPattern.SubexpNames() {
		if name != "" {
			idx[name] = i
		}
	}
	return idx
}()

// Options configures a Rewriter.
type Options struct {
	MainURL    string // Website root without trailing slash
	NoCleanup  bool   // Return content untouched
	Vocabulary Vocabulary
}

// Rewriter rewrites website markup for offline use.
type Rewriter struct {
	mainURL    string
	marker     string
	noCleanup  bool
	classifier *Classifier
	canon      *Canonicalizer
	assets     AssetDeferrer
	log        *logrus.Entry

	mu        sync.RWMutex
	resolvers map[RefKind]Resolver
	external  map[string]struct{}
}

// NewRewriter creates a Rewriter. Resolvers are added with Register.
func NewRewriter(opts Options, canon *Canonicalizer, assets AssetDeferrer, log *logrus.Entry) *Rewriter {
	return &Rewriter{
		mainURL:    strings.TrimRight(opts.MainURL, "/"),
		marker:     opts.Vocabulary.SiteMarker,
		noCleanup:  opts.NoCleanup,
		classifier: NewClassifier(opts.Vocabulary),
		canon:      canon,
		assets:     assets,
		log:        log.WithField("component", "rewriter"),
		resolvers:  make(map[RefKind]Resolver),
		external:   make(map[string]struct{}),
	}
}

// Register sets the resolver used for references of kind.
func (r *Rewriter) Register(kind RefKind, res Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[kind] = res
}

// ExternalURLs returns, sorted, the links to the website that could not be
// mapped to an archived object.
func (r *Rewriter) ExternalURLs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.external))
	for u := range r.external {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// PlaceholderLink returns the relative link to a placeholder page carrying
// the original URL in its query string.
func PlaceholderLink(rel string, p models.Placeholder, original string) string {
	return rel + p.Path() + "?url=" + utils.QuotePath(original)
}

// youtubeAllowed reports whether a player block may start at the "<div"
// found at start: the rest of that line must not open another div, so that
// only the innermost block of a line is taken.
func youtubeAllowed(content string, start int) bool {
	rest := content[start+len("<div"):]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[:nl]
	}
	return !strings.Contains(rest, "<div")
}

type markupMatch struct {
	content string
	loc     []int
	offset  int
}

func (m markupMatch) group(name string) (string, bool) {
	i := markupGroups[name]
	if m.loc[2*i] < 0 {
		return "", false
	}
	return m.content[m.offset+m.loc[2*i] : m.offset+m.loc[2*i+1]], true
}

func (m markupMatch) text() string {
	return m.content[m.offset+m.loc[0] : m.offset+m.loc[1]]
}

// Rewrite replaces, in one left-to-right pass, every image, link, video
// player, background image, video and iframe of content. rel is prepended
// to archive paths so they resolve from the page being written.
func (r *Rewriter) Rewrite(ctx context.Context, content, rel string) (string, error) {
	if r.noCleanup {
		return content, nil
	}
	var b strings.Builder
	b.Grow(len(content))
	pos := 0
	for pos < len(content) {
		loc := markupPattern.FindStringSubmatchIndex(content[pos:])
		if loc == nil {
			break
		}
		m := markupMatch{content: content, loc: loc, offset: pos}
		start, end := pos+loc[0], pos+loc[1]

		if _, yt := m.group("youtubesrc"); yt && !youtubeAllowed(content, start) {
			b.WriteString(content[pos : start+1])
			pos = start + 1
			continue
		}

		repl, err := r.replace(ctx, m, rel)
		if err != nil {
			return "", err
		}
		b.WriteString(content[pos:start])
		b.WriteString(repl)
		pos = end
	}
	b.WriteString(content[pos:])
	return b.String(), nil
}

func (r *Rewriter) replace(ctx context.Context, m markupMatch, rel string) (string, error) {
	if src, ok := m.group("image_url"); ok {
		if src == "" {
			return m.text(), nil
		}
		before, _ := m.group("image_before")
		path, ok := r.assets.Defer(src)
		if !ok {
			return m.text(), nil
		}
		return `<img` + before + `src="` + rel + utils.QuotePath(path) + `"`, nil
	}

	if href, ok := m.group("href_url"); ok {
		if href == "" {
			return m.text(), nil
		}
		res, err := r.rewriteHref(ctx, href, rel)
		if err != nil {
			return "", err
		}
		return `href="` + res + `"`, nil
	}

	if src, ok := m.group("youtubesrc"); ok {
		var parts [3]string
		for i, name := range []string{"part1", "part2", "part3"} {
			raw, _ := m.group(name)
			out, err := r.Rewrite(ctx, raw, rel)
			if err != nil {
				return "", err
			}
			parts[i] = out
		}
		return `<a href="` + r.externalLink(src, rel) + `"><div` + parts[0] + `youtube-player` + parts[1] + parts[2] + `</div></a>`, nil
	}

	if bg, ok := m.group("bgdimgurl"); ok {
		q1, _ := m.group("quote1")
		q2, _ := m.group("quote2")
		path, ok := r.assets.Defer(bg)
		if !ok {
			return m.text(), nil
		}
		return `background-image:url(` + q1 + rel + utils.QuotePath(path) + q2 + `)`, nil
	}

	if _, ok := m.group("videostuff"); ok {
		return `<p>Video not scrapped</p>`, nil
	}

	if src, ok := m.group("iframe_url"); ok {
		return `<a href="` + r.externalLink(src, rel) + `">External content</a>`, nil
	}

	return "", fmt.Errorf("%w: %q", utils.ErrUnsupportedMatch, m.text())
}

func (r *Rewriter) onSourceSite(href string) bool {
	return strings.Contains(href, r.marker+".com/") || strings.HasPrefix(href, r.mainURL+"/")
}

func (r *Rewriter) rewriteHref(ctx context.Context, href, rel string) (string, error) {
	if strings.HasPrefix(href, "/") {
		href = r.mainURL + href
	}
	if strings.HasPrefix(href, "http") && r.onSourceSite(href) {
		base, frag, hasFrag := strings.Cut(href, "#")
		href = utils.QuotePath(r.canon.Canonical(ctx, base))
		if hasFrag {
			href += "#" + frag
		}
	}

	ref, ok := r.classifier.Classify(href)
	if !ok {
		return "", fmt.Errorf("%w: unsupported href kind in %q", utils.ErrUnsupportedMatch, href)
	}

	switch ref.Kind {
	case RefAnchor:
		return href, nil
	case RefExternal:
		return r.externalLink(href, rel), nil
	case RefNotYetAvailable:
		return PlaceholderLink(rel, models.PlaceholderNotYetAvailable, href), nil
	case RefUnavailableOffline:
		return PlaceholderLink(rel, models.PlaceholderUnavailableOffline, href), nil
	}

	r.mu.RLock()
	res, ok := r.resolvers[ref.Kind]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: no resolver for %s references", utils.ErrUnsupportedMatch, ref.Kind)
	}
	link, err := res.Resolve(ctx, ref)
	if err != nil {
		return "", utils.WrapErrorf(err, "resolving %s %q", ref.Kind, href)
	}
	return rel + link + ref.After, nil
}

// externalLink points at the external-content placeholder. Links to the
// website itself are recorded for the run report.
func (r *Rewriter) externalLink(href, rel string) string {
	if strings.Contains(href, r.marker) {
		r.mu.Lock()
		r.external[href] = struct{}{}
		r.mu.Unlock()
	}
	return PlaceholderLink(rel, models.PlaceholderExternalContent, href)
}
