package scrape

import (
	"context"
	"encoding/json"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/openzim/ifixit/pkg/archive"
	"github.com/openzim/ifixit/pkg/config"
	"github.com/openzim/ifixit/pkg/frontier"
	"github.com/openzim/ifixit/pkg/rewrite"
)

const testMainURL = "https://www.ifixit.com"

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// fakeSource serves pages and API payloads from maps. API keys are the
// path followed by the encoded query, if any.
type fakeSource struct {
	mu    sync.Mutex
	pages map[string]string
	api   map[string]string
	calls []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{pages: make(map[string]string), api: make(map[string]string)}
}

func apiKey(path string, params url.Values) string {
	if len(params) == 0 {
		return path
	}
	return path + "?" + params.Encode()
}

func (s *fakeSource) Fetch(_ context.Context, path string, _ url.Values) (string, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, path)
	body, ok := s.pages[path]
	if !ok {
		return "", nil, io.ErrUnexpectedEOF
	}
	return body, []string{strings.TrimPrefix(path, "/")}, nil
}

func (s *fakeSource) FetchJSON(_ context.Context, path string, params url.Values, out any) (bool, error) {
	key := apiKey(path, params)
	s.mu.Lock()
	s.calls = append(s.calls, key)
	body, ok := s.api[key]
	s.mu.Unlock()
	if !ok || body == "null" {
		return false, nil
	}
	return true, json.Unmarshal([]byte(body), out)
}

func (s *fakeSource) called(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c == key {
			return true
		}
	}
	return false
}

type identityFollower struct{}

func (identityFollower) FinalURL(_ context.Context, href string) (string, error) { return href, nil }

type fakeAssets struct {
	mu       sync.Mutex
	deferred map[string]bool
}

func (a *fakeAssets) Defer(rawURL string) (string, bool) {
	if !strings.HasPrefix(rawURL, "https://") {
		return "", false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.deferred == nil {
		a.deferred = make(map[string]bool)
	}
	a.deferred[rawURL] = true
	return "assets/" + strings.TrimPrefix(rawURL, "https://"), true
}

type testEnv struct {
	scraper *Scraper
	source  *fakeSource
	writer  *archive.MemoryWriter
	assets  *fakeAssets
}

func newTestScraper(t *testing.T, cfg *config.AppConfig) *testEnv {
	t.Helper()
	if cfg == nil {
		cfg = &config.AppConfig{}
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	log := testLogger()
	src := newFakeSource()
	writer := archive.NewMemoryWriter()
	require.NoError(t, writer.Start())
	assets := &fakeAssets{}
	renderer, err := NewRenderer()
	require.NoError(t, err)

	canon := rewrite.NewCanonicalizer(identityFollower{}, log)
	env := &Env{
		Config:   cfg,
		MainURL:  testMainURL,
		Source:   src,
		Canon:    canon,
		Rewriter: rewrite.NewRewriter(rewrite.Options{MainURL: testMainURL, Vocabulary: rewrite.DefaultVocabulary()}, canon, assets, log),
		Assets:   assets,
		Writer:   writer,
		Renderer: renderer,
		Metadata: &Metadata{Title: "iFixit", Description: "Repair guides", CurrentYear: 2026},
		Log:      log,
	}
	s := New(env, frontier.Options{MaxMissingPercent: 100, MaxErrorPercent: 100})
	return &testEnv{scraper: s, source: src, writer: writer, assets: assets}
}

func (e *testEnv) addAPI(path string, params url.Values, body string) {
	e.source.api[apiKey(path, params)] = body
}

func (e *testEnv) page(t *testing.T, path string) string {
	t.Helper()
	item, ok := e.writer.Item(path)
	require.True(t, ok, "no item at %s; items: %v", path, e.writer.ItemPaths())
	return string(item.Content)
}

func lang(l string) url.Values { return url.Values{"langid": {l}} }

func guideJSON(id int, title string) string {
	g := map[string]any{
		"guideid":               id,
		"title":                 title,
		"locale":                "en",
		"type":                  "replacement",
		"category":              "iPhone 4",
		"difficulty":            "Moderate",
		"introduction_rendered": `<p>Open it <a href="/Guide/Other/99">like this</a></p>`,
		"author":                map[string]any{"userid": 7, "username": "Walter"},
		"steps": []any{
			map[string]any{
				"stepid": 10,
				"media":  map[string]any{"type": "image", "data": []any{map[string]any{"id": 1, "standard": "https://guide-images.cdn.ifixit.com/step.standard"}}},
				"lines":  []any{map[string]any{"bullet": "black", "level": 0, "text_rendered": "Remove the screws"}},
			},
		},
	}
	out, _ := json.Marshal(g)
	return string(out)
}

func listing(offset int) url.Values {
	return url.Values{"limit": {"200"}, "offset": {strconv.Itoa(offset)}}
}
