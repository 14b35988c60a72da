package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openzim/ifixit/pkg/archive"
	"github.com/openzim/ifixit/pkg/assets"
	"github.com/openzim/ifixit/pkg/config"
	ilog "github.com/openzim/ifixit/pkg/log"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))
	return cfgPath
}

func TestLoadConfig_ValidFile(t *testing.T) {
	cfgPath := writeConfig(t, `
language: fr
output_dir: "./out"
categories: ["iPhone 4", "Mac"]
max_missing_items_percent: 10
archive:
  title: "iFixit en français"
`)

	cfg, err := loadConfig(cfgPath)

	require.NoError(t, err)
	assert.Equal(t, "fr", cfg.Language)
	assert.Equal(t, []string{"iPhone 4", "Mac"}, cfg.Categories)
	require.NotNil(t, cfg.MaxMissingItemsPercent)
	assert.Equal(t, 10, *cfg.MaxMissingItemsPercent)
	assert.Equal(t, "iFixit en français", cfg.Archive.Title)
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := loadConfig("/nonexistent/path/config.yaml")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	_, err := loadConfig(writeConfig(t, "{{invalid yaml"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestDoValidate(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantCode int
		stdout   []string
		stderr   string
	}{
		{
			name:     "valid",
			content:  "language: de\noutput_dir: ./out\n",
			wantCode: 0,
			stdout:   []string{"OK: language de from https://de.ifixit.com", "ifixit_de_all", "Configuration valid"},
		},
		{
			name:     "defaults reported",
			content:  "output_dir: ./out\n",
			wantCode: 0,
			stdout:   []string{"WARN: language is empty", "Configuration valid"},
		},
		{
			name:     "unknown language",
			content:  "language: xx\n",
			wantCode: 1,
			stderr:   "unsupported language",
		},
		{
			name:     "threshold out of range",
			content:  "language: en\nmax_error_items_percent: 150\n",
			wantCode: 1,
			stderr:   "max_error_items_percent",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := doValidate(writeConfig(t, tt.content), &stdout, &stderr)

			assert.Equal(t, tt.wantCode, code)
			for _, s := range tt.stdout {
				assert.Contains(t, stdout.String(), s)
			}
			if tt.stderr != "" {
				assert.Contains(t, stderr.String(), tt.stderr)
			}
		})
	}
}

func TestDoValidate_ConfigNotFound(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doValidate("/nonexistent.yaml", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "Error")
}

func TestDoLanguages(t *testing.T) {
	var stdout bytes.Buffer
	require.Equal(t, 0, doLanguages(&stdout))

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	assert.Len(t, lines, len(config.Languages())+1)
	assert.Contains(t, lines[0], "CODE")
	assert.Contains(t, stdout.String(), "https://jp.ifixit.com")
}

func TestApplyOverrides(t *testing.T) {
	cfg := &config.AppConfig{Language: "en", OutputDir: "./out", StatsFilename: "stats.json"}
	scrapeOptions{language: "es", firstItems: true}.applyOverrides(cfg)

	assert.Equal(t, "es", cfg.Language)
	assert.Equal(t, "./out", cfg.OutputDir)
	assert.Equal(t, "stats.json", cfg.StatsFilename)
	assert.True(t, cfg.ScrapeOnlyFirstItems)
}

func TestPrintUsageTo(t *testing.T) {
	var buf bytes.Buffer
	printUsageTo(&buf)

	out := buf.String()
	for _, cmd := range []string{"scrape", "validate", "languages", "version"} {
		assert.Contains(t, out, cmd)
	}
}

func TestDoScrape_BadConfig(t *testing.T) {
	log := ilog.New("error", io.Discard)
	code := doScrape(context.Background(), scrapeOptions{configFile: writeConfig(t, "language: xx\n")}, log)
	assert.Equal(t, 1, code)
}

// testSite serves a one-category website with its API and images. Its
// robots.txt forbids the info pages.
type testSite struct {
	srv      *httptest.Server
	imgGets  atomic.Int32
	infoGets atomic.Int32
}

func newTestSite(t *testing.T) *testSite {
	t.Helper()
	site := &testSite{}
	mux := http.NewServeMux()
	site.srv = httptest.NewServer(mux)
	t.Cleanup(site.srv.Close)
	base := site.srv.URL
	img := func(name string) map[string]any { return map[string]any{"standard": base + "/img/" + name + ".jpg"} }

	api := map[string]any{
		"/api/2.0/wikis/CATEGORY/iphone_4": map[string]any{
			"title": "iPhone 4", "display_title": "iPhone 4", "revisionid": 5, "image": img("iphone"),
			"guides": []any{map[string]any{"guideid": 101, "title": "Battery", "locale": "en", "image": img("battery")}},
		},
		"/api/2.0/guides/101": map[string]any{
			"guideid": 101, "title": "Battery", "locale": "en", "type": "replacement",
			"category": "iPhone 4", "difficulty": "Easy", "image": img("battery"),
			"introduction_rendered": `<p>Get a <a href="/Info/toolkits">toolkit</a>.</p>`,
			"author":                map[string]any{"userid": 7, "username": "Walter", "image": img("walter")},
			"steps": []any{map[string]any{
				"stepid": 1,
				"media":  map[string]any{"type": "image", "data": []any{img("step")}},
				"lines":  []any{map[string]any{"bullet": "black", "level": 0, "text_rendered": "Unscrew"}},
			}},
		},
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/":
			fmt.Fprint(w, `<html><head><title>iFixit</title><meta name="description" content="Repair manual"></head><body>
<div data-name="KPIDisplay" data-props='{"stats":[{"value":1,"label":"Guides"}]}'></div></body></html>`)
		case r.URL.Path == "/Guide":
			fmt.Fprintf(w, `<html><head><title>Repair Guides</title></head><body>
<h1 class="page-title"><span>Repair Guides</span></h1>
<div class="page-callout"><div class="page-callout-inner"><img src="%[1]s/img/callout.jpg">
<div class="page-callout-content"><p>Hello</p></div></div></div>
<div class="primary-divider"><p>Featured</p></div>
<a class="featured-category-item" href="/Device/Phone" title="Phone repair"><img src="%[1]s/img/phone.jpg"><p class="featured-category-title">Phone</p></a>
<div class="secondary-divider"><p>All</p></div>
<a class="sub-category" href="/Device/Camera"><span class="sub-category-title-text">Camera</span><span class="overflow-slide-in" title="Camera">3</span></a>
</body></html>`, base)
		case r.URL.Path == "/robots.txt":
			fmt.Fprint(w, "User-agent: *\nDisallow: /Info/\n")
		case strings.HasPrefix(r.URL.Path, "/Info/"):
			site.infoGets.Add(1)
			fmt.Fprint(w, "<html></html>")
		case strings.HasPrefix(r.URL.Path, "/img/"):
			w.Header().Set("ETag", `"v1"`)
			w.Header().Set("Content-Type", "image/jpeg")
			if r.Method == http.MethodGet {
				site.imgGets.Add(1)
			}
			w.Write(assets.PlaceholderImage())
		case strings.HasPrefix(r.URL.Path, "/api/"):
			payload, ok := api[r.URL.Path]
			if !ok {
				http.NotFound(w, r)
				return
			}
			json.NewEncoder(w).Encode(payload)
		default:
			fmt.Fprint(w, "<html></html>")
		}
	})
	return site
}

func TestDoScrape_LiveSite(t *testing.T) {
	site := newTestSite(t)
	dir := t.TempDir()
	cfgPath := writeConfig(t, fmt.Sprintf(`
language: en
main_url: %s
output_dir: %s
tmp_dir: %s
cache_dir: %s
categories: ["iPhone 4"]
no_user: true
max_retries: 0
initial_retry_delay: 1ms
archive:
  filename: ifixit_test.zim
`, site.srv.URL, filepath.Join(dir, "out"), filepath.Join(dir, "tmp"), filepath.Join(dir, "cache")))
	log := ilog.New("error", io.Discard)

	require.Equal(t, 0, doScrape(context.Background(), scrapeOptions{configFile: cfgPath}, log))
	m, err := archive.ReadManifest(filepath.Join(dir, "out", "ifixit_test.zim"))
	require.NoError(t, err)
	assert.Equal(t, "iFixit", m.Title)
	assert.Equal(t, "Repair manual", m.Description)
	assert.Positive(t, m.ItemCount)
	assert.Contains(t, m.FrontItems, "Guide/-/101")
	firstRun := site.imgGets.Load()
	assert.Positive(t, firstRun)
	assert.Zero(t, site.infoGets.Load(), "links to pages forbidden by robots.txt are not followed")

	// images come from the cache the second time
	require.Equal(t, 0, doScrape(context.Background(), scrapeOptions{configFile: cfgPath}, log))
	assert.Equal(t, firstRun, site.imgGets.Load())
}

func TestDoScrape_Cancelled(t *testing.T) {
	site := newTestSite(t)
	cfgPath := writeConfig(t, fmt.Sprintf("language: en\nmain_url: %s\noutput_dir: %s\n", site.srv.URL, t.TempDir()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code := doScrape(ctx, scrapeOptions{configFile: cfgPath}, ilog.New("error", io.Discard))
	assert.Equal(t, 1, code)
}
