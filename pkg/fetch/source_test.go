package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openzim/ifixit/pkg/config"
	"github.com/openzim/ifixit/pkg/utils"
)

func newTestSource(t *testing.T, server *httptest.Server, mutate func(*config.AppConfig)) *Source {
	t.Helper()
	cfg := testConfig(1)
	cfg.MainURL = server.URL
	if mutate != nil {
		mutate(cfg)
	}
	f := NewFetcher(server.Client(), cfg, nil, testLogger())
	hosts := NewHostSemaphorePool(cfg.MaxRequestsPerHost, time.Second, testLogger())
	return NewSource(cfg, f, hosts, nil, testLogger())
}

func TestSource_FetchRecordsRedirectChain(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/Device/Old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/Device/Mid", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/Device/Mid", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/Device/New_Name", http.StatusFound)
	})
	mux.HandleFunc("/Device/New_Name", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>final</html>")
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	body, chain, err := newTestSource(t, server, nil).Fetch(context.Background(), "/Device/Old", nil)
	require.NoError(t, err)
	assert.Equal(t, "<html>final</html>", body)
	assert.Equal(t, []string{"Device/Old", "Device/Mid", "Device/New_Name"}, chain)
}

func TestSource_FetchQuotesPath(t *testing.T) {
	var gotURI string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURI = r.RequestURI
		fmt.Fprint(w, "ok")
	}))
	t.Cleanup(server.Close)

	_, chain, err := newTestSource(t, server, nil).Fetch(context.Background(), "/Device/Mac Laptop+", nil)
	require.NoError(t, err)
	assert.Equal(t, "/Device/Mac%20Laptop%2B", gotURI)
	assert.Equal(t, []string{"Device/Mac Laptop+"}, chain)
}

func TestSource_FetchRefetchesWithParamsAfterRedirect(t *testing.T) {
	var finalQueries []string
	mux := http.NewServeMux()
	mux.HandleFunc("/Info/Old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/Info/New", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/Info/New", func(w http.ResponseWriter, r *http.Request) {
		finalQueries = append(finalQueries, r.URL.RawQuery)
		fmt.Fprintf(w, "lang=%s", r.URL.Query().Get("lang"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	params := url.Values{"lang": {"fr"}}
	body, chain, err := newTestSource(t, server, nil).Fetch(context.Background(), "/Info/Old", params)
	require.NoError(t, err)
	assert.Equal(t, "lang=fr", body)
	assert.Equal(t, []string{"Info/Old", "Info/New"}, chain)
	// first hop loses the query, the refetch carries it
	assert.Equal(t, []string{"", "lang=fr"}, finalQueries)
}

func TestSource_FetchClientError(t *testing.T) {
	server, _ := mockServer(t, []int{404})
	_, _, err := newTestSource(t, server, nil).Fetch(context.Background(), "/Guide/Nope", nil)
	assert.ErrorIs(t, err, utils.ErrClientHTTPError)
}

type guideStub struct {
	GuideID int    `json:"guideid"`
	Title   string `json:"title"`
}

func TestSource_FetchJSON(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/2.0/guides/42", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "fr", r.URL.Query().Get("langid"))
		fmt.Fprint(w, `{"guideid":42,"title":"Battery Replacement"}`)
	})
	mux.HandleFunc("/api/2.0/guides/7", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "null")
	})
	mux.HandleFunc("/api/2.0/guides/8", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/api/2.0/guides/9", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "{not json")
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	src := newTestSource(t, server, nil)

	t.Run("found", func(t *testing.T) {
		var g guideStub
		found, err := src.FetchJSON(context.Background(), "/guides/42", url.Values{"langid": {"fr"}}, &g)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, guideStub{GuideID: 42, Title: "Battery Replacement"}, g)
	})
	t.Run("null body", func(t *testing.T) {
		var g guideStub
		found, err := src.FetchJSON(context.Background(), "/guides/7", nil, &g)
		require.NoError(t, err)
		assert.False(t, found)
	})
	t.Run("not found", func(t *testing.T) {
		var g guideStub
		found, err := src.FetchJSON(context.Background(), "/guides/8", nil, &g)
		require.NoError(t, err)
		assert.False(t, found)
	})
	t.Run("malformed", func(t *testing.T) {
		var g guideStub
		found, err := src.FetchJSON(context.Background(), "/guides/9", nil, &g)
		assert.False(t, found)
		assert.ErrorIs(t, err, utils.ErrParsing)
	})
}

func TestSource_FetchJSONRetriesServerErrors(t *testing.T) {
	attempts := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"guideid":1}`)
	}))
	t.Cleanup(server.Close)

	src := newTestSource(t, server, func(c *config.AppConfig) { c.APIRetryMaxDuration = 2 * time.Second })
	var g guideStub
	found, err := src.FetchJSON(context.Background(), "/guides/1", nil, &g)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestSource_FetchJSONGivesUpAfterMaxDuration(t *testing.T) {
	server, attempts := mockServer(t, []int{503})
	src := newTestSource(t, server, func(c *config.AppConfig) { c.APIRetryMaxDuration = 100 * time.Millisecond })

	var g guideStub
	start := time.Now()
	found, err := src.FetchJSON(context.Background(), "/guides/1", nil, &g)
	assert.False(t, found)
	assert.ErrorIs(t, err, utils.ErrRetryFailed)
	assert.ErrorIs(t, err, utils.ErrServerHTTPError)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Greater(t, attempts.Load(), int32(1))
}

func TestSource_FetchBytes(t *testing.T) {
	payload := strings.Repeat("x", 64)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		fmt.Fprint(w, payload)
	}))
	t.Cleanup(server.Close)

	t.Run("within limit", func(t *testing.T) {
		src := newTestSource(t, server, func(c *config.AppConfig) { c.MaxImageSizeBytes = 64 })
		data, header, err := src.FetchBytes(context.Background(), server.URL+"/igi/a.jpg")
		require.NoError(t, err)
		assert.Equal(t, payload, string(data))
		assert.Equal(t, "image/jpeg", header.Get("Content-Type"))
		assert.Equal(t, 1, src.hosts.Len())
	})
	t.Run("too large", func(t *testing.T) {
		src := newTestSource(t, server, func(c *config.AppConfig) { c.MaxImageSizeBytes = 10 })
		_, _, err := src.FetchBytes(context.Background(), server.URL+"/igi/a.jpg")
		assert.ErrorIs(t, err, utils.ErrResponseTooLarge)
	})
}

func TestSource_VersionIdent(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		headOK  bool
		want    string
	}{
		{"etag wins", map[string]string{"ETag": `"abc"`, "Last-Modified": "Mon, 01 Jan 2024 00:00:00 GMT"}, true, `"abc"`},
		{"last modified", map[string]string{"Last-Modified": "Mon, 01 Jan 2024 00:00:00 GMT"}, true, "Mon, 01 Jan 2024 00:00:00 GMT"},
		{"content length", map[string]string{"Content-Length": "5"}, true, "5"},
		{"get fallback", map[string]string{"ETag": `"get"`}, false, `"get"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method == http.MethodHead && !tt.headOK {
					w.WriteHeader(http.StatusMethodNotAllowed)
					return
				}
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				if r.Method == http.MethodGet || tt.headers["Content-Length"] != "" {
					fmt.Fprint(w, "hello")
				}
			}))
			t.Cleanup(server.Close)

			ident, err := newTestSource(t, server, nil).VersionIdent(context.Background(), server.URL+"/a.png")
			require.NoError(t, err)
			assert.Equal(t, tt.want, ident)
		})
	}
}

func TestSource_VersionIdentFails(t *testing.T) {
	server, _ := mockServer(t, []int{404})
	_, err := newTestSource(t, server, nil).VersionIdent(context.Background(), server.URL+"/gone.png")
	assert.Error(t, err)
}

func TestSource_FinalURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/Guide/Old/12", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/Guide/New/12", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/Guide/New/12", func(w http.ResponseWriter, r *http.Request) {})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	final, err := newTestSource(t, server, nil).FinalURL(context.Background(), server.URL+"/Guide/Old/12")
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/Guide/New/12", final)
}
