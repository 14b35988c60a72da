package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultAuthor    = "iFixit"
	DefaultPublisher = "openZIM"
	APIPrefix        = "/api/2.0"
)

// fixedTags are always attached to the archive, whatever the user asked for.
var fixedTags = []string{"_category:iFixit", "iFixit", "_videos:yes", "_pictures:yes"}

// ArchiveConfig holds the metadata of the produced archive.
type ArchiveConfig struct {
	Name            string `yaml:"name,omitempty"`  // Identifier; derived from language and selection when empty
	Title           string `yaml:"title,omitempty"` // Falls back to the online website title
	Description     string `yaml:"description,omitempty"`
	LongDescription string `yaml:"long_description,omitempty"`
	Author          string `yaml:"author,omitempty"`
	Publisher       string `yaml:"publisher,omitempty"`
	Filename        string `yaml:"filename,omitempty"` // May contain {period}; must not contain a directory
	Tags            string `yaml:"tags,omitempty"`     // Semicolon separated
}

// AppConfig holds the whole scraper configuration
type AppConfig struct {
	Language string        `yaml:"language"`
	MainURL  string        `yaml:"main_url,omitempty"` // Overrides the language table (mirrors, tests)
	Archive  ArchiveConfig `yaml:"archive,omitempty"`

	OutputDir    string `yaml:"output_dir"`
	TmpDir       string `yaml:"tmp_dir,omitempty"`
	KeepBuildDir bool   `yaml:"keep_build_dir,omitempty"`

	// Selection. An empty allow-list means "everything".
	Categories []string `yaml:"categories,omitempty"`
	Guides     []string `yaml:"guides,omitempty"`
	Infos      []string `yaml:"infos,omitempty"`
	Users      []string `yaml:"users,omitempty"`
	NoCategory bool     `yaml:"no_category,omitempty"`
	NoGuide    bool     `yaml:"no_guide,omitempty"`
	NoInfo     bool     `yaml:"no_info,omitempty"`
	NoUser     bool     `yaml:"no_user,omitempty"`
	NoCleanup  bool     `yaml:"no_cleanup,omitempty"` // Skip HTML rewriting

	MaxMissingItemsPercent *int `yaml:"max_missing_items_percent,omitempty"`
	MaxErrorItemsPercent   *int `yaml:"max_error_items_percent,omitempty"`

	ScrapeOnlyFirstItems bool          `yaml:"scrape_only_first_items,omitempty"`
	MaxRotations         int           `yaml:"max_rotations,omitempty"` // 0 = unlimited
	StatsFilename        string        `yaml:"stats_filename,omitempty"`
	StatsInterval        time.Duration `yaml:"stats_interval,omitempty"`

	UserAgent string        `yaml:"user_agent,omitempty"`
	Delay     time.Duration `yaml:"delay,omitempty"`     // Before each page request
	APIDelay  time.Duration `yaml:"api_delay,omitempty"` // Before each API request
	CDNDelay  time.Duration `yaml:"cdn_delay,omitempty"` // Before each asset download

	// IgnoreRobots skips the robots.txt check on page requests.
	IgnoreRobots bool `yaml:"ignore_robots,omitempty"`

	MaxRetries          int           `yaml:"max_retries,omitempty"`
	InitialRetryDelay   time.Duration `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay       time.Duration `yaml:"max_retry_delay,omitempty"`
	APIRetryMaxDuration time.Duration `yaml:"api_retry_max_duration,omitempty"`

	NumImageWorkers         int           `yaml:"num_image_workers,omitempty"`
	ImageQueueSize          int           `yaml:"image_queue_size,omitempty"`
	MaxRequestsPerHost      int           `yaml:"max_requests_per_host,omitempty"`
	SemaphoreAcquireTimeout time.Duration `yaml:"semaphore_acquire_timeout,omitempty"`
	MaxImageSizeBytes       int64         `yaml:"max_image_size_bytes,omitempty"`
	ImageQuality            int           `yaml:"image_quality,omitempty"`
	CacheDir                string        `yaml:"cache_dir,omitempty"` // Empty disables the artifact cache

	HTTPClientSettings HTTPClientConfig `yaml:"http_client_settings,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// IsSelection reports whether the user restricted the scope of the run.
func (c *AppConfig) IsSelection() bool {
	return len(c.Categories) > 0 || len(c.Guides) > 0 || len(c.Infos) > 0 ||
		c.NoCategory || c.NoGuide || c.NoInfo
}

// GetEffectiveMainURL returns the website root, without trailing slash.
func (c *AppConfig) GetEffectiveMainURL() string {
	if c.MainURL != "" {
		return strings.TrimRight(c.MainURL, "/")
	}
	if lang, ok := LookupLanguage(c.Language); ok {
		return lang.MainURL
	}
	return ""
}

// GetEffectiveAPIURL returns the JSON API root.
func (c *AppConfig) GetEffectiveAPIURL() string {
	return c.GetEffectiveMainURL() + APIPrefix
}

// GetEffectiveName returns the archive identifier.
func (c *AppConfig) GetEffectiveName() string {
	if c.Archive.Name != "" {
		return c.Archive.Name
	}
	selection := "all"
	if c.IsSelection() {
		selection = "selection"
	}
	return fmt.Sprintf("ifixit_%s_%s", c.Language, selection)
}

// GetEffectiveFilename returns the archive file name for the given moment.
// A configured name has its {period} placeholder expanded and must be a bare
// file name.
func (c *AppConfig) GetEffectiveFilename(now time.Time) (string, error) {
	period := now.Format("2006-01")
	if c.Archive.Filename == "" {
		return fmt.Sprintf("%s_%s.zim", c.GetEffectiveName(), period), nil
	}
	name := strings.ReplaceAll(c.Archive.Filename, "{period}", period)
	if filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("filename is not a filename: %s", name)
	}
	return name, nil
}

// GetEffectiveTags returns the user tags plus the fixed ones, deduplicated,
// in first-seen order.
func (c *AppConfig) GetEffectiveTags() []string {
	seen := make(map[string]bool)
	var tags []string
	add := func(t string) {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			return
		}
		seen[t] = true
		tags = append(tags, t)
	}
	for _, t := range strings.Split(c.Archive.Tags, ";") {
		add(t)
	}
	for _, t := range fixedTags {
		add(t)
	}
	return tags
}

// MissingThreshold returns the effective max_missing_items_percent.
func (c *AppConfig) MissingThreshold() int {
	if c.MaxMissingItemsPercent == nil {
		return defaultThresholdPercent
	}
	return *c.MaxMissingItemsPercent
}

// ErrorThreshold returns the effective max_error_items_percent.
func (c *AppConfig) ErrorThreshold() int {
	if c.MaxErrorItemsPercent == nil {
		return defaultThresholdPercent
	}
	return *c.MaxErrorItemsPercent
}
