package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/openzim/ifixit/pkg/utils"
)

const defaultThresholdPercent = 5

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// Language
	c.Language = strings.ToLower(strings.TrimSpace(c.Language))
	if c.Language == "" {
		warnings = append(warnings, "language is empty, defaulting to 'en'")
		c.Language = "en"
	}
	if _, ok := LookupLanguage(c.Language); !ok {
		return warnings, fmt.Errorf("%w: unsupported language '%s' (supported: %s)",
			utils.ErrConfigValidation, c.Language, strings.Join(LanguageCodes(), ", "))
	}

	// OutputDir
	if c.OutputDir == "" {
		warnings = append(warnings, "output_dir is empty, defaulting to './output'")
		c.OutputDir = "./output"
	}

	// TmpDir
	if c.TmpDir == "" {
		if env := os.Getenv("TMPDIR"); env != "" {
			c.TmpDir = env
		} else {
			c.TmpDir = "."
		}
	}

	// Thresholds
	for _, th := range []struct {
		name string
		ptr  **int
	}{
		{"max_missing_items_percent", &c.MaxMissingItemsPercent},
		{"max_error_items_percent", &c.MaxErrorItemsPercent},
	} {
		if *th.ptr == nil {
			v := defaultThresholdPercent
			*th.ptr = &v
			continue
		}
		if v := **th.ptr; v < 0 || v > 100 {
			return warnings, fmt.Errorf("%w: %s must be between 0 and 100, got %d",
				utils.ErrConfigValidation, th.name, v)
		}
	}

	// Selection conflicts
	if c.NoCategory && len(c.Categories) > 0 {
		warnings = append(warnings, "no_category is set, ignoring the categories allow-list")
	}
	if c.NoGuide && len(c.Guides) > 0 {
		warnings = append(warnings, "no_guide is set, ignoring the guides allow-list")
	}
	if c.NoInfo && len(c.Infos) > 0 {
		warnings = append(warnings, "no_info is set, ignoring the infos allow-list")
	}
	if c.NoUser && len(c.Users) > 0 {
		warnings = append(warnings, "no_user is set, ignoring the users allow-list")
	}

	// Archive metadata
	c.Archive.Title = strings.TrimSpace(c.Archive.Title)
	c.Archive.Description = strings.TrimSpace(c.Archive.Description)
	c.Archive.Author = strings.TrimSpace(c.Archive.Author)
	if c.Archive.Author == "" {
		c.Archive.Author = DefaultAuthor
	}
	c.Archive.Publisher = strings.TrimSpace(c.Archive.Publisher)
	if c.Archive.Publisher == "" {
		c.Archive.Publisher = DefaultPublisher
	}
	if _, err := c.GetEffectiveFilename(time.Now()); err != nil {
		return warnings, fmt.Errorf("%w: %v", utils.ErrConfigValidation, err)
	}

	// Development
	if c.MaxRotations < 0 {
		warnings = append(warnings, "max_rotations cannot be negative, setting to 0 (unlimited)")
		c.MaxRotations = 0
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = 10 * time.Second
	}

	// Throttle
	for _, d := range []struct {
		name string
		ptr  *time.Duration
	}{
		{"delay", &c.Delay},
		{"api_delay", &c.APIDelay},
		{"cdn_delay", &c.CDNDelay},
	} {
		if *d.ptr < 0 {
			warnings = append(warnings, fmt.Sprintf("%s cannot be negative, disabling it", d.name))
			*d.ptr = 0
		}
	}

	if c.UserAgent == "" {
		c.UserAgent = "ifixit-scraper/" + Version
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 && c.InitialRetryDelay == 0 {
		c.MaxRetries = 3
	}

	// Retry delays (only if retries enabled)
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}

	// InitialRetryDelay > MaxRetryDelay check
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	if c.APIRetryMaxDuration <= 0 {
		c.APIRetryMaxDuration = 16 * time.Second
	}

	// Assets
	if c.NumImageWorkers <= 0 {
		warnings = append(warnings, "num_image_workers should be > 0, defaulting to 4")
		c.NumImageWorkers = 4
	}
	if c.ImageQueueSize <= 0 {
		c.ImageQueueSize = c.NumImageWorkers * 100
	}
	if c.MaxRequestsPerHost <= 0 {
		warnings = append(warnings, "max_requests_per_host should be > 0, defaulting to 2")
		c.MaxRequestsPerHost = 2
	}
	if c.SemaphoreAcquireTimeout <= 0 {
		c.SemaphoreAcquireTimeout = 30 * time.Second
	}
	if c.MaxImageSizeBytes < 0 {
		warnings = append(warnings, "max_image_size_bytes cannot be negative, setting to 0 (unlimited)")
		c.MaxImageSizeBytes = 0
	}
	if c.ImageQuality <= 0 || c.ImageQuality > 100 {
		if c.ImageQuality != 0 {
			warnings = append(warnings, fmt.Sprintf("image_quality %d out of range, defaulting to 85", c.ImageQuality))
		}
		c.ImageQuality = 85
	}

	// HTTPClientSettings defaults
	c.validateHTTPClientSettings()

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}
