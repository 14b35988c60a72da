package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"

	"github.com/openzim/ifixit/pkg/config"
	"github.com/openzim/ifixit/pkg/utils"
)

// Source gives read access to the live website, its JSON API and the CDN
// serving its assets.
type Source struct {
	cfg     *config.AppConfig
	mainURL string
	fetcher *Fetcher
	hosts   *HostSemaphorePool
	limiter *RateLimiter
	robots  *Robots
	log     *logrus.Entry
}

// NewSource wires a Source. hosts and limiter may be nil.
func NewSource(cfg *config.AppConfig, fetcher *Fetcher, hosts *HostSemaphorePool, limiter *RateLimiter, log *logrus.Entry) *Source {
	return &Source{
		cfg:     cfg,
		mainURL: cfg.GetEffectiveMainURL(),
		fetcher: fetcher,
		hosts:   hosts,
		limiter: limiter,
		log:     log.WithField("component", "source"),
	}
}

// UseRobots makes Fetch and FinalURL refuse the pages robots disallows.
func (s *Source) UseRobots(robots *Robots) { s.robots = robots }

func (s *Source) checkRobots(ctx context.Context, target string) error {
	if !s.robots.Allowed(ctx, target) {
		return fmt.Errorf("%w: %s", utils.ErrRobotsDisallowed, target)
	}
	return nil
}

// MainURL returns the website root without trailing slash.
func (s *Source) MainURL() string { return s.mainURL }

func (s *Source) pageURL(path string, params url.Values) string {
	u := s.mainURL + utils.QuotePath(path)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// redirectChain lists the decoded path (without leading slash) of every hop
// that led to resp, final hop last.
func redirectChain(resp *http.Response) []string {
	var chain []string
	for r := resp.Request; r != nil; {
		chain = append(chain, strings.TrimPrefix(r.URL.Path, "/"))
		if r.Response == nil {
			break
		}
		r = r.Response.Request
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

func (s *Source) get(ctx context.Context, class RequestClass, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	resp, err := s.fetcher.FetchWithRetry(ctx, class, req)
	if err != nil {
		drain(resp)
		return nil, err
	}
	return resp, nil
}

// Fetch downloads a website page. The returned chain holds the path of
// every redirect hop, final path last. Query parameters are lost by the
// site on redirect, so the final path is fetched again with them.
func (s *Source) Fetch(ctx context.Context, path string, params url.Values) (string, []string, error) {
	target := s.pageURL(path, params)
	if err := s.checkRobots(ctx, target); err != nil {
		return "", nil, err
	}
	resp, err := s.get(ctx, ClassPage, target)
	if err != nil {
		return "", nil, utils.WrapErrorf(err, "fetch %s", path)
	}
	chain := redirectChain(resp)

	if len(params) > 0 && len(chain) > 1 {
		drain(resp)
		final := "/" + chain[len(chain)-1]
		s.log.WithFields(logrus.Fields{"path": path, "final": final}).Debug("Refetching redirected page with params")
		target = s.pageURL(final, params)
		if err := s.checkRobots(ctx, target); err != nil {
			return "", nil, err
		}
		resp, err = s.get(ctx, ClassPage, target)
		if err != nil {
			return "", nil, utils.WrapErrorf(err, "fetch %s", final)
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s: %w", utils.ErrResponseBodyRead, path, err)
	}
	return string(body), chain, nil
}

func (s *Source) apiBackoff() retry.Backoff {
	base := s.cfg.InitialRetryDelay
	if base <= 0 {
		base = time.Second
	}
	b := retry.NewExponential(base)
	if s.cfg.MaxRetryDelay > 0 {
		b = retry.WithCappedDuration(s.cfg.MaxRetryDelay, b)
	}
	return retry.WithMaxDuration(s.cfg.APIRetryMaxDuration, b)
}

// FetchJSON decodes the API answer for apiPath into out. found is false when
// the API has no such object (any 4xx other than 429, or a null body).
// Network errors, 429 and 5xx are retried until api_retry_max_duration.
func (s *Source) FetchJSON(ctx context.Context, apiPath string, params url.Values, out any) (bool, error) {
	target := s.mainURL + utils.QuotePath(config.APIPrefix+apiPath)
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	reqLog := s.log.WithField("api_path", apiPath)

	var found bool
	err := retry.Do(ctx, s.apiBackoff(), func(ctx context.Context) error {
		found = false
		if err := s.limiter.Wait(ctx, ClassAPI); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
		}
		resp, err := s.fetcher.Client().Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			reqLog.Debugf("API network error, backing off: %v", err)
			return retry.RetryableError(err)
		}
		defer drain(resp)

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusTooManyRequests:
			return retry.RetryableError(fmt.Errorf("%w: status %d", utils.ErrClientHTTPError, resp.StatusCode))
		case resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("%w: status %d", utils.ErrServerHTTPError, resp.StatusCode))
		default:
			reqLog.WithField("status_code", resp.StatusCode).Debug("API object not available")
			return nil
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, err))
		}
		body = bytes.TrimSpace(body)
		if len(body) == 0 || bytes.Equal(body, []byte("null")) {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%w: JSON from %s: %w", utils.ErrParsing, apiPath, err)
		}
		found = true
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if errors.Is(err, utils.ErrParsing) || errors.Is(err, utils.ErrRequestCreation) {
			return false, err
		}
		return false, fmt.Errorf("%w: %s: %w", utils.ErrRetryFailed, apiPath, err)
	}
	return found, nil
}

// FetchBytes downloads an asset, holding a permit of the per-host pool for
// the duration of the transfer. Bodies above max_image_size_bytes are
// rejected with ErrResponseTooLarge.
func (s *Source) FetchBytes(ctx context.Context, rawURL string) ([]byte, http.Header, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: URL %q: %w", utils.ErrParsing, rawURL, err)
	}
	if s.hosts != nil {
		release, err := s.hosts.Acquire(ctx, u.Host)
		if err != nil {
			return nil, nil, err
		}
		defer release()
	}

	resp, err := s.get(ctx, ClassCDN, rawURL)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	limit := s.cfg.MaxImageSizeBytes
	if limit > 0 && resp.ContentLength > limit {
		return nil, nil, fmt.Errorf("%w: %d > %d bytes", utils.ErrResponseTooLarge, resp.ContentLength, limit)
	}
	var reader io.Reader = resp.Body
	if limit > 0 {
		reader = io.LimitReader(resp.Body, limit+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, nil, fmt.Errorf("%w: more than %d bytes", utils.ErrResponseTooLarge, limit)
	}
	return data, resp.Header, nil
}

// identFromHeaders picks the strongest version marker a response carries.
func identFromHeaders(resp *http.Response) string {
	if etag := resp.Header.Get("ETag"); etag != "" {
		return etag
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		return lm
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		return cl
	}
	if resp.ContentLength >= 0 {
		return strconv.FormatInt(resp.ContentLength, 10)
	}
	return "-1"
}

func (s *Source) identRequest(ctx context.Context, method, rawURL string) (*http.Response, error) {
	if err := s.limiter.Wait(ctx, ClassCDN); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	resp, err := s.fetcher.Client().Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		drain(resp)
		return nil, fmt.Errorf("%w: %s %s: status %d", utils.ErrOtherHTTPError, method, rawURL, resp.StatusCode)
	}
	return resp, nil
}

// VersionIdent returns an identifier that changes whenever the resource
// does: ETag, else Last-Modified, else Content-Length, else "-1". A HEAD is
// tried first, GET is the fallback.
func (s *Source) VersionIdent(ctx context.Context, rawURL string) (string, error) {
	resp, err := s.identRequest(ctx, http.MethodHead, rawURL)
	if err != nil {
		s.log.WithField("asset_url", rawURL).Debugf("HEAD failed, falling back to GET: %v", err)
		resp, err = s.identRequest(ctx, http.MethodGet, rawURL)
		if err != nil {
			return "", utils.WrapErrorf(err, "version ident")
		}
	}
	defer resp.Body.Close()
	return identFromHeaders(resp), nil
}

// FinalURL follows redirects for href and returns the URL that answered.
// Hrefs disallowed by robots are not requested.
func (s *Source) FinalURL(ctx context.Context, href string) (string, error) {
	if err := s.checkRobots(ctx, href); err != nil {
		return "", err
	}
	if err := s.limiter.Wait(ctx, ClassPage); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	resp, err := s.fetcher.Client().Do(req)
	if err != nil {
		return "", err
	}
	defer drain(resp)
	return resp.Request.URL.String(), nil
}
