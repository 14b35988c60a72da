package assets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/openzim/ifixit/pkg/archive"
	"github.com/openzim/ifixit/pkg/models"
	"github.com/openzim/ifixit/pkg/storage"
	"github.com/openzim/ifixit/pkg/utils"
)

// Source downloads asset bytes and their version markers.
type Source interface {
	FetchBytes(ctx context.Context, rawURL string) ([]byte, http.Header, error)
	VersionIdent(ctx context.Context, rawURL string) (string, error)
}

// Options configures a Pipeline.
type Options struct {
	MainURL    string // Relative asset URLs are resolved against it
	Workers    int
	QueueSize  int
	Cache      storage.ArtifactCache // nil disables caching
	Normalizer Normalizer            // nil means ImageNormalizer with default quality
}

type job struct {
	url      string
	path     string
	mimetype string
	log      *logrus.Entry
}

// Pipeline turns deferred asset URLs into archive entries in the
// background. Each distinct archive path is scheduled once; assets whose
// bytes match an earlier one become redirects to it.
type Pipeline struct {
	base       *url.URL
	source     Source
	writer     archive.Writer
	cache      storage.ArtifactCache
	normalizer Normalizer
	log        *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan job
	wg     sync.WaitGroup

	sendMu  sync.RWMutex // held for reading while sending, for writing while closing
	closed  bool
	aborted atomic.Bool

	mu      sync.Mutex
	handled map[string]struct{}
	digests map[utils.Digest]string

	deferred     atomic.Int64
	written      atomic.Int64
	deduplicated atomic.Int64
	cacheHits    atomic.Int64
	missing      atomic.Int64
}

// NewPipeline starts the worker pool. writer must be safe for concurrent
// use (see archive.Synchronized).
func NewPipeline(ctx context.Context, opts Options, source Source, writer archive.Writer, log *logrus.Entry) (*Pipeline, error) {
	base, err := url.Parse(opts.MainURL)
	if err != nil {
		return nil, fmt.Errorf("%w: main URL %q: %w", utils.ErrParsing, opts.MainURL, err)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = workers * 100
	}
	normalizer := opts.Normalizer
	if normalizer == nil {
		normalizer = ImageNormalizer{}
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		base:       base,
		source:     source,
		writer:     writer,
		cache:      opts.Cache,
		normalizer: normalizer,
		log:        log.WithField("component", "assets"),
		ctx:        ctx,
		cancel:     cancel,
		jobs:       make(chan job, queueSize),
		handled:    make(map[string]struct{}),
		digests:    make(map[utils.Digest]string),
	}

	p.log.Infof("Launching %d asset workers (queue size %d)", workers, queueSize)
	for i := 1; i <= workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p, nil
}

// WritePlaceholder stores the missing-image picture every failed asset
// redirects to.
func (p *Pipeline) WritePlaceholder() error {
	return p.writer.AddItem(archive.Item{
		Path:     PlaceholderImagePath,
		Title:    "Image not available",
		Content:  PlaceholderImage(),
		Mimetype: jpegMimetype,
	})
}

// Defer schedules rawURL and returns the archive path it will be stored at.
// Calling it again for an URL mapping to the same path returns that path
// without scheduling anything. ok is false for URLs that cannot be
// archived (unparsable, non-HTTP scheme) or once the pipeline is closed.
func (p *Pipeline) Defer(rawURL string) (string, bool) {
	u, err := p.base.Parse(rawURL)
	if err != nil {
		p.log.WithField("asset_url", rawURL).Warnf("Unparsable asset URL: %v", err)
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		p.log.WithField("asset_url", rawURL).Warnf("Unsupported asset scheme %q", u.Scheme)
		return "", false
	}
	path := PathFor(u)

	p.sendMu.RLock()
	defer p.sendMu.RUnlock()

	p.mu.Lock()
	if _, seen := p.handled[path]; seen {
		p.mu.Unlock()
		return path, true
	}
	if p.closed {
		p.mu.Unlock()
		p.log.WithField("asset_url", rawURL).Warn("Asset deferred after pipeline was closed")
		return "", false
	}
	p.handled[path] = struct{}{}
	p.mu.Unlock()

	mime := p.normalizer.BitmapMimetype()
	if isSVGPath(path) {
		mime = svgMimetype
	}
	p.deferred.Add(1)
	p.jobs <- job{
		url:      u.String(),
		path:     path,
		mimetype: mime,
		log:      p.log.WithFields(logrus.Fields{"asset_url": u.String(), "path": path}),
	}
	return path, true
}

func (p *Pipeline) worker(id int) {
	defer p.wg.Done()
	p.log.WithField("asset_worker_id", id).Debug("Asset worker started")
	for j := range p.jobs {
		p.process(j)
	}
}

func (p *Pipeline) process(j job) {
	defer func() {
		if r := recover(); r != nil {
			j.log.WithFields(logrus.Fields{"panic_info": r, "stack_trace": string(debug.Stack())}).Error("PANIC recovered while processing asset")
			p.fail(j, fmt.Errorf("panic: %v", r))
		}
	}()
	if p.aborted.Load() {
		return
	}

	ident := ""
	storeInCache := p.cache != nil
	if p.cache != nil {
		var err error
		ident, err = p.source.VersionIdent(p.ctx, j.url)
		if err != nil {
			p.fail(j, err)
			return
		}
		entry, err := p.cache.Get(j.path, ident, EncoderVersion)
		switch {
		case err == nil:
			p.cacheHits.Add(1)
			j.log.Debug("Asset served from cache")
			if err := p.store(j, entry.Data, entry.Mimetype); err != nil {
				p.fail(j, err)
			}
			return
		case errors.Is(err, utils.ErrCacheMiss):
		default:
			j.log.WithField("category", utils.CategorizeError(err)).Warnf("Cache lookup failed, not updating cache for this asset: %v", err)
			storeInCache = false
		}
	}

	data, _, err := p.source.FetchBytes(p.ctx, j.url)
	if err != nil {
		p.fail(j, err)
		return
	}
	out, mime, err := p.normalizer.Normalize(data, j.mimetype)
	if err != nil {
		p.fail(j, err)
		return
	}
	if err := p.store(j, out, mime); err != nil {
		p.fail(j, err)
		return
	}

	if storeInCache {
		entry := &models.CacheEntry{Ident: ident, EncoderVersion: EncoderVersion, Mimetype: mime, Data: out}
		if err := p.cache.Put(j.path, entry); err != nil {
			j.log.Warnf("Failed to upload asset to cache: %v", err)
		}
	}
}

// store adds the asset, or a redirect to an earlier asset with identical bytes.
func (p *Pipeline) store(j job, data []byte, mime string) error {
	digest := utils.DigestOf(data)

	p.mu.Lock()
	first, dup := p.digests[digest]
	if !dup {
		p.digests[digest] = j.path
	}
	p.mu.Unlock()

	if dup {
		if err := p.writer.AddRedirect(j.path, first); err != nil {
			return err
		}
		p.deduplicated.Add(1)
		j.log.WithField("target", first).Debug("Duplicate asset content, redirecting")
		return nil
	}
	if err := p.writer.AddItem(archive.Item{Path: j.path, Content: data, Mimetype: mime}); err != nil {
		return err
	}
	p.written.Add(1)
	return nil
}

func (p *Pipeline) fail(j job, err error) {
	if p.aborted.Load() {
		return
	}
	j.log.WithField("category", utils.CategorizeError(err)).Warnf("Asset unavailable, using placeholder: %v", err)
	if rerr := p.writer.AddRedirect(j.path, PlaceholderImagePath); rerr != nil {
		j.log.Errorf("Failed to redirect asset to placeholder: %v", rerr)
		return
	}
	p.missing.Add(1)
}

// Abort makes pending and in-flight jobs return without writing anything.
func (p *Pipeline) Abort() {
	if p.aborted.CompareAndSwap(false, true) {
		p.log.Warn("Asset pipeline aborted")
	}
	p.cancel()
}

// Wait stops accepting assets and blocks until every scheduled job ran.
func (p *Pipeline) Wait() { p.Shutdown(true) }

// Shutdown stops accepting assets; with wait it also blocks until the
// workers drained the queue.
func (p *Pipeline) Shutdown(wait bool) {
	p.sendMu.Lock()
	if !p.closed {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.jobs)
	}
	p.sendMu.Unlock()

	if wait {
		p.wg.Wait()
		p.cancel()
		st := p.Stats()
		p.log.WithFields(logrus.Fields{
			"deferred": st.Deferred, "written": st.Written, "deduplicated": st.Deduplicated,
			"cache_hits": st.CacheHits, "missing": st.Missing,
		}).Info("Asset pipeline drained")
	}
}

// Stats returns the pipeline counters.
func (p *Pipeline) Stats() models.AssetStats {
	return models.AssetStats{
		Deferred:     p.deferred.Load(),
		Written:      p.written.Load(),
		Deduplicated: p.deduplicated.Load(),
		CacheHits:    p.cacheHits.Load(),
		Missing:      p.missing.Load(),
	}
}
