// Package orchestrate runs a whole harvest: it wires the source, the
// archive writer, the asset pipeline and the kind frontiers, then rotates
// over the frontiers until none of them discovers anything new.
package orchestrate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/openzim/ifixit/pkg/archive"
	"github.com/openzim/ifixit/pkg/assets"
	"github.com/openzim/ifixit/pkg/config"
	"github.com/openzim/ifixit/pkg/fetch"
	"github.com/openzim/ifixit/pkg/frontier"
	"github.com/openzim/ifixit/pkg/models"
	"github.com/openzim/ifixit/pkg/rewrite"
	"github.com/openzim/ifixit/pkg/scrape"
	"github.com/openzim/ifixit/pkg/storage"
	"github.com/openzim/ifixit/pkg/utils"
)

// Source is everything a run reads from the website.
type Source interface {
	scrape.Source
	assets.Source
	rewrite.Follower
}

// Deps are the collaborators of a run. Only Source is required.
type Deps struct {
	Source Source
	Writer archive.Writer           // nil: a directory archive built from the configuration
	Cache  storage.ArtifactCache    // nil disables the asset cache
	Hosts  *fetch.HostSemaphorePool // idle entries are evicted while the run lasts
}

// RunResult summarizes a run.
type RunResult struct {
	RunID          string
	Frontiers      []models.FrontierStats
	MissingKeys    map[models.Kind][]string
	ErrorKeys      map[models.Kind][]string
	Assets         models.AssetStats
	NullCategories []string
	ExternalURLs   []string
	Duration       time.Duration
	Err            error
}

// Success reports whether the run completed.
func (r *RunResult) Success() bool { return r.Err == nil }

// Orchestrator runs one harvest.
type Orchestrator struct {
	cfg   *config.AppConfig
	deps  Deps
	runID string
	log   *logrus.Entry
}

// NewOrchestrator prepares a run. cfg must already be validated.
func NewOrchestrator(cfg *config.AppConfig, deps Deps, log *logrus.Entry) *Orchestrator {
	runID := uuid.NewString()
	return &Orchestrator{
		cfg:   cfg,
		deps:  deps,
		runID: runID,
		log:   log.WithField("run_id", runID),
	}
}

// RunID identifies the run in logs, the progress file and the archive
// manifest.
func (o *Orchestrator) RunID() string { return o.runID }

// run holds what one execution of Run builds.
type run struct {
	writer   archive.Writer
	pipeline *assets.Pipeline
	env      *scrape.Env
	runners  []frontier.Runner
	reporter *Reporter
}

// Run executes the harvest. The returned result is never nil; its Err is
// the returned error.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	res := &RunResult{RunID: o.runID}
	r := &run{}

	cleanup := func() {}
	defer func() { cleanup() }()

	err := o.setup(ctx, r, &cleanup)
	if err == nil {
		err = o.rotate(ctx, r)
	}
	if err != nil {
		o.abort(r, err)
		o.collect(r, res)
		res.Err = err
		res.Duration = time.Since(start)
		o.logSummary(res)
		return res, err
	}

	o.log.Info("Awaiting assets")
	r.pipeline.Wait()
	r.reporter.reportOrWarn()
	o.collect(r, res)
	res.Duration = time.Since(start)
	o.logSummary(res)

	if r.writer.CanFinish() {
		o.log.Info("Finishing archive")
		if err := r.writer.Finish(); err != nil {
			res.Err = utils.WrapErrorf(err, "finishing archive")
			return res, res.Err
		}
	}
	o.log.Info("Scraper has finished normally")
	return res, nil
}

// setup builds the writer, the pipeline and the scraper. cleanup is set
// as soon as there is something to clean.
func (o *Orchestrator) setup(ctx context.Context, r *run, cleanup *func()) error {
	cfg := o.cfg
	mainURL := cfg.GetEffectiveMainURL()
	o.log.WithFields(logrus.Fields{"language": cfg.Language, "main_url": mainURL, "output_dir": cfg.OutputDir}).
		Info("Starting scraper")

	md, err := scrape.FetchMetadata(ctx, o.deps.Source)
	if err != nil {
		return err
	}
	o.log.WithFields(logrus.Fields{"title": md.Title, "description": md.Description, "stats": len(md.Stats)}).
		Debug("Additional metadata scraped online")
	if cfg.Archive.Title == "" {
		cfg.Archive.Title = md.Title
	}
	if cfg.Archive.Description == "" {
		cfg.Archive.Description = md.Description
	}

	writer, closeWriter, err := o.openWriter()
	if err != nil {
		return err
	}
	r.writer = writer
	*cleanup = closeWriter
	if err := writer.Start(); err != nil {
		return utils.WrapErrorf(err, "starting archive")
	}

	pipeline, err := assets.NewPipeline(ctx, assets.Options{
		MainURL:    mainURL,
		Workers:    cfg.NumImageWorkers,
		QueueSize:  cfg.ImageQueueSize,
		Cache:      o.deps.Cache,
		Normalizer: assets.ImageNormalizer{Quality: cfg.ImageQuality},
	}, o.deps.Source, writer, o.log)
	if err != nil {
		return err
	}
	r.pipeline = pipeline
	*cleanup = func() {
		// aborted jobs return at once; the writer must be idle before cleanup
		pipeline.Wait()
		closeWriter()
	}
	if err := pipeline.WritePlaceholder(); err != nil {
		return utils.WrapErrorf(err, "adding placeholder image")
	}

	renderer, err := scrape.NewRenderer()
	if err != nil {
		return err
	}
	canon := rewrite.NewCanonicalizer(o.deps.Source, o.log)
	r.env = &scrape.Env{
		Config:  cfg,
		MainURL: mainURL,
		Source:  o.deps.Source,
		Canon:   canon,
		Rewriter: rewrite.NewRewriter(rewrite.Options{
			MainURL:    mainURL,
			NoCleanup:  cfg.NoCleanup,
			Vocabulary: rewrite.DefaultVocabulary(),
		}, canon, pipeline, o.log),
		Assets:   pipeline,
		Writer:   writer,
		Renderer: renderer,
		Metadata: md,
		Log:      o.log,
	}
	s := scrape.New(r.env, frontier.Options{
		MaxMissingPercent: cfg.MissingThreshold(),
		MaxErrorPercent:   cfg.ErrorThreshold(),
		FirstItemsOnly:    cfg.ScrapeOnlyFirstItems,
	})
	r.runners = s.Frontiers()
	r.reporter = NewReporter(cfg.StatsFilename, o.runID, r.runners, o.log)
	r.reporter.reportOrWarn()
	return nil
}

// openWriter returns the archive writer, shared behind one lock, and the
// function removing its build leftovers.
func (o *Orchestrator) openWriter() (archive.Writer, func(), error) {
	if o.deps.Writer != nil {
		return archive.Synchronized(o.deps.Writer), func() {}, nil
	}
	cfg := o.cfg
	filename, err := cfg.GetEffectiveFilename(time.Now())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", utils.ErrConfigValidation, err)
	}
	dw := archive.NewDirWriter(archive.DirOptions{
		RunID:     o.runID,
		Name:      cfg.GetEffectiveName(),
		Language:  cfg.Language,
		Filename:  filename,
		TmpDir:    cfg.TmpDir,
		OutputDir: cfg.OutputDir,
		KeepBuild: cfg.KeepBuildDir,
		Archive:   cfg.Archive,
		Tags:      cfg.GetEffectiveTags(),
	}, o.log)
	closeWriter := func() {
		o.log.Info("Cleaning up")
		if err := dw.Cleanup(); err != nil {
			o.log.WithField("category", utils.CategorizeError(err)).Warnf("Cleanup failed: %v", err)
		}
	}
	return archive.Synchronized(dw), closeWriter, nil
}

// rotate seeds every frontier, then drains them in order until a full
// pass leaves every queue empty. The progress reporter and the host
// semaphore eviction run alongside.
func (o *Orchestrator) rotate(ctx context.Context, r *run) error {
	g, gctx := errgroup.WithContext(ctx)
	loopCtx, stopLoops := context.WithCancel(gctx)

	g.Go(func() error {
		defer stopLoops()
		return o.scrapeAll(gctx, r)
	})
	g.Go(func() error {
		return r.reporter.Run(loopCtx, o.cfg.StatsInterval)
	})
	if o.deps.Hosts != nil {
		g.Go(func() error {
			return o.deps.Hosts.RunEviction(loopCtx, 0)
		})
	}
	return g.Wait()
}

func (o *Orchestrator) scrapeAll(ctx context.Context, r *run) error {
	for _, f := range r.runners {
		if err := f.BuildExpectedItems(ctx); err != nil {
			return err
		}
		r.reporter.reportOrWarn()
	}

	maxRotations := o.cfg.MaxRotations
	for rotation := 1; ; rotation++ {
		o.log.WithField("rotation", rotation).Info("Scraping all kinds")
		for _, f := range r.runners {
			if err := f.ScrapeItems(ctx); err != nil {
				return utils.WrapErrorf(err, "scraping %s items", f.Kind())
			}
		}
		if o.cfg.ScrapeOnlyFirstItems {
			return nil
		}
		queued := 0
		for _, f := range r.runners {
			queued += f.QueueLen()
		}
		if queued == 0 {
			o.log.WithField("rotations", rotation).Info("All frontiers drained")
			return nil
		}
		if maxRotations > 0 && rotation >= maxRotations {
			return fmt.Errorf("%w: %d items still queued after %d rotations", utils.ErrNoFixedPoint, queued, rotation)
		}
	}
}

// abort is the fatal path: the archive must not be finished and pending
// assets are dropped.
func (o *Orchestrator) abort(r *run, err error) {
	o.log.WithField("category", utils.CategorizeError(err)).Errorf("Interrupting process due to error: %v", err)
	if r.writer != nil {
		r.writer.SetCanFinish(false)
	}
	if r.pipeline != nil {
		r.pipeline.Abort()
		r.pipeline.Shutdown(false)
	}
	if r.reporter != nil {
		r.reporter.reportOrWarn()
	}
}

func (o *Orchestrator) collect(r *run, res *RunResult) {
	res.MissingKeys = make(map[models.Kind][]string)
	res.ErrorKeys = make(map[models.Kind][]string)
	for _, f := range r.runners {
		res.Frontiers = append(res.Frontiers, f.Stats())
		if keys := f.MissingKeys(); len(keys) > 0 {
			res.MissingKeys[f.Kind()] = keys
		}
		if keys := f.ErrorKeys(); len(keys) > 0 {
			res.ErrorKeys[f.Kind()] = keys
		}
	}
	if r.pipeline != nil {
		res.Assets = r.pipeline.Stats()
	}
	if r.env != nil {
		res.NullCategories = r.env.NullCategories()
		res.ExternalURLs = r.env.Rewriter.ExternalURLs()
	}
}

// logSummary logs the end of run report.
func (o *Orchestrator) logSummary(res *RunResult) {
	o.log.Info("============================================")
	status := "SUCCESS"
	if res.Err != nil {
		status = "FAILED"
	}
	o.log.Infof("Run %s %s in %v", res.RunID, status, res.Duration)
	o.log.Info("Frontiers:")
	for _, st := range res.Frontiers {
		o.log.Infof("  %-8s expected=%d unexpected=%d done=%d missing=%d error=%d queued=%d",
			st.Kind, st.Expected, st.Unexpected, st.Done, st.Missing, st.Error, st.Queued)
		if keys := res.MissingKeys[st.Kind]; len(keys) > 0 {
			o.log.Infof("    missing: %s", strings.Join(keys, ", "))
		}
		if keys := res.ErrorKeys[st.Kind]; len(keys) > 0 {
			o.log.Infof("    error: %s", strings.Join(keys, ", "))
		}
	}
	a := res.Assets
	o.log.Infof("Assets: %d deferred, %d written, %d deduplicated, %d from cache, %d missing",
		a.Deferred, a.Written, a.Deduplicated, a.CacheHits, a.Missing)

	o.log.Info("Null categories:")
	for _, key := range res.NullCategories {
		o.log.Infof("\t%s", key)
	}
	o.log.Info("External URLs of the website:")
	for _, u := range res.ExternalURLs {
		o.log.Infof("\t%s", u)
	}
	if res.Err != nil {
		o.log.Infof("Error: %v", res.Err)
	}
	o.log.Info("============================================")
}
