package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/openzim/ifixit/pkg/config"
	"github.com/openzim/ifixit/pkg/fetch"
	ilog "github.com/openzim/ifixit/pkg/log"
	"github.com/openzim/ifixit/pkg/orchestrate"
	"github.com/openzim/ifixit/pkg/storage"
	"github.com/openzim/ifixit/pkg/utils"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "scrape":
		runScrape(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "languages":
		os.Exit(doLanguages(os.Stdout))
	case "version":
		fmt.Printf("ifixit-scraper %s\n", config.Version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `ifixit-scraper - Offline archive builder for the iFixit repair website

Usage:
  ifixit-scraper <command> [options]

Commands:
  scrape      Harvest the website into an archive
  validate    Validate configuration file
  languages   List supported website editions
  version     Show version info

Run 'ifixit-scraper <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file
func loadConfig(path string) (*config.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg config.AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// scrapeOptions are the scrape flags. Empty values leave the config file
// untouched.
type scrapeOptions struct {
	configFile    string
	logLevel      string
	language      string
	outputDir     string
	statsFilename string
	firstItems    bool
	pprofAddr     string
}

// applyOverrides copies the command line overrides into cfg.
func (o scrapeOptions) applyOverrides(cfg *config.AppConfig) {
	if o.language != "" {
		cfg.Language = o.language
	}
	if o.outputDir != "" {
		cfg.OutputDir = o.outputDir
	}
	if o.statsFilename != "" {
		cfg.StatsFilename = o.statsFilename
	}
	if o.firstItems {
		cfg.ScrapeOnlyFirstItems = true
	}
}

func runScrape(args []string) {
	fs := flag.NewFlagSet("scrape", flag.ExitOnError)
	var opts scrapeOptions
	fs.StringVar(&opts.configFile, "config", "config.yaml", "Path to config file")
	fs.StringVar(&opts.logLevel, "loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	fs.StringVar(&opts.language, "language", "", "Website edition to harvest, overrides the config file")
	fs.StringVar(&opts.outputDir, "output", "", "Output directory, overrides the config file")
	fs.StringVar(&opts.statsFilename, "stats-filename", "", "Progress file, overrides the config file")
	fs.BoolVar(&opts.firstItems, "first-items", false, "Only scrape the first items of each kind (development)")
	fs.StringVar(&opts.pprofAddr, "pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ifixit-scraper scrape [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  ifixit-scraper scrape -config config.yaml\n")
		fmt.Fprintf(os.Stderr, "  ifixit-scraper scrape -config config.yaml -language fr -first-items\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	log := ilog.New(opts.logLevel, os.Stderr)
	startPprof(opts.pprofAddr, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("PANIC in signal handler: %v", r)
			}
		}()
		sig := <-sigChan
		log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	code := doScrape(ctx, opts, log)
	signal.Stop(sigChan)
	os.Exit(code)
}

// doScrape loads the configuration, wires the live website and runs the
// harvest. Returns the exit code.
func doScrape(ctx context.Context, opts scrapeOptions, log *logrus.Logger) int {
	log.Infof("Loading configuration from %s", opts.configFile)
	cfg, err := loadConfig(opts.configFile)
	if err != nil {
		log.Errorf("Config error: %v", err)
		return 1
	}
	opts.applyOverrides(cfg)

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		log.Errorf("Configuration error: %v", err)
		return 1
	}
	logAppConfig(cfg, log)

	entry := log.WithField("component", "scrape")
	deps, closeDeps, err := buildDeps(ctx, cfg, entry)
	if err != nil {
		log.WithField("category", utils.CategorizeError(err)).Errorf("Failed to initialize components: %v", err)
		return 1
	}
	defer closeDeps()

	orch := orchestrate.NewOrchestrator(cfg, deps, entry)
	if _, err := orch.Run(ctx); err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			log.Warn("Scrape cancelled, no archive was produced.")
		case errors.Is(err, utils.ErrThresholdExceeded):
			log.Errorf("Too many items failed, no archive was produced: %v", err)
		default:
			log.Errorf("Scrape finished with error: %v", err)
		}
		return 1
	}
	log.Info("Scrape completed successfully.")
	return 0
}

// buildDeps creates the HTTP stack and the optional artifact cache. The
// returned function releases them.
func buildDeps(ctx context.Context, cfg *config.AppConfig, log *logrus.Entry) (orchestrate.Deps, func(), error) {
	client := fetch.NewClient(cfg.HTTPClientSettings, cfg.UserAgent, log)
	limiter := fetch.NewRateLimiter(map[fetch.RequestClass]time.Duration{
		fetch.ClassPage: cfg.Delay,
		fetch.ClassAPI:  cfg.APIDelay,
		fetch.ClassCDN:  cfg.CDNDelay,
	}, log)
	fetcher := fetch.NewFetcher(client, cfg, limiter, log)
	hosts := fetch.NewHostSemaphorePool(cfg.MaxRequestsPerHost, cfg.SemaphoreAcquireTimeout, log)

	source := fetch.NewSource(cfg, fetcher, hosts, limiter, log)
	if cfg.IgnoreRobots {
		log.Warn("robots.txt is ignored")
	} else {
		robots, err := fetch.NewRobots(client, cfg.GetEffectiveMainURL(), cfg.UserAgent, limiter, log)
		if err != nil {
			return orchestrate.Deps{}, nil, err
		}
		source.UseRobots(robots)
	}
	deps := orchestrate.Deps{
		Source: source,
		Hosts:  hosts,
	}
	if cfg.CacheDir == "" {
		log.Info("No cache directory configured, assets will always be downloaded")
		return deps, func() {}, nil
	}

	cache, err := storage.NewBadgerCache(cfg.CacheDir, log)
	if err != nil {
		return orchestrate.Deps{}, nil, err
	}
	gcCtx, stopGC := context.WithCancel(ctx)
	go cache.RunGC(gcCtx, 10*time.Minute)
	deps.Cache = cache

	return deps, func() {
		stopGC()
		if n, err := cache.Count(); err == nil {
			log.Infof("Artifact cache holds %d assets", n)
		}
		if err := cache.Close(); err != nil {
			log.Errorf("Error closing artifact cache: %v", err)
		}
	}, nil
}

func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ifixit-scraper validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	filename, _ := cfg.GetEffectiveFilename(time.Now())
	fmt.Fprintf(stdout, "OK: language %s from %s\n", cfg.Language, cfg.GetEffectiveMainURL())
	fmt.Fprintf(stdout, "OK: archive %s written to %s\n", cfg.GetEffectiveName(), filename)
	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// doLanguages prints the supported website editions.
func doLanguages(stdout io.Writer) int {
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tLANGUAGE\tURL")
	for _, l := range config.Languages() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", l.Code, l.English, l.MainURL)
	}
	if err := tw.Flush(); err != nil {
		return 1
	}
	return 0
}

// startPprof starts the pprof HTTP server if addr is non-empty.
func startPprof(addr string, log *logrus.Logger) {
	if addr != "" {
		go func() {
			log.Infof("Starting pprof server at http://%s/debug/pprof/", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Errorf("pprof server error: %v", err)
			}
		}()
	}
}

// logAppConfig logs the effective configuration
func logAppConfig(cfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Config: Language:%s, MainURL:%s, Archive:%s",
		cfg.Language, cfg.GetEffectiveMainURL(), cfg.GetEffectiveName())
	log.Infof("Config Selection: Categories:%d, Guides:%d, Infos:%d, Users:%d, NoCategory:%t, NoGuide:%t, NoInfo:%t, NoUser:%t",
		len(cfg.Categories), len(cfg.Guides), len(cfg.Infos), len(cfg.Users),
		cfg.NoCategory, cfg.NoGuide, cfg.NoInfo, cfg.NoUser)
	log.Infof("Config Thresholds: MaxMissing:%d%%, MaxError:%d%%, FirstItemsOnly:%t, MaxRotations:%d",
		cfg.MissingThreshold(), cfg.ErrorThreshold(), cfg.ScrapeOnlyFirstItems, cfg.MaxRotations)
	log.Infof("Config Throttle: Delay:%v, APIDelay:%v, CDNDelay:%v, IgnoreRobots:%t",
		cfg.Delay, cfg.APIDelay, cfg.CDNDelay, cfg.IgnoreRobots)
	log.Infof("Config Retries: Max:%d, InitialDelay:%v, MaxDelay:%v, APIMaxDuration:%v",
		cfg.MaxRetries, cfg.InitialRetryDelay, cfg.MaxRetryDelay, cfg.APIRetryMaxDuration)
	log.Infof("Config Assets: Workers:%d, Queue:%d, MaxPerHost:%d, MaxSize:%d bytes, Quality:%d, CacheDir:'%s'",
		cfg.NumImageWorkers, cfg.ImageQueueSize, cfg.MaxRequestsPerHost, cfg.MaxImageSizeBytes, cfg.ImageQuality, cfg.CacheDir)
	log.Infof("Config HTTP Client: Timeout:%v, MaxIdle:%d, MaxIdlePerHost:%d, IdleTimeout:%v, TLSTimeout:%v, DialerTimeout:%v",
		cfg.HTTPClientSettings.Timeout, cfg.HTTPClientSettings.MaxIdleConns, cfg.HTTPClientSettings.MaxIdleConnsPerHost,
		cfg.HTTPClientSettings.IdleConnTimeout, cfg.HTTPClientSettings.TLSHandshakeTimeout, cfg.HTTPClientSettings.DialerTimeout)
}
