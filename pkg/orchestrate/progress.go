package orchestrate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openzim/ifixit/pkg/frontier"
	"github.com/openzim/ifixit/pkg/models"
	"github.com/openzim/ifixit/pkg/utils"
)

// Reporter writes the run progress to the stats file. Without a file name
// every call is a no-op.
type Reporter struct {
	path      string
	runID     string
	frontiers []frontier.Runner
	log       *logrus.Entry

	mu sync.Mutex
}

// NewReporter creates a Reporter over the given frontiers.
func NewReporter(path, runID string, frontiers []frontier.Runner, log *logrus.Entry) *Reporter {
	return &Reporter{path: path, runID: runID, frontiers: frontiers, log: log.WithField("component", "progress")}
}

// Progress sums the frontiers: every discovered item counts in total and
// the ones no longer queued count as done.
func (r *Reporter) Progress() models.Progress {
	var p models.Progress
	for _, f := range r.frontiers {
		total := f.Stats().Total()
		p.Total += total
		p.Done += total - f.QueueLen()
	}
	return p
}

// Report writes the current progress. The file is replaced atomically so
// readers never see a partial document.
func (r *Reporter) Report() error {
	if r.path == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.Progress()
	p.RunID = r.runID
	p.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: creating stats directory: %w", utils.ErrFilesystem, err)
	}
	tmp, err := os.CreateTemp(dir, ".progress-*.json")
	if err != nil {
		return fmt.Errorf("%w: creating temporary stats file: %w", utils.ErrFilesystem, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: writing stats file: %w", utils.ErrFilesystem, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing stats file: %w", utils.ErrFilesystem, err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("%w: replacing stats file: %w", utils.ErrFilesystem, err)
	}
	return nil
}

// reportOrWarn is Report for call sites that must not fail the run.
func (r *Reporter) reportOrWarn() {
	if err := r.Report(); err != nil {
		r.log.WithField("category", utils.CategorizeError(err)).Warnf("Failed to report progress: %v", err)
	}
}

// Run reports every interval until ctx is done.
func (r *Reporter) Run(ctx context.Context, interval time.Duration) error {
	if r.path == "" {
		return nil
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.reportOrWarn()
		case <-ctx.Done():
			return nil
		}
	}
}
