// Package frontier holds the self-expanding work queue of one entity kind.
//
// Items are registered either up front (expected) or while other items are
// being processed (unexpected). A key is only ever queued once. Draining
// stops with ErrThresholdExceeded as soon as the share of missing or failed
// items crosses the configured limits.
package frontier

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openzim/ifixit/pkg/models"
	"github.com/openzim/ifixit/pkg/queue"
	"github.com/openzim/ifixit/pkg/utils"
)

// FirstItems is how many items a drain handles when only the first items
// are scraped.
const FirstItems = 5

// ErrAlreadyDraining is returned when ScrapeItems is called while another
// drain of the same frontier is running.
var ErrAlreadyDraining = errors.New("frontier is already being drained")

// Handler implements the kind specific parts of a frontier.
type Handler[D any] interface {
	Kind() models.Kind
	// BuildExpected registers the items known before scraping starts.
	BuildExpected(ctx context.Context, f *Frontier[D]) error
	// Content retrieves the raw object. A nil content means the source
	// does not have it.
	Content(ctx context.Context, item models.WorkItem[D]) (any, error)
	// Process writes the item to the archive.
	Process(ctx context.Context, item models.WorkItem[D], content any) error
	// Redirect points the item's archive path at a placeholder page.
	Redirect(ctx context.Context, item models.WorkItem[D], target models.Placeholder) error
}

// Runner is the kind-independent view of a Frontier used by the
// orchestrator.
type Runner interface {
	Kind() models.Kind
	BuildExpectedItems(ctx context.Context) error
	ScrapeItems(ctx context.Context) error
	QueueLen() int
	Stats() models.FrontierStats
	MissingKeys() []string
	ErrorKeys() []string
}

// Options tunes a Frontier.
type Options struct {
	MaxMissingPercent int  // Abort when missing*100/total exceeds this
	MaxErrorPercent   int  // Abort when errors*100/total exceeds this
	FirstItemsOnly    bool // Handle at most FirstItems per drain
	QuietDiscovery    bool // Log unexpected additions at debug level
}

// Frontier tracks the items of one kind.
type Frontier[D any] struct {
	handler Handler[D]
	kind    models.Kind
	opts    Options
	queue   *queue.FIFO[models.WorkItem[D]]
	log     *logrus.Entry

	mu         sync.RWMutex
	expected   map[string]D
	unexpected map[string]D
	states     map[string]models.ItemState
	counts     map[models.ItemState]int

	built    atomic.Bool
	draining atomic.Bool
}

// New creates an empty frontier for handler's kind.
func New[D any](handler Handler[D], opts Options, log *logrus.Entry) *Frontier[D] {
	kind := handler.Kind()
	entry := log.WithFields(logrus.Fields{"component": "frontier", "kind": kind})
	return &Frontier[D]{
		handler:    handler,
		kind:       kind,
		opts:       opts,
		queue:      queue.NewFIFO[models.WorkItem[D]](entry),
		log:        entry,
		expected:   make(map[string]D),
		unexpected: make(map[string]D),
		states:     make(map[string]models.ItemState),
		counts:     make(map[models.ItemState]int),
	}
}

// Kind returns the entity kind of the frontier.
func (f *Frontier[D]) Kind() models.Kind { return f.kind }

// BuildExpectedItems asks the handler for the initial items. Only the first
// call does anything.
func (f *Frontier[D]) BuildExpectedItems(ctx context.Context) error {
	if !f.built.CompareAndSwap(false, true) {
		f.log.Warn("Expected items already built, ignoring")
		return nil
	}
	start := time.Now()
	if err := f.handler.BuildExpected(ctx, f); err != nil {
		return utils.WrapErrorf(err, "building expected %s items", f.kind)
	}
	f.log.WithFields(logrus.Fields{
		"expected": f.Stats().Expected,
		"duration": time.Since(start).String(),
	}).Info("Expected items built")
	return nil
}

// AddItem registers key unless it is already known, and queues it. It
// returns whether the item was added.
func (f *Frontier[D]) AddItem(key string, data D, isExpected bool) bool {
	f.mu.Lock()
	if _, ok := f.expected[key]; ok {
		f.mu.Unlock()
		return false
	}
	if _, ok := f.unexpected[key]; ok {
		f.mu.Unlock()
		return false
	}
	if isExpected {
		f.expected[key] = data
	} else {
		f.unexpected[key] = data
	}
	f.setStateLocked(key, models.ItemStateQueued)
	f.mu.Unlock()

	if !isExpected {
		entry := f.log.WithField("key", key)
		if f.opts.QuietDiscovery {
			entry.Debug("Found unexpected item")
		} else {
			entry.Warn("Found unexpected item")
		}
	}
	f.queue.Push(models.WorkItem[D]{Key: key, Data: data})
	return true
}

// UpdateExpected changes the data of an expected item. Items picked up
// later see the new data. It returns false when key is not expected.
func (f *Frontier[D]) UpdateExpected(key string, fn func(*D)) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.expected[key]
	if !ok {
		return false
	}
	fn(&data)
	f.expected[key] = data
	return true
}

// Data returns the current data of key.
func (f *Frontier[D]) Data(key string) (D, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if data, ok := f.expected[key]; ok {
		return data, true
	}
	data, ok := f.unexpected[key]
	return data, ok
}

// State returns the lifecycle state of key.
func (f *Frontier[D]) State(key string) models.ItemState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.states[key]
}

// QueueLen returns the number of items waiting to be scraped.
func (f *Frontier[D]) QueueLen() int { return f.queue.Len() }

// Total returns the number of items discovered so far.
func (f *Frontier[D]) Total() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.expected) + len(f.unexpected)
}

// Stats returns a snapshot of the frontier counters.
func (f *Frontier[D]) Stats() models.FrontierStats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return models.FrontierStats{
		Kind:       f.kind,
		Expected:   len(f.expected),
		Unexpected: len(f.unexpected),
		Queued:     f.counts[models.ItemStateQueued],
		Done:       f.counts[models.ItemStateDone],
		Missing:    f.counts[models.ItemStateMissing],
		Error:      f.counts[models.ItemStateError],
	}
}

// MissingKeys returns the sorted keys of missing items.
func (f *Frontier[D]) MissingKeys() []string { return f.keysIn(models.ItemStateMissing) }

// ErrorKeys returns the sorted keys of failed items.
func (f *Frontier[D]) ErrorKeys() []string { return f.keysIn(models.ItemStateError) }

func (f *Frontier[D]) keysIn(state models.ItemState) []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var keys []string
	for k, s := range f.states {
		if s == state {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (f *Frontier[D]) setStateLocked(key string, state models.ItemState) {
	if prev, ok := f.states[key]; ok {
		f.counts[prev]--
	}
	f.states[key] = state
	f.counts[state]++
}

func (f *Frontier[D]) setState(key string, state models.ItemState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setStateLocked(key, state)
}

// ScrapeItems drains the queue, including items queued while draining.
// It returns ErrThresholdExceeded when too many items are missing or
// failed, and the context error when ctx is done between two items.
func (f *Frontier[D]) ScrapeItems(ctx context.Context) error {
	if !f.draining.CompareAndSwap(false, true) {
		return ErrAlreadyDraining
	}
	defer f.draining.Store(false)

	handled := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.opts.FirstItemsOnly && handled >= FirstItems {
			f.log.WithField("remaining", f.queue.Len()).Info("Only scraping first items, stopping here")
			return nil
		}
		item, ok := f.queue.TryPop()
		if !ok {
			return nil
		}
		handled++
		f.scrapeItem(ctx, item)

		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f.checkThresholds(); err != nil {
			return err
		}
	}
}

func (f *Frontier[D]) scrapeItem(ctx context.Context, item models.WorkItem[D]) {
	itemLog := f.log.WithField("key", item.Key)
	start := time.Now()
	f.setState(item.Key, models.ItemStateProcessing)

	// the data may have been updated since the item was queued
	if data, ok := f.Data(item.Key); ok {
		item.Data = data
	}

	state, err := f.runHandler(ctx, item, itemLog)
	if state == models.ItemStateMissing {
		itemLog.Warn("Item is missing")
		if rerr := f.handler.Redirect(ctx, item, models.PlaceholderMissing); rerr != nil {
			state, err = models.ItemStateError, utils.WrapErrorf(rerr, "redirecting missing item")
		}
	}

	fields := logrus.Fields{"duration": time.Since(start).String()}
	if state == models.ItemStateError {
		fields["category"] = utils.CategorizeError(err)
		itemLog.WithFields(fields).Warnf("Failed to scrape item: %v", err)
		if rerr := f.handler.Redirect(ctx, item, models.PlaceholderError); rerr != nil {
			itemLog.Debugf("Could not redirect failed item: %v", rerr)
		}
	} else if state == models.ItemStateDone {
		itemLog.WithFields(fields).Debug("Item scraped")
	}
	f.setState(item.Key, state)
}

// runHandler fetches and processes one item, turning panics into errors.
func (f *Frontier[D]) runHandler(ctx context.Context, item models.WorkItem[D], itemLog *logrus.Entry) (state models.ItemState, err error) {
	defer func() {
		if r := recover(); r != nil {
			state = models.ItemStateError
			err = fmt.Errorf("panic: %v", r)
			itemLog.WithFields(logrus.Fields{
				"panic_info":  r,
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC recovered while scraping item")
		}
	}()

	content, err := f.handler.Content(ctx, item)
	if err != nil {
		return models.ItemStateError, utils.WrapErrorf(err, "getting content")
	}
	if content == nil {
		return models.ItemStateMissing, nil
	}
	if err := f.handler.Process(ctx, item, content); err != nil {
		return models.ItemStateError, err
	}
	return models.ItemStateDone, nil
}

// checkThresholds compares the missing and failed shares against the
// limits, using every item discovered so far as the denominator.
func (f *Frontier[D]) checkThresholds() error {
	st := f.Stats()
	total := st.Total()
	if total == 0 {
		return nil
	}
	if st.Missing*100 > f.opts.MaxMissingPercent*total {
		return fmt.Errorf("%w: %d of %d %s items missing (max %d%%)",
			utils.ErrThresholdExceeded, st.Missing, total, f.kind, f.opts.MaxMissingPercent)
	}
	if st.Error*100 > f.opts.MaxErrorPercent*total {
		return fmt.Errorf("%w: %d of %d %s items failed (max %d%%)",
			utils.ErrThresholdExceeded, st.Error, total, f.kind, f.opts.MaxErrorPercent)
	}
	return nil
}
