package storage

import (
	"context"
	"time"

	"github.com/openzim/ifixit/pkg/models"
)

// ArtifactCache keeps normalized assets between runs, keyed by archive path.
type ArtifactCache interface {
	// Get returns the entry stored for path when it was produced from the
	// same upstream version (ident) by the same encoder version.
	// Returns utils.ErrCacheMiss otherwise.
	Get(path, ident string, encoderVersion int) (*models.CacheEntry, error)

	// Put stores or replaces the entry for path
	Put(path string, entry *models.CacheEntry) error
}

// CacheAdmin handles lifecycle and administrative operations
type CacheAdmin interface {
	// Count returns the number of cached artifacts
	Count() (int, error)

	// RunGC runs periodic garbage collection until ctx is done
	RunGC(ctx context.Context, interval time.Duration) error

	// Close cleanly closes the database
	Close() error
}
