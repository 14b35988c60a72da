package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/openzim/ifixit/pkg/log"
	"github.com/openzim/ifixit/pkg/models"
	"github.com/openzim/ifixit/pkg/utils"
)

const assetKeyPrefix = "asset:"

// BadgerCache implements ArtifactCache and CacheAdmin on top of BadgerDB
type BadgerCache struct {
	db  *badger.DB
	log *logrus.Entry
}

// NewBadgerCache opens (or creates) the cache database in dir.
func NewBadgerCache(dir string, logger *logrus.Entry) (*BadgerCache, error) {
	logger = logger.WithField("component", "cache")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create cache directory %s: %w", utils.ErrFilesystem, dir, err)
	}

	opts := badger.DefaultOptions(dir).
		WithLogger(log.NewBadgerAdapter(logger)).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dir, err)
	}
	logger.Infof("Artifact cache opened at %s", dir)
	return &BadgerCache{db: db, log: logger}, nil
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for transaction conflicts.
// Conflicts between asset workers resolve in microseconds, so no backoff.
func (c *BadgerCache) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := c.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		c.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// Get implements ArtifactCache.
func (c *BadgerCache) Get(path, ident string, encoderVersion int) (*models.CacheEntry, error) {
	key := []byte(assetKeyPrefix + path)
	var entry *models.CacheEntry

	err := c.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return utils.ErrCacheMiss
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}
		return item.Value(func(val []byte) error {
			var decoded models.CacheEntry
			if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
				c.log.Warnf("Failed to unmarshal cache entry for '%s': %v. Treating as miss.", path, errJSON)
				return utils.ErrCacheMiss
			}
			entry = &decoded
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if entry.Ident != ident || entry.EncoderVersion != encoderVersion {
		c.log.WithFields(logrus.Fields{
			"path":           path,
			"cached_ident":   entry.Ident,
			"ident":          ident,
			"cached_encoder": entry.EncoderVersion,
		}).Debug("Stale cache entry")
		return nil, utils.ErrCacheMiss
	}
	return entry, nil
}

// Put implements ArtifactCache.
func (c *BadgerCache) Put(path string, entry *models.CacheEntry) error {
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: marshal cache entry for '%s': %w", utils.ErrParsing, path, err)
	}
	key := []byte(assetKeyPrefix + path)
	if err := c.dbUpdate(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key, data))
	}); err != nil {
		return fmt.Errorf("%w: storing '%s': %w", utils.ErrDatabase, path, err)
	}
	return nil
}

// Count implements CacheAdmin with a key-only scan.
func (c *BadgerCache) Count() (int, error) {
	count := 0
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(assetKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: counting keys: %w", utils.ErrDatabase, err)
	}
	return count, nil
}

// RunGC implements CacheAdmin. Returns nil once ctx is done.
func (c *BadgerCache) RunGC(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if c.db.IsClosed() {
				return nil
			}
			var err error
			for err == nil {
				err = c.db.RunValueLogGC(0.5)
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				c.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Close implements CacheAdmin.
func (c *BadgerCache) Close() error {
	if c.db == nil || c.db.IsClosed() {
		return nil
	}
	if err := c.db.Close(); err != nil {
		c.log.Errorf("Error closing artifact cache: %v", err)
		return fmt.Errorf("%w: %w", utils.ErrDatabase, err)
	}
	c.log.Info("Artifact cache closed.")
	return nil
}
