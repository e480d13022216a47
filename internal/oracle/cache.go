// Package oracle implements the pluggable capability interfaces consumed by
// the filter runtime (LinkValidator, TrendingTopics) and the sync engine
// (IdentityResolver), each wrapping a caller-supplied lookup function in a
// badger-backed TTL cache. The HTTP/XRPC calls that actually answer these
// questions are out of scope (spec.md §1); only the caching layer around
// them lives here. Grounded on the badger.Open/opts pattern in
// other_examples/38acdf97_ListenUpApp-server (internal/store/store.go).
package oracle

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Default TTLs per spec.md §5: success results cache for 24h, failures for
// 5 minutes so a transient outage doesn't get remembered for a day.
const (
	DefaultSuccessTTL = 24 * time.Hour
	DefaultFailureTTL = 5 * time.Minute
)

// Cache is a badger-backed key/value cache with separate TTLs for
// successful and failed lookups.
type Cache struct {
	db         *badger.DB
	successTTL time.Duration
	failureTTL time.Duration
}

// OpenCache opens (or creates) a badger database at path. Pass an empty
// path to run fully in-memory (used by tests).
func OpenCache(path string, successTTL, failureTTL time.Duration) (*Cache, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("oracle: open cache: %w", err)
	}

	if successTTL <= 0 {
		successTTL = DefaultSuccessTTL
	}
	if failureTTL <= 0 {
		failureTTL = DefaultFailureTTL
	}

	return &Cache{db: db, successTTL: successTTL, failureTTL: failureTTL}, nil
}

// Close closes the underlying badger database.
func (c *Cache) Close() error {
	return c.db.Close()
}

type cachedResult struct {
	OK     bool
	Failed bool
}

// lookupBool answers a boolean question for key, consulting the cache
// first and falling back to compute on a miss. A cached failure is
// replayed as an error so the caller's onError policy still applies.
func (c *Cache) lookupBool(ctx context.Context, namespace, key string, compute func(context.Context) (bool, error)) (bool, error) {
	fullKey := namespace + "\x00" + key

	if cached, found := c.read(fullKey); found {
		if cached.Failed {
			return false, fmt.Errorf("oracle: cached failure for %s/%s", namespace, key)
		}
		return cached.OK, nil
	}

	ok, err := compute(ctx)

	ttl := c.successTTL
	result := cachedResult{OK: ok, Failed: err != nil}
	if err != nil {
		ttl = c.failureTTL
	}
	c.write(fullKey, result, ttl)

	return ok, err
}

func (c *Cache) read(key string) (cachedResult, bool) {
	var result cachedResult
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return gob.NewDecoder(bytes.NewReader(val)).Decode(&result)
		})
	})
	if err != nil {
		return cachedResult{}, false
	}
	return result, true
}

func (c *Cache) write(key string, result cachedResult, ttl time.Duration) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(result); err != nil {
		return
	}
	_ = c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), buf.Bytes()).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
}

// readString / writeString back the identity resolver's string-valued
// lookups (handle<->did), which have no failure branch worth negative
// caching (resolution either succeeds or the caller gets a fresh error
// every time, since a wrong cached identity mapping is worse than a retry).
func (c *Cache) readString(key string) (string, bool) {
	var value string
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if err != nil {
		return "", false
	}
	return value, true
}

func (c *Cache) writeString(key, value string, ttl time.Duration) {
	_ = c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), []byte(value)).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
}
