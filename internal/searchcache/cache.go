// Package searchcache fronts the dynamic-crawl search path with a bounded,
// TTL-expiring store. A crawl is expensive enough (a full browser session)
// that repeated pagination over the same tag should hit memory instead.
package searchcache

import (
	"encoding/json"
	"slices"
	"strings"
	"sync"
	"time"

	"soyosaki-backend/internal/components/assert"
	"soyosaki-backend/internal/components/chrono"
	"soyosaki-backend/internal/components/telemetry"
	"soyosaki-backend/internal/novel"

	"github.com/dgraph-io/badger/v4"
)

const (
	report_cache_get = "search_cache.get"
	report_cache_put = "search_cache.put"
)

// DefaultMaxEntries bounds how many distinct search keys are kept.
const DefaultMaxEntries = 20

// Entry is one cached crawl result. Exhausted records that the last crawl
// converged before reaching its target, so asking for deeper pages again is
// pointless until the entry expires.
type Entry struct {
	Items      []novel.Novel `json:"items"`
	InsertedAt int64         `json:"inserted_at"`
	Exhausted  bool          `json:"exhausted"`
}

// Key derives the cache key for a search. Exclude tags are sorted so that
// the same filter set always maps to the same entry.
func Key(primaryTag, rankingMode string, excludeTags []string) string {
	sorted := slices.Clone(excludeTags)
	slices.Sort(sorted)
	return primaryTag + "|" + rankingMode + "|" + strings.Join(sorted, ",")
}

type Options struct {
	TTL        time.Duration
	MaxEntries int
	Time       chrono.API
	Telemetry  telemetry.API
}

type Cache struct {
	db         *badger.DB
	ttl        time.Duration
	maxEntries int
	time       chrono.API
	tel        telemetry.API

	// serializes the read-merge-write extend path; plain reads go through
	// badger's own transactions.
	mu sync.Mutex
}

// Open creates an in-memory cache. Entries are intentionally not durable
// across restarts.
func Open(opts Options) (*Cache, error) {
	assert.NotNil(opts.Telemetry)
	assert.NotNil(opts.Time)

	if opts.MaxEntries == 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.TTL == 0 {
		opts.TTL = 10 * time.Minute
	}

	db, err := badger.Open(
		badger.DefaultOptions("").
			WithInMemory(true).
			WithLogger(nil),
	)
	if err != nil {
		return nil, err
	}

	return &Cache{
		db:         db,
		ttl:        opts.TTL,
		maxEntries: opts.MaxEntries,
		time:       opts.Time,
		tel:        telemetry.NewScopedAPI("search_cache", opts.Telemetry),
	}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the entry for key, if present and not expired.
func (c *Cache) Get(key string) (Entry, bool) {
	var entry Entry
	err := c.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err == badger.ErrKeyNotFound {
		return Entry{}, false
	}
	if err != nil {
		c.tel.ReportBroken(report_cache_get, err, key)
		return Entry{}, false
	}
	return entry, true
}

// Put stores a fresh entry under key, evicting the oldest-inserted entries
// once the capacity bound is exceeded. Badger expires the entry after the
// configured TTL on its own.
func (c *Cache) Put(key string, items []novel.Novel, exhausted bool) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := Entry{
		Items:      items,
		InsertedAt: c.time.Now().Unix(),
		Exhausted:  exhausted,
	}
	c.write(key, entry)
	c.evictOverflow()
	return entry
}

// Extend folds more crawled items into an existing entry without resetting
// its insertion time: deeper pagination over the same key extends the
// entry instead of replacing it. Creates the entry when absent.
func (c *Cache) Extend(key string, incoming []novel.Novel, exhausted bool) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.get(key)
	if !ok {
		entry := Entry{
			Items:      incoming,
			InsertedAt: c.time.Now().Unix(),
			Exhausted:  exhausted,
		}
		c.write(key, entry)
		c.evictOverflow()
		return entry
	}

	index := novel.BuildIndex(existing.Items)
	existing.Items = novel.MergeList(existing.Items, incoming, index)
	existing.Exhausted = exhausted
	c.write(key, existing)
	return existing
}

func (c *Cache) get(key string) (Entry, bool) {
	var entry Entry
	err := c.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return Entry{}, false
	}
	return entry, true
}

func (c *Cache) write(key string, entry Entry) {
	serialized, err := json.Marshal(entry)
	if err != nil {
		c.tel.ReportBroken(report_cache_put, err, key)
		return
	}
	err = c.db.Update(func(tx *badger.Txn) error {
		e := badger.NewEntry([]byte(key), serialized).WithTTL(c.ttl)
		return tx.SetEntry(e)
	})
	if err != nil {
		c.tel.ReportBroken(report_cache_put, err, key)
	}
}

func (c *Cache) evictOverflow() {
	type aged struct {
		key        string
		insertedAt int64
	}

	var entries []aged
	err := c.db.View(func(tx *badger.Txn) error {
		it := tx.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var entry Entry
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				continue
			}
			entries = append(entries, aged{
				key:        string(item.KeyCopy(nil)),
				insertedAt: entry.InsertedAt,
			})
		}
		return nil
	})
	if err != nil {
		c.tel.ReportBroken(report_cache_put, err)
		return
	}
	if len(entries) <= c.maxEntries {
		return
	}

	slices.SortFunc(entries, func(a, b aged) int {
		if a.insertedAt < b.insertedAt {
			return -1
		}
		if a.insertedAt > b.insertedAt {
			return 1
		}
		return 0
	})

	overflow := entries[:len(entries)-c.maxEntries]
	err = c.db.Update(func(tx *badger.Txn) error {
		for _, victim := range overflow {
			if err := tx.Delete([]byte(victim.key)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.tel.ReportBroken(report_cache_put, err)
	}
	c.tel.ReportCount("search_cache.evicted", int64(len(overflow)))
}
