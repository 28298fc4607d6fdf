package duel

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"strava-duel/internal/metrics"
)

// DefaultCacheTTL matches the s-maxage the dashboard is served with.
const DefaultCacheTTL = 15 * time.Minute

// Cache keeps serialized reports in badger under report:<year> with a TTL.
type Cache struct {
	db  *badger.DB
	ttl time.Duration
}

func NewCache(db *badger.DB, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{db: db, ttl: ttl}
}

func reportKey(year int) []byte {
	return []byte("report:" + strconv.Itoa(year))
}

// Get returns the cached report for year. Expired or absent entries are a miss.
func (c *Cache) Get(year int) (*Report, bool) {
	var report Report
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(reportKey(year))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &report)
		})
	})
	if err != nil {
		metrics.ReportCacheMisses.Inc()
		return nil, false
	}
	metrics.ReportCacheHits.Inc()
	return &report, true
}

// Put stores report for year until the TTL passes.
func (c *Cache) Put(year int, report *Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(reportKey(year), data).WithTTL(c.ttl))
	})
}

// Invalidate drops the cached report for year.
func (c *Cache) Invalidate(year int) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(reportKey(year))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}
