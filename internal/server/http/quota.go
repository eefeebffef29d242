package http

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// quotaBucketTTL keeps yesterday's buckets around briefly for debugging;
// anything older is dead weight.
const quotaBucketTTL = 48 * time.Hour

// QuotaConfig configures the per-identity daily request quota.
type QuotaConfig struct {
	DailyLimit int
	CacheSize  int              // max live identity-day buckets
	Now        func() time.Time // test hook, defaults to time.Now
}

// dailyQuota is the admission-control counter store. Buckets are keyed by
// identity and UTC day and evicted by the expirable LRU, so the store stays
// bounded regardless of traffic. The read-increment-compare sequence is
// serialized under one mutex to prevent undercounting on simultaneous
// arrivals.
type dailyQuota struct {
	mu      sync.Mutex
	limit   int
	buckets *expirable.LRU[string, int]
	now     func() time.Time
}

func newDailyQuota(cfg QuotaConfig) *dailyQuota {
	size := cfg.CacheSize
	if size <= 0 {
		size = 4096
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &dailyQuota{
		limit:   cfg.DailyLimit,
		buckets: expirable.NewLRU[string, int](size, nil, quotaBucketTTL),
		now:     now,
	}
}

// checkAndIncrement atomically admits the identity for today and counts the
// request, or rejects it when the daily limit is already spent.
func (q *dailyQuota) checkAndIncrement(identity string) bool {
	if q == nil || q.limit <= 0 {
		return true
	}

	key := identity + "|" + q.now().UTC().Format("2006-01-02")

	q.mu.Lock()
	defer q.mu.Unlock()

	count, _ := q.buckets.Get(key)
	if count >= q.limit {
		return false
	}
	q.buckets.Add(key, count+1)
	return true
}

// remaining reports how many requests the identity has left today.
func (q *dailyQuota) remaining(identity string) int {
	if q == nil || q.limit <= 0 {
		return -1
	}
	key := identity + "|" + q.now().UTC().Format("2006-01-02")

	q.mu.Lock()
	defer q.mu.Unlock()

	count, _ := q.buckets.Get(key)
	if count >= q.limit {
		return 0
	}
	return q.limit - count
}
