package session

import (
	"context"
	"sync"
	"time"
)

// Feature names gated by license.
const (
	FeatureProcessEditing = "process_editing"
	FeaturePublishing     = "publishing"
)

// LicenseLoader fetches the current feature entitlements.
type LicenseLoader func(ctx context.Context) (map[string]bool, error)

// LicenseCache caches feature entitlements for a TTL. The TTL and clock are
// injected so tests can drive expiry without sleeping.
type LicenseCache struct {
	loader LicenseLoader
	ttl    time.Duration
	nowFn  func() time.Time

	mu        sync.Mutex
	features  map[string]bool
	fetchedAt time.Time
}

func NewLicenseCache(loader LicenseLoader, ttl time.Duration, nowFn func() time.Time) *LicenseCache {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &LicenseCache{loader: loader, ttl: ttl, nowFn: nowFn}
}

// Enabled reports whether feature is licensed, consulting the loader when
// the cached answer has expired. A loader failure with a warm cache falls
// back to the stale answer.
func (c *LicenseCache) Enabled(ctx context.Context, feature string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fresh := c.features != nil && c.nowFn().Sub(c.fetchedAt) < c.ttl
	if !fresh {
		features, err := c.loader(ctx)
		if err != nil {
			if c.features == nil {
				return false, err
			}
		} else {
			c.features = features
			c.fetchedAt = c.nowFn()
		}
	}
	return c.features[feature], nil
}

// Invalidate drops the cached entitlements so the next check reloads.
func (c *LicenseCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.features = nil
	c.fetchedAt = time.Time{}
}
