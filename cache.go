package prospector

import (
	"fmt"
	"net"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// Cache errors
var (
	ErrCacheInitFailed = fmt.Errorf("failed to initialize cache")
)

// CachingService provides in-memory caching for DNS answers, display names
// and vulnerability lookups. All lookups are best effort; a nil service is
// valid and caches nothing.
type CachingService struct {
	memCache *ristretto.Cache
	logger   *zap.Logger
	ttl      time.Duration
}

// NewCachingService creates a new caching service sized for one scan run.
func NewCachingService(config *Config, logger *zap.Logger) (*CachingService, error) {
	ttl := time.Duration(config.CacheTTLMinutes) * time.Minute

	cacheConfig := &ristretto.Config{
		NumCounters: 1e6,     // number of keys to track frequency of
		MaxCost:     1 << 28, // maximum cost of cache (256MB)
		BufferItems: 64,      // number of keys per Get buffer
		Metrics:     true,
	}

	cache, err := ristretto.NewCache(cacheConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheInitFailed, err)
	}

	return &CachingService{
		memCache: cache,
		logger:   logger.With(zap.String("component", "cache")),
		ttl:      ttl,
	}, nil
}

// SetDNS caches the resolved addresses for a hostname.
func (c *CachingService) SetDNS(name string, ips []net.IP) {
	if c == nil {
		return
	}
	c.memCache.SetWithTTL("dns:"+name, ips, 1, c.ttl)
}

// GetDNS returns cached resolved addresses for a hostname, if present.
func (c *CachingService) GetDNS(name string) ([]net.IP, bool) {
	if c == nil {
		return nil, false
	}
	if val, found := c.memCache.Get("dns:" + name); found {
		if ips, ok := val.([]net.IP); ok {
			return ips, true
		}
	}
	return nil, false
}

// SetDisplayName caches the display name chosen for an address.
func (c *CachingService) SetDisplayName(address, name string) {
	if c == nil {
		return
	}
	c.memCache.SetWithTTL("name:"+address, name, 1, c.ttl)
}

// GetDisplayName returns the cached display name for an address, if present.
func (c *CachingService) GetDisplayName(address string) (string, bool) {
	if c == nil {
		return "", false
	}
	if val, found := c.memCache.Get("name:" + address); found {
		if name, ok := val.(string); ok {
			return name, true
		}
	}
	return "", false
}

// SetFindings caches the findings returned by an external vulnerability
// lookup so repeated fingerprints across hosts do not query again.
func (c *CachingService) SetFindings(key string, findings []VulnerabilityFinding) {
	if c == nil {
		return
	}
	c.memCache.SetWithTTL("vuln:"+key, findings, int64(len(findings)+1), c.ttl)
}

// GetFindings returns cached findings for a lookup key, if present.
func (c *CachingService) GetFindings(key string) ([]VulnerabilityFinding, bool) {
	if c == nil {
		return nil, false
	}
	if val, found := c.memCache.Get("vuln:" + key); found {
		if findings, ok := val.([]VulnerabilityFinding); ok {
			return findings, true
		}
	}
	return nil, false
}

// Set stores a generic entry in the cache.
func (c *CachingService) Set(key string, value interface{}) {
	if c == nil {
		return
	}
	c.memCache.SetWithTTL(key, value, 1, c.ttl)
}

// Get retrieves a generic entry from the cache.
func (c *CachingService) Get(key string) (interface{}, bool) {
	if c == nil {
		return nil, false
	}
	return c.memCache.Get(key)
}

// Clear removes all entries.
func (c *CachingService) Clear() {
	if c == nil {
		return
	}
	c.memCache.Clear()
}

// Close releases the cache resources and logs hit statistics.
func (c *CachingService) Close() {
	if c == nil {
		return
	}
	metrics := c.memCache.Metrics
	c.logger.Debug("Cache statistics",
		zap.Uint64("hits", metrics.Hits()),
		zap.Uint64("misses", metrics.Misses()),
		zap.Float64("ratio", metrics.Ratio()))
	c.memCache.Close()
}

// Stats returns cache hit statistics.
func (c *CachingService) Stats() map[string]interface{} {
	stats := make(map[string]interface{})
	if c == nil {
		return stats
	}
	metrics := c.memCache.Metrics
	stats["hit_count"] = metrics.Hits()
	stats["miss_count"] = metrics.Misses()
	stats["cost"] = metrics.CostAdded()
	stats["ratio"] = metrics.Ratio()
	return stats
}
