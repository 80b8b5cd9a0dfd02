package prospector

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var cveIDPattern = regexp.MustCompile(`CVE-\d{4}-\d{4,}`)

const externalBackoffBase = 250 * time.Millisecond

// Correlator merges vulnerability findings from the bundled offline tables
// and, unless offline mode is forced, from external CVE services. All
// external traffic flows through one shared rate limiter and one breaker,
// so a failing or hostile service degrades the run instead of stalling it.
type Correlator struct {
	offline []VulnSource
	online  []VulnSource

	limiter *rate.Limiter
	cache   *CachingService
	metrics *Metrics
	logger  *zap.Logger

	callTimeout time.Duration
	retries     int
	offlineOnly bool
	threshold   int

	mu       sync.Mutex
	failures int
	degraded bool
}

// NewCorrelator builds the correlator from config. The source registry is
// fixed here: the pattern table and ICS advisories always run, NVD, MITRE
// and CIRCL only when offline mode is not forced.
func NewCorrelator(config *Config, cache *CachingService, metrics *Metrics, logger *zap.Logger) *Correlator {
	client := &http.Client{
		Timeout: time.Duration(config.ExternalTimeoutMs) * time.Millisecond,
	}
	return &Correlator{
		offline: []VulnSource{patternSource{}, icsSource{}},
		online: []VulnSource{
			&nvdSource{client: client, base: nvdBaseURL},
			&mitreSource{client: client, base: mitreBaseURL},
			&circlSource{client: client, base: circlBaseURL},
		},
		limiter:     rate.NewLimiter(rate.Limit(config.ExternalRatePerSec), config.ExternalBurst),
		cache:       cache,
		metrics:     metrics,
		logger:      logger,
		callTimeout: time.Duration(config.ExternalTimeoutMs) * time.Millisecond,
		retries:     config.ExternalRetries,
		offlineOnly: config.Offline,
		threshold:   config.FailureThreshold,
	}
}

// AddSource registers an additional online source, typically contributed by
// a plugin. It must be called before correlation starts.
func (c *Correlator) AddSource(source VulnSource) {
	c.online = append(c.online, source)
}

// Correlate returns the deduplicated findings for one probed service.
// Offline sources always run; external enrichment is skipped in offline
// mode and after the breaker trips.
func (c *Correlator) Correlate(ctx context.Context, fp ServiceFingerprint, banner string) []VulnerabilityFinding {
	var findings []VulnerabilityFinding
	for _, src := range c.offline {
		matched, err := src.Detect(ctx, fp, banner)
		if err != nil {
			c.logger.Debug("offline source error",
				zap.String("source", src.Name()),
				zap.Error(err))
			continue
		}
		findings = append(findings, matched...)
	}

	if !c.offlineOnly && !c.Degraded() {
		findings = c.enrichOnline(ctx, fp, banner, findings)
	}

	return dedupeFindings(findings)
}

// Degraded reports whether the breaker tripped and external lookups are
// disabled for the remainder of the run.
func (c *Correlator) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// -------------- Online Enrichment --------------

func (c *Correlator) enrichOnline(ctx context.Context, fp ServiceFingerprint, banner string, findings []VulnerabilityFinding) []VulnerabilityFinding {
	have := make(map[string]bool, len(findings))
	for _, f := range findings {
		have[f.ID] = true
	}

	// Explicit CVE identifiers in the banner get the full lookup chain.
	for _, id := range cveIDPattern.FindAllString(banner, -1) {
		if have[id] || c.Degraded() {
			continue
		}
		if f := c.lookupChain(ctx, id); f != nil {
			findings = append(findings, *f)
			have[id] = true
		}
	}

	// Offline pattern hits that reference a real CVE are upgraded with the
	// external record, keeping the original match reason visible.
	for i := range findings {
		if findings[i].Source != SourceOffline || !strings.HasPrefix(findings[i].ID, "CVE-") {
			continue
		}
		if c.Degraded() {
			break
		}
		detailed := c.lookupChain(ctx, findings[i].ID)
		if detailed == nil {
			continue
		}
		merged := *detailed
		merged.Description = detailed.Description + " (Match reason: " + findings[i].Description + ")"
		merged.MatchedPattern = findings[i].MatchedPattern
		findings[i] = merged
	}

	// Versioned fingerprints get a bounded keyword search.
	if fp.Version != "" && !c.Degraded() {
		key := "kw:" + strings.ToLower(fp.Service+" "+fp.Version)
		if cached, ok := c.cache.GetFindings(key); ok {
			findings = appendNewFindings(findings, have, cached)
		} else {
			var collected []VulnerabilityFinding
			complete := true
			for _, src := range c.online {
				if c.Degraded() {
					complete = false
					break
				}
				found, err := c.detectOne(ctx, src, fp, banner)
				if err != nil {
					complete = false
					continue
				}
				collected = append(collected, found...)
			}
			if complete {
				c.cache.SetFindings(key, collected)
			}
			findings = appendNewFindings(findings, have, collected)
		}
	}

	return findings
}

// lookupChain resolves one identifier through the online sources in order,
// returning the first hit. Results, including confirmed misses, are cached
// so repeated fingerprints across hosts do not re-query.
func (c *Correlator) lookupChain(ctx context.Context, id string) *VulnerabilityFinding {
	cacheKey := "id:" + id
	if cached, ok := c.cache.GetFindings(cacheKey); ok {
		if len(cached) == 0 {
			return nil
		}
		f := cached[0]
		return &f
	}

	missedAll := true
	for _, src := range c.online {
		if c.Degraded() {
			return nil
		}
		finding, err := c.lookupOne(ctx, src, id)
		if err != nil {
			missedAll = false
			continue
		}
		if finding != nil {
			c.cache.SetFindings(cacheKey, []VulnerabilityFinding{*finding})
			return finding
		}
	}
	if missedAll {
		c.cache.SetFindings(cacheKey, []VulnerabilityFinding{})
	}
	return nil
}

func (c *Correlator) lookupOne(ctx context.Context, src VulnSource, id string) (*VulnerabilityFinding, error) {
	var finding *VulnerabilityFinding
	err := c.withRetry(ctx, src.Name(), func(callCtx context.Context) error {
		var callErr error
		finding, callErr = src.Lookup(callCtx, id)
		return callErr
	})
	return finding, err
}

func (c *Correlator) detectOne(ctx context.Context, src VulnSource, fp ServiceFingerprint, banner string) ([]VulnerabilityFinding, error) {
	var found []VulnerabilityFinding
	err := c.withRetry(ctx, src.Name(), func(callCtx context.Context) error {
		var callErr error
		found, callErr = src.Detect(callCtx, fp, banner)
		return callErr
	})
	return found, err
}

// -------------- Retry and Breaker --------------

// withRetry runs one external call under the shared rate limit, retrying
// transient failures with exponential backoff. Every failed attempt feeds
// the breaker counter; any success resets it. Context cancellation aborts
// without counting as a source failure.
func (c *Correlator) withRetry(ctx context.Context, source string, call func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if c.Degraded() {
			break
		}
		if attempt > 0 {
			backoff := externalBackoffBase << uint(attempt-1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		err := call(callCtx)
		cancel()
		if err == nil {
			c.recordSuccess()
			return nil
		}
		lastErr = err
		c.recordFailure(source, err)
	}
	if lastErr == nil {
		lastErr = ErrExternalQueryFailed
	}
	return lastErr
}

func (c *Correlator) recordSuccess() {
	c.mu.Lock()
	c.failures = 0
	c.mu.Unlock()
}

func (c *Correlator) recordFailure(source string, err error) {
	if c.metrics != nil {
		c.metrics.ExternalFailures.WithLabelValues(source).Inc()
	}

	c.mu.Lock()
	c.failures++
	count := c.failures
	tripped := !c.degraded && count >= c.threshold
	if tripped {
		c.degraded = true
	}
	c.mu.Unlock()

	if tripped {
		c.logger.Warn("external vulnerability lookups disabled for the rest of the run",
			zap.Int("consecutive_failures", count),
			zap.String("source", source),
			zap.Error(err))
		return
	}
	c.logger.Debug("external vulnerability query failed",
		zap.String("source", source),
		zap.Int("consecutive_failures", count),
		zap.Error(err))
}

// -------------- Dedup --------------

func appendNewFindings(dst []VulnerabilityFinding, have map[string]bool, extra []VulnerabilityFinding) []VulnerabilityFinding {
	for _, f := range extra {
		if have[f.ID] {
			continue
		}
		have[f.ID] = true
		dst = append(dst, f)
	}
	return dst
}

// dedupeFindings collapses duplicate identifiers, keeping the entry with
// the highest severity and preserving first-seen order.
func dedupeFindings(findings []VulnerabilityFinding) []VulnerabilityFinding {
	if len(findings) < 2 {
		return findings
	}
	index := make(map[string]int, len(findings))
	out := findings[:0]
	for _, f := range findings {
		at, seen := index[f.ID]
		if !seen {
			index[f.ID] = len(out)
			out = append(out, f)
			continue
		}
		if f.Severity.rank() > out[at].Severity.rank() {
			out[at] = f
		}
	}
	return out
}
