// Package ratelimit provides per-host token bucket throttling for outbound
// artwork requests.
package ratelimit

import (
	"context"
	"math"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tracklist/tracklist/internal/logger"
)

// DefaultRate applies to hosts without a registered rate.
const DefaultRate = 10.0

// DefaultHostRates are the artwork hosts capped at one request per second.
var DefaultHostRates = map[string]float64{
	"coverartarchive.org": 1.0,
	"archive.org":         1.0,
	"musicbrainz.org":     1.0,
}

// Acquirer is what outbound clients depend on.
type Acquirer interface {
	Acquire(ctx context.Context, rawURL string) time.Duration
}

// bucket is one host's token bucket plus its wait statistics.
type bucket struct {
	rate    float64
	limiter atomic.Pointer[rate.Limiter]

	waits     atomic.Int64
	waitNanos atomic.Int64
}

func newBucket(r float64) *bucket {
	b := &bucket{rate: r}
	b.limiter.Store(newLimiter(r))
	return b
}

// newLimiter returns a full bucket of capacity max(1, floor(r)) refilling at r tokens/s.
func newLimiter(r float64) *rate.Limiter {
	burst := max(1, int(math.Floor(r)))
	return rate.NewLimiter(rate.Limit(r), burst)
}

// DomainLimiter keeps one bucket per registered domain and one per unregistered host.
// Buckets are independent so waiting on one host never blocks another.
type DomainLimiter struct {
	defaultRate float64
	// domains is sorted longest first so "coverartarchive.org" wins over "archive.org".
	domains []string
	rates   map[string]float64

	mu      sync.RWMutex
	buckets map[string]*bucket

	log logger.Logger
}

// New creates a limiter. hostRates maps domains to requests per second;
// defaultRate applies to everything else. Non-positive rates fall back to the defaults.
func New(defaultRate float64, hostRates map[string]float64, log logger.Logger) *DomainLimiter {
	if defaultRate <= 0 {
		defaultRate = DefaultRate
	}
	if hostRates == nil {
		hostRates = DefaultHostRates
	}
	if log == nil {
		log = logger.Global().Module("artwork.ratelimit")
	}

	l := &DomainLimiter{
		defaultRate: defaultRate,
		rates:       make(map[string]float64, len(hostRates)),
		buckets:     make(map[string]*bucket),
		log:         log,
	}
	for host, r := range hostRates {
		host = normalizeHost(host)
		if host == "" {
			continue
		}
		if r <= 0 {
			r = defaultRate
		}
		l.rates[host] = r
		l.domains = append(l.domains, host)
	}
	slices.SortFunc(l.domains, func(a, b string) int {
		if d := len(b) - len(a); d != 0 {
			return d
		}
		return strings.Compare(a, b)
	})
	return l
}

// normalizeHost case-folds and strips a leading "www.".
func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	return strings.TrimPrefix(host, "www.")
}

// HostOf returns the normalized host of rawURL, or "" when it has none.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return normalizeHost(u.Hostname())
}

// bucketKey maps a normalized host to its bucket name and rate.
func (l *DomainLimiter) bucketKey(host string) (string, float64) {
	for _, domain := range l.domains {
		if strings.Contains(host, domain) {
			return domain, l.rates[domain]
		}
	}
	return host, l.defaultRate
}

func (l *DomainLimiter) bucketFor(rawURL string) (string, *bucket) {
	key, r := l.bucketKey(HostOf(rawURL))

	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return key, b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[key]; !ok {
		b = newBucket(r)
		l.buckets[key] = b
	}
	return key, b
}

// Acquire blocks until a token for rawURL's host is available and debits it.
// It returns how long the caller waited. When ctx ends first the token is
// handed back and Acquire returns with ctx.Err() set, so a caller with a
// live context always holds a token. Acquire never fails.
func (l *DomainLimiter) Acquire(ctx context.Context, rawURL string) time.Duration {
	key, b := l.bucketFor(rawURL)

	start := time.Now()
	lim := b.limiter.Load()
	if !lim.Allow() {
		reserve(ctx, lim)
	}
	waited := time.Since(start)

	b.waits.Add(1)
	b.waitNanos.Add(int64(waited))
	if waited > time.Second {
		l.log.Debug("rate limited request",
			logger.String("host", key),
			logger.Duration("waited", waited))
	}
	return waited
}

// reserve takes the next token and sleeps until it is due or ctx ends.
// Unlike rate.Limiter.Wait it does not return early when ctx's deadline
// precedes the token.
func reserve(ctx context.Context, lim *rate.Limiter) {
	r := lim.Reserve()
	d := r.Delay()
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		r.Cancel()
	}
}

// BucketStats describes one bucket.
type BucketStats struct {
	Host      string        `json:"host"`
	Rate      float64       `json:"rate"`
	Acquired  int64         `json:"acquired"`
	TotalWait time.Duration `json:"total_wait"`
	Tokens    float64       `json:"tokens"`
}

// Stats returns a snapshot of every bucket created so far, sorted by host.
func (l *DomainLimiter) Stats() []BucketStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]BucketStats, 0, len(l.buckets))
	for host, b := range l.buckets {
		out = append(out, BucketStats{
			Host:      host,
			Rate:      b.rate,
			Acquired:  b.waits.Load(),
			TotalWait: time.Duration(b.waitNanos.Load()),
			Tokens:    b.limiter.Load().Tokens(),
		})
	}
	slices.SortFunc(out, func(a, b BucketStats) int { return strings.Compare(a.Host, b.Host) })
	return out
}

// Reset refills every bucket and clears the statistics.
func (l *DomainLimiter) Reset() {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, b := range l.buckets {
		b.limiter.Store(newLimiter(b.rate))
		b.waits.Store(0)
		b.waitNanos.Store(0)
	}
}
