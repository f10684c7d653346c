package rates

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoSource means the provider was built without a live feed; the
// fallback rate is the intended behavior, not an incident.
var ErrNoSource = errors.New("no rate source configured")

// Source yields the current USD->VES rate from wherever it comes from:
// a central-bank feed, a parallel-market scraper, or a fixture in tests.
type Source interface {
	FetchCurrentRate(ctx context.Context) (decimal.Decimal, error)
}

type SourceFunc func(ctx context.Context) (decimal.Decimal, error)

func (f SourceFunc) FetchCurrentRate(ctx context.Context) (decimal.Decimal, error) {
	return f(ctx)
}

// Provider wraps a Source with a bounded timeout, a cache and a
// last-resort fallback so the counter never stalls or errors out waiting
// for a quote.
type Provider struct {
	source   Source
	cache    Cache
	fallback decimal.Decimal
	timeout  time.Duration
	ttl      time.Duration
}

func NewProvider(source Source, cache Cache, fallback decimal.Decimal, timeout, ttl time.Duration) *Provider {
	if cache == nil {
		cache = NoopCache{}
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Provider{source: source, cache: cache, fallback: fallback, timeout: timeout, ttl: ttl}
}

// FetchRate returns the cached rate when fresh, otherwise queries the
// source within the timeout.
func (p *Provider) FetchRate(ctx context.Context) (decimal.Decimal, error) {
	if rate, ok, err := p.cache.Get(ctx, cacheKey); err == nil && ok && rate.IsPositive() {
		return rate, nil
	}
	if p.source == nil {
		return decimal.Zero, ErrNoSource
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	rate, err := p.source.FetchCurrentRate(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if !rate.IsPositive() {
		return decimal.Zero, errors.New("rate source returned a non-positive rate")
	}
	if err := p.cache.Set(ctx, cacheKey, rate, p.ttl); err != nil {
		log.Printf("[rates] cache write failed: %v", err)
	}
	return rate, nil
}

// FetchRateWithFallback never fails: when the source is down it falls
// back to the configured rate and logs the incident.
func (p *Provider) FetchRateWithFallback(ctx context.Context) decimal.Decimal {
	rate, err := p.FetchRate(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoSource) {
			log.Printf("[rates] source unavailable, using fallback %s: %v", p.fallback, err)
		}
		return p.fallback
	}
	return rate
}

const cacheKey = "rates:usd-ves"
