package pricing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Recorder wraps a shared resolver and tracks the misses of a single
// pipeline run, so each session reports only its own price gaps while still
// benefiting from the process-wide cache underneath.
type Recorder struct {
	inner Resolver

	mu      sync.Mutex
	missing map[string]bool
}

func NewRecorder(inner Resolver) *Recorder {
	return &Recorder{inner: inner, missing: make(map[string]bool)}
}

func (r *Recorder) Resolve(ctx context.Context, asset string, ts time.Time) (decimal.Decimal, bool) {
	price, ok := r.inner.Resolve(ctx, asset, ts)
	if !ok {
		r.mu.Lock()
		r.missing[asset+"@"+dateKey(ts)] = true
		r.mu.Unlock()
	}
	return price, ok
}

func (r *Recorder) MissingPrices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.missing))
	for key := range r.missing {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
