// Package component holds what the backend clients under it have in common.
package component

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Pinger is a backend connection that can be probed.
type Pinger interface {
	// Name identifies the backend in probe reports.
	Name() string
	// Ping returns nil when the backend answers.
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc struct {
	ID string
	Fn func(ctx context.Context) error
}

func (p PingerFunc) Name() string { return p.ID }

func (p PingerFunc) Ping(ctx context.Context) error { return p.Fn(ctx) }

// Status is the result of probing one backend.
type Status struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// CheckAll probes every backend concurrently, each bounded by timeout, and
// reports whether all of them answered. Results are sorted by name.
func CheckAll(ctx context.Context, timeout time.Duration, pingers ...Pinger) ([]Status, bool) {
	out := make([]Status, len(pingers))

	var wg sync.WaitGroup
	for i, p := range pingers {
		wg.Add(1)
		go func(i int, p Pinger) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			err := p.Ping(pctx)
			out[i] = Status{Name: p.Name(), Healthy: err == nil, LatencyMs: time.Since(start).Milliseconds()}
			if err != nil {
				out[i].Error = err.Error()
			}
		}(i, p)
	}
	wg.Wait()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	healthy := true
	for _, s := range out {
		healthy = healthy && s.Healthy
	}
	return out, healthy
}
