package pool

import (
	"context"
	"sync"
)

// Group fans tasks out to a Pool and joins them.
type Group struct {
	pool *Pool
	ctx  context.Context
	wg   sync.WaitGroup

	mu   sync.Mutex
	errs []error
}

// NewGroup returns a Group bound to ctx. Tasks not yet started when ctx is
// done are skipped.
func (p *Pool) NewGroup(ctx context.Context) *Group {
	return &Group{pool: p, ctx: ctx}
}

// Go schedules task. A task that cannot be scheduled, or whose context is
// done before it starts, is recorded and reported by Wait.
func (g *Group) Go(task func()) {
	if err := g.ctx.Err(); err != nil {
		g.record(err)
		return
	}

	g.wg.Add(1)
	err := g.pool.Submit(func() {
		defer g.wg.Done()
		if err := g.ctx.Err(); err != nil {
			g.record(err)
			return
		}
		task()
	})
	if err != nil {
		g.wg.Done()
		g.record(err)
	}
}

func (g *Group) record(err error) {
	g.mu.Lock()
	g.errs = append(g.errs, err)
	g.mu.Unlock()
}

// Wait blocks until every scheduled task has returned and reports the
// tasks that never ran.
func (g *Group) Wait() []error {
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.errs
}
