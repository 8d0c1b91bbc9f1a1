package runner

import (
	"context"
	"sync"

	"github.com/elijahnyp/home_bridge/util"
	"github.com/korovkin/limiter"
)

// Executor runs blocking jobs off the caller's goroutine.
type Executor interface {
	// Execute schedules job. It returns once the job holds a slot, or
	// with ctx's error if ctx ends first; the job then still runs later
	// with the ended ctx.
	Execute(ctx context.Context, job func(ctx context.Context)) error
}

// Pool is an Executor with a fixed number of concurrent slots.
type Pool struct {
	limit   *limiter.ConcurrencyLimiter
	workers int
	jobs    sync.WaitGroup
}

func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		limit:   limiter.NewConcurrencyLimiter(workers),
		workers: workers,
	}
}

func (p *Pool) Workers() int {
	return p.workers
}

func (p *Pool) Execute(ctx context.Context, job func(ctx context.Context)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	acquired := make(chan struct{})
	p.jobs.Add(1)
	go p.limit.ExecuteWithTicket(func(ticket int) {
		defer p.jobs.Done()
		close(acquired)
		util.Logger.Trace().Msgf("executor slot %d: start", ticket)
		job(ctx)
		util.Logger.Trace().Msgf("executor slot %d: done", ticket)
	})
	select {
	case <-acquired:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every scheduled job has finished. The pool stays
// usable.
func (p *Pool) Wait() {
	p.jobs.Wait()
}

// Close waits for the running jobs and retires the pool's slots. Execute
// must not be called afterwards.
func (p *Pool) Close() {
	p.jobs.Wait()
	p.limit.Wait()
}

// Inline runs jobs on the calling goroutine. The CLI uses it for one-shot
// commands.
type Inline struct{}

func (Inline) Execute(ctx context.Context, job func(ctx context.Context)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	job(ctx)
	return nil
}

// Submit runs fn on ex and waits for its value or for ctx to end.
func Submit[T any](ctx context.Context, ex Executor, fn func(ctx context.Context) T) (T, error) {
	done := make(chan T, 1)
	var zero T
	if err := ex.Execute(ctx, func(ctx context.Context) {
		done <- fn(ctx)
	}); err != nil {
		return zero, err
	}
	select {
	case v := <-done:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
