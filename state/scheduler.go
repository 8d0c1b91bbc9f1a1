package state

import (
	"context"
	"sync"
	"time"

	"github.com/elijahnyp/home_bridge/runner"
	"github.com/elijahnyp/home_bridge/util"
)

// Scheduler polls the entities of one source on a fixed interval.
type Scheduler struct {
	registry *Registry
	executor runner.Executor
	source   string

	mu       sync.Mutex
	interval time.Duration
	reset    chan struct{}
}

func NewScheduler(registry *Registry, executor runner.Executor, source string, interval time.Duration) *Scheduler {
	return &Scheduler{
		registry: registry,
		executor: executor,
		source:   source,
		interval: interval,
		reset:    make(chan struct{}, 1),
	}
}

func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// SetInterval takes effect on the running loop immediately.
func (s *Scheduler) SetInterval(d time.Duration) {
	s.mu.Lock()
	changed := d != s.interval
	s.interval = d
	s.mu.Unlock()
	if changed {
		select {
		case s.reset <- struct{}{}:
		default:
		}
	}
}

// Run polls once, then on every tick until ctx ends.
func (s *Scheduler) Run(ctx context.Context) {
	s.Tick(ctx)
	for {
		interval := s.Interval()
		if interval <= 0 {
			util.Logger.Warn().Msgf("%s: no scan interval, polling stopped", s.source)
			select {
			case <-ctx.Done():
				return
			case <-s.reset:
				continue
			}
		}
		ticker := time.NewTicker(interval)
		util.Logger.Debug().Msgf("%s: polling every %v", s.source, interval)
	loop:
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-s.reset:
				break loop
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
		ticker.Stop()
	}
}

// Tick submits an update of every polled entity. It does not wait for the
// updates to finish.
func (s *Scheduler) Tick(ctx context.Context) {
	for _, e := range s.registry.BySource(s.source) {
		if !e.Polled() {
			continue
		}
		id := e.Info().EntityID()
		if !s.registry.begin(id) {
			util.Logger.Warn().Msgf("Updating %s is taking longer than the scheduled update interval %v", id, s.Interval())
			continue
		}
		err := s.executor.Execute(ctx, func(ctx context.Context) {
			defer s.registry.end(id)
			if err := e.Update(ctx); err != nil {
				util.Logger.Warn().Msgf("Error updating %s: %v", id, err)
			}
			s.registry.Publish(id)
		})
		if err != nil {
			s.registry.end(id)
			util.Logger.Debug().Msgf("%s: tick abandoned: %v", s.source, err)
			return
		}
	}
}
