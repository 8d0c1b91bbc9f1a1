package rituals

import (
	"context"
	"sync"
	"time"

	"github.com/elijahnyp/home_bridge/util"
)

// Coordinator keeps the latest data of one diffuser and tells its sensors
// when it changed. Vendor errors end here.
type Coordinator struct {
	client   *Client
	interval time.Duration

	mu          sync.RWMutex
	diffuser    *Diffuser
	lastSuccess bool
	lastUpdate  time.Time
	lastErr     error
	listeners   []func()
}

func NewCoordinator(client *Client, diffuser *Diffuser, interval time.Duration) *Coordinator {
	return &Coordinator{
		client:      client,
		interval:    interval,
		diffuser:    diffuser,
		lastSuccess: true,
	}
}

func (c *Coordinator) Diffuser() *Diffuser {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.diffuser
}

func (c *Coordinator) LastUpdateSuccess() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSuccess
}

func (c *Coordinator) LastUpdate() (time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate, c.lastErr
}

func (c *Coordinator) AddListener(fn func()) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Refresh fetches the diffuser and notifies the listeners whether or not
// the fetch worked.
func (c *Coordinator) Refresh(ctx context.Context) error {
	hublot := c.Diffuser().Hublot()
	fresh, err := c.client.Refresh(ctx, hublot)

	c.mu.Lock()
	c.lastUpdate = time.Now()
	c.lastErr = err
	if err != nil {
		if c.lastSuccess {
			util.Logger.Warn().Msgf("Error fetching rituals %s data: %v", hublot, err)
		}
		c.lastSuccess = false
	} else {
		if !c.lastSuccess {
			util.Logger.Info().Msgf("Fetching rituals %s data recovered", hublot)
		}
		c.diffuser = fresh
		c.lastSuccess = true
	}
	listeners := make([]func(), len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, l := range listeners {
		l()
	}
	return err
}

// Run refreshes on the coordinator's interval until ctx ends.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.Refresh(ctx)
		}
	}
}
