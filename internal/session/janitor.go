package session

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const DefaultSweepInterval = 30 * time.Second

// Janitor sweeps idle sessions on a fixed cadence.
type Janitor struct {
	cron *cron.Cron
}

func NewJanitor(registry *Registry, interval time.Duration) (*Janitor, error) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	c := cron.New()
	expr := fmt.Sprintf("@every %s", interval)
	if _, err := c.AddFunc(expr, func() {
		if n := registry.Sweep(); n > 0 {
			slog.Info("evicted idle sessions", "count", n, "remaining", registry.Count())
		}
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule session sweep %q: %w", expr, err)
	}
	return &Janitor{cron: c}, nil
}

func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}
