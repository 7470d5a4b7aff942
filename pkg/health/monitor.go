// Package health keeps agent health flags current and prunes idle
// downstream sessions.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/airlock-ai/airlock/pkg/lifecycle"
	"github.com/airlock-ai/airlock/pkg/mcp"
	"github.com/airlock-ai/airlock/pkg/registry"
)

// Monitor probes every registered agent's /health endpoint on a fixed
// interval and prunes downstream sessions idle beyond the configured
// maximum.
type Monitor struct {
	agents   *registry.Registry
	sessions *mcp.Manager

	probeInterval time.Duration
	probeTimeout  time.Duration
	pruneInterval time.Duration
	idleMax       time.Duration

	client *http.Client

	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// Config bounds the monitor's two loops. Zero values select the defaults:
// 30 s probe interval, 5 s probe timeout, 5 min prune interval, 30 min idle
// maximum.
type Config struct {
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	PruneInterval time.Duration
	IdleMax       time.Duration
}

// NewMonitor creates a monitor; call Start to launch its loops.
func NewMonitor(agents *registry.Registry, sessions *mcp.Manager, cfg Config) *Monitor {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = 5 * time.Minute
	}
	if cfg.IdleMax <= 0 {
		cfg.IdleMax = 30 * time.Minute
	}
	return &Monitor{
		agents:        agents,
		sessions:      sessions,
		probeInterval: cfg.ProbeInterval,
		probeTimeout:  cfg.ProbeTimeout,
		pruneInterval: cfg.PruneInterval,
		idleMax:       cfg.IdleMax,
		client:        &http.Client{},
		logger:        slog.Default(),
	}
}

// Start launches the probe and prune loops. Calling Start on a running
// monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	lifecycle.Go("health-monitor", func() { m.loop(ctx) })
}

// Stop shuts the loops down and waits for them to exit.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	probeTicker := time.NewTicker(m.probeInterval)
	defer probeTicker.Stop()
	pruneTicker := time.NewTicker(m.pruneInterval)
	defer pruneTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-probeTicker.C:
			m.SweepOnce(ctx)
		case <-pruneTicker.C:
			m.sessions.PruneIdle(m.idleMax)
		}
	}
}

// SweepOnce probes every registered agent once. Exposed so tests and
// startup can trigger an immediate sweep.
func (m *Monitor) SweepOnce(ctx context.Context) {
	agents := m.agents.List()
	if len(agents) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, agent := range agents {
		wg.Add(1)
		go func(a registry.Agent) {
			defer wg.Done()
			healthy := m.probe(ctx, a.BaseURL)
			if err := m.agents.UpdateHealth(a.ID, healthy); err != nil {
				// Agent unregistered between List and the probe result.
				return
			}
			if !healthy {
				m.sessions.Invalidate(a.ID)
			}
		}(agent)
	}
	wg.Wait()
}

func (m *Monitor) probe(ctx context.Context, baseURL string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	url := strings.TrimRight(baseURL, "/") + "/health"
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
