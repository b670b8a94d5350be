// Package chain monitors RPC health for the target chain.
//
// The gatekeeper folds the latest telemetry snapshot into every risk
// evaluation context so factors can react to a degraded chain.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
)

// Telemetry exposes the latest health snapshot.
type Telemetry interface {
	Snapshot() (healthy bool, latency time.Duration)
}

// Config for the health monitor.
type Config struct {
	RPCURL       string
	PollInterval time.Duration
	// FailureThreshold is how many consecutive poll failures flip the
	// monitor to unhealthy.
	FailureThreshold int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:     15 * time.Second,
		FailureThreshold: 3,
	}
}

// Monitor polls the RPC endpoint and tracks health and latency.
type Monitor struct {
	client *ethclient.Client
	config Config
	logger *slog.Logger

	mu       sync.RWMutex
	healthy  bool
	latency  time.Duration
	failures int

	stop chan struct{}
}

// New creates a monitor connected to the configured RPC endpoint.
func New(cfg Config, logger *slog.Logger) (*Monitor, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}

	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	return &Monitor{
		client:  client,
		config:  cfg,
		logger:  logger,
		healthy: true, // optimistic until the first poll says otherwise
		stop:    make(chan struct{}),
	}, nil
}

// Snapshot returns the latest health flag and RPC latency.
func (m *Monitor) Snapshot() (bool, time.Duration) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthy, m.latency
}

// Start begins the poll loop. Call in a goroutine.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	m.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

// Stop signals the monitor to stop and closes the RPC client.
func (m *Monitor) Stop() {
	select {
	case m.stop <- struct{}{}:
	default:
	}
	m.client.Close()
}

func (m *Monitor) poll(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	start := time.Now()
	_, err := m.client.BlockNumber(pollCtx)
	elapsed := time.Since(start)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.latency = elapsed
	if err != nil {
		m.failures++
		if m.failures >= m.config.FailureThreshold && m.healthy {
			m.healthy = false
			m.logger.Warn("chain marked unhealthy",
				"failures", m.failures, "error", err)
		}
		return
	}

	if !m.healthy {
		m.logger.Info("chain recovered", "latency", elapsed)
	}
	m.failures = 0
	m.healthy = true
}

// StaticTelemetry is a fixed snapshot, used when no RPC monitor is running.
type StaticTelemetry struct {
	Healthy bool
	Latency time.Duration
}

func (s StaticTelemetry) Snapshot() (bool, time.Duration) {
	return s.Healthy, s.Latency
}
