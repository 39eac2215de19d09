// Package connectivity watches whether the authoritative remote store is
// reachable and publishes edge-triggered online/offline events on the device
// bus. The wallet service reads the latest state synchronously; the
// reconciliation worker reacts to the events.
package connectivity

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"walletd/internal/model"
)

// Prober is the reachability check, satisfied by the remote store client.
type Prober interface {
	Ping(ctx context.Context) error
}

type Publisher interface {
	Publish(subject string, data []byte) error
}

type Monitor struct {
	probe    Prober
	bus      Publisher
	interval time.Duration
	log      *slog.Logger

	online atomic.Bool
}

func NewMonitor(probe Prober, bus Publisher, interval time.Duration, log *slog.Logger) *Monitor {
	return &Monitor{probe: probe, bus: bus, interval: interval, log: log}
}

// Online reports the state observed by the most recent probe.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Start probes immediately, then on every tick, until the context is
// cancelled. Transitions are published; steady state is silent.
func (m *Monitor) Start(ctx context.Context) error {
	m.check(ctx, true)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.check(ctx, false)
		}
	}
}

func (m *Monitor) Stop(ctx context.Context) error {
	return nil
}

func (m *Monitor) check(ctx context.Context, first bool) {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	nowOnline := m.probe.Ping(probeCtx) == nil
	wasOnline := m.online.Swap(nowOnline)

	if !first && nowOnline == wasOnline {
		return
	}

	m.log.Info("connectivity state", "online", nowOnline)
	data, err := json.Marshal(model.ConnectivityEvent{Online: nowOnline, At: time.Now().UTC()})
	if err != nil {
		return
	}
	if err := m.bus.Publish(model.SubjectConnectivity, data); err != nil {
		m.log.Warn("connectivity event publish failed", "error", err)
	}
}
