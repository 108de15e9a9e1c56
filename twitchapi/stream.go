package twitchapi

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// StreamMonitor polls the live status of one channel and caches it for the
// uptime command and currency payouts.
type StreamMonitor struct {
	helix    *HelixClient
	login    string
	interval time.Duration

	mu        sync.RWMutex
	polled    bool
	live      bool
	startedAt time.Time
	title     string
}

// NewStreamMonitor returns a monitor for login polling every interval
// (default 1m).
func NewStreamMonitor(helix *HelixClient, login string, interval time.Duration) *StreamMonitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &StreamMonitor{helix: helix, login: login, interval: interval}
}

// Poll fetches the stream status once and logs live/offline transitions.
func (m *StreamMonitor) Poll(ctx context.Context) error {
	s, err := m.helix.GetStream(ctx, m.login)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	wasLive := m.live
	m.polled = true
	if s == nil {
		m.live, m.startedAt, m.title = false, time.Time{}, ""
		if wasLive {
			slog.Info("stream went offline", slog.String("channel", m.login), slog.String("component", "stream_monitor"))
		}
		return nil
	}
	m.live, m.startedAt, m.title = true, s.StartedAt.UTC(), s.Title
	if !wasLive {
		slog.Info("stream is live", slog.String("channel", m.login), slog.Time("started_at", m.startedAt), slog.String("component", "stream_monitor"))
	}
	return nil
}

// Run polls until ctx is done.
func (m *StreamMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	slog.Info("stream monitor: started poller", slog.Duration("interval", m.interval))
	for {
		if err := m.Poll(ctx); err != nil && ctx.Err() == nil {
			slog.Debug("stream monitor: streams req", slog.Any("err", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *StreamMonitor) ensurePolled(ctx context.Context) error {
	m.mu.RLock()
	polled := m.polled
	m.mu.RUnlock()
	if polled {
		return nil
	}
	return m.Poll(ctx)
}

// IsLive reports the cached live status, polling once if nothing is cached.
func (m *StreamMonitor) IsLive(ctx context.Context) (bool, error) {
	if err := m.ensurePolled(ctx); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live, nil
}

// StreamStartedAt returns when the current stream started and whether the
// channel is live.
func (m *StreamMonitor) StreamStartedAt(ctx context.Context) (time.Time, bool, error) {
	if err := m.ensurePolled(ctx); err != nil {
		return time.Time{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.startedAt, m.live, nil
}

// Title returns the title of the live stream, or "" when offline.
func (m *StreamMonitor) Title() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.title
}
