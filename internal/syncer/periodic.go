package syncer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PeriodicSync is the handle of a running periodic timer.
type PeriodicSync struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop cancels the timer and waits for an in-flight tick to finish. It is safe
// to call more than once.
func (p *PeriodicSync) Stop() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		p.cancel()
		<-p.done
	})
}

// Done is closed once the timer loop has exited.
func (p *PeriodicSync) Done() <-chan struct{} {
	return p.done
}

// StartPeriodicSync replaces any running timer with a new one bound to ctx.
// Each tick runs a cycle only while the API client reports a session.
func (m *Manager) StartPeriodicSync(ctx context.Context) *PeriodicSync {
	m.periodicMu.Lock()
	defer m.periodicMu.Unlock()

	m.periodic.Stop()

	loopCtx, cancel := context.WithCancel(ctx)
	handle := &PeriodicSync{cancel: cancel, done: make(chan struct{})}
	m.periodic = handle
	go m.runPeriodic(loopCtx, handle.done)

	m.logger.Debug("periodic sync started", zap.Duration("interval", m.interval))
	return handle
}

// StopPeriodicSync stops the running timer, if any. Repeated calls are no-ops.
func (m *Manager) StopPeriodicSync() {
	m.periodicMu.Lock()
	defer m.periodicMu.Unlock()
	if m.periodic == nil {
		return
	}
	m.periodic.Stop()
	m.periodic = nil
	m.logger.Debug("periodic sync stopped")
}

func (m *Manager) runPeriodic(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.client.IsAuthenticated() {
				m.logger.Debug("periodic sync skipped: not authenticated")
				continue
			}
			m.PerformSync(ctx)
		}
	}
}
