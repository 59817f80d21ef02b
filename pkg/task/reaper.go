package task

import (
	"context"
	"time"

	"github.com/harun/superninja/internal/observability"
	"github.com/harun/superninja/pkg/cron"
	"github.com/harun/superninja/pkg/failure"
)

const reaperJob = "task-reaper"

// ReapStale fails every running task that started more than threshold ago
// and releases its agent. In-flight model calls are left alone; their
// results are discarded when they arrive.
func (m *Manager) ReapStale(ctx context.Context, threshold time.Duration) []string {
	cutoff := m.now().Add(-threshold)

	m.mu.RLock()
	recs := make([]*record, 0, len(m.records))
	for _, r := range m.records {
		recs = append(recs, r)
	}
	m.mu.RUnlock()

	var reaped []string
	for _, r := range recs {
		r.mu.Lock()
		if r.rec.State != StateRunning || !r.rec.StartedAt.Before(cutoff) {
			r.mu.Unlock()
			continue
		}
		r.rec.Error = &ErrorInfo{
			Kind:   failure.KindTaskTimeout,
			Detail: "task exceeded " + threshold.String() + " without finishing",
		}
		m.transition(ctx, r, StateFailed)
		taskID := r.rec.ID
		handle := r.handle
		r.handle = nil
		r.mu.Unlock()

		if handle != nil {
			m.agents.ReleaseTimedOut(handle.Agent().Type, taskID)
		}
		reaped = append(reaped, taskID)
	}

	if len(reaped) > 0 {
		observability.RecordTasksReaped(len(reaped))
		m.logger.Warn().Int("count", len(reaped)).Dur("threshold", threshold).Msg("Reaped stale tasks")
	}
	return reaped
}

// StartReaper runs ReapStale every interval until Stop is called.
func (m *Manager) StartReaper(interval, threshold time.Duration) error {
	m.reaperMu.Lock()
	defer m.reaperMu.Unlock()
	if m.reaper != nil {
		return failure.Validation("reaper is already running")
	}

	s := cron.New(m.logger)
	if err := s.Every(reaperJob, interval, func(ctx context.Context) {
		m.ReapStale(ctx, threshold)
	}); err != nil {
		return failure.Wrap(failure.KindValidation, err, "invalid reaper schedule")
	}
	s.Start()
	m.reaper = s

	m.logger.Info().Dur("interval", interval).Dur("threshold", threshold).Msg("Task reaper started")
	return nil
}

// Stop halts the reaper, waiting for a running sweep until ctx is done.
func (m *Manager) Stop(ctx context.Context) error {
	m.reaperMu.Lock()
	s := m.reaper
	m.reaper = nil
	m.reaperMu.Unlock()
	if s == nil {
		return nil
	}
	return s.Stop(ctx)
}
