package service

import (
	"context"
	"time"

	"pellet_dispenser/internal/device"
	"pellet_dispenser/internal/models"
)

type MonitoringService struct {
	ctrl Controller
}

func NewMonitoringService(ctrl Controller) *MonitoringService {
	return &MonitoringService{ctrl: ctrl}
}

// GetState returns the live snapshot, or the disconnected defaults.
func (s *MonitoringService) GetState(ctx context.Context) (models.DeviceState, error) {
	if err := ctx.Err(); err != nil {
		return models.DeviceState{}, err
	}
	return normalizeState(s.ctrl.CurrentState()), nil
}

// Subscribe calls fn with every new snapshot. fn runs on the notifying
// goroutine and must not block.
func (s *MonitoringService) Subscribe(fn func(models.DeviceState)) func() {
	return s.ctrl.Subscribe(func(ch device.Change) {
		fn(normalizeState(ch.State))
	})
}

func normalizeState(st models.DeviceState) models.DeviceState {
	st.UpdatedAt = toUTC(st.UpdatedAt)
	if st.LastPourAt != nil {
		t := st.LastPourAt.UTC()
		st.LastPourAt = &t
	}
	return st
}

// toUTC normalizes non-zero time to UTC, preserving zero values.
func toUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}
