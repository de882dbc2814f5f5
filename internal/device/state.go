package device

import (
	"fmt"
	"math"
	"sync"
	"time"

	"pellet_dispenser/internal/models"
	"pellet_dispenser/internal/protocol"
)

const (
	DefaultHopperCapacity = 100.0
	// RefillThreshold is the fill ratio below which the refill latch is set.
	RefillThreshold = 0.10
)

// StateMachine owns the DeviceState of one session. All mutations and
// derived reads run under mu; notifications are delivered in mutation order
// while mu is already released, so observers may read Snapshot.
type StateMachine struct {
	mu       sync.Mutex
	notifyMu sync.Mutex
	now      func() time.Time

	running           bool
	refillNeeded      bool
	hopperWeight      float64
	hopperCapacity    float64
	pourInterval      int
	lastPour          *time.Time
	calibrationWeight float64
	pourWeight        float64
	updatedAt         time.Time

	observers observerSet
}

// NewStateMachine returns a state machine with a full hopper of default
// capacity and automatic timing disabled. A nil now uses time.Now.
func NewStateMachine(now func() time.Time) *StateMachine {
	if now == nil {
		now = time.Now
	}
	return &StateMachine{
		now:            now,
		hopperWeight:   DefaultHopperCapacity,
		hopperCapacity: DefaultHopperCapacity,
		updatedAt:      now(),
	}
}

// Subscribe registers fn for every subsequent change. The returned func
// removes it and is safe to call more than once.
func (s *StateMachine) Subscribe(fn Observer) func() {
	return s.observers.add(fn)
}

// ApplyEvent applies a parsed device event. TimingInfo and Unrecognized
// leave the record untouched but are still published.
func (s *StateMachine) ApplyEvent(ev protocol.Event) {
	s.mutate(Change{Cause: CauseEvent, Event: ev}, func(now time.Time) {
		switch e := ev.(type) {
		case protocol.SystemStarted:
			s.startLocked(now)
		case protocol.SystemStopped:
			s.stopLocked()
		case protocol.RefillRequired:
			s.refillNeeded = true
		case protocol.RefillCleared:
			s.refillNeeded = false
		case protocol.PourOccurred:
			amount := s.pourWeight
			if e.Amount != nil {
				amount = *e.Amount
			}
			if amount > 0 {
				s.hopperWeight = math.Max(0, s.hopperWeight-amount)
				if s.running && s.pourInterval > 0 {
					s.lastPour = &now
				}
				s.latchLocked()
			}
		case protocol.WeightReading:
			s.hopperWeight = clamp(e.Grams, 0, s.hopperCapacity)
			s.latchLocked()
		}
	})
}

// ApplyCommand performs the local update anticipated by a command that has
// been written to the device. start and stop act as if the device had
// echoed them; parameterized commands store the commanded value.
func (s *StateMachine) ApplyCommand(cmd Command) {
	ch := Change{Cause: CauseCommand, Command: cmd.String()}
	switch cmd.Name {
	case CmdStart:
		ch.Event = protocol.SystemStarted{}
	case CmdStop:
		ch.Event = protocol.SystemStopped{}
	}
	s.mutate(ch, func(now time.Time) {
		switch cmd.Name {
		case CmdStart:
			s.startLocked(now)
		case CmdStop:
			s.stopLocked()
		case CmdSetCalibration:
			s.setCalibrationLocked(cmd.Value)
		case CmdSetPourWeight:
			s.setPourWeightLocked(cmd.Value)
		case CmdSetInterval:
			s.setPourIntervalLocked(int(cmd.Value))
		case CmdSetCapacity:
			s.setCapacityLocked(cmd.Value)
		}
	})
}

// SetCapacity sets the hopper capacity and clamps the weight to it.
func (s *StateMachine) SetCapacity(grams float64) error {
	if !(grams > 0) || math.IsInf(grams, 0) {
		return fmt.Errorf("%w: hopper capacity must be positive, got %v", ErrInvalidParameter, grams)
	}
	s.mutate(Change{Cause: CauseConfig}, func(time.Time) {
		s.setCapacityLocked(grams)
	})
	return nil
}

// SetPourInterval sets the automatic pour interval; 0 disables timing.
func (s *StateMachine) SetPourInterval(seconds int) error {
	if seconds < 0 {
		return fmt.Errorf("%w: pour interval must not be negative, got %d", ErrInvalidParameter, seconds)
	}
	s.mutate(Change{Cause: CauseConfig}, func(time.Time) {
		s.setPourIntervalLocked(seconds)
	})
	return nil
}

func (s *StateMachine) SetCalibration(grams float64) error {
	if err := checkWeight("calibration weight", grams); err != nil {
		return err
	}
	s.mutate(Change{Cause: CauseConfig}, func(time.Time) {
		s.setCalibrationLocked(grams)
	})
	return nil
}

func (s *StateMachine) SetPourWeight(grams float64) error {
	if err := checkWeight("pour weight", grams); err != nil {
		return err
	}
	s.mutate(Change{Cause: CauseConfig}, func(time.Time) {
		s.setPourWeightLocked(grams)
	})
	return nil
}

// RecordManualRefill marks the hopper as full without any device echo.
func (s *StateMachine) RecordManualRefill() {
	s.mutate(Change{Cause: CauseRefill}, func(time.Time) {
		s.hopperWeight = s.hopperCapacity
		s.refillNeeded = false
	})
}

// RemainingPourSeconds returns the seconds until the next automatic pour.
// 0 means not applicable when the device is stopped or timing is off.
func (s *StateMachine) RemainingPourSeconds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remainingLocked(s.now())
}

func (s *StateMachine) FillRatio() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fillRatioLocked()
}

// Snapshot returns a consistent copy of the record with derived values.
func (s *StateMachine) Snapshot() models.DeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *StateMachine) mutate(ch Change, fn func(now time.Time)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	now := s.now()
	fn(now)
	s.updatedAt = now
	ch.State = s.snapshotLocked()
	s.mu.Unlock()

	s.observers.notify(ch)
}

func (s *StateMachine) startLocked(now time.Time) {
	s.running = true
	if s.pourInterval > 0 {
		s.lastPour = &now
	}
}

func (s *StateMachine) stopLocked() {
	s.running = false
	s.lastPour = nil
}

func (s *StateMachine) setCapacityLocked(grams float64) {
	s.hopperCapacity = grams
	if s.hopperWeight > grams {
		s.hopperWeight = grams
	}
	s.latchLocked()
}

func (s *StateMachine) setPourIntervalLocked(seconds int) {
	s.pourInterval = seconds
}

func (s *StateMachine) setCalibrationLocked(grams float64) {
	s.calibrationWeight = grams
}

func (s *StateMachine) setPourWeightLocked(grams float64) {
	s.pourWeight = grams
}

// latchLocked only ever sets the flag. Clearing takes RefillCleared or a
// manual refill.
func (s *StateMachine) latchLocked() {
	if s.fillRatioLocked() < RefillThreshold {
		s.refillNeeded = true
	}
}

func (s *StateMachine) fillRatioLocked() float64 {
	if s.hopperCapacity <= 0 {
		return 0
	}
	return clamp(s.hopperWeight/s.hopperCapacity, 0, 1)
}

func (s *StateMachine) remainingLocked(now time.Time) int {
	if !s.running || s.pourInterval == 0 || s.lastPour == nil {
		return 0
	}
	elapsed := int(now.Sub(*s.lastPour) / time.Second)
	return max(0, s.pourInterval-elapsed)
}

func (s *StateMachine) snapshotLocked() models.DeviceState {
	st := models.DeviceState{
		Running:             s.running,
		RefillNeeded:        s.refillNeeded,
		HopperWeight:        s.hopperWeight,
		HopperCapacity:      s.hopperCapacity,
		PourIntervalSeconds: s.pourInterval,
		CalibrationWeight:   s.calibrationWeight,
		PourWeight:          s.pourWeight,
		RemainingSeconds:    s.remainingLocked(s.now()),
		FillRatio:           s.fillRatioLocked(),
		UpdatedAt:           s.updatedAt,
	}
	if s.lastPour != nil {
		t := *s.lastPour
		st.LastPourAt = &t
	}
	return st
}

func checkWeight(name string, grams float64) error {
	if grams < 0 || math.IsNaN(grams) || math.IsInf(grams, 0) {
		return fmt.Errorf("%w: %s must not be negative, got %v", ErrInvalidParameter, name, grams)
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}
