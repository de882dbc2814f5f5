package device

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"pellet_dispenser/internal/protocol"
)

const (
	DefaultSimulatorTick = time.Second

	simulatedPourWeight = 5.0
)

// SimulatorDialer opens an in-memory transport that behaves like the
// dispenser firmware. The port name is ignored.
type SimulatorDialer struct {
	// Tick is how often the automatic pour timer is checked.
	Tick time.Duration
	// ReadTimeout is how long Read waits for output before returning 0, nil.
	ReadTimeout time.Duration
	Clock       func() time.Time
}

func (d SimulatorDialer) Dial(ctx context.Context, port string) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sim := newSimulator(d.ReadTimeout, d.Clock)
	tick := d.Tick
	if tick <= 0 {
		tick = DefaultSimulatorTick
	}
	go sim.run(tick)
	return sim, nil
}

type simulator struct {
	mu          sync.Mutex
	out         bytes.Buffer
	in          protocol.LineAssembler
	ready       chan struct{}
	done        chan struct{}
	closed      bool
	readTimeout time.Duration
	now         func() time.Time

	running     bool
	weight      float64
	capacity    float64
	pourWeight  float64
	calibration float64
	interval    int
	alarm       bool
	lastPour    time.Time
	lowReported bool
}

func newSimulator(readTimeout time.Duration, now func() time.Time) *simulator {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	if now == nil {
		now = time.Now
	}
	return &simulator{
		ready:       make(chan struct{}, 1),
		done:        make(chan struct{}),
		readTimeout: readTimeout,
		now:         now,
		weight:      DefaultHopperCapacity,
		capacity:    DefaultHopperCapacity,
		pourWeight:  simulatedPourWeight,
	}
}

func (s *simulator) run(tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			s.step(s.now())
		}
	}
}

// step performs an automatic pour when the interval has elapsed.
func (s *simulator) step(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.interval <= 0 || s.closed {
		return
	}
	if now.Sub(s.lastPour) < time.Duration(s.interval)*time.Second {
		return
	}
	s.pourLocked(now, "Poured: %.1fg")
}

func (s *simulator) Read(p []byte) (int, error) {
	timer := time.NewTimer(s.readTimeout)
	defer timer.Stop()
	for {
		s.mu.Lock()
		if s.out.Len() > 0 {
			n, _ := s.out.Read(p)
			s.mu.Unlock()
			return n, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return 0, io.EOF
		}

		select {
		case <-s.ready:
		case <-s.done:
			return 0, io.EOF
		case <-timer.C:
			return 0, nil
		}
	}
}

func (s *simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	for line := range s.in.Feed(p) {
		s.handleLocked(line)
	}
	return len(p), nil
}

func (s *simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	return nil
}

func (s *simulator) handleLocked(line string) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return
	}
	now := s.now()

	switch name := fields[0]; name {
	case CmdStart:
		s.running = true
		s.lastPour = now
		s.emitLocked("System started")
	case CmdStop:
		s.running = false
		s.emitLocked("System stopped")
	case CmdManualPour:
		s.pourLocked(now, "Manual pour dispensed: %.1fg")
	case CmdCalibrate:
		s.emitLocked("Calibration complete")
		s.emitLocked("Current weight: %.1fg", s.weight)
	case CmdStatus:
		s.emitLocked("Current weight: %.1fg", s.weight)
		if s.weight/s.capacity < RefillThreshold {
			s.emitLocked("Refill needed")
		} else {
			s.emitLocked("Refill:N")
		}
		if s.running && s.interval > 0 {
			left := s.interval - int(now.Sub(s.lastPour)/time.Second)
			s.emitLocked("Next pour in %ds", max(0, left))
		}
	case CmdAlarmOn:
		s.alarm = true
		s.emitLocked("Alarm enabled")
	case CmdAlarmOff:
		s.alarm = false
		s.emitLocked("Alarm disabled")
	case CmdSetCalibration, CmdSetPourWeight, CmdSetInterval, CmdSetCapacity:
		v, ok := simValue(fields)
		if !ok {
			s.emitLocked("Invalid value: %s", line)
			return
		}
		s.configureLocked(name, v)
	default:
		s.emitLocked("Unknown command: %s", line)
	}
}

func (s *simulator) configureLocked(name string, v float64) {
	switch name {
	case CmdSetCalibration:
		s.calibration = v
		s.emitLocked("Calibration set to %.1f", v)
	case CmdSetPourWeight:
		s.pourWeight = v
		s.emitLocked("Pour amount set to %.1f", v)
	case CmdSetInterval:
		s.interval = int(v)
		s.emitLocked("Interval set to %d s", s.interval)
	case CmdSetCapacity:
		if v <= 0 {
			s.emitLocked("Invalid value: hopper %v", v)
			return
		}
		s.capacity = v
		s.weight = math.Min(s.weight, v)
		s.emitLocked("Hopper capacity set to %.1f", v)
	}
}

func (s *simulator) pourLocked(now time.Time, format string) {
	amount := s.pourWeight
	s.weight = math.Max(0, s.weight-amount)
	s.lastPour = now
	s.emitLocked(format, amount)
	s.emitLocked("Current weight: %.1fg", s.weight)
	low := s.weight/s.capacity < RefillThreshold
	if low && !s.lowReported {
		s.emitLocked("Refill needed")
	}
	s.lowReported = low
}

func (s *simulator) emitLocked(format string, args ...any) {
	fmt.Fprintf(&s.out, format, args...)
	s.out.WriteByte('\n')
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func simValue(fields []string) (float64, bool) {
	if len(fields) != 2 {
		return 0, false
	}
	v, err := strconv.ParseFloat(fields[1], 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
