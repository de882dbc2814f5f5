package device

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"pellet_dispenser/internal/protocol"
)

type fixedDialer struct {
	t   Transport
	err error
}

func (d fixedDialer) Dial(context.Context, string) (Transport, error) {
	return d.t, d.err
}

func newTestController(t *testing.T, tr Transport) (*Controller, chan Change) {
	t.Helper()
	c := NewController(Config{
		Dialer:       fixedDialer{t: tr},
		PollInterval: time.Millisecond,
	})
	changes := make(chan Change, 64)
	c.Subscribe(func(ch Change) { changes <- ch })
	return c, changes
}

func waitForChange(t *testing.T, changes <-chan Change, match func(Change) bool) Change {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ch := <-changes:
			if match(ch) {
				return ch
			}
		case <-deadline:
			t.Fatal("timed out waiting for state change")
			return Change{}
		}
	}
}

func TestControllerAppliesDeviceLines(t *testing.T) {
	tr := newTestTransport()
	c, changes := newTestController(t, tr)

	if err := c.Connect(context.Background(), "/dev/ttyUSB0"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Disconnect() })

	connected := waitForChange(t, changes, func(ch Change) bool { return ch.Cause == CauseConnected })
	if !connected.State.Connected || connected.State.HopperWeight != 100 {
		t.Fatalf("unexpected connected state %+v", connected.State)
	}

	// Split mid-line to exercise reassembly across reads.
	tr.push("System sta")
	tr.push("rted\nPoured: 9")
	tr.push("5g\nxyz unexpected noise\n")

	ch := waitForChange(t, changes, func(ch Change) bool { return ch.State.RefillNeeded })
	if ch.State.HopperWeight != 5 || !ch.State.Running || !ch.State.Connected {
		t.Fatalf("unexpected state %+v", ch.State)
	}

	waitForChange(t, changes, func(ch Change) bool {
		return ch.Cause == CauseEvent && ch.Event.Kind() == protocol.KindUnrecognized
	})
	if st := c.CurrentState(); st.HopperWeight != 5 || c.Port() != "/dev/ttyUSB0" {
		t.Fatalf("noise must not change state, got %+v", st)
	}
}

func TestControllerConnectTwice(t *testing.T) {
	c, _ := newTestController(t, newTestTransport())
	if err := c.Connect(context.Background(), "a"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	if err := c.Connect(context.Background(), "b"); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestControllerDisconnected(t *testing.T) {
	c, _ := newTestController(t, newTestTransport())

	err := c.Dispatch(context.Background(), "start")
	if !errors.Is(err, ErrNotConnected) || !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrNotConnected as a transport error, got %v", err)
	}
	if err := c.Refill(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Refill: expected ErrNotConnected, got %v", err)
	}
	if err := c.Disconnect(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Disconnect: expected ErrNotConnected, got %v", err)
	}

	st := c.CurrentState()
	if st.Connected || st.HopperWeight != 100 || st.HopperCapacity != 100 {
		t.Fatalf("expected idle defaults, got %+v", st)
	}
}

func TestControllerDispatchWritesCommand(t *testing.T) {
	tr := newTestTransport()
	c, changes := newTestController(t, tr)
	if err := c.Connect(context.Background(), "p"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	if err := c.Dispatch(context.Background(), "pour", "5.2"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if err := c.Dispatch(context.Background(), "status"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := tr.writtenString(); got != "pour 5.2\nstatus\n" {
		t.Fatalf("unexpected bytes written %q", got)
	}

	ch := waitForChange(t, changes, func(ch Change) bool { return ch.Cause == CauseCommand && ch.Command == "pour 5.2" })
	if ch.State.PourWeight != 5.2 {
		t.Fatalf("expected pour weight 5.2, got %v", ch.State.PourWeight)
	}
}

func TestControllerInvalidCommandWritesNothing(t *testing.T) {
	tr := newTestTransport()
	c, _ := newTestController(t, tr)
	if err := c.Connect(context.Background(), "p"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()
	before := c.CurrentState()

	if err := c.Dispatch(context.Background(), "hopper", "-5"); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
	if err := c.Dispatch(context.Background(), "explode"); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
	if tr.writtenString() != "" {
		t.Fatalf("nothing should be written, got %q", tr.writtenString())
	}
	if after := c.CurrentState(); after.HopperCapacity != before.HopperCapacity {
		t.Fatalf("state changed: %+v", after)
	}
}

// Optimistic start is never reconciled: with no "System started" echo the
// state still reports running.
func TestControllerOptimisticStartIsNotRolledBack(t *testing.T) {
	tr := newTestTransport()
	c, _ := newTestController(t, tr)
	if err := c.Connect(context.Background(), "p"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	if err := c.Dispatch(context.Background(), "start"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	tr.push("Current weight: 80g\n")
	time.Sleep(20 * time.Millisecond)

	if !c.CurrentState().Running {
		t.Fatal("known gap: optimistic start is expected to stick without device echo")
	}
}

func TestControllerWriteFailureEndsSession(t *testing.T) {
	tr := newTestTransport()
	c, changes := newTestController(t, tr)
	if err := c.Connect(context.Background(), "p"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	tr.failWrites(errors.New("device unplugged"))

	err := c.Dispatch(context.Background(), "start")
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}

	ch := waitForChange(t, changes, func(ch Change) bool { return ch.Cause == CauseTransportError })
	if ch.State.Connected || !errors.Is(ch.Err, ErrTransport) {
		t.Fatalf("unexpected change %+v", ch)
	}
	if c.CurrentState().Connected || c.CurrentState().Running {
		t.Fatal("write failure must leave the controller disconnected and untouched by the command")
	}
	if tr.closeCount() == 0 {
		t.Fatal("transport was not closed")
	}
}

func TestControllerReadFailureEndsSession(t *testing.T) {
	tr := newTestTransport()
	c, changes := newTestController(t, tr)
	if err := c.Connect(context.Background(), "p"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	tr.readErr <- errors.New("i/o error")

	ch := waitForChange(t, changes, func(ch Change) bool { return ch.Cause == CauseTransportError })
	if !errors.Is(ch.Err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", ch.Err)
	}
	if err := c.Disconnect(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected session to be gone, got %v", err)
	}
}

func TestControllerDisconnect(t *testing.T) {
	tr := newTestTransport()
	c, changes := newTestController(t, tr)
	if err := c.Connect(context.Background(), "p"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	tr.push("Current weight: 20g\n")
	waitForChange(t, changes, func(ch Change) bool { return ch.State.HopperWeight == 20 })

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	ch := waitForChange(t, changes, func(ch Change) bool { return ch.Cause == CauseDisconnected })
	if ch.State.Connected || ch.State.HopperWeight != 100 {
		t.Fatalf("state must be discarded on disconnect, got %+v", ch.State)
	}
	if tr.closeCount() != 1 {
		t.Fatalf("expected one close, got %d", tr.closeCount())
	}
	if c.Port() != "" {
		t.Fatalf("expected no port, got %q", c.Port())
	}
}

func TestControllerRefill(t *testing.T) {
	tr := newTestTransport()
	c, changes := newTestController(t, tr)
	if err := c.Connect(context.Background(), "p"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	tr.push("Poured: 95g\n")
	waitForChange(t, changes, func(ch Change) bool { return ch.State.RefillNeeded })

	if err := c.Refill(); err != nil {
		t.Fatalf("Refill: %v", err)
	}
	if st := c.CurrentState(); st.RefillNeeded || st.HopperWeight != 100 {
		t.Fatalf("unexpected state after refill %+v", st)
	}
	if tr.writtenString() != "" {
		t.Fatal("manual refill must not contact the device")
	}
}

func TestControllerWithMockTransport(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl)
	dialer := NewMockDialer(ctrl)

	dialer.EXPECT().Dial(gomock.Any(), "/dev/ttyACM0").Return(tr, nil)
	tr.EXPECT().Read(gomock.Any()).Return(0, nil).AnyTimes()
	tr.EXPECT().Write([]byte("start\n")).Return(6, nil)
	tr.EXPECT().Write([]byte("time 30\n")).Return(8, nil)
	tr.EXPECT().Close().Return(nil)

	c := NewController(Config{Dialer: dialer, PollInterval: time.Millisecond})
	if err := c.Connect(context.Background(), "/dev/ttyACM0"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Dispatch(context.Background(), "time", "30"); err != nil {
		t.Fatalf("Dispatch time: %v", err)
	}
	if err := c.Dispatch(context.Background(), "start"); err != nil {
		t.Fatalf("Dispatch start: %v", err)
	}

	st := c.CurrentState()
	if !st.Running || st.PourIntervalSeconds != 30 || st.RemainingSeconds != 30 {
		t.Fatalf("unexpected state %+v", st)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
}

func TestControllerDialFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	dialer := NewMockDialer(ctrl)
	dialer.EXPECT().Dial(gomock.Any(), "missing").Return(nil, io.ErrUnexpectedEOF)

	c := NewController(Config{Dialer: dialer})
	err := c.Connect(context.Background(), "missing")
	if !errors.Is(err, ErrTransport) || !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
	if c.CurrentState().Connected {
		t.Fatal("failed connect must leave the controller idle")
	}
}

func TestControllerConnectTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	dialer := NewMockDialer(ctrl)
	dialer.EXPECT().Dial(gomock.Any(), "slow").DoAndReturn(func(ctx context.Context, _ string) (Transport, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	c := NewController(Config{Dialer: dialer, ConnectTimeout: 20 * time.Millisecond})
	err := c.Connect(context.Background(), "slow")
	if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, ErrTransport) {
		t.Fatalf("expected deadline exceeded transport error, got %v", err)
	}
}

func TestControllerWithSimulator(t *testing.T) {
	c := NewController(Config{
		Dialer:       SimulatorDialer{Tick: time.Hour, ReadTimeout: time.Millisecond},
		PollInterval: time.Millisecond,
	})
	changes := make(chan Change, 64)
	c.Subscribe(func(ch Change) { changes <- ch })

	if err := c.Connect(context.Background(), "sim"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	if err := c.Dispatch(context.Background(), "manual"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	waitForChange(t, changes, func(ch Change) bool { return ch.Cause == CauseEvent && ch.State.HopperWeight == 95 })

	if err := c.Dispatch(context.Background(), "start"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	ch := waitForChange(t, changes, func(ch Change) bool {
		return ch.Cause == CauseEvent && ch.Event.Kind() == protocol.KindSystemStarted
	})
	if !ch.State.Running {
		t.Fatalf("expected running, got %+v", ch.State)
	}
}

func TestIdleWaitSubtractsReadTime(t *testing.T) {
	tests := []struct {
		name     string
		readTook time.Duration
		want     time.Duration
	}{
		{"immediate read", 0, 50 * time.Millisecond},
		{"partial read timeout", 20 * time.Millisecond, 30 * time.Millisecond},
		{"full read timeout", 50 * time.Millisecond, 0},
		{"read overran poll", 80 * time.Millisecond, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := idleWait(50*time.Millisecond, tt.readTook); got != tt.want {
				t.Fatalf("idleWait = %v, want %v", got, tt.want)
			}
		})
	}
}
