package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pellet_dispenser/internal/logger"
	"pellet_dispenser/internal/models"
	"pellet_dispenser/internal/protocol"
)

const (
	DefaultPollInterval   = 50 * time.Millisecond
	DefaultConnectTimeout = 10 * time.Second

	readBufferSize = 256
)

// Config wires a Controller. Zero durations fall back to the defaults.
type Config struct {
	Dialer         Dialer
	PollInterval   time.Duration
	ConnectTimeout time.Duration
	Clock          func() time.Time
	Log            *logger.Logger
}

// Controller is the public boundary of the dispenser core. It owns at most
// one session at a time; each session has its own transport, state machine
// and reader loop. Observers registered with Subscribe outlive sessions.
type Controller struct {
	dialer         Dialer
	poll           time.Duration
	connectTimeout time.Duration
	now            func() time.Time
	log            *logger.Logger

	mu         sync.Mutex
	connecting bool
	sess       *session

	observers observerSet
}

type session struct {
	port        string
	transport   Transport
	machine     *StateMachine
	dispatcher  *Dispatcher
	ctx         context.Context // cancelled when the session ends
	cancel      context.CancelFunc
	done        chan struct{}
	unsubscribe func()
	closeOnce   sync.Once
	closeErr    error
}

func (s *session) close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = s.transport.Close()
	})
	return s.closeErr
}

func NewController(cfg Config) *Controller {
	c := &Controller{
		dialer:         cfg.Dialer,
		poll:           cfg.PollInterval,
		connectTimeout: cfg.ConnectTimeout,
		now:            cfg.Clock,
		log:            logger.OrNop(cfg.Log),
	}
	if c.poll <= 0 {
		c.poll = DefaultPollInterval
	}
	if c.connectTimeout <= 0 {
		c.connectTimeout = DefaultConnectTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Connect opens port and starts the reader loop with a fresh DeviceState.
// Only dialing is bounded by the connect timeout.
func (c *Controller) Connect(ctx context.Context, port string) error {
	c.mu.Lock()
	if c.sess != nil || c.connecting {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.connecting = true
	c.mu.Unlock()

	sess, err := c.open(ctx, port)

	c.mu.Lock()
	c.connecting = false
	if err == nil {
		c.sess = sess
	}
	c.mu.Unlock()
	if err != nil {
		c.log.Errorw("serial_connect_failed", "port", port, "error", err)
		return err
	}

	go c.readLoop(sess)

	c.log.Infow("serial_connected", "port", port)
	st := sess.machine.Snapshot()
	st.Connected = true
	c.observers.notify(Change{Cause: CauseConnected, State: st})
	return nil
}

func (c *Controller) open(ctx context.Context, port string) (*session, error) {
	if c.dialer == nil {
		return nil, fmt.Errorf("%w: no dialer configured", ErrTransport)
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	t, err := c.dialer.Dial(dialCtx, port)
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %w", ErrTransport, port, err)
	}

	loopCtx, stop := context.WithCancel(context.Background())
	sm := NewStateMachine(c.now)
	sess := &session{
		port:       port,
		transport:  t,
		machine:    sm,
		dispatcher: NewDispatcher(t, sm, c.log),
		ctx:        loopCtx,
		cancel:     stop,
		done:       make(chan struct{}),
	}
	sess.unsubscribe = sm.Subscribe(func(ch Change) {
		if c.current() != sess {
			return
		}
		ch.State.Connected = true
		c.observers.notify(ch)
	})
	return sess, nil
}

// Disconnect stops the reader loop, closes the transport and discards the
// session state. It returns once the reader loop has exited.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()
	if sess == nil {
		return ErrNotConnected
	}

	closeErr := sess.close()
	<-sess.done
	sess.unsubscribe()

	if closeErr != nil {
		c.log.Warnw("serial_close_failed", "port", sess.port, "error", closeErr)
	}
	c.log.Infow("serial_disconnected", "port", sess.port)
	c.observers.notify(Change{Cause: CauseDisconnected, State: c.idleState()})
	return nil
}

// Dispatch validates and sends a command. Invalid commands fail with
// ErrInvalidParameter before anything is written. A write failure ends the
// session and is returned wrapped in ErrTransport.
func (c *Controller) Dispatch(ctx context.Context, name string, args ...string) error {
	cmd, err := NewCommand(name, args...)
	if err != nil {
		return err
	}
	sess := c.current()
	if sess == nil {
		return ErrNotConnected
	}
	if err := sess.dispatcher.Send(ctx, cmd); err != nil {
		if errors.Is(err, ErrTransport) {
			c.fail(sess, err)
		}
		return err
	}
	return nil
}

// Refill records a manual refill locally without contacting the device.
func (c *Controller) Refill() error {
	sess := c.current()
	if sess == nil {
		return ErrNotConnected
	}
	sess.machine.RecordManualRefill()
	return nil
}

// Subscribe registers fn for changes of the current and future sessions.
func (c *Controller) Subscribe(fn Observer) func() {
	return c.observers.add(fn)
}

// CurrentState returns the live snapshot, or defaults with Connected=false
// while no session is open.
func (c *Controller) CurrentState() models.DeviceState {
	sess := c.current()
	if sess == nil {
		return c.idleState()
	}
	st := sess.machine.Snapshot()
	st.Connected = true
	return st
}

// Port returns the port of the open session, or "" when disconnected.
func (c *Controller) Port() string {
	if sess := c.current(); sess != nil {
		return sess.port
	}
	return ""
}

func (c *Controller) current() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

func (c *Controller) idleState() models.DeviceState {
	return NewStateMachine(c.now).Snapshot()
}

func (c *Controller) readLoop(sess *session) {
	defer close(sess.done)

	ctx := sess.ctx
	buf := make([]byte, readBufferSize)
	var lines protocol.LineAssembler

	for {
		if ctx.Err() != nil {
			return
		}

		started := time.Now()
		n, err := sess.transport.Read(buf)
		if n > 0 {
			for line := range lines.Feed(buf[:n]) {
				c.handleLine(sess, line)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.fail(sess, fmt.Errorf("%w: read %s: %w", ErrTransport, sess.port, err))
			return
		}
		if n == 0 {
			wait := idleWait(c.poll, time.Since(started))
			if wait == 0 {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}
}

// idleWait is how long to pause after an empty read. A transport with a
// read timeout has already blocked for part or all of the poll interval.
func idleWait(poll, readTook time.Duration) time.Duration {
	return max(0, poll-readTook)
}

func (c *Controller) handleLine(sess *session, line string) {
	ev := protocol.Parse(line)
	c.log.Debugw("device_line", "port", sess.port, "kind", ev.Kind().String(), "line", line)
	if _, ok := ev.(protocol.Unrecognized); ok {
		c.log.Infow("device_line_unrecognized", "port", sess.port, "line", line)
	}
	sess.machine.ApplyEvent(ev)
}

// fail tears down sess after a transport error. It does not wait for the
// reader loop since it may be running on it.
func (c *Controller) fail(sess *session, err error) {
	c.mu.Lock()
	owned := c.sess == sess
	if owned {
		c.sess = nil
	}
	c.mu.Unlock()
	if !owned {
		return
	}

	_ = sess.close()
	sess.unsubscribe()

	c.log.Errorw("serial_transport_error", "port", sess.port, "error", err)
	c.observers.notify(Change{Cause: CauseTransportError, Err: err, State: c.idleState()})
}
