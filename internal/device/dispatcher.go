package device

import (
	"context"
	"fmt"
	"io"
	"sync"

	"pellet_dispenser/internal/logger"
)

// Dispatcher writes validated commands to one session's transport and
// applies their anticipated effect to the session's state machine. Writes
// are serialized so concurrent callers never interleave command bytes.
type Dispatcher struct {
	mu  sync.Mutex
	w   io.Writer
	sm  *StateMachine
	log *logger.Logger
}

func NewDispatcher(w io.Writer, sm *StateMachine, log *logger.Logger) *Dispatcher {
	return &Dispatcher{w: w, sm: sm, log: logger.OrNop(log)}
}

// Send writes cmd. Dispatch is fire-and-forget: success means the bytes
// were written, not that the firmware acted on them. A write failure is
// wrapped in ErrTransport and leaves the state untouched.
func (d *Dispatcher) Send(ctx context.Context, cmd Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.w.Write(cmd.Bytes()); err != nil {
		d.log.Errorw("command_write_failed", "command", cmd.String(), "error", err)
		return fmt.Errorf("%w: write %q: %w", ErrTransport, cmd.String(), err)
	}
	d.log.Infow("command_sent", "command", cmd.String())

	d.sm.ApplyCommand(cmd)
	return nil
}
