package device

//go:generate go tool mockgen -source=transport.go -destination=mock_transport.go -package=device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Transport is an open byte stream to the dispenser.
//
// Read returns whatever bytes are available. Implementations backed by a
// port with a read timeout return 0, nil when nothing arrived in time; the
// reader loop then sleeps one poll interval before trying again. After Close
// a blocked Read must return an error.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens a Transport to the device identified by port. Dial may block
// while the device resets and must give up when ctx is done.
type Dialer interface {
	Dial(ctx context.Context, port string) (Transport, error)
}

const (
	DefaultBaudRate    = 9600
	DefaultResetDelay  = 2 * time.Second
	DefaultReadTimeout = 50 * time.Millisecond
)

// SerialDialer opens the dispenser over a serial port using 8N1 framing.
type SerialDialer struct {
	BaudRate    int
	ReadTimeout time.Duration
	// ResetDelay is how long to wait after opening the port. Opening the
	// port resets the controller board and it ignores input while booting.
	ResetDelay time.Duration
}

func (d SerialDialer) Dial(ctx context.Context, port string) (Transport, error) {
	if port == "" {
		return nil, errors.New("serial port name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	baud := d.BaudRate
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	readTimeout := d.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	resetDelay := d.ResetDelay
	if resetDelay < 0 {
		resetDelay = 0
	}

	p, err := serial.Open(port, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %q: %w", port, err)
	}
	if err := p.SetReadTimeout(readTimeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("set read timeout on %q: %w", port, err)
	}

	timer := time.NewTimer(resetDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		_ = p.Close()
		return nil, ctx.Err()
	case <-timer.C:
	}

	// Drop the boot banner so the first parsed line is a real status line.
	if err := p.ResetInputBuffer(); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("reset input buffer on %q: %w", port, err)
	}
	return p, nil
}
