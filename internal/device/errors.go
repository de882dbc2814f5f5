package device

import "errors"

var (
	// ErrTransport marks a connect, read or write failure. The connection is
	// presumed dead once it is returned; reconnecting is up to the caller.
	ErrTransport = errors.New("transport error")

	// ErrNotConnected is returned when an operation needs a live connection
	// and there is none. It matches ErrTransport under errors.Is.
	ErrNotConnected = &wrappedError{msg: "dispenser not connected", parent: ErrTransport}

	// ErrAlreadyConnected is returned by Connect while a session is open or
	// being opened.
	ErrAlreadyConnected = errors.New("dispenser already connected")

	// ErrInvalidParameter is returned for a rejected configuration value.
	// Nothing is written and the state is left untouched.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrUnknownCommand is returned for a command token the firmware does
	// not understand. It matches ErrInvalidParameter under errors.Is.
	ErrUnknownCommand = &wrappedError{msg: "unknown command", parent: ErrInvalidParameter}
)

type wrappedError struct {
	msg    string
	parent error
}

func (e *wrappedError) Error() string { return e.msg }
func (e *wrappedError) Unwrap() error { return e.parent }
