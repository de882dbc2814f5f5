package device

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Command tokens understood by the dispenser firmware.
const (
	CmdStart          = "start"
	CmdStop           = "stop"
	CmdManualPour     = "manual"
	CmdCalibrate      = "calibrate"
	CmdStatus         = "status"
	CmdAlarmOn        = "alarm_on"
	CmdAlarmOff       = "alarm_off"
	CmdSetCalibration = "cal"
	CmdSetPourWeight  = "pour"
	CmdSetInterval    = "time"
	CmdSetCapacity    = "hopper"
)

var plainCommands = map[string]bool{
	CmdStart:      true,
	CmdStop:       true,
	CmdManualPour: true,
	CmdCalibrate:  true,
	CmdStatus:     true,
	CmdAlarmOn:    true,
	CmdAlarmOff:   true,
}

var valueCommands = map[string]bool{
	CmdSetCalibration: true,
	CmdSetPourWeight:  true,
	CmdSetInterval:    true,
	CmdSetCapacity:    true,
}

// Command is a validated outbound command.
type Command struct {
	Name     string
	Value    float64
	HasValue bool
}

// NewCommand validates name and args. Plain commands take no arguments;
// cal, pour, time and hopper take exactly one number.
func NewCommand(name string, args ...string) (Command, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch {
	case plainCommands[name]:
		if len(args) != 0 {
			return Command{}, fmt.Errorf("%w: %s takes no arguments", ErrInvalidParameter, name)
		}
		return Command{Name: name}, nil
	case valueCommands[name]:
		if len(args) != 1 {
			return Command{}, fmt.Errorf("%w: %s takes exactly one value", ErrInvalidParameter, name)
		}
		v, err := parseValue(name, strings.TrimSpace(args[0]))
		if err != nil {
			return Command{}, err
		}
		return Command{Name: name, Value: v, HasValue: true}, nil
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
}

func parseValue(name, raw string) (float64, error) {
	if name == CmdSetInterval {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("%w: %s needs whole seconds, got %q", ErrInvalidParameter, name, raw)
		}
		if n < 0 {
			return 0, fmt.Errorf("%w: %s must not be negative, got %d", ErrInvalidParameter, name, n)
		}
		return float64(n), nil
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s needs a number, got %q", ErrInvalidParameter, name, raw)
	}
	if name == CmdSetCapacity {
		if v <= 0 {
			return 0, fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidParameter, name, v)
		}
		return v, nil
	}
	if v < 0 {
		return 0, fmt.Errorf("%w: %s must not be negative, got %v", ErrInvalidParameter, name, v)
	}
	return v, nil
}

// String returns the wire form without the line terminator.
func (c Command) String() string {
	if !c.HasValue {
		return c.Name
	}
	if c.Name == CmdSetInterval {
		return c.Name + " " + strconv.Itoa(int(c.Value))
	}
	return c.Name + " " + strconv.FormatFloat(c.Value, 'f', -1, 64)
}

// Bytes returns the newline-terminated wire form.
func (c Command) Bytes() []byte {
	return []byte(c.String() + "\n")
}
