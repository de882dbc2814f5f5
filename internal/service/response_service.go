package service

import "time"

// CommandParams is a dispatch request. Value is required by cal, pour,
// time and hopper and must be absent for the plain commands.
type CommandParams struct {
	Name  string
	Value *float64
}

// LogFilter supports journal filtering by time range and type.
type LogFilter struct {
	From time.Time // inclusive; zero means no lower bound
	To   time.Time // inclusive; zero means no upper bound
	Type string    // "", "COMMAND", "POUR", "REFILL_REQUIRED", ...
}
