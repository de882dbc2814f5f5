package protocol

// EventKind identifies the class of a parsed device line.
type EventKind int

const (
	KindUnrecognized EventKind = iota
	KindSystemStarted
	KindSystemStopped
	KindRefillRequired
	KindRefillCleared
	KindPourOccurred
	KindWeightReading
	KindTimingInfo
)

var kindNames = map[EventKind]string{
	KindUnrecognized:   "UNRECOGNIZED",
	KindSystemStarted:  "SYSTEM_STARTED",
	KindSystemStopped:  "SYSTEM_STOPPED",
	KindRefillRequired: "REFILL_REQUIRED",
	KindRefillCleared:  "REFILL_CLEARED",
	KindPourOccurred:   "POUR_OCCURRED",
	KindWeightReading:  "WEIGHT_READING",
	KindTimingInfo:     "TIMING_INFO",
}

func (k EventKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "UNKNOWN"
}

// Event is a typed status message emitted by the dispenser firmware.
type Event interface {
	Kind() EventKind
}

type SystemStarted struct{}
type SystemStopped struct{}
type RefillRequired struct{}
type RefillCleared struct{}

// PourOccurred reports a dispense. Amount is nil when the line carried no
// weight, in which case the configured pour weight applies.
type PourOccurred struct {
	Amount *float64
}

type WeightReading struct {
	Grams float64
}

// TimingInfo carries countdown chatter from the firmware. The payload is
// kept for diagnostics only.
type TimingInfo struct {
	Line string
}

// Unrecognized holds a line no rule matched or whose number did not parse.
type Unrecognized struct {
	Line string
}

func (SystemStarted) Kind() EventKind  { return KindSystemStarted }
func (SystemStopped) Kind() EventKind  { return KindSystemStopped }
func (RefillRequired) Kind() EventKind { return KindRefillRequired }
func (RefillCleared) Kind() EventKind  { return KindRefillCleared }
func (PourOccurred) Kind() EventKind   { return KindPourOccurred }
func (WeightReading) Kind() EventKind  { return KindWeightReading }
func (TimingInfo) Kind() EventKind     { return KindTimingInfo }
func (Unrecognized) Kind() EventKind   { return KindUnrecognized }
