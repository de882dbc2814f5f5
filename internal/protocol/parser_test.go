package protocol

import (
	"testing"
)

func ptr(v float64) *float64 { return &v }

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Event
	}{
		// Lifecycle
		{name: "system started", input: "System started", expected: SystemStarted{}},
		{name: "system started with noise", input: ">> SYSTEM STARTED (interval 30s)", expected: SystemStarted{}},
		{name: "system stopped", input: "System stopped", expected: SystemStopped{}},

		// Refill latch
		{name: "refill needed", input: "Refill needed", expected: RefillRequired{}},
		{name: "refill required uppercase", input: "WARNING: REFILL REQUIRED", expected: RefillRequired{}},
		{name: "refill cleared", input: "Refill:N", expected: RefillCleared{}},
		{name: "refill cleared lowercase", input: "status refill:n ok", expected: RefillCleared{}},

		// Pours
		{name: "poured with amount", input: "poured:5.2g", expected: PourOccurred{Amount: ptr(5.2)}},
		{name: "poured with spaces", input: "Poured: 12.5 g", expected: PourOccurred{Amount: ptr(12.5)}},
		{name: "dispensed with amount", input: "Dispensed: 3g total", expected: PourOccurred{Amount: ptr(3)}},
		{name: "poured without g marker", input: "Poured: 7", expected: PourOccurred{Amount: ptr(7)}},
		{name: "pour complete", input: "Pour complete", expected: PourOccurred{}},
		{name: "manual pour", input: "Manual pour", expected: PourOccurred{}},
		{name: "manual pour complete", input: "Manual pour complete", expected: PourOccurred{}},
		{name: "poured malformed amount", input: "Poured: lots", expected: Unrecognized{Line: "Poured: lots"}},
		{name: "poured NaN", input: "Poured: NaN g", expected: Unrecognized{Line: "Poured: NaN g"}},

		// Weight
		{name: "current weight with trailing text", input: "Current weight: 42.5g remaining", expected: WeightReading{Grams: 42.5}},
		{name: "weight label", input: "Hopper weight: 80g", expected: WeightReading{Grams: 80}},
		{name: "remaining label", input: "Remaining: 10.25g", expected: WeightReading{Grams: 10.25}},
		{name: "negative weight is passed through", input: "Weight: -3g", expected: WeightReading{Grams: -3}},
		{name: "weight malformed", input: "Weight: unknown", expected: Unrecognized{Line: "Weight: unknown"}},
		{name: "time remaining with colon reads as a weight label", input: "Time remaining: 10s", expected: Unrecognized{Line: "Time remaining: 10s"}},

		// Timing
		{name: "next pour in", input: "Next pour in 25s", expected: TimingInfo{Line: "Next pour in 25s"}},
		{name: "countdown", input: "Countdown 5", expected: TimingInfo{Line: "Countdown 5"}},
		{name: "time remaining", input: "time remaining 12 s", expected: TimingInfo{Line: "time remaining 12 s"}},

		// Fallback
		{name: "noise", input: "xyz unexpected noise", expected: Unrecognized{Line: "xyz unexpected noise"}},
		{name: "empty", input: "", expected: Unrecognized{Line: ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.input)
			assertEvent(t, got, tt.expected)
		})
	}
}

func TestParse_Priority(t *testing.T) {
	tests := []struct {
		name  string
		input string
		kind  EventKind
	}{
		{name: "started beats weight", input: "System started, weight: 50g", kind: KindSystemStarted},
		{name: "refill beats pour", input: "Poured: 5g, refill needed", kind: KindRefillRequired},
		{name: "pour beats weight", input: "Poured: 5g, remaining: 45g", kind: KindPourOccurred},
		{name: "weight beats timing", input: "Weight: 45g next pour in 30s", kind: KindWeightReading},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Parse(tt.input).Kind(); got != tt.kind {
				t.Fatalf("kind: got %v, want %v", got, tt.kind)
			}
		})
	}
}

func TestEventKind_String(t *testing.T) {
	if KindPourOccurred.String() != "POUR_OCCURRED" {
		t.Fatalf("got %q", KindPourOccurred.String())
	}
	if EventKind(99).String() != "UNKNOWN" {
		t.Fatalf("got %q", EventKind(99).String())
	}
}

func assertEvent(t *testing.T, got, want Event) {
	t.Helper()
	if got.Kind() != want.Kind() {
		t.Fatalf("kind: got %v (%#v), want %v", got.Kind(), got, want.Kind())
	}
	switch w := want.(type) {
	case PourOccurred:
		g := got.(PourOccurred)
		switch {
		case w.Amount == nil && g.Amount != nil:
			t.Fatalf("amount: got %v, want none", *g.Amount)
		case w.Amount != nil && g.Amount == nil:
			t.Fatalf("amount: got none, want %v", *w.Amount)
		case w.Amount != nil && *w.Amount != *g.Amount:
			t.Fatalf("amount: got %v, want %v", *g.Amount, *w.Amount)
		}
	default:
		if got != want {
			t.Fatalf("event: got %#v, want %#v", got, want)
		}
	}
}
