package protocol

import (
	"math"
	"strconv"
	"strings"
)

// Markers are matched against the lowercased line, in the order Parse
// checks them. The firmware output is free text, so anything around a
// marker is ignored.
var (
	startedMarkers        = []string{"system started"}
	stoppedMarkers        = []string{"system stopped"}
	refillRequiredMarkers = []string{"refill needed", "refill required"}
	refillClearedMarkers  = []string{"refill:n"}
	// pourAmountLabels embed the amount ("Poured: 5.2g"); pourLabels do not.
	pourAmountLabels = []string{"poured:", "dispensed:"}
	pourLabels       = []string{"pour complete", "manual pour"}
	weightLabels     = []string{"current weight:", "weight:", "remaining:"}
	timingMarkers    = []string{"next pour in", "time remaining", "countdown"}
)

// gramsMarker terminates a numeric payload when present.
const gramsMarker = "g"

func containsAny(s string, substrs []string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

// firstLabel returns the first label of labels that occurs in s.
func firstLabel(s string, labels []string) (string, bool) {
	for _, label := range labels {
		if strings.Contains(s, label) {
			return label, true
		}
	}
	return "", false
}

// Parse classifies a single device line. It never fails: anything it cannot
// make sense of comes back as Unrecognized with the raw line preserved.
func Parse(line string) Event {
	lower := strings.ToLower(line)

	switch {
	case containsAny(lower, startedMarkers):
		return SystemStarted{}
	case containsAny(lower, stoppedMarkers):
		return SystemStopped{}
	case containsAny(lower, refillRequiredMarkers):
		return RefillRequired{}
	case containsAny(lower, refillClearedMarkers):
		return RefillCleared{}
	}

	if label, ok := firstLabel(lower, pourAmountLabels); ok {
		grams, ok := gramsAfter(lower, label)
		if !ok {
			return Unrecognized{Line: line}
		}
		return PourOccurred{Amount: &grams}
	}
	if containsAny(lower, pourLabels) {
		return PourOccurred{}
	}

	if label, ok := firstLabel(lower, weightLabels); ok {
		grams, ok := gramsAfter(lower, label)
		if !ok {
			return Unrecognized{Line: line}
		}
		return WeightReading{Grams: grams}
	}

	if containsAny(lower, timingMarkers) {
		return TimingInfo{Line: line}
	}
	return Unrecognized{Line: line}
}

// gramsAfter extracts the number between label and the next "g" (or the end
// of the line). Non-finite values are rejected.
func gramsAfter(lower, label string) (float64, bool) {
	i := strings.Index(lower, label)
	if i < 0 {
		return 0, false
	}
	rest := lower[i+len(label):]
	if j := strings.Index(rest, gramsMarker); j >= 0 {
		rest = rest[:j]
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(rest), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
