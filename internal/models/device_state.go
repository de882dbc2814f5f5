package models

import "time"

// DeviceState is an immutable snapshot of the dispenser as last reported by
// the device or anticipated by a dispatched command.
type DeviceState struct {
	Connected           bool       `json:"connected"`
	Running             bool       `json:"running"`
	RefillNeeded        bool       `json:"refill_needed"`
	HopperWeight        float64    `json:"hopper_weight_g"`        // grams
	HopperCapacity      float64    `json:"hopper_capacity_g"`      // grams
	PourIntervalSeconds int        `json:"pour_interval_s"`        // 0 = no automatic timing
	LastPourAt          *time.Time `json:"last_pour_at,omitempty"` // nil while stopped
	CalibrationWeight   float64    `json:"calibration_weight_g"`   // last commanded
	PourWeight          float64    `json:"pour_weight_g"`          // last commanded
	RemainingSeconds    int        `json:"remaining_pour_s"`       // derived at snapshot time
	FillRatio           float64    `json:"fill_ratio"`             // derived at snapshot time
	UpdatedAt           time.Time  `json:"updated_at"`
}
