package agc

import "github.com/seeing-things/zwo/internal/control"

// Percentile is the design constant P: the fraction of pixels that must
// fall at or below percentile_value. Chosen as 0.99 because it is the
// value the original agc.cpp's threshold_fraction used.
const Percentile = 0.99

// Stepwise control law constants — the original agc.cpp's literal
// defaults.
const (
	MaxSaturatedPixels = 10
	MinMaxPixelValue   = 220
	GainStep           = 20
)

// Controller turns a histogram into updated gain/exposure targets.
// ServoController is stateful across calls (its internal scalar), so a
// single Controller instance must be reused for the lifetime of one AGC
// task; StepwiseController keeps no state between calls.
type Controller interface {
	Update(h Histogram, currentGain, currentExposureUS int) (gain, exposureUS int)
}

// StepwiseController implements the saturation/max-pixel step law: if too
// many pixels are fully saturated, back off gain by a fixed step; if the
// brightest pixel is too dim, raise gain by the same step. It never
// touches exposure. Chosen as canonical (see DESIGN.md) because it is the
// simpler of the two control laws present in the original source and
// needs no internal scalar state beyond the published gain itself.
//
// The three thresholds default to the package constants but may be
// overridden per internal/config's AGC section, letting an operator tune
// the control law from the YAML file without a rebuild.
type StepwiseController struct {
	MaxSaturatedPixels int
	MinMaxPixelValue   int
	GainStep           int
}

// NewStepwiseController returns a StepwiseController using the package's
// default constants.
func NewStepwiseController() *StepwiseController {
	return &StepwiseController{
		MaxSaturatedPixels: MaxSaturatedPixels,
		MinMaxPixelValue:   MinMaxPixelValue,
		GainStep:           GainStep,
	}
}

func (c *StepwiseController) Update(h Histogram, currentGain, currentExposureUS int) (int, int) {
	gain := currentGain
	switch {
	case h.Bins[NumBins-1] > c.MaxSaturatedPixels:
		gain -= c.GainStep
	case h.MaxObservedValue() < c.MinMaxPixelValue:
		gain += c.GainStep
	}
	return clampGain(gain), currentExposureUS
}

// ServoController implements an alternative single-scalar servo: an
// internal scalar s in [0, 1] is nudged toward a target percentile_value
// by simple proportional feedback, then mapped onto gain and exposure. As
// s rises from 0, exposure grows first and reaches its maximum at s = 0.75;
// above 0.75 gain rises from its minimum, reaching its maximum at s = 1.
type ServoController struct {
	s float64

	// TargetPercentileValue is the percentile_value the servo converges
	// toward. 128 (mid-scale) by default.
	TargetPercentileValue int
	// Gain is the proportional feedback constant applied to the
	// normalized percentile error each update.
	Gain float64
}

// NewServoController returns a ServoController with defaults suitable for
// an 8-bit sensor: target mid-scale brightness, gentle feedback gain so a
// single bright/dark outlier frame doesn't slam the scalar to an extreme.
func NewServoController() *ServoController {
	return &ServoController{
		TargetPercentileValue: 128,
		Gain:                  0.02,
	}
}

func (c *ServoController) Update(h Histogram, currentGain, currentExposureUS int) (int, int) {
	percentile := h.PercentileValue(Percentile)
	errNorm := float64(c.TargetPercentileValue-percentile) / 255.0
	c.s += c.Gain * errNorm
	if c.s < 0 {
		c.s = 0
	}
	if c.s > 1 {
		c.s = 1
	}

	gain := clampGain(int(4*float64(control.GainMax)*c.s - 3*float64(control.GainMax)))
	exposureUS := clampExposure(int(4.0 / 3.0 * float64(control.ExposureMaxUS) * c.s))
	return gain, exposureUS
}

func clampGain(v int) int {
	return clampInt(v, control.GainMin, control.GainMax)
}

func clampExposure(v int) int {
	return clampInt(v, control.ExposureMinUS, control.ExposureMaxUS)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
