package agc_test

import (
	"testing"

	"github.com/seeing-things/zwo/internal/agc"
	"github.com/seeing-things/zwo/internal/control"
)

func TestStepwiseControllerBacksOffOnSaturation(t *testing.T) {
	buf := make([]byte, 100)
	for i := range buf {
		buf[i] = 255 // every pixel saturated, well over MaxSaturatedPixels
	}
	h := agc.Build(buf)

	c := agc.NewStepwiseController()
	gain, exposure := c.Update(h, 100, 5000)
	if gain != 100-agc.GainStep {
		t.Errorf("gain = %d, want %d", gain, 100-agc.GainStep)
	}
	if exposure != 5000 {
		t.Errorf("exposure = %d, want unchanged 5000", exposure)
	}
}

func TestStepwiseControllerRaisesGainOnDimFrame(t *testing.T) {
	buf := make([]byte, 100) // all zero: max observed value is 0, well under MinMaxPixelValue
	h := agc.Build(buf)

	c := agc.NewStepwiseController()
	gain, _ := c.Update(h, 100, 5000)
	if gain != 100+agc.GainStep {
		t.Errorf("gain = %d, want %d", gain, 100+agc.GainStep)
	}
}

func TestStepwiseControllerClampsAtGainMax(t *testing.T) {
	buf := make([]byte, 10) // dim frame, pushes gain up
	h := agc.Build(buf)

	c := agc.NewStepwiseController()
	gain, _ := c.Update(h, control.GainMax-5, 5000)
	if gain != control.GainMax {
		t.Errorf("gain = %d, want clamped to %d", gain, control.GainMax)
	}
}

func TestStepwiseControllerHoldsSteadyInDeadband(t *testing.T) {
	buf := make([]byte, 100)
	buf[0] = 230 // bright enough to clear MinMaxPixelValue, no saturation
	h := agc.Build(buf)

	c := agc.NewStepwiseController()
	gain, exposure := c.Update(h, 100, 5000)
	if gain != 100 {
		t.Errorf("gain = %d, want unchanged 100", gain)
	}
	if exposure != 5000 {
		t.Errorf("exposure = %d, want unchanged 5000", exposure)
	}
}

func TestServoControllerConvergesTowardTargetFromDark(t *testing.T) {
	dark := agc.Build(make([]byte, 1000)) // all-zero frame
	c := agc.NewServoController()

	gain, exposure := 0, 0
	for i := 0; i < 200; i++ {
		gain, exposure = c.Update(dark, gain, exposure)
	}

	if gain < control.GainMin || gain > control.GainMax {
		t.Errorf("gain = %d out of range [%d, %d]", gain, control.GainMin, control.GainMax)
	}
	if exposure < control.ExposureMinUS || exposure > control.ExposureMaxUS {
		t.Errorf("exposure = %d out of range [%d, %d]", exposure, control.ExposureMinUS, control.ExposureMaxUS)
	}
	// A persistently black scene should drive the servo scalar toward its
	// ceiling, raising both gain and exposure from their zero starting point.
	if gain <= 0 && exposure <= 0 {
		t.Error("servo did not move off the floor for a persistently dark scene")
	}
}

func TestServoControllerIdempotentOnAllZeroFrame(t *testing.T) {
	// An all-zero frame's percentile_value is 0, so the servo should move
	// monotonically toward its floor/ceiling rather than oscillate.
	zero := agc.Build(make([]byte, 100))
	c := agc.NewServoController()

	_, prevExposure := 0, 0
	for i := 0; i < 50; i++ {
		gain, exposure := c.Update(zero, 0, prevExposure)
		if exposure < prevExposure {
			t.Fatalf("exposure decreased from %d to %d on iteration %d; want monotonic", prevExposure, exposure, i)
		}
		_ = gain
		prevExposure = exposure
	}
}
