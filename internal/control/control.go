// Package control holds the small set of process-wide state shared between
// the producer, the AGC loop, the disk writer and the preview server, in
// place of file-scope globals: constructed once in internal/runtime and
// passed by pointer into every component that needs a narrower view of it.
package control

import (
	"math"
	"sync/atomic"
)

// Camera gain/exposure bounds.
const (
	GainMin        = 0
	GainMax        = 510
	ExposureMinUS  = 32
	ExposureMaxUS  = 16667
)

// Controls is the shared, atomics-only state of the capture pipeline.
// Every field may be read by any goroutine; only the designated writer
// (noted per field) mutates it.
type Controls struct {
	// endFlag is set by the shutdown sequence (signal handler or fatal
	// device error) and observed by every worker's wait predicate.
	endFlag atomic.Bool

	// agcEnabled is toggled by the preview server / CLI.
	agcEnabled atomic.Bool

	// diskWriteEnabled is toggled by the disk writer (on low free space)
	// and by the preview server (manual re-enable).
	diskWriteEnabled atomic.Bool

	// diskFileExists records whether a SER output path was configured.
	diskFileExists atomic.Bool

	// observedFrameRateMilliHz stores the rolling frame-rate estimate as
	// milli-Hz (Hz * 1000) so it fits an int64 atomic without a lock.
	observedFrameRateMilliHz atomic.Int64

	// gainTarget and exposureTargetUS are published by the AGC loop (or
	// manual preview override when AGC is disabled) and consumed by the
	// producer before every GetVideoData call.
	gainTarget      atomic.Int32
	exposureTargetUS atomic.Int64
}

// New returns a Controls initialized from CLI/config defaults.
func New(initialGain int, initialExposureUS int, diskFileConfigured bool, agcEnabled bool) *Controls {
	c := &Controls{}
	c.gainTarget.Store(int32(initialGain))
	c.exposureTargetUS.Store(int64(initialExposureUS))
	c.diskFileExists.Store(diskFileConfigured)
	c.diskWriteEnabled.Store(diskFileConfigured)
	c.agcEnabled.Store(agcEnabled)
	return c
}

func (c *Controls) EndFlag() bool      { return c.endFlag.Load() }
func (c *Controls) SetEndFlag()        { c.endFlag.Store(true) }

func (c *Controls) AGCEnabled() bool       { return c.agcEnabled.Load() }
func (c *Controls) SetAGCEnabled(v bool)   { c.agcEnabled.Store(v) }

func (c *Controls) DiskWriteEnabled() bool     { return c.diskWriteEnabled.Load() }
func (c *Controls) SetDiskWriteEnabled(v bool) { c.diskWriteEnabled.Store(v) }

func (c *Controls) DiskFileExists() bool { return c.diskFileExists.Load() }

func (c *Controls) ObservedFrameRate() float64 {
	return float64(c.observedFrameRateMilliHz.Load()) / 1000.0
}

func (c *Controls) SetObservedFrameRate(hz float64) {
	c.observedFrameRateMilliHz.Store(int64(math.Round(hz * 1000)))
}

func (c *Controls) GainTarget() int { return int(c.gainTarget.Load()) }

func (c *Controls) SetGainTarget(v int) {
	c.gainTarget.Store(int32(clamp(v, GainMin, GainMax)))
}

func (c *Controls) ExposureTargetUS() int { return int(c.exposureTargetUS.Load()) }

func (c *Controls) SetExposureTargetUS(v int) {
	c.exposureTargetUS.Store(int64(clamp(v, ExposureMinUS, ExposureMaxUS)))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
