package agc

import (
	"log/slog"

	"github.com/seeing-things/zwo/internal/control"
	"github.com/seeing-things/zwo/internal/frame"
	"github.com/seeing-things/zwo/internal/queue"
)

// Loop runs the AGC task: blocks on its input queue with drain-keep-latest
// semantics, builds a histogram, runs the configured Controller, and
// publishes new gain/exposure targets.
//
// Grounded on the original agc.cpp's per-dispatch procedure, generalized
// from a single hard-coded control law into a pluggable Controller.
type Loop struct {
	Queue      *queue.Queue[*frame.Frame]
	Controller Controller
	Controls   *control.Controls
	Log        *slog.Logger
}

// Run processes frames until the queue is closed. Frames are always
// released after processing, whether or not AGC is currently enabled,
// since the Dispatcher has already handed this Loop sole ownership of the
// reference it holds.
func (l *Loop) Run() {
	for {
		f, ok := l.Queue.PopDrainKeepLatest(func(dropped *frame.Frame) {
			dropped.Release()
		})
		if !ok {
			return
		}

		if l.Controls.EndFlag() {
			f.Release()
			return
		}

		if l.Controls.AGCEnabled() {
			hist := Build(f.Buf)
			gain, exposureUS := l.Controller.Update(hist, l.Controls.GainTarget(), l.Controls.ExposureTargetUS())
			l.Controls.SetGainTarget(gain)
			l.Controls.SetExposureTargetUS(exposureUS)
			l.Log.Debug("agc update",
				"gain", gain,
				"exposure_us", exposureUS,
				"percentile_value", hist.PercentileValue(Percentile),
				"max_observed_value", hist.MaxObservedValue(),
			)
		}

		f.Release()
	}
}
