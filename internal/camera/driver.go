package camera

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/seeing-things/zwo/internal/control"
	"github.com/seeing-things/zwo/internal/fanout"
	"github.com/seeing-things/zwo/internal/frame"
)

// syncWord is the 16-bit marker the sensor writes at the first and last two
// bytes of every raw frame.
const syncWord = 0x7e5a

// statsInterval is how often the producer logs a frame-rate/queue-depth
// summary line, matching the original capture tool's 1-second cadence.
const statsInterval = 1 * time.Second

// Driver runs the producer loop: acquire a free frame, apply any pending
// gain/exposure change, fetch pixel data from the Device, validate it, and
// hand it to the Dispatcher.
//
// Grounded on original_source/capture/src/camera.cpp's run_camera and
// libusb_callback, generalized from a libusb transfer-completion callback
// into a single blocking loop around Device.GetVideoData.
type Driver struct {
	Device     Device
	Pool       *frame.Pool
	Dispatch   *fanout.Dispatcher
	Controls   *control.Controls
	Log        *slog.Logger
	BaseTimeout time.Duration // floor applied to the per-frame read timeout

	lastGain        int
	lastExposureUS  int
	lastFrameIndex  uint16
	frameCount      uint64
	frameTimestamps []time.Time
	lastStatsAt     time.Time
}

// numFramerateFrames is the window size used for the rolling frame-rate
// estimate, matching NUM_FRAMERATE_FRAMES in the original capture tool.
const numFramerateFrames = 100

// Run executes the producer loop until ctx is cancelled, the device
// reports removal, or Controls.EndFlag() is observed. It always leaves the
// frame pool and the three output queues in a consistent state: every
// acquired Frame is either dispatched or released before Run returns.
func (d *Driver) Run(ctx context.Context) error {
	d.lastGain = -1
	d.lastExposureUS = -1
	d.lastStatsAt = time.Now()

	// Cancelling ctx shuts the pool down so a blocked Acquire wakes up.
	stop := context.AfterFunc(ctx, d.Pool.Shutdown)
	defer stop()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.Controls.EndFlag() {
			return nil
		}

		f, ok := d.Pool.Acquire()
		if !ok {
			return ctx.Err()
		}

		if d.Controls.EndFlag() || ctx.Err() != nil {
			f.Release()
			return nil
		}

		d.applyPendingControls()

		timeout := d.BaseTimeout
		if min := 2 * time.Duration(d.Controls.ExposureTargetUS()) * time.Microsecond; min > timeout {
			timeout = min
		}

		meta, err := d.Device.GetVideoData(ctx, f.Buf, timeout)
		if err != nil {
			f.Release()
			if errors.Is(err, ErrDeviceRemoved) {
				d.Log.Error("camera device removed, ending capture")
				d.Controls.SetEndFlag()
				return err
			}
			if errors.Is(err, ErrTimeout) {
				d.Log.Error("timed out waiting for frame data")
				continue
			}
			d.Log.Error("error fetching frame data", "error", err)
			continue
		}

		f.SyncValid = validateSyncWords(f.Buf)
		if !f.SyncValid {
			d.Log.Error("frame failed sync-word validation")
		}
		d.checkFrameIndex(meta.FrameIndex)

		f.Seq = d.frameCount
		f.CapturedAt = time.Now()
		d.frameCount++

		d.Dispatch.Dispatch(f)

		d.updateFrameRate(f.CapturedAt)
		d.logStatsIfDue()
	}
}

func (d *Driver) applyPendingControls() {
	if gain := d.Controls.GainTarget(); gain != d.lastGain {
		if err := d.Device.SetControlValue(ControlGain, gain); err != nil {
			d.Log.Error("failed to set camera gain", "error", err)
		} else {
			d.lastGain = gain
			d.Log.Info("camera gain set", "gain", gain)
		}
	}
	if exposure := d.Controls.ExposureTargetUS(); exposure != d.lastExposureUS {
		if err := d.Device.SetControlValue(ControlExposureUS, exposure); err != nil {
			d.Log.Error("failed to set camera exposure", "error", err)
		} else {
			d.lastExposureUS = exposure
			d.Log.Info("camera exposure set", "exposure_us", exposure, "exposure_ms", float64(exposure)/1e3)
		}
	}
}

// validateSyncWords checks the 16-bit marker at the first and last two
// bytes of the frame buffer.
func validateSyncWords(buf []byte) bool {
	if len(buf) < 4 {
		return false
	}
	first := binary.LittleEndian.Uint16(buf[:2])
	last := binary.LittleEndian.Uint16(buf[len(buf)-2:])
	return first == syncWord && last == syncWord
}

// checkFrameIndex warns when the camera's own per-frame sequence counter
// skips by something other than 1 or 2, mirroring the original tool's
// observation that an increment of 2 is common even at low frame rates.
func (d *Driver) checkFrameIndex(idx uint16) {
	if idx <= d.lastFrameIndex || idx > d.lastFrameIndex+2 {
		d.Log.Warn("unexpected frame index",
			"want_one_of", []uint16{d.lastFrameIndex + 1, d.lastFrameIndex + 2},
			"got", idx,
		)
	}
	d.lastFrameIndex = idx
}

func (d *Driver) updateFrameRate(capturedAt time.Time) {
	d.frameTimestamps = append(d.frameTimestamps, capturedAt)
	if len(d.frameTimestamps) < numFramerateFrames {
		return
	}
	if len(d.frameTimestamps) > numFramerateFrames {
		d.frameTimestamps = d.frameTimestamps[len(d.frameTimestamps)-numFramerateFrames:]
	}
	elapsed := d.frameTimestamps[len(d.frameTimestamps)-1].Sub(d.frameTimestamps[0])
	if elapsed > 0 {
		rate := float64(numFramerateFrames-1) / elapsed.Seconds()
		d.Controls.SetObservedFrameRate(rate)
	}
}

func (d *Driver) logStatsIfDue() {
	now := time.Now()
	if now.Sub(d.lastStatsAt) < statsInterval {
		return
	}
	d.lastStatsAt = now
	d.Log.Info("capture stats",
		"frames", d.frameCount,
		"fps", d.Controls.ObservedFrameRate(),
		"pool_free", d.Pool.FreeLen(),
		"to_disk_queue", d.Dispatch.ToDisk.Len(),
		"to_agc_queue", d.Dispatch.ToAGC.Len(),
		"to_preview_queue", d.Dispatch.ToPreview.Len(),
	)
}
