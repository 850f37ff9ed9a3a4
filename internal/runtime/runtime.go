// Package runtime wires every component of the capture pipeline into one
// Runtime struct: the frame pool, the four queues, the camera driver, the
// AGC loop, the disk writer, the preview server, and the optional
// telemetry emitter. It owns their lifecycle — construction order,
// goroutine startup, and coordinated shutdown.
//
// Grounded on References/orion-prototipe/internal/core/orion.go's Orion
// struct: one constructor building every subordinate component from a
// resolved config, one Run that starts workers and blocks until shutdown,
// one Shutdown that unwinds them in reverse dependency order.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seeing-things/zwo/internal/agc"
	"github.com/seeing-things/zwo/internal/camera"
	"github.com/seeing-things/zwo/internal/config"
	"github.com/seeing-things/zwo/internal/control"
	"github.com/seeing-things/zwo/internal/diskwriter"
	"github.com/seeing-things/zwo/internal/fanout"
	"github.com/seeing-things/zwo/internal/frame"
	"github.com/seeing-things/zwo/internal/previewsrv"
	"github.com/seeing-things/zwo/internal/queue"
	"github.com/seeing-things/zwo/internal/ser"
	"github.com/seeing-things/zwo/internal/telemetry"
)

// FramePoolSize is the fixed frame pool cardinality.
const FramePoolSize = 64

// AGCDispatchPeriod bounds how often the producer samples a frame onto the
// to-agc route. 100ms keeps the AGC loop responsive without competing
// meaningfully with disk bandwidth for CPU.
const AGCDispatchPeriod = 100 * time.Millisecond

// TelemetryPeriod is how often internal/telemetry publishes a stats
// snapshot when a broker is configured.
const TelemetryPeriod = 2 * time.Second

// BaseGetVideoDataTimeout is the floor applied to every GetVideoData call,
// regardless of configured exposure time; the actual per-call timeout is
// max(BaseGetVideoDataTimeout, 2×exposure_us).
const BaseGetVideoDataTimeout = 200 * time.Millisecond

// Runtime owns every long-lived component of one capture run.
type Runtime struct {
	SessionID string
	Cfg       *config.Config
	Log       *slog.Logger

	Controls *control.Controls
	Pool     *frame.Pool

	toDisk    *queue.Queue[*frame.Frame]
	toAGC     *queue.Queue[*frame.Frame]
	toPreview *queue.Queue[*frame.Frame]

	device camera.Device
	driver *camera.Driver

	agcLoop     *agc.Loop
	diskWriter  *diskwriter.Writer
	previewSrv  *previewsrv.Server
	telemetry   *telemetry.Emitter
	serFile     *ser.File

	wg sync.WaitGroup
}

// Deps carries the pieces a New caller must supply that runtime cannot
// construct itself: an opened camera.Device (the vendor SDK handle or a
// simulated.Device), and the frame geometry it was configured for.
type Deps struct {
	Device        camera.Device
	Width, Height int
	BytesPerPixel int
	StatfsPath    string // directory to probe for free space; "" disables the check
}

// New builds every component wired to cfg, but starts nothing. The
// returned Runtime's Controls are ready to be read/written (e.g. by a CLI
// prompt) before Run is called.
func New(cfg *config.Config, deps Deps, log *slog.Logger) (*Runtime, error) {
	sessionID := uuid.NewString()
	log = log.With("session_id", sessionID, "instance_id", cfg.InstanceID)

	bufSize := deps.Width * deps.Height * deps.BytesPerPixel
	pool := frame.New(FramePoolSize, bufSize)

	diskFileConfigured := cfg.OutputPath != ""
	ctrls := control.New(cfg.Gain, cfg.ExposureUS, diskFileConfigured, cfg.AGCEnabled)
	// control.New enables disk_write_enabled whenever a file is configured;
	// without --write-at-startup, recording instead waits for an explicit
	// enable (toggle from the preview server).
	if diskFileConfigured && !cfg.WriteAtStartup {
		ctrls.SetDiskWriteEnabled(false)
	}

	var serFile *ser.File
	if diskFileConfigured {
		f, err := ser.Create(cfg.OutputPath, ser.Options{
			Width:      deps.Width,
			Height:     deps.Height,
			ColorID:    ser.ColorMono,
			BitDepth:   8 * deps.BytesPerPixel,
			Observer:   cfg.Observer,
			Instrument: cfg.Instrument,
			Telescope:  cfg.Telescope,
			AddTrailer: true,
		})
		if err != nil {
			return nil, fmt.Errorf("runtime: open SER output: %w", err)
		}
		serFile = f
	}

	toDisk := queue.New[*frame.Frame]()
	toAGC := queue.New[*frame.Frame]()
	toPreview := queue.New[*frame.Frame]()

	if err := deps.Device.ApplyStaticConfig(camera.StaticConfig{
		Width:   deps.Width,
		Height:  deps.Height,
		Binning: cfg.Binning,
	}); err != nil {
		if serFile != nil {
			serFile.Close()
		}
		return nil, fmt.Errorf("runtime: apply camera static config: %w", err)
	}

	dispatcher := fanout.New(toDisk, toAGC, toPreview, AGCDispatchPeriod)

	driver := &camera.Driver{
		Device:      deps.Device,
		Pool:        pool,
		Dispatch:    dispatcher,
		Controls:    ctrls,
		Log:         log.With("component", "driver"),
		BaseTimeout: BaseGetVideoDataTimeout,
	}

	var controller agc.Controller
	switch cfg.AGCMode {
	case "servo":
		controller = agc.NewServoController()
	default:
		stepwise := agc.NewStepwiseController()
		stepwise.MaxSaturatedPixels = cfg.AGCMaxSaturatedPixels
		stepwise.MinMaxPixelValue = cfg.AGCMinMaxPixelValue
		stepwise.GainStep = cfg.AGCGainStep
		controller = stepwise
	}
	agcLoop := &agc.Loop{
		Queue:      toAGC,
		Controller: controller,
		Controls:   ctrls,
		Log:        log.With("component", "agc"),
	}

	dw := &diskwriter.Writer{
		Queue:      toDisk,
		SER:        serFile,
		Controls:   ctrls,
		Log:        log.With("component", "diskwriter"),
		StatfsPath: deps.StatfsPath,
	}

	preview := previewsrv.New(
		cfg.PreviewAddr,
		toPreview,
		ctrls,
		deps.Width,
		deps.Height,
		cfg.MaxHistogramFPS,
		cfg.PreviewPassword,
		log.With("component", "previewsrv"),
	)

	var emitter *telemetry.Emitter
	if cfg.MQTTBroker != "" {
		emitter = telemetry.New(cfg.MQTTBroker, cfg.InstanceID, ctrls, telemetry.QueueLens{
			ToDisk:    toDisk,
			ToAGC:     toAGC,
			ToPreview: toPreview,
			PoolFree:  telemetry.NewPoolFreeLenAdapter(pool.FreeLen),
		}, TelemetryPeriod, log.With("component", "telemetry"))
	}

	return &Runtime{
		SessionID:  sessionID,
		Cfg:        cfg,
		Log:        log,
		Controls:   ctrls,
		Pool:       pool,
		toDisk:     toDisk,
		toAGC:      toAGC,
		toPreview:  toPreview,
		device:     deps.Device,
		driver:     driver,
		agcLoop:    agcLoop,
		diskWriter: dw,
		previewSrv: preview,
		telemetry:  emitter,
		serFile:    serFile,
	}, nil
}

// Run starts every worker and the camera streaming, then blocks until ctx
// is cancelled or the producer stops on its own (device removal, end
// flag). It always attempts an orderly Shutdown before returning.
func (rt *Runtime) Run(ctx context.Context) error {
	if err := rt.device.StartStreaming(); err != nil {
		return fmt.Errorf("runtime: start streaming: %w", err)
	}

	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		rt.agcLoop.Run()
	}()

	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		rt.diskWriter.Run()
	}()

	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		rt.previewSrv.ConsumeFrames()
	}()

	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		if err := rt.previewSrv.Serve(); err != nil {
			rt.Log.Error("preview server exited with error", "error", err)
		}
	}()

	if rt.telemetry != nil {
		if err := rt.telemetry.Connect(); err != nil {
			rt.Log.Warn("telemetry connection failed, continuing without it", "error", err)
			rt.telemetry = nil
		} else {
			telemetryStop := make(chan struct{})
			rt.wg.Add(1)
			go func() {
				defer rt.wg.Done()
				rt.telemetry.Run(telemetryStop)
			}()
			go func() {
				<-ctx.Done()
				close(telemetryStop)
			}()
		}
	}

	driverErr := rt.driver.Run(ctx)

	rt.Shutdown()
	return driverErr
}

// Shutdown sets the end flag, closes every queue and the frame pool's free
// queue to wake blocked workers, stops the camera and preview server, and
// waits for every worker goroutine to exit. Idempotent.
func (rt *Runtime) Shutdown() {
	rt.Controls.SetEndFlag()

	if err := rt.device.StopStreaming(); err != nil {
		rt.Log.Warn("failed to stop camera streaming cleanly", "error", err)
	}

	rt.toDisk.Close()
	rt.toAGC.Close()
	rt.toPreview.Close()
	rt.Pool.Shutdown()

	if err := rt.previewSrv.Shutdown(); err != nil {
		rt.Log.Warn("failed to shut down preview server cleanly", "error", err)
	}

	rt.wg.Wait()

	if rt.telemetry != nil {
		rt.telemetry.Disconnect()
	}

	if rt.serFile != nil {
		if err := rt.serFile.Close(); err != nil {
			rt.Log.Error("failed to finalize SER output", "error", err)
		}
	}

	if err := rt.device.Close(); err != nil {
		rt.Log.Warn("failed to close camera device cleanly", "error", err)
	}
}
