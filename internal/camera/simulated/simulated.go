// Package simulated provides a synthetic camera.Device that generates
// frames at a target rate without any hardware attached, for development
// and for the test suite's end-to-end exercises.
//
// Grounded on References/orion-prototipe/internal/stream/mock.go's
// MockStream, adapted from a channel-based frame source into the
// camera.Device pull interface (GetVideoData) the producer loop expects.
package simulated

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/seeing-things/zwo/internal/camera"
)

const syncWord = 0x7e5a

// Device synthesizes frames at a configured rate. It is safe for
// concurrent use by the producer loop (which only ever calls it serially)
// and by tests that poke at its control values from another goroutine.
type Device struct {
	width, height int
	bytesPerPixel int
	fps           float64
	corruptEvery  int // if >0, every Nth frame has a broken sync word

	mu          sync.Mutex
	gain        int
	exposureUS  int
	streaming   bool
	frameIndex  uint16
	frameCount  uint64
	lastFrameAt time.Time
	closed      bool
}

// Info describes the one synthetic camera this backend ever enumerates.
var Info = camera.Info{
	Index:     0,
	Name:      "Simulated ASI178",
	IsColor:   false,
	MaxWidth:  3096,
	MaxHeight: 2080,
}

// Enumerator implements camera.Enumerator for the simulated backend.
type Enumerator struct{}

func (Enumerator) Enumerate(ctx context.Context) ([]camera.Info, error) {
	return []camera.Info{Info}, nil
}

// New returns a Device that, once started, emits frames at fps frames per
// second. corruptEvery, if non-zero, deliberately breaks the sync word of
// every Nth frame to exercise the producer's validation path.
func New(width, height int, bytesPerPixel int, fps float64, corruptEvery int) *Device {
	return &Device{
		width:         width,
		height:        height,
		bytesPerPixel: bytesPerPixel,
		fps:           fps,
		corruptEvery:  corruptEvery,
	}
}

func (d *Device) ApplyStaticConfig(cfg camera.StaticConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.width = cfg.Width
	d.height = cfg.Height
	return nil
}

func (d *Device) StartStreaming() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streaming = true
	d.lastFrameAt = time.Now()
	return nil
}

func (d *Device) StopStreaming() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streaming = false
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *Device) SetControlValue(control camera.Control, value int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch control {
	case camera.ControlGain:
		d.gain = value
	case camera.ControlExposureUS:
		d.exposureUS = value
	default:
		return fmt.Errorf("simulated: unknown control %v", control)
	}
	return nil
}

// GetVideoData blocks until the next frame's scheduled emission time, then
// fills buf with synthetic pixel data and returns its frame index. A
// context cancellation unblocks this call immediately.
func (d *Device) GetVideoData(ctx context.Context, buf []byte, timeout time.Duration) (camera.FrameMeta, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return camera.FrameMeta{}, camera.ErrDeviceRemoved
	}
	frameDuration := time.Second
	if d.fps > 0 {
		frameDuration = time.Duration(float64(time.Second) / d.fps)
	}
	deadline := d.lastFrameAt.Add(frameDuration)
	d.mu.Unlock()

	wait := time.Until(deadline)
	if wait > timeout {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return camera.FrameMeta{}, ctx.Err()
		case <-timer.C:
		}
		return camera.FrameMeta{}, camera.ErrTimeout
	}
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return camera.FrameMeta{}, ctx.Err()
		case <-timer.C:
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.frameCount++
	d.frameIndex += 1
	idx := d.frameIndex
	d.lastFrameAt = time.Now()

	fillSynthetic(buf, d.frameCount)
	if d.corruptEvery > 0 && d.frameCount%uint64(d.corruptEvery) == 0 {
		buf[0] ^= 0xff
	}

	return camera.FrameMeta{FrameIndex: idx}, nil
}

// fillSynthetic writes a sync word at both ends of buf and a
// pseudo-random-but-deterministic pattern in between, seeded by the frame
// number so repeated runs produce repeatable test fixtures.
func fillSynthetic(buf []byte, frameNum uint64) {
	if len(buf) < 4 {
		return
	}
	binary.LittleEndian.PutUint16(buf[:2], syncWord)
	binary.LittleEndian.PutUint16(buf[len(buf)-2:], syncWord)

	r := rand.New(rand.NewSource(int64(frameNum)))
	for i := 2; i < len(buf)-2; i++ {
		buf[i] = byte(r.Intn(256))
	}
}
