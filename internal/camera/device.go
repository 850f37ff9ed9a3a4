// Package camera defines the Device abstraction the producer loop drives,
// plus the loop itself. The real ZWO ASI178 backend talks to the camera
// over its vendor SDK and a raw libusb bulk endpoint (see
// original_source/capture/src/camera.cpp); that hardware dependency has no
// stand-in in this pack, so only a synthetic implementation
// (internal/camera/simulated) ships here, selected the same way a real
// backend would be via the Device interface.
package camera

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Control identifies a settable camera parameter.
type Control int

const (
	ControlGain Control = iota
	ControlExposureUS
)

// ErrTimeout is returned by GetVideoData when no frame arrived within the
// requested deadline. The producer loop treats this as recoverable.
var ErrTimeout = errors.New("camera: frame wait timed out")

// ErrDeviceRemoved is returned by GetVideoData (or any other call) once the
// underlying device has disappeared. The producer loop treats this as
// fatal and ends the program, matching LIBUSB_TRANSFER_NO_DEVICE handling
// in the original capture tool.
var ErrDeviceRemoved = errors.New("camera: device removed")

// Info describes one camera enumerated on the system.
type Info struct {
	Index               int
	Name                string
	IsColor             bool
	MaxWidth, MaxHeight int
}

// StaticConfig is the set of camera parameters fixed for the lifetime of a
// capture run: everything set once at startup that isn't touched again by
// AGC or the control loop.
type StaticConfig struct {
	Width, Height      int
	Binning            int
	BandwidthOverload  int
	HighSpeedMode      bool
}

// FrameMeta is the per-frame metadata a Device reports alongside the pixel
// bytes it wrote into the caller-supplied buffer.
type FrameMeta struct {
	FrameIndex uint16
}

// Device is the interface the producer loop drives. Real backends wrap a
// vendor SDK handle; internal/camera/simulated.Device synthesizes frames
// for development and testing without hardware attached.
type Device interface {
	// ApplyStaticConfig sets the sensor ROI, binning and bandwidth
	// parameters. Called once after Open, before StartStreaming.
	ApplyStaticConfig(cfg StaticConfig) error

	// StartStreaming begins the free-running capture mode.
	StartStreaming() error

	// GetVideoData blocks until a frame is available or timeout elapses,
	// filling buf with exactly len(buf) bytes of raw pixel data. buf must
	// be sized to match the StaticConfig passed to ApplyStaticConfig.
	GetVideoData(ctx context.Context, buf []byte, timeout time.Duration) (FrameMeta, error)

	// SetControlValue updates gain or exposure. Safe to call while
	// streaming.
	SetControlValue(control Control, value int) error

	// StopStreaming ends the free-running capture mode.
	StopStreaming() error

	// Close releases the device handle.
	Close() error
}

// Enumerator lists the cameras visible to a particular backend.
type Enumerator interface {
	Enumerate(ctx context.Context) ([]Info, error)
}

// Opener opens a specific enumerated camera and returns a live Device.
type Opener interface {
	Open(ctx context.Context, info Info) (Device, error)
}

// Select picks the camera to use from the set a backend enumerates,
// following the original tool's name-substring matching: an empty name
// auto-selects when exactly one camera is present, a non-empty name
// matches case-insensitively as a substring, and any remaining ambiguity
// is resolved by prompt.
//
// Grounded on original_source/capture/src/camera.cpp's select_camera and
// prompt_user_for_camera.
func Select(ctx context.Context, en Enumerator, name string, prompt func([]Info) (int, error)) (Info, error) {
	infos, err := en.Enumerate(ctx)
	if err != nil {
		return Info{}, fmt.Errorf("camera: enumerate: %w", err)
	}
	if len(infos) == 0 {
		return Info{}, errors.New("camera: no cameras connected")
	}

	if name == "" {
		if len(infos) == 1 {
			return infos[0], nil
		}
		idx, err := prompt(infos)
		if err != nil {
			return Info{}, err
		}
		return infos[idx], nil
	}

	var matches []Info
	lowerName := strings.ToLower(name)
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name), lowerName) {
			matches = append(matches, info)
		}
	}

	switch len(matches) {
	case 0:
		return Info{}, fmt.Errorf("camera: no camera name matched %q", name)
	case 1:
		return matches[0], nil
	default:
		idx, err := prompt(matches)
		if err != nil {
			return Info{}, err
		}
		return matches[idx], nil
	}
}
