package runtime

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/seeing-things/zwo/internal/camera/simulated"
	"github.com/seeing-things/zwo/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(outputPath string) *config.Config {
	return &config.Config{
		Camera:                "Simulated",
		OutputPath:            outputPath,
		Gain:                  100,
		ExposureUS:            5000,
		Binning:               1,
		MaxPreviewFPS:         30,
		MaxHistogramFPS:       4,
		AGCEnabled:            false,
		AGCMode:               "stepwise",
		Observer:              "test-observer",
		Instrument:            "test-instrument",
		Telescope:             "test-telescope",
		AGCMaxSaturatedPixels: 10,
		AGCMinMaxPixelValue:   220,
		AGCGainStep:           20,
		PreviewAddr:           "127.0.0.1:0",
		InstanceID:            "test-instance",
	}
}

func TestRuntimeCapturesFramesToDisk(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "capture.ser")

	dev := simulated.New(16, 8, 1, 500, 0)
	cfg := testConfig(outPath)
	cfg.WriteAtStartup = true
	rt, err := New(cfg, Deps{
		Device:        dev,
		Width:         16,
		Height:        8,
		BytesPerPixel: 1,
		StatfsPath:    dir,
	}, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err = rt.Run(ctx)
	if err != nil && err != context.DeadlineExceeded {
		t.Fatalf("Run() error = %v", err)
	}

	info, err := os.Stat(outPath)
	if err != nil {
		t.Fatalf("expected SER output file to exist: %v", err)
	}
	if info.Size() <= 178 {
		t.Errorf("SER output file size = %d, want > header size (178)", info.Size())
	}
}

func TestRuntimeWithNoOutputPathSkipsSERFile(t *testing.T) {
	dev := simulated.New(16, 8, 1, 500, 0)
	rt, err := New(testConfig(""), Deps{
		Device:        dev,
		Width:         16,
		Height:        8,
		BytesPerPixel: 1,
	}, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if rt.serFile != nil {
		t.Error("serFile should be nil when no output path is configured")
	}
	if rt.Controls.DiskWriteEnabled() {
		t.Error("DiskWriteEnabled() should start false with no output path")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_ = rt.Run(ctx)
}

func TestRuntimeShutdownIsIdempotent(t *testing.T) {
	dev := simulated.New(16, 8, 1, 500, 0)
	rt, err := New(testConfig(""), Deps{
		Device:        dev,
		Width:         16,
		Height:        8,
		BytesPerPixel: 1,
	}, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_ = rt.Run(ctx)

	// Run's own Shutdown already ran; calling it again must not panic or
	// hang (Queue.Close and Pool.Shutdown are documented idempotent).
	rt.Shutdown()
}
