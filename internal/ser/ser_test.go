package ser_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/seeing-things/zwo/internal/ser"
)

func testOptions() ser.Options {
	return ser.Options{
		Width:      4,
		Height:     3,
		ColorID:    ser.ColorMono,
		BitDepth:   8,
		Observer:   "tester",
		Instrument: "ASI178",
		Telescope:  "none",
		AddTrailer: true,
	}
}

func TestAddFrameIncrementsFrameCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ser")
	f, err := ser.Create(path, testOptions())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	frame := make([]byte, f.BytesPerFrame())
	for i := 0; i < 5; i++ {
		if err := f.AddFrame(frame); err != nil {
			t.Fatalf("AddFrame() error = %v", err)
		}
	}
	if f.FrameCount() != 5 {
		t.Errorf("FrameCount() = %d, want 5", f.FrameCount())
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	wantSize := int64(178) + 5*f.BytesPerFrame() + 8*5
	if info.Size() != wantSize {
		t.Errorf("file size = %d, want %d", info.Size(), wantSize)
	}
}

func TestAddFrameRejectsWrongSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ser")
	f, err := ser.Create(path, testOptions())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer f.Close()

	if err := f.AddFrame(make([]byte, 3)); err == nil {
		t.Error("AddFrame() with wrong-sized buffer did not return an error")
	}
}

func TestCloseWithNoFramesRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.ser")
	f, err := ser.Create(path, testOptions())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file %s still exists after Close() with zero frames", path)
	}
}

func TestCloseWithoutTrailer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notrailer.ser")
	opt := testOptions()
	opt.AddTrailer = false
	f, err := ser.Create(path, opt)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	frame := make([]byte, f.BytesPerFrame())
	for i := 0; i < 3; i++ {
		if err := f.AddFrame(frame); err != nil {
			t.Fatalf("AddFrame() error = %v", err)
		}
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	wantSize := int64(178) + 3*f.BytesPerFrame()
	if info.Size() != wantSize {
		t.Errorf("file size = %d, want %d (no trailer)", info.Size(), wantSize)
	}
}

func TestVBTickConversionExactUpTo100ns(t *testing.T) {
	cases := []int64{0, 1, 99, 100, 101, 1_700_000_000_123_456_700}
	for _, ns := range cases {
		ticks := ser.UnixNSToVBTicks(ns)
		back := ser.VBTicksToUnixNS(ticks)
		want := ns - (ns % 100)
		if ns < 0 {
			// Go's % can be negative; not exercised by these cases.
			continue
		}
		if back != want {
			t.Errorf("VBTicksToUnixNS(UnixNSToVBTicks(%d)) = %d, want %d", ns, back, want)
		}
	}
}

func TestRGBFrameSizeTriplesBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "color.ser")
	opt := testOptions()
	opt.ColorID = ser.ColorRGB
	f, err := ser.Create(path, opt)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer f.Close()

	want := int64(opt.Width*opt.Height) * 3
	if f.BytesPerFrame() != want {
		t.Errorf("BytesPerFrame() = %d, want %d for RGB", f.BytesPerFrame(), want)
	}
}
