package diskwriter_test

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/seeing-things/zwo/internal/control"
	"github.com/seeing-things/zwo/internal/diskwriter"
	"github.com/seeing-things/zwo/internal/frame"
	"github.com/seeing-things/zwo/internal/queue"
	"github.com/seeing-things/zwo/internal/ser"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWriterAppendsEnabledFramesToSER(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.ser")
	sf, err := ser.Create(path, ser.Options{Width: 4, Height: 2, ColorID: ser.ColorMono, BitDepth: 8})
	if err != nil {
		t.Fatalf("ser.Create() error = %v", err)
	}

	pool := frame.New(3, int(sf.BytesPerFrame()))
	q := queue.New[*frame.Frame]()
	ctrl := control.New(0, control.ExposureMinUS, true, false)

	w := &diskwriter.Writer{Queue: q, SER: sf, Controls: ctrl, Log: testLogger()}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); w.Run() }()

	for i := 0; i < 3; i++ {
		f, _ := pool.Acquire()
		q.Push(f)
	}

	deadline := time.Now().Add(time.Second)
	for sf.FrameCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if sf.FrameCount() != 3 {
		t.Fatalf("FrameCount() = %d, want 3", sf.FrameCount())
	}

	q.Close()
	wg.Wait()

	if err := sf.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if pool.FreeLen() != 3 {
		t.Errorf("FreeLen() = %d, want 3 (all frames released)", pool.FreeLen())
	}
}

func TestWriterDiscardsFramesWhenDisabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.ser")
	sf, err := ser.Create(path, ser.Options{Width: 4, Height: 2, ColorID: ser.ColorMono, BitDepth: 8})
	if err != nil {
		t.Fatalf("ser.Create() error = %v", err)
	}

	pool := frame.New(2, int(sf.BytesPerFrame()))
	q := queue.New[*frame.Frame]()
	ctrl := control.New(0, control.ExposureMinUS, true, false)
	ctrl.SetDiskWriteEnabled(false)

	w := &diskwriter.Writer{Queue: q, SER: sf, Controls: ctrl, Log: testLogger()}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); w.Run() }()

	f, _ := pool.Acquire()
	q.Push(f)

	q.Close()
	wg.Wait()

	if sf.FrameCount() != 0 {
		t.Errorf("FrameCount() = %d, want 0 when disk writing disabled", sf.FrameCount())
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
}

func TestWriterDropsRemainingFramesOnEndFlag(t *testing.T) {
	pool := frame.New(5, 8)
	q := queue.New[*frame.Frame]()
	ctrl := control.New(0, control.ExposureMinUS, false, false)

	w := &diskwriter.Writer{Queue: q, SER: nil, Controls: ctrl, Log: testLogger()}

	// Queue several frames, then signal shutdown before the writer starts.
	for i := 0; i < 4; i++ {
		f, _ := pool.Acquire()
		q.Push(f)
	}
	ctrl.SetEndFlag()
	q.Close()

	w.Run()
	// The writer returns promptly without needing every queued frame
	// explicitly released — dropped frames are abandoned, not recycled,
	// matching the documented drop-on-shutdown semantics.
}
