package agc_test

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/seeing-things/zwo/internal/agc"
	"github.com/seeing-things/zwo/internal/control"
	"github.com/seeing-things/zwo/internal/frame"
	"github.com/seeing-things/zwo/internal/queue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoopUpdatesControlsWhenAGCEnabled(t *testing.T) {
	pool := frame.New(2, 16)
	q := queue.New[*frame.Frame]()
	ctrl := control.New(100, 5000, false, true)

	loop := &agc.Loop{
		Queue:      q,
		Controller: agc.NewStepwiseController(),
		Controls:   ctrl,
		Log:        testLogger(),
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		loop.Run()
	}()

	f, _ := pool.Acquire()
	// dim frame: should raise gain by one step
	q.Push(f)

	deadline := time.Now().Add(time.Second)
	for ctrl.GainTarget() == 100 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := ctrl.GainTarget(); got != 100+agc.GainStep {
		t.Errorf("GainTarget() = %d, want %d", got, 100+agc.GainStep)
	}

	q.Close()
	wg.Wait()

	if pool.FreeLen() != 2 {
		t.Errorf("FreeLen() = %d, want 2 (frame should have been released)", pool.FreeLen())
	}
}

func TestLoopSkipsControllerWhenAGCDisabled(t *testing.T) {
	pool := frame.New(2, 16)
	q := queue.New[*frame.Frame]()
	ctrl := control.New(100, 5000, false, false)

	loop := &agc.Loop{
		Queue:      q,
		Controller: agc.NewStepwiseController(),
		Controls:   ctrl,
		Log:        testLogger(),
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		loop.Run()
	}()

	f, _ := pool.Acquire()
	q.Push(f)

	q.Close()
	wg.Wait()

	if ctrl.GainTarget() != 100 {
		t.Errorf("GainTarget() = %d, want unchanged 100 when AGC disabled", ctrl.GainTarget())
	}
	if pool.FreeLen() != 2 {
		t.Errorf("FreeLen() = %d, want 2", pool.FreeLen())
	}
}
