// Package fanout implements the producer-side per-route dispatch policy:
// disk always gets every frame (lossless), AGC gets a periodically
// coalesced sample, and preview gets a frame only when its queue is empty
// (the preview consumer has taken the previous one). This asymmetry is the key difference between the three
// consumers, generalizing the uniform drop-if-full policy of a plain
// publish/subscribe bus into three distinct named routes with different
// backpressure rules.
package fanout

import (
	"time"

	"github.com/seeing-things/zwo/internal/frame"
	"github.com/seeing-things/zwo/internal/queue"
)

// Dispatcher routes filled frames to the three downstream consumer queues.
// It is driven exclusively by the single producer goroutine and keeps no
// internal locking — its only mutable state (lastAGCDispatch) is read and
// written from that one goroutine.
type Dispatcher struct {
	ToDisk    *queue.Queue[*frame.Frame]
	ToAGC     *queue.Queue[*frame.Frame]
	ToPreview *queue.Queue[*frame.Frame]

	agcPeriod       time.Duration
	lastAGCDispatch time.Time
}

// New returns a Dispatcher that samples the to-agc route at most once every
// agcPeriod.
func New(toDisk, toAGC, toPreview *queue.Queue[*frame.Frame], agcPeriod time.Duration) *Dispatcher {
	return &Dispatcher{
		ToDisk:    toDisk,
		ToAGC:     toAGC,
		ToPreview: toPreview,
		agcPeriod: agcPeriod,
	}
}

// Dispatch routes f according to the per-route policy above. f must
// arrive with a reference count of 1 (as returned fresh from
// frame.Pool.Acquire) — that single reference is handed off to the to-disk
// route; AGC and preview each take an additional Retain() only when their
// policy decides to accept the frame.
//
// AGC and preview dispatch happen before the disk push so the base
// reference stays alive for the whole function: if disk were pushed first
// a fast disk consumer could race the ref count to zero before AGC/preview
// got their chance to Retain.
func (d *Dispatcher) Dispatch(f *frame.Frame) {
	now := time.Now()
	if d.agcPeriod <= 0 || now.Sub(d.lastAGCDispatch) >= d.agcPeriod {
		d.lastAGCDispatch = now
		f.Retain()
		d.ToAGC.Push(f)
	}

	if d.ToPreview.Len() == 0 {
		f.Retain()
		d.ToPreview.Push(f)
	}

	d.ToDisk.Push(f)
}
