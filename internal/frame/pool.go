package frame

import (
	"fmt"

	"github.com/seeing-things/zwo/internal/queue"
)

// Pool is a fixed-cardinality set of Frames. The set of Frames is immutable
// after New returns; every Frame is always referenced by the pool itself,
// plus zero or more of the four routing queues, plus zero or more in-flight
// handlers.
//
// Recommended size is 64.
type Pool struct {
	frames []*Frame
	free   *queue.Queue[*Frame]
}

// New constructs a Pool of n Frames, each sized bufSize bytes, and seeds the
// free queue with all of them. bufSize must be width*height*bytesPerPixel
// and must be non-zero — constructing a Frame before the image size is
// known is a programming error.
func New(n int, bufSize int) *Pool {
	if bufSize <= 0 {
		panic("frame: pool buffer size must be set to a non-zero value before construction")
	}
	if n <= 0 {
		panic("frame: pool size must be positive")
	}

	p := &Pool{
		frames: make([]*Frame, n),
		free:   queue.New[*Frame](),
	}
	for i := range p.frames {
		f := &Frame{
			Buf:  make([]byte, bufSize),
			pool: p,
		}
		p.frames[i] = f
		p.free.Push(f)
	}
	return p
}

// Size returns the fixed number of Frames in the pool.
func (p *Pool) Size() int {
	return len(p.frames)
}

// Acquire blocks until a Frame is available in the free queue (or the pool
// is shut down), removes it, sets its reference count to 1, and returns it.
// The returned Frame's count is 1 and observable by the caller before any
// other goroutine can see it, since it was exclusively owned by the free
// queue until this call removed it.
func (p *Pool) Acquire() (*Frame, bool) {
	f, ok := p.free.PopBlocking()
	if !ok {
		return nil, false
	}
	if n := f.refCount.Load(); n != 0 {
		panic(fmt.Sprintf("frame: acquired frame %d from free queue with non-zero ref count %d", f.Seq, n))
	}
	f.refCount.Store(1)
	return f, true
}

// FreeLen returns the number of Frames currently sitting in the free queue.
// For diagnostics and tests (stall detection: a free queue stuck at zero
// means every consumer is backed up).
func (p *Pool) FreeLen() int {
	return p.free.Len()
}

// Shutdown wakes any goroutine blocked in Acquire with ok=false. Frames
// already acquired are unaffected; it is the caller's responsibility to
// release them normally so in-flight work can unwind.
func (p *Pool) Shutdown() {
	p.free.Close()
}
