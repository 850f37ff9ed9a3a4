// Package diskwriter implements the to-disk consumer: strict-FIFO
// sequential writes into a SER container, with a periodic free-space
// check that disables further writing rather than running a volume out of
// space mid-recording.
//
// Grounded on original_source/capture/src/write.cpp's free-space-probe
// cadence, using golang.org/x/sys/unix.Statfs the same way internal/ser
// uses the rest of that package for the SER mmap.
package diskwriter

import (
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/seeing-things/zwo/internal/control"
	"github.com/seeing-things/zwo/internal/frame"
	"github.com/seeing-things/zwo/internal/queue"
	"github.com/seeing-things/zwo/internal/ser"
)

// FreeSpaceCheckPeriod is how many frames pass between free-space probes.
const FreeSpaceCheckPeriod = 100

// MinFreeDiskSpaceBytes is the threshold below which disk writing is
// disabled automatically.
const MinFreeDiskSpaceBytes = 100 * 1024 * 1024

// Writer drains the to-disk queue into a SER container. It is the only
// goroutine that ever calls SER.AddFrame, satisfying the container's
// single-writer invariant.
type Writer struct {
	Queue      *queue.Queue[*frame.Frame]
	SER        *ser.File // nil if no output file was configured
	Controls   *control.Controls
	Log        *slog.Logger
	StatfsPath string // directory whose volume free space is probed

	framesSinceCheck int
}

// Run drains frames until the queue is closed or Controls.EndFlag()
// becomes visible. On shutdown, any frames still queued beyond the one
// that woke this loop are dropped rather than drained to completion — see
// DESIGN.md's Open Question decision on shutdown semantics.
func (w *Writer) Run() {
	for {
		if w.Controls.EndFlag() {
			return
		}

		f, ok := w.Queue.PopBlocking()
		if !ok {
			return
		}
		if w.Controls.EndFlag() {
			f.Release()
			return
		}

		if w.Controls.DiskWriteEnabled() && w.SER != nil {
			if err := w.SER.AddFrame(f.Buf); err != nil {
				w.Log.Error("fatal error writing frame to disk, recording is corrupt", "error", err)
				panic(err)
			}
		}

		w.framesSinceCheck++
		if w.framesSinceCheck >= FreeSpaceCheckPeriod {
			w.framesSinceCheck = 0
			w.checkFreeSpace()
		}

		f.Release()
	}
}

func (w *Writer) checkFreeSpace() {
	if w.StatfsPath == "" {
		return
	}
	var st unix.Statfs_t
	if err := unix.Statfs(w.StatfsPath, &st); err != nil {
		w.Log.Error("failed to query free disk space", "error", err)
		return
	}
	freeBytes := st.Bavail * uint64(st.Bsize)
	if freeBytes < MinFreeDiskSpaceBytes {
		w.Controls.SetDiskWriteEnabled(false)
		w.Log.Warn("disk free space below threshold, disabling disk writes",
			"free_bytes", freeBytes,
			"threshold_bytes", MinFreeDiskSpaceBytes,
		)
	}
}
