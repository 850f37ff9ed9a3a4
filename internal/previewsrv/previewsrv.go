// Package previewsrv implements the live-preview consumer as a headless
// websocket/HTTP server instead of an OS window: a resizable GUI window
// with sliders is the traditional presentation, but rendering one is out
// of scope for this pipeline's Go rendition (no windowing toolkit
// dependency is wired anywhere else in the stack). A websocket stream of
// PNG-encoded frames plus a JSON control endpoint preserves the same
// operator affordances — latest-frame view, histogram, gain/exposure
// override, disk-write toggle — without a GUI.
//
// Grounded on the gorilla/websocket upgrader pattern in
// tomekstrzeszkowski-ai_processing's rtsp/broadcaster/web_rtc/signaling.go
// and the plain net/http handler registration style of its
// rtsp/broadcaster/watcher/server.go.
package previewsrv

import (
	"crypto/subtle"
	"encoding/json"
	"image"
	"image/png"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/scrypt"

	"github.com/seeing-things/zwo/internal/agc"
	"github.com/seeing-things/zwo/internal/control"
	"github.com/seeing-things/zwo/internal/frame"
	"github.com/seeing-things/zwo/internal/queue"
)

// scrypt parameters for deriving a comparison key from the configured
// passphrase. Values match the library's documented interactive-use
// recommendation.
const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
)

var scryptSalt = []byte("zwo-capture-preview-v1")

// Server serves the live-preview websocket/HTTP endpoint. One Server
// instance owns the to-preview queue's consumer side for the lifetime of
// the capture run.
type Server struct {
	Addr            string
	Queue           *queue.Queue[*frame.Frame]
	Controls        *control.Controls
	Width, Height   int
	MaxHistogramFPS float64
	Log             *slog.Logger

	passphraseKey []byte // nil disables gating

	mu            sync.RWMutex
	latestPNG     []byte
	latestHist    agc.Histogram
	lastHistAt    time.Time
	upgrader      websocket.Upgrader
	httpServer    *http.Server
}

// New constructs a Server. If passphrase is non-empty, /ws and /control
// both require a matching ?token= query parameter.
func New(addr string, q *queue.Queue[*frame.Frame], ctrls *control.Controls, width, height int, maxHistogramFPS float64, passphrase string, log *slog.Logger) *Server {
	s := &Server{
		Addr:            addr,
		Queue:           q,
		Controls:        ctrls,
		Width:           width,
		Height:          height,
		MaxHistogramFPS: maxHistogramFPS,
		Log:             log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	if passphrase != "" {
		key, err := scrypt.Key([]byte(passphrase), scryptSalt, scryptN, scryptR, scryptP, scryptKeyLen)
		if err != nil {
			log.Error("failed to derive preview passphrase key, disabling gating", "error", err)
		} else {
			s.passphraseKey = key
		}
	}
	return s
}

// authorized reports whether a request may proceed, deriving a comparison
// key from its token query parameter when passphrase gating is enabled.
func (s *Server) authorized(r *http.Request) bool {
	if s.passphraseKey == nil {
		return true
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		return false
	}
	candidate, err := scrypt.Key([]byte(token), scryptSalt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(candidate, s.passphraseKey) == 1
}

// ConsumeFrames pops preview frames with drain-keep-latest semantics,
// rendering each into the cached PNG/histogram state served to clients.
// Runs until the queue is closed.
func (s *Server) ConsumeFrames() {
	for {
		f, ok := s.Queue.PopDrainKeepLatest(func(dropped *frame.Frame) {
			dropped.Release()
		})
		if !ok {
			return
		}
		s.render(f)
		f.Release()
	}
}

func (s *Server) render(f *frame.Frame) {
	hist := agc.Build(f.Buf)

	img := image.NewGray(image.Rect(0, 0, s.Width, s.Height))
	n := s.Width * s.Height
	if n > len(f.Buf) {
		n = len(f.Buf)
	}
	for i := 0; i < n; i++ {
		img.Pix[i] = f.Buf[i]
	}

	var buf pngBuffer
	if err := png.Encode(&buf, img); err != nil {
		s.Log.Error("failed to encode preview frame", "error", err)
		return
	}

	s.mu.Lock()
	s.latestPNG = buf.Bytes()
	s.latestHist = hist
	s.lastHistAt = time.Now()
	s.mu.Unlock()
}

// pngBuffer is a minimal io.Writer sink, avoiding a bytes.Buffer import
// purely for Write/Bytes.
type pngBuffer struct {
	data []byte
}

func (b *pngBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *pngBuffer) Bytes() []byte { return b.data }

// wsPayload is the JSON envelope sent over /ws alongside the raw PNG
// binary frame.
type wsPayload struct {
	Histogram        [agc.NumBins]int `json:"histogram"`
	ObservedFPS       float64          `json:"observed_fps"`
	DiskWriteEnabled  bool             `json:"disk_write_enabled"`
	AGCEnabled        bool             `json:"agc_enabled"`
	GainTarget        int              `json:"gain_target"`
	ExposureTargetUS  int              `json:"exposure_target_us"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	interval := time.Second
	if s.MaxHistogramFPS > 0 {
		interval = time.Duration(float64(time.Second) / s.MaxHistogramFPS)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.RLock()
		pngBytes := s.latestPNG
		hist := s.latestHist
		s.mu.RUnlock()
		if pngBytes == nil {
			continue
		}

		payload := wsPayload{
			Histogram:        hist.Bins,
			ObservedFPS:      s.Controls.ObservedFrameRate(),
			DiskWriteEnabled: s.Controls.DiskWriteEnabled(),
			AGCEnabled:       s.Controls.AGCEnabled(),
			GainTarget:       s.Controls.GainTarget(),
			ExposureTargetUS: s.Controls.ExposureTargetUS(),
		}
		if err := conn.WriteJSON(payload); err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, pngBytes); err != nil {
			return
		}
	}
}

// controlRequest is the JSON body accepted by POST /control, mirroring the
// slider/keystroke affordances of the windowed preview this replaces.
type controlRequest struct {
	AGCEnabled       *bool `json:"agc_enabled,omitempty"`
	Gain             *int  `json:"gain,omitempty"`
	ExposureUS       *int  `json:"exposure_us,omitempty"`
	ToggleDiskWrite  bool  `json:"toggle_disk_write,omitempty"`
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.AGCEnabled != nil {
		s.Controls.SetAGCEnabled(*req.AGCEnabled)
	}
	if !s.Controls.AGCEnabled() {
		if req.Gain != nil {
			s.Controls.SetGainTarget(*req.Gain)
		}
		if req.ExposureUS != nil {
			s.Controls.SetExposureTargetUS(*req.ExposureUS)
		}
	}
	if req.ToggleDiskWrite {
		s.Controls.SetDiskWriteEnabled(!s.Controls.DiskWriteEnabled())
	}

	w.WriteHeader(http.StatusNoContent)
}

const indexPage = `<!DOCTYPE html>
<html>
<head><title>zwo capture preview</title></head>
<body>
<h1>Live preview</h1>
<img id="frame" />
<pre id="stats"></pre>
<script>
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
ws.binaryType = "arraybuffer";
let lastStats = null;
ws.onmessage = (ev) => {
  if (typeof ev.data === "string") {
    lastStats = JSON.parse(ev.data);
    document.getElementById("stats").textContent = JSON.stringify(lastStats, null, 2);
  } else {
    const blob = new Blob([ev.data], {type: "image/png"});
    document.getElementById("frame").src = URL.createObjectURL(blob);
  }
};
</script>
</body>
</html>`

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexPage))
}

// Serve starts the HTTP server and blocks until it stops or ctx-driven
// shutdown via Shutdown is called from another goroutine.
func (s *Server) Serve() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/control", s.handleControl)

	s.httpServer = &http.Server{
		Addr:    s.Addr,
		Handler: mux,
	}
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server immediately via http.Server.Close,
// closing its listeners and any open connections without waiting for
// them to finish.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}
