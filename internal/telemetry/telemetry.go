// Package telemetry publishes periodic pipeline statistics over MQTT: an
// optional, metadata-only sidecar that carries no frame data and has no
// effect on the capture pipeline when no broker is configured.
//
// Grounded on References/orion-prototipe/internal/emitter/mqtt.go's
// MQTTEmitter, adapted from publishing per-inference messages to
// publishing one periodic stats snapshot.
package telemetry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/seeing-things/zwo/internal/control"
)

// StatsSnapshot is the JSON payload published to "<instance-id>/stats".
type StatsSnapshot struct {
	InstanceID       string  `json:"instance_id"`
	ObservedFPS      float64 `json:"observed_fps"`
	ToDiskQueueLen   int     `json:"to_disk_queue_len"`
	ToAGCQueueLen    int     `json:"to_agc_queue_len"`
	ToPreviewQueueLen int    `json:"to_preview_queue_len"`
	PoolFreeLen      int     `json:"pool_free_len"`
	DiskWriteEnabled bool    `json:"disk_write_enabled"`
	AGCEnabled       bool    `json:"agc_enabled"`
	GainTarget       int     `json:"gain_target"`
	ExposureTargetUS int     `json:"exposure_target_us"`
}

// QueueLens is a narrow view over the four pipeline queues, just enough to
// report their depths without importing internal/frame's concrete type
// into this package's public surface.
type QueueLens struct {
	ToDisk, ToAGC, ToPreview Lenable
	PoolFree                 Lenable
}

// Lenable is satisfied by *queue.Queue[T] for any T. *frame.Pool exposes
// FreeLen rather than Len, so it is wrapped with NewPoolFreeLenAdapter.
type Lenable interface {
	Len() int
}

// poolFreeLenAdapter adapts frame.Pool's FreeLen method to the Lenable
// interface without this package importing internal/frame directly.
type poolFreeLenAdapter struct {
	FreeLenFunc func() int
}

func (p poolFreeLenAdapter) Len() int { return p.FreeLenFunc() }

// NewPoolFreeLenAdapter wraps a frame.Pool.FreeLen-shaped function as a
// Lenable.
func NewPoolFreeLenAdapter(freeLen func() int) Lenable {
	return poolFreeLenAdapter{FreeLenFunc: freeLen}
}

// Emitter connects to a broker and periodically publishes a StatsSnapshot.
type Emitter struct {
	Broker     string
	InstanceID string
	Controls   *control.Controls
	Queues     QueueLens
	Period     time.Duration
	Log        *slog.Logger

	mu        sync.RWMutex
	client    mqtt.Client
	connected bool
}

// New constructs an Emitter. Connect must be called before Run.
func New(broker, instanceID string, ctrls *control.Controls, queues QueueLens, period time.Duration, log *slog.Logger) *Emitter {
	return &Emitter{
		Broker:     broker,
		InstanceID: instanceID,
		Controls:   ctrls,
		Queues:     queues,
		Period:     period,
		Log:        log,
	}
}

// Connect dials the configured broker with auto-reconnect enabled.
func (e *Emitter) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.Broker))
	opts.SetClientID(e.InstanceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		e.Log.Info("mqtt telemetry connected", "broker", e.Broker, "client_id", e.InstanceID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		e.Log.Warn("mqtt telemetry connection lost, will auto-reconnect", "error", err)
	}

	e.client = mqtt.NewClient(opts)
	token := e.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("telemetry: mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("telemetry: mqtt connection failed: %w", err)
	}
	return nil
}

// Run publishes a snapshot every Period until stop is closed.
func (e *Emitter) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(e.Period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.publishOnce()
		}
	}
}

func (e *Emitter) publishOnce() {
	if !e.isConnected() {
		return
	}

	snap := StatsSnapshot{
		InstanceID:        e.InstanceID,
		ObservedFPS:       e.Controls.ObservedFrameRate(),
		ToDiskQueueLen:    e.Queues.ToDisk.Len(),
		ToAGCQueueLen:     e.Queues.ToAGC.Len(),
		ToPreviewQueueLen: e.Queues.ToPreview.Len(),
		PoolFreeLen:       e.Queues.PoolFree.Len(),
		DiskWriteEnabled:  e.Controls.DiskWriteEnabled(),
		AGCEnabled:        e.Controls.AGCEnabled(),
		GainTarget:        e.Controls.GainTarget(),
		ExposureTargetUS:  e.Controls.ExposureTargetUS(),
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		e.Log.Error("failed to marshal telemetry snapshot", "error", err)
		return
	}

	topic := fmt.Sprintf("%s/stats", e.InstanceID)
	token := e.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.Log.Error("telemetry publish timed out", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		e.Log.Error("telemetry publish failed", "topic", topic, "error", err)
	}
}

func (e *Emitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

// Disconnect closes the MQTT connection, if one was established.
func (e *Emitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
	}
	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()
}
