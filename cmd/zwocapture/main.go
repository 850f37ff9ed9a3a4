// Command zwocapture runs the real-time capture pipeline for a ZWO ASI178
// camera: one producer goroutine fans frames out to a disk writer, an AGC
// control loop, and a live preview server.
//
// Grounded on the flag parsing / logging setup / signal handling shape of
// an RTSP test harness's main package, adapted to the capture pipeline's
// own CLI surface.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/seeing-things/zwo/internal/camera"
	"github.com/seeing-things/zwo/internal/camera/simulated"
	"github.com/seeing-things/zwo/internal/config"
	"github.com/seeing-things/zwo/internal/runtime"
)

// sensorWidth/sensorHeight are the ZWO ASI178's full-resolution frame
// dimensions at binning=1.
const (
	sensorWidth  = 3096
	sensorHeight = 2080
	bytesPerPixel = 1
)

func main() {
	flags, configPath := parseFlags()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	var fileCfg *config.FileConfig
	if configPath != "" {
		fc, err := config.Load(configPath)
		if err != nil {
			logger.Error("failed to load config file", "path", configPath, "error", err)
			os.Exit(1)
		}
		fileCfg = fc
	}

	cfg, err := config.FromFlags(flags, fileCfg)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if cfg.OutputPath != "" {
		if _, statErr := os.Stat(cfg.OutputPath); statErr == nil {
			if !promptOverwrite(cfg.OutputPath) {
				logger.Info("aborted: output file exists and overwrite was declined", "path", cfg.OutputPath)
				os.Exit(1)
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	info, err := camera.Select(ctx, simulated.Enumerator{}, cfg.Camera, promptCameraSelection)
	if err != nil {
		logger.Error("camera selection failed", "error", err)
		os.Exit(1)
	}
	logger.Info("camera selected", "name", info.Name, "index", info.Index)

	width, height := sensorWidth/cfg.Binning, sensorHeight/cfg.Binning
	device := simulated.New(width, height, bytesPerPixel, 60, 0)

	rt, err := runtime.New(cfg, runtime.Deps{
		Device:        device,
		Width:         width,
		Height:        height,
		BytesPerPixel: bytesPerPixel,
		StatfsPath:    statfsPathFor(cfg.OutputPath),
	}, logger)
	if err != nil {
		logger.Error("failed to initialize capture pipeline", "error", err)
		os.Exit(1)
	}

	logger.Info("starting capture", "session_id", rt.SessionID, "preview_addr", cfg.PreviewAddr)

	if err := rt.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("capture pipeline exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("capture stopped cleanly")
}

func parseFlags() (config.Flags, string) {
	var f config.Flags
	var configPath string

	flag.StringVar(&f.Camera, "camera", "", "substring-match device name")
	flag.StringVar(&f.OutputPath, "file", "", "SER output path; if omitted, disk write is disabled")
	flag.IntVar(&f.Gain, "gain", 510, "initial gain, in [0, 510]")
	flag.IntVar(&f.ExposureUS, "exposure", 1000, "initial exposure time in microseconds, in [32, 16667]")
	flag.IntVar(&f.Binning, "binning", 1, "hardware pixel binning")
	flag.Float64Var(&f.MaxPreviewFPS, "max-preview-fps", 30, "preview redraw cap")
	flag.Float64Var(&f.MaxHistogramFPS, "max-histogram-fps", 4, "histogram redraw cap")
	flag.BoolVar(&f.WriteAtStartup, "write-at-startup", false, "begin recording immediately")
	flag.BoolVar(&f.AGCEnabled, "agc", false, "enable automatic gain/exposure")
	flag.StringVar(&configPath, "config", "", "optional YAML config file")
	flag.StringVar(&f.AGCMode, "agc-mode", "stepwise", "AGC control law: stepwise or servo")
	flag.StringVar(&f.PreviewAddr, "preview-addr", "127.0.0.1:8178", "preview server bind address")
	flag.StringVar(&f.PreviewPassword, "preview-passphrase", "", "gates preview websocket connections")
	flag.StringVar(&f.MQTTBroker, "mqtt-broker", "", "enables telemetry publishing (host:port)")

	defaultInstanceID := "zwocapture"
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		defaultInstanceID = hostname
	}
	flag.StringVar(&f.InstanceID, "instance-id", defaultInstanceID, "MQTT client id / log correlation field")

	flag.Parse()
	return f, configPath
}

func promptOverwrite(path string) bool {
	fmt.Fprintf(os.Stderr, "%s already exists. Overwrite? [y/N] ", path)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func promptCameraSelection(infos []camera.Info) (int, error) {
	fmt.Fprintln(os.Stderr, "Multiple cameras matched:")
	for i, info := range infos {
		fmt.Fprintf(os.Stderr, "  [%d] %s\n", i, info.Name)
	}
	fmt.Fprint(os.Stderr, "Select a camera by number: ")

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return 0, fmt.Errorf("cmd: read camera selection: %w", err)
	}

	var idx int
	if _, err := fmt.Sscanf(strings.TrimSpace(line), "%d", &idx); err != nil {
		return 0, fmt.Errorf("cmd: invalid camera selection %q: %w", line, err)
	}
	if idx < 0 || idx >= len(infos) {
		return 0, fmt.Errorf("cmd: camera selection %d out of range [0, %d)", idx, len(infos))
	}
	return idx, nil
}

// statfsPathFor returns the directory whose free space should be probed
// for outputPath, or "" if no output file was configured.
func statfsPathFor(outputPath string) string {
	if outputPath == "" {
		return ""
	}
	dir := "."
	if idx := strings.LastIndexByte(outputPath, '/'); idx > 0 {
		dir = outputPath[:idx]
	} else if idx == 0 {
		dir = "/"
	}
	return dir
}
