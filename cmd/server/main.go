package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/threatlens/annotator/internal/config"
	"github.com/threatlens/annotator/internal/logger"
	"github.com/threatlens/annotator/internal/metrics"
	"github.com/threatlens/annotator/internal/pipeline"
	"github.com/threatlens/annotator/internal/recorder"
	"github.com/threatlens/annotator/internal/webmonitor"
	"github.com/threatlens/annotator/internal/webrtc"
)

var (
	// Command-line flags. Flags given explicitly override the config file.
	configPath  = flag.String("config", "", "YAML config file")
	source      = flag.String("source", "", "Video file, stream URL or image directory")
	model       = flag.String("model", "none", "Detection model handle (none or http(s) endpoint)")
	threshold   = flag.Float64("conf", 0.5, "Confidence threshold in (0, 1]")
	frameSkip   = flag.Int("frame-skip", 1, "Process every Nth frame")
	sinkPath    = flag.String("sink", "", "Write annotated video here (extension-less path writes PNG frames)")
	onFailure   = flag.String("on-model-failure", "abort", "Model failure policy (abort, skip)")
	httpAddr    = flag.String("http", ":8080", "HTTP server address")
	metricsAddr = flag.String("metrics", ":9090", "Metrics server address (empty disables)")
	pprofAddr   = flag.String("pprof", "", "pprof server address (empty disables)")
	recordPath  = flag.String("record-path", "./recordings", "Recording output path")
	maxClients  = flag.Int("max-clients", 10, "Maximum WebRTC clients")
	stunServers = flag.String("stun", "stun:stun.l.google.com:19302", "STUN server URLs (comma-separated)")
	loop        = flag.Bool("loop", false, "Reopen the source when it ends")
	realtime    = flag.Bool("realtime", true, "Pace file sources at their frame rate")
	logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor    = flag.Bool("log-color", true, "Enable colored log output")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.Log.Color)
	if err := logger.InitModules(cfg.Log.Modules); err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}

	logger.Info("Main", "Annotation server starting...")
	logger.Info("Main", "Log level: %s", level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("Main", "Server stopped: %v", err)
		os.Exit(1)
	}
	logger.Info("Main", "Server stopped")
}

// loadConfig reads the config file, if any, and applies explicitly set flags over it.
func loadConfig() (config.Config, error) {
	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	apply := map[string]func(){
		"source":           func() { cfg.Stream.Source = *source },
		"model":            func() { cfg.Stream.Model = *model },
		"conf":             func() { cfg.Stream.ConfidenceThreshold = *threshold },
		"frame-skip":       func() { cfg.Stream.FrameSkip = *frameSkip },
		"sink":             func() { cfg.Stream.SinkPath = *sinkPath },
		"on-model-failure": func() { cfg.Stream.OnModelFailure = config.FailurePolicy(*onFailure) },
		"http":             func() { cfg.Server.Addr = *httpAddr },
		"metrics":          func() { cfg.Server.MetricsAddr = *metricsAddr },
		"record-path":      func() { cfg.Server.RecordingOutputPath = *recordPath },
		"max-clients":      func() { cfg.Server.MaxWebRTCClients = *maxClients },
		"stun":             func() { cfg.Server.STUNServers = splitList(*stunServers) },
		"loop":             func() { cfg.Server.Loop = *loop },
		"realtime":         func() { cfg.Server.Realtime = *realtime },
		"log-level":        func() { cfg.Log.Level = *logLevel },
		"log-color":        func() { cfg.Log.Color = *logColor },
	}
	flag.Visit(func(f *flag.Flag) {
		if fn, ok := apply[f.Name]; ok {
			fn()
		}
	})

	return cfg, cfg.Validate()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func run(ctx context.Context, cfg config.Config) error {
	m := metrics.New()

	if err := os.MkdirAll(cfg.Server.RecordingOutputPath, 0o755); err != nil {
		return err
	}
	rec := recorder.NewRecorder(cfg.Server.RecordingOutputPath, recorder.Options{})
	rtc := webrtc.NewServer(webrtc.Options{
		ICEServers: cfg.Server.STUNServers,
		MaxClients: cfg.Server.MaxWebRTCClients,
		Metrics:    m,
	})

	srv, err := webmonitor.NewServer(webmonitor.Options{
		Server:   cfg.Server,
		Stream:   cfg.Stream,
		Deps:     pipeline.Deps{Metrics: m},
		Recorder: rec,
		WebRTC:   rtc,
	})
	if err != nil {
		return err
	}

	logger.Info("Main", "  Source: %s", cfg.Stream.Source)
	logger.Info("Main", "  Model: %s (threshold %.2f, frame skip %d)", cfg.Stream.Model, cfg.Stream.ConfidenceThreshold, cfg.Stream.FrameSkip)
	logger.Info("Main", "  HTTP server: %s", cfg.Server.Addr)
	logger.Info("Main", "  Metrics server: %s", cfg.Server.MetricsAddr)
	logger.Info("Main", "  Recording path: %s", cfg.Server.RecordingOutputPath)

	servers := []*http.Server{{Addr: cfg.Server.Addr, Handler: srv.Handler()}}
	if cfg.Server.MetricsAddr != "" {
		servers = append(servers, m.NewServer(cfg.Server.MetricsAddr))
	}
	if *pprofAddr != "" {
		servers = append(servers, &http.Server{Addr: *pprofAddr, Handler: http.DefaultServeMux})
	}

	g, ctx := errgroup.WithContext(ctx)

	for _, hs := range servers {
		g.Go(func() error {
			logger.Info("Main", "Listening on %s", hs.Addr)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		return srv.RunStatus(ctx)
	})

	g.Go(func() error {
		if err := srv.Run(ctx); err != nil {
			return err
		}
		// The source is done; keep serving the final status until interrupted.
		<-ctx.Done()
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Main", "Shutting down...")
		return shutdown(srv, servers, 5*time.Second)
	})

	return g.Wait()
}

// shutdown closes the monitor first so streaming handlers return, then
// drains the HTTP servers. Every error is reported.
func shutdown(monitor io.Closer, servers []*http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := monitor.Close()
	for _, hs := range servers {
		err = multierr.Append(err, hs.Shutdown(ctx))
	}
	return err
}
