// Command annotate runs one stream to completion without serving it.
// Progress goes to the log; with -json every frame result is written to
// stdout as one JSON line.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/threatlens/annotator/internal/config"
	"github.com/threatlens/annotator/internal/logger"
	"github.com/threatlens/annotator/internal/metrics"
	"github.com/threatlens/annotator/internal/pipeline"
	"github.com/threatlens/annotator/internal/transport"
)

var (
	configPath   = flag.String("config", "", "YAML config file (stream and log sections)")
	source       = flag.String("source", "", "Video file, stream URL or image directory")
	model        = flag.String("model", "none", "Detection model handle (none or http(s) endpoint)")
	threshold    = flag.Float64("conf", 0.5, "Confidence threshold in (0, 1]")
	frameSkip    = flag.Int("frame-skip", 1, "Process every Nth frame")
	sinkPath     = flag.String("sink", "", "Annotated output path (extension-less path writes PNG frames)")
	onFailure    = flag.String("on-model-failure", "abort", "Model failure policy (abort, skip)")
	fps          = flag.Float64("fps", 0, "Frame rate reported for image directories")
	jsonOut      = flag.Bool("json", false, "Write one JSON payload per frame to stdout")
	includeImage = flag.Bool("include-image", false, "Embed the annotated frame as base64 JPEG in -json output")
	jpegQuality  = flag.Int("jpeg-quality", transport.DefaultJPEGQuality, "JPEG quality for -include-image")
	logLevel     = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor     = flag.Bool("log-color", true, "Enable colored log output")
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var out io.Writer
	if *jsonOut {
		w := bufio.NewWriter(os.Stdout)
		defer w.Flush()
		out = w
	}

	opts := transport.PayloadOptions{IncludeImage: *includeImage, JPEGQuality: *jpegQuality}
	if err := run(ctx, cfg.Stream, out, opts); err != nil {
		logger.Error("Main", "%v", err)
		if w, ok := out.(*bufio.Writer); ok {
			w.Flush()
		}
		os.Exit(1)
	}
}

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
		"fps":              func() { cfg.Stream.FPS = *fps },
		"log-level":        func() { cfg.Log.Level = *logLevel },
		"log-color":        func() { cfg.Log.Color = *logColor },
	}
	flag.Visit(func(f *flag.Flag) {
		if fn, ok := apply[f.Name]; ok {
			fn()
		}
	})

	return cfg, cfg.Stream.Validate()
}

// run drives one stream and writes a payload per result to out when out is non-nil.
func run(ctx context.Context, cfg config.StreamConfig, out io.Writer, opts transport.PayloadOptions) error {
	m := metrics.New()
	st, err := pipeline.Open(ctx, cfg, pipeline.Deps{Metrics: m})
	if err != nil {
		return err
	}
	opts.StreamID = st.ID()

	info := st.Info()
	logger.Info("Main", "Annotating %s: %dx%d @ %.2f fps, %d frames", cfg.Source, info.Width, info.Height, info.FPS, info.TotalFrames)

	var enc *json.Encoder
	if out != nil {
		enc = json.NewEncoder(out)
	}

	start := time.Now()
	lastReport := start
	emitted, detections := 0, 0
	for res, err := range st.All(ctx) {
		if err != nil {
			return err
		}
		emitted++
		detections += res.Count

		if enc != nil {
			p, err := transport.NewPayload(res, opts)
			if err != nil {
				return err
			}
			if err := enc.Encode(p); err != nil {
				return fmt.Errorf("write payload: %w", err)
			}
		}

		if time.Since(lastReport) >= time.Second {
			lastReport = time.Now()
			if res.Progress != nil {
				logger.Info("Main", "Frame %d/%d (%.1f%%), %d detections so far", res.FrameNumber, res.TotalFrames, *res.Progress, detections)
			} else {
				logger.Info("Main", "Frame %d, %d detections so far", res.FrameNumber, detections)
			}
		}
	}

	elapsed := time.Since(start)
	logger.Info("Main", "Done: %d frames read, %d emitted, %d detections in %s (model failures: %d)",
		m.FramesRead.Load(), emitted, detections, elapsed.Round(time.Millisecond), m.ModelFailures.Load())
	if cfg.SinkPath != "" {
		logger.Info("Main", "Annotated output: %s (%d frames)", cfg.SinkPath, m.SinkFrames.Load())
	}
	return nil
}
