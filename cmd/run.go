package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andresmejia3/segflow/internal/config"
	"github.com/andresmejia3/segflow/internal/imaging"
	"github.com/andresmejia3/segflow/internal/metrics"
	"github.com/andresmejia3/segflow/internal/pipeline"
	"github.com/andresmejia3/segflow/internal/sink"
	"github.com/andresmejia3/segflow/internal/types"
	"github.com/andresmejia3/segflow/internal/utils"
	"github.com/andresmejia3/segflow/internal/worker"
)

// RunOptions are the run flags that are not part of the pipeline config.
type RunOptions struct {
	Input    string
	Live     bool
	NthFrame int
}

var runOpts RunOptions

var (
	imageExts = []string{".jpg", ".jpeg", ".png", ".bmp", ".gif", ".tif", ".tiff", ".webp"}
	videoExts = []string{".mp4", ".mkv", ".avi", ".mov", ".webm", ".mjpeg", ".mjpg", ".ts"}
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Segment images or a live capture and deliver the overlays",
	Long: `Runs every input through ingest, transform, inference and post-processing.

Static inputs (an image, a directory of images or a glob) are written as
out_<name> into the output directory. Live inputs (a video, a camera URL,
or "-" for an MJPEG/video stream on stdin) are streamed as raw BGR frames to
--stream-addr.`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{dbAnnotation: dbOptional},
	Run: func(cmd *cobra.Command, args []string) {
		runPipeline(cmd.Context(), runOpts)
	},
}

func init() {
	runCmd.Flags().StringVarP(&runOpts.Input, "input", "i", "", "Image, directory, glob, video, camera URL or - for stdin")
	runCmd.Flags().BoolVarP(&runOpts.Live, "live", "l", false, "Treat the input as a live capture even if it looks like images")
	runCmd.Flags().IntVarP(&runOpts.NthFrame, "nth-frame", "n", 1, "Live capture: process every nth frame")
	bindRunFlags(runCmd)

	runCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(runCmd)
}

// runPipeline sets up the collaborators (backend, model, stream, ledger,
// metrics, progress) and drives one pipeline run to completion.
func runPipeline(ctx context.Context, opts RunOptions) {
	if err := validateRunFlags(&opts, cfg); err != nil {
		utils.Die("Invalid flags", err, nil)
	}
	start := time.Now()
	mode := inputMode(opts)

	backend, err := imaging.NewBackend(cfg.Transform.Backend)
	if err != nil {
		utils.Die("Failed to load imaging backend", err, nil)
	}

	// 1. Model
	model, py, err := newModel(cfg, backend)
	if err != nil {
		utils.Die("Failed to start inference worker", err, nil)
	}
	stopModel := func() {}
	if py != nil {
		var once sync.Once
		stopModel = func() {
			once.Do(func() {
				if err := py.Close(); err != nil {
					logger.Debug("python worker exited", zap.Error(err))
				}
				if logs := py.Stderr(); logs != "" {
					logger.Debug("python worker stderr", zap.String("stderr", logs))
				}
			})
		}
	}
	defer stopModel()
	var pyCmd *utils.SafeCommand
	if py != nil {
		pyCmd = py.Cmd
	}

	// 2. Input
	var (
		frames pipeline.FrameSource
		total  = -1
		ffmpeg *exec.Cmd
		ffErr  bytes.Buffer
	)
	switch mode {
	case types.ModeStatic:
		paths, err := collectInputs(opts.Input)
		if err != nil {
			utils.Die("Failed to collect input images", err, nil)
		}
		frames = pipeline.NewFileFrames(paths)
		total = len(paths)
		fmt.Fprintf(os.Stderr, "🖼️  Processing %d image(s) into %s\n", total, cfg.Routing.OutputDir)
	default:
		ffmpeg = utils.NewFFmpegCmd(opts.Input, opts.NthFrame)
		ffmpeg.Stderr = &ffErr
		if opts.Input == "-" {
			ffmpeg.Stdin = os.Stdin
		} else if n := utils.GetTotalFrames(opts.Input); n > 0 {
			total = n / opts.NthFrame
		}
		out, err := ffmpeg.StdoutPipe()
		if err != nil {
			utils.Die("Failed to create FFmpeg stdout pipe", err, nil)
		}
		defer out.Close() // Ensure pipe is closed to prevent leaks/zombies
		if err := ffmpeg.Start(); err != nil {
			utils.Die("Failed to start FFmpeg", err, nil)
		}
		frames = pipeline.NewStreamFrames(out)
		fmt.Fprintf(os.Stderr, "📡 Live capture from %s\n", opts.Input)
	}

	// 3. Output stream
	var stream io.WriteCloser
	if mode == types.ModeLive {
		if cfg.Post.StreamAddr == "" {
			logger.Warn("no --stream-addr set, live frames will be logged as failed")
		} else {
			s, err := sink.Dial(ctx, cfg.Post.StreamAddr, cfg.Post.DialTimeout)
			if err != nil {
				utils.Die("Failed to connect to the frame receiver", err, nil)
			}
			stream = s
			fmt.Fprintf(os.Stderr, "🔌 Streaming overlays to %s\n", s.Addr())
		}
	}

	// 4. Ledger
	var recorder pipeline.Recorder
	runID := uuid.Nil
	if DB != nil {
		if runID, err = DB.StartRun(ctx, opts.Input, mode); err != nil {
			utils.Die("Failed to register run", err, nil)
		}
		recorder = DB.Ledger(runID)
		fmt.Fprintf(os.Stderr, "📒 Run ID: %s\n", runID)
	}

	// 5. Metrics
	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(metricsCtx, cfg.Metrics.Addr, logger); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("🧩 Segmenting"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	summary, runErr := pipeline.Run(ctx, pipeline.Options{
		Config:     cfg,
		Backend:    backend,
		Model:      model,
		Stream:     stream,
		StreamAddr: cfg.Post.StreamAddr,
		Recorder:   recorder,
		Progress:   bar,
		Logger:     logger,
	}, frames)
	bar.Finish()

	if ffmpeg != nil {
		if runErr != nil && ffmpeg.Process != nil {
			_ = ffmpeg.Process.Kill()
		}
		if err := ffmpeg.Wait(); err != nil && runErr == nil {
			if ffErr.Len() > 0 {
				fmt.Fprintf(os.Stderr, "\nFFmpeg Logs:\n%s\n", ffErr.String())
			}
			utils.Die("FFmpeg execution failed", err, nil)
		}
	}

	if DB != nil {
		consumed := summary.Written + summary.Failed + summary.Dropped
		if err := DB.FinishRun(context.Background(), runID, consumed, summary.Failed); err != nil {
			logger.Warn("failed to close run in ledger", zap.Error(err))
		}
	}

	printSummary(os.Stderr, summary, time.Since(start))
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			utils.Die("Interrupted", runErr, nil)
		}
		// The worker has to exit before its stderr can be shown.
		stopModel()
		utils.Die("Pipeline failed", runErr, pyCmd)
	}
}

// newModel builds the configured Inferencer. The python worker is also
// returned so the caller can close it and show its logs.
func newModel(c *config.Config, backend imaging.Backend) (pipeline.Inferencer, *worker.PythonWorker, error) {
	switch c.Inference.Backend {
	case "luminance":
		return worker.NewLuminance(c.Routing.ModelWidth, c.Routing.ModelHeight, backend.Decoder), nil, nil
	case "python":
		w, err := worker.NewPythonWorker(0, c.Inference.Python, c.Inference.Script,
			fmt.Sprintf("SEGFLOW_MODEL_WIDTH=%d", c.Routing.ModelWidth),
			fmt.Sprintf("SEGFLOW_MODEL_HEIGHT=%d", c.Routing.ModelHeight))
		if err != nil {
			return nil, nil, err
		}
		return w, w, nil
	default:
		return nil, nil, fmt.Errorf("unknown inference backend %q", c.Inference.Backend)
	}
}

func printSummary(w io.Writer, s pipeline.Summary, elapsed time.Duration) {
	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "📊 RUN SUMMARY\n")
	fmt.Fprintf(w, "---------------------------------------------------------\n")
	fmt.Fprintf(w, "📥 Ingested:    %d (%d unreadable)\n", s.Sent+s.Undecoded, s.Undecoded)
	fmt.Fprintf(w, "✅ Written:     %d\n", s.Written)
	fmt.Fprintf(w, "❌ Failed:      %d\n", s.Failed)
	if s.Dropped > 0 {
		fmt.Fprintf(w, "🗑️  Dropped:     %d\n", s.Dropped)
	}
	fmt.Fprintf(w, "⏱️  Elapsed:     %s\n", fmtTime(elapsed.Seconds()))
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}

// inputMode decides between static images and a live capture.
func inputMode(opts RunOptions) types.Mode {
	in := opts.Input
	switch {
	case opts.Live, in == "-", strings.Contains(in, "://"), strings.HasPrefix(in, "/dev/video"):
		return types.ModeLive
	case slices.Contains(videoExts, strings.ToLower(filepath.Ext(in))):
		return types.ModeLive
	default:
		return types.ModeStatic
	}
}

// collectInputs expands a file, directory or glob into a sorted list of
// image paths.
func collectInputs(input string) ([]string, error) {
	info, err := os.Stat(input)
	switch {
	case err == nil && !info.IsDir():
		return []string{input}, nil
	case err == nil:
		entries, err := os.ReadDir(input)
		if err != nil {
			return nil, err
		}
		var paths []string
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), sink.Prefix) {
				continue
			}
			if slices.Contains(imageExts, strings.ToLower(filepath.Ext(e.Name()))) {
				paths = append(paths, filepath.Join(input, e.Name()))
			}
		}
		if len(paths) == 0 {
			return nil, fmt.Errorf("no images found in %s", input)
		}
		return paths, nil
	case os.IsNotExist(err):
		paths, gerr := filepath.Glob(input)
		if gerr != nil {
			return nil, gerr
		}
		if len(paths) == 0 {
			return nil, fmt.Errorf("input %s does not exist", input)
		}
		sort.Strings(paths)
		return paths, nil
	default:
		return nil, err
	}
}

// validateRunFlags ensures all CLI arguments are valid before starting heavy processes.
func validateRunFlags(opts *RunOptions, c *config.Config) error {
	if opts.Input == "" {
		return errors.New("--input is required")
	}
	if opts.NthFrame < 1 {
		return fmt.Errorf("invalid nth-frame interval: must be >= 1, got %d", opts.NthFrame)
	}
	if c.Inference.Backend == "python" {
		if _, err := os.Stat(c.Inference.Script); err != nil {
			return fmt.Errorf("inference script: %w", err)
		}
	}
	if info, err := os.Stat(c.Routing.OutputDir); err == nil && !info.IsDir() {
		return fmt.Errorf("output dir %s is not a directory", c.Routing.OutputDir)
	}
	return nil
}

func fmtTime(seconds float64) string {
	duration := time.Duration(seconds * float64(time.Second))
	h := int(duration.Hours())
	m := int(duration.Minutes()) % 60
	s := int(duration.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
