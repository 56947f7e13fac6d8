package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/andresmejia3/segflow/internal/config"
	"github.com/andresmejia3/segflow/internal/imaging"
	"github.com/andresmejia3/segflow/internal/queue"
	"github.com/andresmejia3/segflow/internal/types"
)

// Options wires the collaborators of one pipeline run.
type Options struct {
	Config  *config.Config
	Backend imaging.Backend
	Model   Inferencer
	// Stream receives live overlays. It is owned by the run and closed when
	// the terminal envelope reaches the last stage.
	Stream     io.WriteCloser
	StreamAddr string
	Recorder   Recorder
	Progress   Progress
	Logger     *zap.Logger
}

// Summary counts what happened to the items of a run.
type Summary struct {
	Sent      int
	Undecoded int
	Written   int
	Failed    int
	Dropped   int
	Sentinels int
}

// Run pushes every frame through ingest, transform, inference and
// post-processing, and returns once the completion sentinel has been
// received. A fatal error in any stage closes every queue so the other
// stages unblock and stop.
func Run(ctx context.Context, opts Options, frames FrameSource) (Summary, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	capacity := cfg.Queue.Capacity
	transformQ := queue.New("transform", capacity)
	inferQ := queue.New("inference", capacity)
	postQ := queue.New("post", capacity)
	doneQ := queue.New("done", 1)
	queues := []*queue.Queue{transformQ, inferQ, postQ, doneQ}

	sender := func(stage string, out queue.Sink) *Sender {
		return NewSender(stage, out, cfg.Queue.RetryInterval, cfg.Queue.MaxAttempts, logger.Named(stage))
	}

	ingest := NewIngest(IngestConfig{
		OutputDir:     cfg.Routing.OutputDir,
		ModelWidth:    cfg.Routing.ModelWidth,
		ModelHeight:   cfg.Routing.ModelHeight,
		MaxImageBytes: cfg.Limits.MaxImageBytes,
	}, opts.Backend.Decoder, sender("ingest", transformQ), logger.Named("ingest"))

	transform := NewTransform(opts.Backend.Resizer, opts.Backend.Encoder, cfg.Transform.JPEGQuality,
		sender("transform", inferQ), logger.Named("transform"))

	infer := NewInfer(opts.Model, sender("inference", postQ), logger.Named("inference"))

	policies := map[types.Mode]Policy{
		types.ModeLive: &LivePolicy{
			Decoder: opts.Backend.Decoder,
			Crop:    cropRect(cfg.Post.Crop),
			Stream:  streamWriter(opts.Stream),
			Addr:    opts.StreamAddr,
		},
		types.ModeStatic: &StaticPolicy{
			Decoder: opts.Backend.Decoder,
			Encoder: opts.Backend.Encoder,
			Quality: cfg.Transform.JPEGQuality,
		},
	}
	postOpts := []PostOption{WithRecorder(opts.Recorder), WithProgress(opts.Progress)}
	if opts.Stream != nil {
		postOpts = append(postOpts, WithOwned(opts.Stream))
	}
	post := NewPost(policies, sender("post", doneQ), logger.Named("post"), postOpts...)

	g, gctx := errgroup.WithContext(ctx)
	var sentinels int

	g.Go(func() error { return ingest.Run(gctx, frames) })
	g.Go(func() error { return RunStage(gctx, transformQ, transform) })
	g.Go(func() error { return RunStage(gctx, inferQ, infer) })
	g.Go(func() error { return RunStage(gctx, postQ, post) })
	g.Go(func() error {
		env, err := doneQ.Receive(gctx)
		if err != nil {
			return fmt.Errorf("waiting for completion: %w", err)
		}
		if !env.IsTerminal() {
			return fmt.Errorf("unexpected envelope after the last stage: %s", env)
		}
		sentinels++
		logger.Info("pipeline finished")
		return nil
	})

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-gctx.Done():
		case <-stop:
		}
		for _, q := range queues {
			if n := q.Len(); n > 0 {
				logger.Debug("closing queue with envelopes left", zap.String("queue", q.Name()), zap.Int("buffered", n))
			}
			q.Close()
		}
	}()

	err := g.Wait()
	close(stop)
	<-stopped
	// No-op when the terminal envelope got through.
	post.Release()

	stats := post.Stats()
	summary := Summary{
		Sent:      ingest.Sent(),
		Undecoded: ingest.Failed(),
		Written:   stats.Written,
		Failed:    stats.Failed,
		Dropped:   stats.Dropped,
		Sentinels: sentinels,
	}
	if err != nil {
		// A closed queue is the symptom, not the cause.
		if errors.Is(err, queue.ErrClosed) && ctx.Err() != nil {
			err = ctx.Err()
		}
		return summary, err
	}
	return summary, nil
}

func cropRect(c config.Crop) image.Rectangle {
	if c.W <= 0 || c.H <= 0 {
		return image.Rectangle{}
	}
	return image.Rect(c.X, c.Y, c.X+c.W, c.Y+c.H)
}

// streamWriter keeps a nil WriteCloser from becoming a non-nil io.Writer.
func streamWriter(s io.WriteCloser) io.Writer {
	if s == nil {
		return nil
	}
	return s
}
