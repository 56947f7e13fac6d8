package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/andresmejia3/segflow/internal/metrics"
	"github.com/andresmejia3/segflow/internal/types"
)

// Recorder persists the outcome of each consumed item.
type Recorder interface {
	RecordItem(ctx context.Context, rec types.ItemRecord) error
}

// Progress is advanced once per consumed item.
type Progress interface {
	Add(num int) error
}

type PostStats struct {
	Written int
	Failed  int
	Dropped int
}

// Post is the last stage. It blends inference results into an output
// artifact, logs failed items, and on the terminal envelope releases its
// outputs and emits one sentinel downstream.
type Post struct {
	base
	policies map[types.Mode]Policy
	owned    []io.Closer
	recorder Recorder
	progress Progress
	released bool
	stats    PostStats
}

type PostOption func(*Post)

func WithRecorder(r Recorder) PostOption { return func(p *Post) { p.recorder = r } }
func WithProgress(pr Progress) PostOption { return func(p *Post) { p.progress = pr } }

// WithOwned hands a resource (stream connection, file) to the stage. It is
// closed exactly once, when the terminal envelope arrives.
func WithOwned(c io.Closer) PostOption {
	return func(p *Post) {
		if c != nil {
			p.owned = append(p.owned, c)
		}
	}
}

func NewPost(policies map[types.Mode]Policy, out *Sender, logger *zap.Logger, opts ...PostOption) *Post {
	p := &Post{
		base:     base{name: "post", out: out, logger: logger},
		policies: policies,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Post) Process(env *types.Envelope) error {
	if env.IsTerminal() {
		p.logger.Info("finished", zap.Int("written", p.stats.Written), zap.Int("failed", p.stats.Failed))
		p.Release()
		return p.forwardTerminal(types.NewTerminal())
	}

	if env.Failed() {
		diag := env.Failure().Error()
		p.logger.Error(diag, zap.String("source", env.Params().Source()))
		p.consume(env, types.StatusFailed, diag, "")
		return nil
	}

	out, err := p.emit(env)
	switch {
	case errors.Is(err, errNoPolicy):
		p.logger.Warn("dropping item", zap.String("source", env.Params().Source()), zap.Error(err))
		p.consume(env, types.StatusDropped, err.Error(), "")
	case err != nil:
		p.logger.Error("post-process failed", zap.String("source", env.Params().Source()), zap.Error(err))
		p.consume(env, types.StatusFailed, err.Error(), "")
	default:
		p.logger.Debug("output written", zap.String("source", env.Params().Source()), zap.String("output", out))
		p.consume(env, types.StatusWritten, "", out)
	}
	return nil
}

func (p *Post) emit(env *types.Envelope) (string, error) {
	results := env.Results()
	if len(results) != 1 {
		return "", fmt.Errorf("%w: got %d output tensors, want 1", ErrInferenceShape, len(results))
	}
	params := env.Params()
	scores, err := NewScoreMap(results[0], params.ModelWidth(), params.ModelHeight())
	if err != nil {
		return "", err
	}

	mode := env.Image().Mode
	policy, ok := p.policies[mode]
	if !ok {
		return "", fmt.Errorf("%w %s", errNoPolicy, mode)
	}
	return policy.Emit(env, scores)
}

func (p *Post) consume(env *types.Envelope, status, diag, output string) {
	switch status {
	case types.StatusWritten:
		p.stats.Written++
	case types.StatusFailed:
		p.stats.Failed++
	case types.StatusDropped:
		p.stats.Dropped++
	}
	metrics.Envelopes.WithLabelValues(p.name, status).Inc()

	if p.recorder != nil {
		rec := types.ItemRecord{
			Source:     env.Params().Source(),
			Status:     status,
			Diagnostic: diag,
			Output:     output,
		}
		if err := p.recorder.RecordItem(context.Background(), rec); err != nil {
			p.logger.Warn("failed to record item", zap.String("source", rec.Source), zap.Error(err))
		}
	}
	if p.progress != nil {
		if err := p.progress.Add(1); err != nil {
			p.logger.Debug("failed to advance progress", zap.Error(err))
		}
	}
}

// Release closes the resources owned by the stage. Only the first call has
// an effect.
func (p *Post) Release() {
	if p.released {
		return
	}
	p.released = true
	for _, c := range p.owned {
		if err := c.Close(); err != nil {
			p.logger.Warn("failed to close output", zap.Error(err))
		}
	}
}

func (p *Post) Stats() PostStats { return p.stats }
