package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/andresmejia3/segflow/internal/imaging"
	"github.com/andresmejia3/segflow/internal/metrics"
	"github.com/andresmejia3/segflow/internal/types"
)

var errIngestFinished = errors.New("ingest already sent its terminal envelope")

// Frame is one image to ingest. When Data is nil the image is read from
// Source on disk.
type Frame struct {
	Source string
	Data   []byte
	Mode   types.Mode
}

// FrameSource yields frames until io.EOF.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
}

type IngestConfig struct {
	OutputDir     string
	ModelWidth    int
	ModelHeight   int
	MaxImageBytes int
}

// Ingest decodes images, wraps them in envelopes and sends them downstream,
// followed by exactly one terminal envelope.
type Ingest struct {
	base
	cfg      IngestConfig
	decoder  imaging.Decoder
	sent     int
	failed   int
	finished bool
}

func NewIngest(cfg IngestConfig, decoder imaging.Decoder, out *Sender, logger *zap.Logger) *Ingest {
	return &Ingest{
		base:    base{name: "ingest", out: out, logger: logger},
		cfg:     cfg,
		decoder: decoder,
	}
}

// Run pushes every frame of src and then finishes the stream. The terminal
// envelope is sent even when src fails part way through.
func (in *Ingest) Run(ctx context.Context, src FrameSource) error {
	for {
		f, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			in.logger.Error("frame source failed", zap.Error(err))
			return errors.Join(fmt.Errorf("ingest: source: %w", err), in.Finish())
		}
		if err := in.Push(f); err != nil {
			return err
		}
	}
	return in.Finish()
}

// Push ingests one frame. A frame that cannot be decoded is forwarded as a
// failed envelope and is not retried. Only allocation and channel failures
// are returned.
func (in *Ingest) Push(f Frame) error {
	if in.finished {
		return errIngestFinished
	}
	params := types.NewRoutingParams(in.cfg.OutputDir, f.Source, in.cfg.ModelWidth, in.cfg.ModelHeight)

	raw, err := in.decode(f)
	if err != nil {
		in.logger.Error("failed to deal file, read image failed", zap.String("source", f.Source), zap.Error(err))
		in.failed++
		reason := fmt.Sprintf("failed to deal file=%s, reason: read image failed", f.Source)
		return in.forward(types.NewFailed(params, reason, fmt.Errorf("%w: %w", ErrDecode, err)))
	}

	img, err := in.allocate(raw, f)
	if err != nil {
		in.logger.Error("failed to deal file, new envelope failed", zap.String("source", f.Source), zap.Error(err))
		return err
	}
	env, err := types.NewData(img, params)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAllocation, err)
	}

	if err := in.forward(env); err != nil {
		return err
	}
	in.sent++
	return nil
}

// Finish sends the terminal envelope. Calling it again is a no-op.
func (in *Ingest) Finish() error {
	if in.finished {
		return nil
	}
	in.finished = true
	return in.forwardTerminal(types.NewTerminal())
}

// Sent is the number of data envelopes delivered.
func (in *Ingest) Sent() int { return in.sent }

// Failed is the number of frames that could not be decoded.
func (in *Ingest) Failed() int { return in.failed }

func (in *Ingest) decode(f Frame) (imaging.Raw, error) {
	if f.Data != nil {
		return in.decoder.DecodeBytes(f.Data)
	}
	return in.decoder.Decode(f.Source)
}

func (in *Ingest) allocate(raw imaging.Raw, f Frame) (*types.Image, error) {
	want := raw.Width * raw.Height * imaging.Channels
	if raw.Width <= 0 || raw.Height <= 0 || len(raw.Pix) != want {
		return nil, fmt.Errorf("%w: buffer of %d bytes for %dx%d", ErrAllocation, len(raw.Pix), raw.Width, raw.Height)
	}
	if in.cfg.MaxImageBytes > 0 && want > in.cfg.MaxImageBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrAllocation, want, in.cfg.MaxImageBytes)
	}
	metrics.Envelopes.WithLabelValues(in.name, "decoded").Inc()
	return &types.Image{
		Data:   raw.Pix,
		Width:  raw.Width,
		Height: raw.Height,
		Format: types.FormatBGR,
		Source: f.Source,
		Mode:   f.Mode,
	}, nil
}
