package pipeline

import (
	"errors"
	"fmt"
	"image"
	"io"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/segflow/internal/imaging"
	"github.com/andresmejia3/segflow/internal/sink"
	"github.com/andresmejia3/segflow/internal/types"
)

var errNoPolicy = errors.New("no post-process policy for mode")

// Policy renders a scored envelope into its final artifact and delivers it,
// returning where the artifact went.
type Policy interface {
	Emit(env *types.Envelope, scores ScoreMap) (string, error)
}

// LivePolicy blends the model-ready frame and streams the raw BGR bytes of
// the overlay, one model-sized frame per envelope.
type LivePolicy struct {
	Decoder imaging.Decoder
	// Crop is the region of interest in the model-ready frame; empty means
	// the whole frame.
	Crop   image.Rectangle
	Stream io.Writer
	Addr   string
}

func (p *LivePolicy) Emit(env *types.Envelope, scores ScoreMap) (string, error) {
	if p.Stream == nil {
		return "", fmt.Errorf("%w: no stream connected", ErrIO)
	}

	raw, err := p.frame(env.Image())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	frame := imaging.Scale(raw, p.Crop, scores.Width(), scores.Height())
	Blend(frame.Pix, frame.Width, frame.Height, scores)

	if _, err := p.Stream.Write(frame.Pix); err != nil {
		return "", fmt.Errorf("%w: %w", ErrIO, err)
	}
	return p.Addr, nil
}

func (p *LivePolicy) frame(img *types.Image) (imaging.Raw, error) {
	if img.Format == types.FormatBGR {
		return imaging.Raw{Pix: img.Data, Width: img.Width, Height: img.Height}, nil
	}
	return p.Decoder.DecodeBytes(img.Data)
}

// StaticPolicy blends into the full-resolution source image and writes it
// next to the other outputs as out_<source name>.
type StaticPolicy struct {
	Decoder imaging.Decoder
	Encoder imaging.Encoder
	Quality int
}

func (p *StaticPolicy) Emit(env *types.Envelope, scores ScoreMap) (string, error) {
	params := env.Params()

	raw, err := p.Decoder.Decode(params.Source())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	Blend(raw.Pix, raw.Width, raw.Height, scores)

	format, ext := outputFormat(params.Source())
	data, err := p.Encoder.Encode(raw.Pix, imaging.Resolution{Width: raw.Width, Height: raw.Height}, format, p.Quality)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEncode, err)
	}

	path := sink.OutputPath(params.OutputDir(), params.Source(), ext)
	if err := sink.WriteFile(path, data); err != nil {
		return "", fmt.Errorf("%w: %w", ErrIO, err)
	}
	return path, nil
}

// outputFormat keeps PNG and JPEG sources in their format; anything else is
// written as JPEG with a .jpg extension.
func outputFormat(source string) (types.Format, string) {
	switch strings.ToLower(filepath.Ext(source)) {
	case ".png":
		return types.FormatPNG, ""
	case ".jpg", ".jpeg":
		return types.FormatJPEG, ""
	default:
		return types.FormatJPEG, ".jpg"
	}
}
