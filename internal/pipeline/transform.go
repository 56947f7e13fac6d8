package pipeline

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/andresmejia3/segflow/internal/imaging"
	"github.com/andresmejia3/segflow/internal/types"
)

// Transform resizes each image to the model resolution and converts it to
// the format the model consumes.
type Transform struct {
	base
	resizer imaging.Resizer
	encoder imaging.Encoder
	format  types.Format
	quality int
}

func NewTransform(resizer imaging.Resizer, encoder imaging.Encoder, quality int, out *Sender, logger *zap.Logger) *Transform {
	return &Transform{
		base:    base{name: "transform", out: out, logger: logger},
		resizer: resizer,
		encoder: encoder,
		format:  types.FormatJPEG,
		quality: quality,
	}
}

func (t *Transform) Process(env *types.Envelope) error {
	if env.IsTerminal() {
		return t.forwardTerminal(env)
	}
	if env.Failed() {
		return t.forward(env)
	}

	img := env.Image()
	params := env.Params()

	// The resizer wants an even destination and a crop ending on odd
	// coordinates; both are truncated, never rounded.
	src := imaging.Resolution{Width: img.Width, Height: img.Height}
	crop := imaging.FullCrop(img.Width, img.Height)
	dst := imaging.EvenResolution(params.ModelWidth(), params.ModelHeight())

	resized, err := t.resizer.Resize(img.Data, src, crop, dst, true)
	if err != nil {
		return t.fail(env, "resize image failed", fmt.Errorf("%w: %w", ErrResize, err))
	}

	encoded, err := t.encoder.Encode(resized, dst, t.format, t.quality)
	if err != nil {
		return t.fail(env, "convert image failed", fmt.Errorf("%w: %w", ErrEncode, err))
	}

	env.ReplaceImage(&types.Image{
		Data:   encoded,
		Width:  dst.Width,
		Height: dst.Height,
		Format: t.format,
		Source: img.Source,
		Mode:   img.Mode,
	})
	return t.forward(env)
}
