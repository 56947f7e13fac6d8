package worker

import (
	"encoding/binary"
	"fmt"
	"image"
	"math"

	"github.com/andresmejia3/segflow/internal/imaging"
	"github.com/andresmejia3/segflow/internal/types"
)

// Luminance is a deterministic stand-in for the segmentation model: the
// score of a pixel is its luma. It lets the pipeline run without python.
type Luminance struct {
	Width   int
	Height  int
	Decoder imaging.Decoder
}

func NewLuminance(width, height int, decoder imaging.Decoder) *Luminance {
	return &Luminance{Width: width, Height: height, Decoder: decoder}
}

// Infer returns one [Width*Height, 2] float32 tensor; column 0 is luma/255
// and column 1 its complement.
func (l *Luminance) Infer(img *types.Image) ([]types.Tensor, error) {
	raw, err := l.raw(img)
	if err != nil {
		return nil, err
	}
	raw = imaging.Scale(raw, image.Rectangle{}, l.Width, l.Height)

	n := l.Width * l.Height
	data := make([]byte, n*2*4)
	for i := 0; i < n; i++ {
		p := raw.Pix[i*imaging.Channels:]
		luma := float32(0.114*float64(p[0])+0.587*float64(p[1])+0.299*float64(p[2])) / 255
		binary.LittleEndian.PutUint32(data[i*8:], math.Float32bits(luma))
		binary.LittleEndian.PutUint32(data[i*8+4:], math.Float32bits(1-luma))
	}
	return []types.Tensor{{Name: "scores", Shape: []int{n, 2}, Data: data}}, nil
}

func (l *Luminance) raw(img *types.Image) (imaging.Raw, error) {
	switch img.Format {
	case types.FormatBGR:
		return imaging.Raw{Pix: img.Data, Width: img.Width, Height: img.Height}, nil
	case types.FormatJPEG, types.FormatPNG:
		return l.Decoder.DecodeBytes(img.Data)
	default:
		return imaging.Raw{}, fmt.Errorf("luminance model: unsupported format %s", img.Format)
	}
}
