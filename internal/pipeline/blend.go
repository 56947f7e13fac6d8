package pipeline

import (
	"fmt"
	"math"

	"github.com/andresmejia3/segflow/internal/imaging"
	"github.com/andresmejia3/segflow/internal/types"
)

const (
	scoreWeight = 0.4
	pixelWeight = 0.6
)

// ScoreMap reads per-pixel scores from a segmentation tensor shaped
// [width*height, classes]; the score of pixel (row, col) is element
// (row*width+col, 0).
type ScoreMap struct {
	tensor types.Tensor
	width  int
	height int
	stride int
}

func NewScoreMap(t types.Tensor, width, height int) (ScoreMap, error) {
	stride := 1
	for _, d := range t.Shape[min(1, len(t.Shape)):] {
		stride *= d
	}
	if len(t.Shape) == 0 || stride <= 0 || t.Rows() < width*height || t.Len() < width*height*stride {
		return ScoreMap{}, fmt.Errorf("%w: tensor %q shape %v, %d values, want %dx%d rows",
			ErrInferenceShape, t.Name, t.Shape, t.Len(), width, height)
	}
	return ScoreMap{tensor: t, width: width, height: height, stride: stride}, nil
}

func (m ScoreMap) Width() int  { return m.width }
func (m ScoreMap) Height() int { return m.height }

// At returns the raw score of pixel (row, col).
func (m ScoreMap) At(row, col int) float64 {
	return float64(m.tensor.Float32At((row*m.width + col) * m.stride))
}

// BlendChannel mixes a score already scaled to 0..255 with the original
// channel value, rounding and clamping to a byte.
func BlendChannel(score float64, original byte) byte {
	v := math.Round(scoreWeight*score + pixelWeight*float64(original))
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return byte(v)
	}
}

// Blend overlays scores on the BGR buffer pix in place. Channel 0 rises with
// the score, channel 2 falls with it and channel 1 is left alone. Only the
// region covered by both the image and the score map is touched.
func Blend(pix []byte, width, height int, scores ScoreMap) {
	rows := min(height, scores.height)
	cols := min(width, scores.width)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			s := scores.At(i, j) * 255.0
			o := (i*width + j) * imaging.Channels
			pix[o] = BlendChannel(s, pix[o])
			pix[o+2] = BlendChannel(255.0-s, pix[o+2])
		}
	}
}
