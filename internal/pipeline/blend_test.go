package pipeline

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/segflow/internal/types"
)

// scoreTensor builds a [w*h, 2] tensor whose first column is score(row, col).
func scoreTensor(w, h int, score func(row, col int) float32) types.Tensor {
	data := make([]byte, w*h*2*4)
	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			s := score(i, j)
			o := (i*w + j) * 2 * 4
			binary.LittleEndian.PutUint32(data[o:], math.Float32bits(s))
			binary.LittleEndian.PutUint32(data[o+4:], math.Float32bits(1-s))
		}
	}
	return types.Tensor{Name: "output", Shape: []int{w * h, 2}, Data: data}
}

func constScores(w, h int, s float32) types.Tensor {
	return scoreTensor(w, h, func(int, int) float32 { return s })
}

func TestBlendChannel(t *testing.T) {
	tests := []struct {
		name     string
		score    float64
		original byte
		want     byte
	}{
		{"half score", 0.5 * 255, 100, 111},
		{"full score", 1.0 * 255, 250, 252},
		{"zero score", 0, 100, 60},
		{"clamped high", 2.0 * 255, 250, 255},
		{"clamped low", -1.0 * 255, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BlendChannel(tt.score, tt.original))
		})
	}
}

func TestBlendTouchesOnlyOverlap(t *testing.T) {
	// 2x1 image, 1x1 score map.
	pix := []byte{100, 50, 200, 100, 50, 200}
	scores, err := NewScoreMap(constScores(1, 1, 0.5), 1, 1)
	require.NoError(t, err)

	Blend(pix, 2, 1, scores)

	assert.Equal(t, []byte{111, 50, 171, 100, 50, 200}, pix)
}

func TestBlendReadsRowMajorScores(t *testing.T) {
	pix := make([]byte, 2*2*3)
	scores, err := NewScoreMap(scoreTensor(2, 2, func(row, col int) float32 {
		if row == 1 && col == 0 {
			return 1
		}
		return 0
	}), 2, 2)
	require.NoError(t, err)

	Blend(pix, 2, 2, scores)

	// Pixel (1,0) starts at byte 6.
	assert.Equal(t, byte(102), pix[6])
	assert.Equal(t, byte(0), pix[8])
	assert.Equal(t, byte(0), pix[0])
	assert.Equal(t, byte(102), pix[2])
}

func TestNewScoreMapRejectsShortTensor(t *testing.T) {
	_, err := NewScoreMap(constScores(4, 4, 0.5), 8, 8)
	assert.ErrorIs(t, err, ErrInferenceShape)

	_, err = NewScoreMap(types.Tensor{Name: "empty"}, 1, 1)
	assert.ErrorIs(t, err, ErrInferenceShape)
}
