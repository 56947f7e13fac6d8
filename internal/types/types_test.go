package types

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage() *Image {
	return &Image{Data: make([]byte, 2*2*3), Width: 2, Height: 2, Format: FormatBGR, Source: "a.png", Mode: ModeStatic}
}

func TestEnvelopeKindsAreExclusive(t *testing.T) {
	params := NewRoutingParams("out", "a.png", 4, 2)

	data, err := NewData(testImage(), params)
	require.NoError(t, err)
	terminal := NewTerminal()
	failed := NewFailed(params, "decode", errors.New("bad header"))

	tests := []struct {
		name       string
		env        *Envelope
		terminal   bool
		payload    bool
		failedFlag bool
	}{
		{"data", data, false, true, false},
		{"terminal", terminal, true, false, false},
		{"failed", failed, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.env.IsTerminal())
			assert.Equal(t, tt.payload, tt.env.HasPayload())
			assert.Equal(t, tt.failedFlag, tt.env.Failed())
		})
	}
}

func TestNewDataRejectsEmptyImage(t *testing.T) {
	params := NewRoutingParams("out", "a.png", 4, 2)

	_, err := NewData(nil, params)
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, err = NewData(&Image{Width: 2, Height: 2}, params)
	assert.ErrorIs(t, err, ErrEmptyImage)
}

func TestFailDropsPayloadAndSticks(t *testing.T) {
	env, err := NewData(testImage(), NewRoutingParams("out", "a.png", 4, 2))
	require.NoError(t, err)
	env.SetResults([]Tensor{{Name: "scores"}})

	resizeErr := errors.New("resize failed")
	env.Fail("resize", resizeErr)

	assert.True(t, env.Failed())
	assert.Nil(t, env.Image())
	assert.Nil(t, env.Results())
	assert.ErrorIs(t, env.Failure(), resizeErr)

	// A second failure and later mutations cannot clear the first.
	env.Fail("encode", errors.New("encode failed"))
	env.ReplaceImage(testImage())
	env.SetResults([]Tensor{{Name: "x"}})
	assert.Equal(t, "resize", env.Failure().Reason)
	assert.False(t, env.HasPayload())
	assert.Nil(t, env.Results())
}

func TestTerminalCannotFail(t *testing.T) {
	env := NewTerminal()
	env.Fail("boom", nil)
	assert.True(t, env.IsTerminal())
	assert.Nil(t, env.Failure())
}

func TestRoutingParamsSurviveFailure(t *testing.T) {
	params := NewRoutingParams("/tmp/out", "/data/cat.png", 623, 188)
	env, err := NewData(testImage(), params)
	require.NoError(t, err)

	env.Fail("resize", nil)
	assert.Equal(t, params, env.Params())
	assert.Equal(t, "/data/cat.png", env.Params().Source())
	assert.Equal(t, 623, env.Params().ModelWidth())
}

func TestTensorFloat32At(t *testing.T) {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data[0:], math.Float32bits(0.25))
	binary.LittleEndian.PutUint32(data[4:], math.Float32bits(0.75))
	tensor := Tensor{Name: "scores", Shape: []int{1, 2}, Data: data}

	assert.Equal(t, 1, tensor.Rows())
	assert.Equal(t, 2, tensor.Len())
	assert.Equal(t, float32(0.25), tensor.Float32At(0))
	assert.Equal(t, float32(0.75), tensor.Float32At(1))
}
