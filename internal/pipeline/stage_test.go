package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andresmejia3/segflow/internal/metrics"
	"github.com/andresmejia3/segflow/internal/types"
)

// takeoverSink plays a downstream stage that starts working on an envelope
// the moment it is accepted.
type takeoverSink struct {
	accepted []*types.Envelope
}

func (s *takeoverSink) TrySend(env *types.Envelope) error {
	s.accepted = append(s.accepted, env)
	env.Fail("downstream failure", errors.New("resize failed"))
	return nil
}

func TestForwardDoesNotReadEnvelopeAfterHandoff(t *testing.T) {
	const stage = "handoff-test"
	sink := &takeoverSink{}
	b := base{name: stage, out: NewSender(stage, sink, time.Millisecond, 0, nil), logger: zap.NewNop()}

	img := &types.Image{Data: []byte{1, 2, 3}, Width: 1, Height: 1, Format: types.FormatBGR}
	env, err := types.NewData(img, types.NewRoutingParams(t.TempDir(), "a.png", 8, 6))
	require.NoError(t, err)

	require.NoError(t, b.forward(env))

	require.Len(t, sink.accepted, 1)
	assert.True(t, env.Failed(), "the downstream stage owns the envelope now")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Envelopes.WithLabelValues(stage, "forwarded")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.Envelopes.WithLabelValues(stage, "failed")))
}

func TestFailForwardsAnnotatedEnvelope(t *testing.T) {
	const stage = "fail-test"
	sink := &scriptedSink{}
	b := base{name: stage, out: NewSender(stage, sink, time.Millisecond, 0, nil), logger: zap.NewNop()}

	img := &types.Image{Data: []byte{1, 2, 3}, Width: 1, Height: 1, Format: types.FormatBGR}
	env, err := types.NewData(img, types.NewRoutingParams(t.TempDir(), "b.png", 8, 6))
	require.NoError(t, err)

	require.NoError(t, b.fail(env, "resize image failed", ErrResize))

	require.Len(t, sink.got, 1)
	assert.Same(t, env, sink.got[0], "the error rides on the same envelope")
	assert.True(t, env.Failed())
	assert.ErrorIs(t, env.Failure(), ErrResize)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Envelopes.WithLabelValues(stage, "failed")))
}
