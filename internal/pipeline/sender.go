package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/andresmejia3/segflow/internal/metrics"
	"github.com/andresmejia3/segflow/internal/queue"
	"github.com/andresmejia3/segflow/internal/types"
)

// DefaultRetryInterval is how long a producer sleeps when the downstream
// queue is full.
const DefaultRetryInterval = 200 * time.Millisecond

// Sender delivers envelopes to one downstream queue without dropping them.
// A full queue is retried at a fixed interval; any other error is final.
type Sender struct {
	stage       string
	out         queue.Sink
	interval    time.Duration
	maxAttempts int
	logger      *zap.Logger
}

// NewSender creates a sender for stage. maxAttempts of 0 retries forever.
func NewSender(stage string, out queue.Sink, interval time.Duration, maxAttempts int, logger *zap.Logger) *Sender {
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		stage:       stage,
		out:         out,
		interval:    interval,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

func (s *Sender) policy() backoff.BackOff {
	var b backoff.BackOff = backoff.NewConstantBackOff(s.interval)
	if s.maxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(s.maxAttempts-1))
	}
	return b
}

// Send blocks until env is accepted downstream. The envelope is never
// modified. A non-nil error wraps ErrChannelHard.
func (s *Sender) Send(env *types.Envelope) error {
	op := func() error {
		err := s.out.TrySend(env)
		if err == nil || errors.Is(err, queue.ErrFull) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(_ error, wait time.Duration) {
		metrics.QueueFull.WithLabelValues(s.stage).Inc()
		s.logger.Debug("queue full, sleeping", zap.Duration("wait", wait))
	}

	err := backoff.RetryNotify(op, s.policy(), notify)
	if err == nil {
		return nil
	}
	if errors.Is(err, queue.ErrFull) {
		err = fmt.Errorf("gave up after %d attempts: %w", s.maxAttempts, err)
	}
	metrics.SendFailures.WithLabelValues(s.stage).Inc()
	s.logger.Error("call send failed", zap.Stringer("envelope", env), zap.Error(err))
	return fmt.Errorf("%w: %w", ErrChannelHard, err)
}
