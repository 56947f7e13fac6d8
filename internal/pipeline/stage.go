package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/andresmejia3/segflow/internal/metrics"
	"github.com/andresmejia3/segflow/internal/queue"
	"github.com/andresmejia3/segflow/internal/types"
)

// Stage handles one envelope at a time. Per-item problems are recorded on the
// envelope; a returned error is fatal for the run.
type Stage interface {
	Name() string
	Process(env *types.Envelope) error
}

// RunStage feeds envelopes from in to st until st has processed the terminal
// envelope.
func RunStage(ctx context.Context, in queue.Source, st Stage) error {
	for {
		env, err := in.Receive(ctx)
		if err != nil {
			return fmt.Errorf("%s: receive: %w", st.Name(), err)
		}
		// Read before Process: afterwards env belongs to the next stage.
		terminal := env.IsTerminal()
		if err := st.Process(env); err != nil {
			return fmt.Errorf("%s: %w", st.Name(), err)
		}
		if terminal {
			return nil
		}
	}
}

// base is the forwarding logic shared by every stage.
type base struct {
	name   string
	out    *Sender
	logger *zap.Logger
}

func (b base) Name() string { return b.name }

// forward hands env to the next stage. env must not be touched once Send
// has accepted it.
func (b base) forward(env *types.Envelope) error {
	outcome := "forwarded"
	if env.Failed() {
		outcome = "failed"
	}
	if err := b.out.Send(env); err != nil {
		return err
	}
	metrics.Envelopes.WithLabelValues(b.name, outcome).Inc()
	return nil
}

func (b base) forwardTerminal(env *types.Envelope) error {
	if err := b.out.Send(env); err != nil {
		b.logger.Error("failed to send finish data, please stop this process manually", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrTerminalLost, err)
	}
	metrics.Envelopes.WithLabelValues(b.name, "terminal").Inc()
	return nil
}

// fail annotates env and sends it down the same queue the data would have
// taken, so the error stays in order with the items around it.
func (b base) fail(env *types.Envelope, reason string, err error) error {
	source := env.Params().Source()
	b.logger.Warn("failed to deal file", zap.String("source", source), zap.String("reason", reason), zap.Error(err))
	env.Fail(fmt.Sprintf("failed to deal file=%s, reason: %s", source, reason), err)
	return b.forward(env)
}
