package pipeline

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/andresmejia3/segflow/internal/types"
)

// Inferencer runs the model on a model-ready image and returns its ordered
// output tensors.
type Inferencer interface {
	Infer(img *types.Image) ([]types.Tensor, error)
}

// Infer attaches model outputs to each envelope.
type Infer struct {
	base
	model Inferencer
}

func NewInfer(model Inferencer, out *Sender, logger *zap.Logger) *Infer {
	return &Infer{
		base:  base{name: "inference", out: out, logger: logger},
		model: model,
	}
}

func (s *Infer) Process(env *types.Envelope) error {
	if env.IsTerminal() {
		return s.forwardTerminal(env)
	}
	if env.Failed() {
		return s.forward(env)
	}

	tensors, err := s.model.Infer(env.Image())
	if err != nil {
		return s.fail(env, "inference failed", fmt.Errorf("%w: %w", ErrInference, err))
	}
	env.SetResults(tensors)
	return s.forward(env)
}
