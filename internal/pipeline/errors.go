package pipeline

import "errors"

// Per-item failures. These end up on the envelope and never stop the run.
var (
	ErrDecode         = errors.New("decode failed")
	ErrResize         = errors.New("resize failed")
	ErrEncode         = errors.New("format conversion failed")
	ErrInference      = errors.New("inference failed")
	ErrInferenceShape = errors.New("inference output shape mismatch")
	ErrIO             = errors.New("output write failed")
)

// Fatal failures. A stage returning one of these stops the run.
var (
	ErrChannelHard  = errors.New("downstream channel failed")
	ErrAllocation   = errors.New("envelope allocation failed")
	ErrTerminalLost = errors.New("terminal signal not delivered")
)
