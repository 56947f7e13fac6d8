// Package types defines the Transfer Envelope that flows between pipeline
// stages and the payload records it carries.
package types

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Mode selects the post-processing policy applied to an image.
type Mode int

const (
	// ModeLive marks frames from a live capture; results are streamed to a socket.
	ModeLive Mode = iota
	// ModeStatic marks images read from files; results are written back to disk.
	ModeStatic
)

func (m Mode) String() string {
	switch m {
	case ModeLive:
		return "live"
	case ModeStatic:
		return "static"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Format describes how the bytes of an Image are laid out.
type Format int

const (
	// FormatBGR is packed 8-bit BGR, 3 bytes per pixel, row-major.
	FormatBGR Format = iota
	FormatJPEG
	FormatPNG
)

func (f Format) String() string {
	switch f {
	case FormatBGR:
		return "bgr"
	case FormatJPEG:
		return "jpeg"
	case FormatPNG:
		return "png"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// Image is the pixel payload of a data envelope.
type Image struct {
	Data   []byte
	Width  int
	Height int
	Format Format
	Source string // path or frame identifier
	Mode   Mode
}

// Size is the byte size of the buffer.
func (im *Image) Size() int { return len(im.Data) }

// RoutingParams is captured once at ingest and carried unchanged to the end of
// the pipeline. Fields are unexported so no stage can rewrite them.
type RoutingParams struct {
	outputDir   string
	modelWidth  int
	modelHeight int
	source      string
}

func NewRoutingParams(outputDir, source string, modelWidth, modelHeight int) RoutingParams {
	return RoutingParams{
		outputDir:   outputDir,
		modelWidth:  modelWidth,
		modelHeight: modelHeight,
		source:      source,
	}
}

func (p RoutingParams) OutputDir() string { return p.outputDir }
func (p RoutingParams) ModelWidth() int   { return p.modelWidth }
func (p RoutingParams) ModelHeight() int  { return p.modelHeight }
func (p RoutingParams) Source() string    { return p.source }

// Tensor is one named inference output.
// Data holds little-endian float32 values laid out row-major according to Shape.
type Tensor struct {
	Name  string
	Shape []int
	Data  []byte
}

// Rows returns the first dimension of the tensor, or 0 for a scalar.
func (t Tensor) Rows() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return t.Shape[0]
}

// Float32At returns the i-th float32 element of the flattened tensor.
func (t Tensor) Float32At(i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(t.Data[i*4:]))
}

// Len is the number of float32 elements in Data.
func (t Tensor) Len() int { return len(t.Data) / 4 }

// Failure is the error annotation of an envelope.
type Failure struct {
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Reason
	}
	return f.Reason + ": " + f.Err.Error()
}

func (f *Failure) Unwrap() error { return f.Err }

type kind int

const (
	kindData kind = iota
	kindFailed
	kindTerminal
)

// ErrEmptyImage is returned when a data envelope is built without pixels.
var ErrEmptyImage = errors.New("envelope requires a non-empty image")

// Envelope is the single message type flowing between stages. It is exactly
// one of: data (an image in progress), failed (an error annotation), or
// terminal (end of stream). A failed envelope no longer carries a payload.
//
// Ownership moves with the pointer: the stage that received an envelope is
// the only one allowed to touch it until it hands it to the next Sender.
type Envelope struct {
	kind    kind
	image   *Image
	params  RoutingParams
	results []Tensor
	failure *Failure
}

// NewData wraps a decoded image for its trip through the pipeline.
func NewData(img *Image, params RoutingParams) (*Envelope, error) {
	if img == nil || len(img.Data) == 0 || img.Width <= 0 || img.Height <= 0 {
		return nil, ErrEmptyImage
	}
	return &Envelope{kind: kindData, image: img, params: params}, nil
}

// NewFailed creates an envelope for an item that failed before any payload
// could be attached (e.g. the source could not be decoded).
func NewFailed(params RoutingParams, reason string, err error) *Envelope {
	return &Envelope{
		kind:    kindFailed,
		params:  params,
		failure: &Failure{Reason: reason, Err: err},
	}
}

// NewTerminal creates an end-of-stream envelope.
func NewTerminal() *Envelope {
	return &Envelope{kind: kindTerminal}
}

func (e *Envelope) IsTerminal() bool      { return e.kind == kindTerminal }
func (e *Envelope) Failed() bool          { return e.kind == kindFailed }
func (e *Envelope) Failure() *Failure     { return e.failure }
func (e *Envelope) Image() *Image         { return e.image }
func (e *Envelope) Params() RoutingParams { return e.params }
func (e *Envelope) Results() []Tensor     { return e.results }

// HasPayload reports whether the envelope still carries an image.
func (e *Envelope) HasPayload() bool { return e.kind == kindData && e.image != nil }

// Fail marks the envelope as failed and drops its payload. The first failure
// wins; terminal envelopes cannot fail.
func (e *Envelope) Fail(reason string, err error) {
	if e.kind != kindData {
		return
	}
	e.kind = kindFailed
	e.failure = &Failure{Reason: reason, Err: err}
	e.image = nil
	e.results = nil
}

// ReplaceImage swaps the payload after a transform. It is a no-op unless the
// envelope is a data envelope.
func (e *Envelope) ReplaceImage(img *Image) {
	if e.kind != kindData || img == nil {
		return
	}
	e.image = img
}

// SetResults attaches the ordered inference outputs.
func (e *Envelope) SetResults(results []Tensor) {
	if e.kind != kindData {
		return
	}
	e.results = results
}

func (e *Envelope) String() string {
	switch e.kind {
	case kindTerminal:
		return "envelope(terminal)"
	case kindFailed:
		return fmt.Sprintf("envelope(failed source=%q: %v)", e.params.source, e.failure)
	default:
		return fmt.Sprintf("envelope(source=%q %dx%d %s %dB)", e.image.Source, e.image.Width, e.image.Height, e.image.Format, e.image.Size())
	}
}

// Item outcomes recorded by the post-processing stage.
const (
	StatusWritten = "written"
	StatusFailed  = "failed"
	StatusDropped = "dropped"
)

// ItemRecord is the outcome of one consumed data envelope.
type ItemRecord struct {
	Source     string
	Status     string
	Diagnostic string
	Output     string
}
