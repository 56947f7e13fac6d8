// Package imaging holds the image collaborators used by the pipeline: decode,
// hardware-style resize and format conversion.
//
// Raw pixels are always packed 8-bit BGR, which is what the OpenCV backend
// produces natively and what the stream receiver expects on the wire.
package imaging

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/andresmejia3/segflow/internal/types"
)

// Channels is the number of bytes per raw pixel.
const Channels = 3

var (
	ErrBadResolution = errors.New("resolution must be even and positive")
	ErrBadCrop       = errors.New("crop rectangle must start even and end odd inside the source")
	ErrBufferSize    = errors.New("buffer size does not match resolution")
	ErrFormat        = errors.New("unsupported format")
)

// Raw is a decoded BGR image.
type Raw struct {
	Pix    []byte
	Width  int
	Height int
}

type Resolution struct {
	Width  int
	Height int
}

// Rect is an inclusive pixel rectangle, the convention of the resize hardware.
type Rect struct {
	Left, Top, Right, Bottom int
}

func (r Rect) Width() int  { return r.Right - r.Left + 1 }
func (r Rect) Height() int { return r.Bottom - r.Top + 1 }

// Decoder turns a file or an encoded buffer into raw pixels.
type Decoder interface {
	Decode(path string) (Raw, error)
	DecodeBytes(data []byte) (Raw, error)
}

// Resizer crops src to crop and scales the result to dst.
type Resizer interface {
	Resize(pix []byte, src Resolution, crop Rect, dst Resolution, alignInput bool) ([]byte, error)
}

// Encoder converts raw pixels to the requested format.
type Encoder interface {
	Encode(pix []byte, res Resolution, format types.Format, quality int) ([]byte, error)
}

// Backend groups the three collaborators of one implementation.
type Backend struct {
	Name    string
	Decoder Decoder
	Resizer Resizer
	Encoder Encoder
}

var (
	backendsMu sync.RWMutex
	backends   = map[string]func() Backend{}
)

// Register makes a backend available to NewBackend.
func Register(name string, factory func() Backend) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = factory
}

// NewBackend returns the named backend.
func NewBackend(name string) (Backend, error) {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	factory, ok := backends[name]
	if !ok {
		return Backend{}, fmt.Errorf("unknown imaging backend %q (available: %v)", name, backendNames())
	}
	return factory(), nil
}

func backendNames() []string {
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Even truncates v to the nearest even number not above it.
func Even(v int) int { return (v >> 1) << 1 }

// EvenResolution forces both dimensions to even values.
func EvenResolution(width, height int) Resolution {
	return Resolution{Width: Even(width), Height: Even(height)}
}

// FullCrop is the crop covering the whole source as the resize hardware wants
// it: top-left at (0,0), bottom-right on odd coordinates.
func FullCrop(width, height int) Rect {
	return Rect{Left: 0, Top: 0, Right: Even(width) - 1, Bottom: Even(height) - 1}
}

// CheckResize validates the hardware contract shared by every Resizer.
func CheckResize(pix []byte, src Resolution, crop Rect, dst Resolution) error {
	if src.Width <= 0 || src.Height <= 0 {
		return fmt.Errorf("source %dx%d: %w", src.Width, src.Height, ErrBufferSize)
	}
	if len(pix) != src.Width*src.Height*Channels {
		return fmt.Errorf("got %d bytes for %dx%d: %w", len(pix), src.Width, src.Height, ErrBufferSize)
	}
	if dst.Width <= 0 || dst.Height <= 0 || dst.Width%2 != 0 || dst.Height%2 != 0 {
		return fmt.Errorf("destination %dx%d: %w", dst.Width, dst.Height, ErrBadResolution)
	}
	if crop.Left%2 != 0 || crop.Top%2 != 0 || crop.Right%2 != 1 || crop.Bottom%2 != 1 ||
		crop.Left < 0 || crop.Top < 0 || crop.Right >= src.Width || crop.Bottom >= src.Height {
		return fmt.Errorf("crop %+v in %dx%d: %w", crop, src.Width, src.Height, ErrBadCrop)
	}
	return nil
}
