package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"

	// Decoders registered with image.Decode.
	_ "image/gif"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/andresmejia3/segflow/internal/types"
)

func init() {
	Register("software", func() Backend {
		s := Software{}
		return Backend{Name: "software", Decoder: s, Resizer: s, Encoder: s}
	})
}

// Software implements every collaborator in pure Go.
type Software struct {
	// Interpolator defaults to bilinear, the filter of the resize hardware.
	Interpolator draw.Interpolator
}

func (s Software) Decode(path string) (Raw, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Raw{}, err
	}
	return s.DecodeBytes(data)
}

func (Software) DecodeBytes(data []byte) (Raw, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Raw{}, err
	}
	return ToBGR(img), nil
}

func (s Software) Resize(pix []byte, src Resolution, crop Rect, dst Resolution, alignInput bool) ([]byte, error) {
	if err := CheckResize(pix, src, crop, dst); err != nil {
		return nil, err
	}
	interp := s.Interpolator
	if interp == nil {
		interp = draw.BiLinear
	}

	in := FromBGR(pix, src.Width, src.Height)
	out := image.NewRGBA(image.Rect(0, 0, dst.Width, dst.Height))
	region := image.Rect(crop.Left, crop.Top, crop.Right+1, crop.Bottom+1)
	interp.Scale(out, out.Bounds(), in, region, draw.Src, nil)

	return ToBGR(out).Pix, nil
}

func (Software) Encode(pix []byte, res Resolution, format types.Format, quality int) ([]byte, error) {
	if len(pix) != res.Width*res.Height*Channels {
		return nil, fmt.Errorf("got %d bytes for %dx%d: %w", len(pix), res.Width, res.Height, ErrBufferSize)
	}

	var buf bytes.Buffer
	switch format {
	case types.FormatBGR:
		return append([]byte(nil), pix...), nil
	case types.FormatJPEG:
		if quality < 1 || quality > 100 {
			quality = jpeg.DefaultQuality
		}
		if err := jpeg.Encode(&buf, FromBGR(pix, res.Width, res.Height), &jpeg.Options{Quality: quality}); err != nil {
			return nil, err
		}
	case types.FormatPNG:
		if err := png.Encode(&buf, FromBGR(pix, res.Width, res.Height)); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%s: %w", format, ErrFormat)
	}
	return buf.Bytes(), nil
}

// Scale crops region out of raw and resamples it to width x height. Unlike
// Resizer it has no parity constraints; region is clipped to the image and an
// empty region means the whole image.
func Scale(raw Raw, region image.Rectangle, width, height int) Raw {
	full := image.Rect(0, 0, raw.Width, raw.Height)
	region = region.Intersect(full)
	if region.Empty() {
		region = full
	}
	if region == full && raw.Width == width && raw.Height == height {
		return Raw{Pix: append([]byte(nil), raw.Pix...), Width: width, Height: height}
	}

	in := FromBGR(raw.Pix, raw.Width, raw.Height)
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(out, out.Bounds(), in, region, draw.Src, nil)
	return ToBGR(out)
}
