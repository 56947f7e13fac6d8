//go:build gocv

package imaging

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/andresmejia3/segflow/internal/types"
)

func init() {
	Register("gocv", func() Backend {
		o := OpenCV{}
		return Backend{Name: "gocv", Decoder: o, Resizer: o, Encoder: o}
	})
}

// OpenCV implements the collaborators on top of gocv. Build with -tags gocv.
type OpenCV struct{}

func (OpenCV) Decode(path string) (Raw, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	defer mat.Close()
	if mat.Empty() {
		return Raw{}, fmt.Errorf("read image %s failed", path)
	}
	return Raw{Pix: mat.ToBytes(), Width: mat.Cols(), Height: mat.Rows()}, nil
}

func (OpenCV) DecodeBytes(data []byte) (Raw, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return Raw{}, err
	}
	defer mat.Close()
	if mat.Empty() {
		return Raw{}, fmt.Errorf("decode %d bytes failed", len(data))
	}
	return Raw{Pix: mat.ToBytes(), Width: mat.Cols(), Height: mat.Rows()}, nil
}

func (OpenCV) Resize(pix []byte, src Resolution, crop Rect, dst Resolution, alignInput bool) ([]byte, error) {
	if err := CheckResize(pix, src, crop, dst); err != nil {
		return nil, err
	}
	mat, err := gocv.NewMatFromBytes(src.Height, src.Width, gocv.MatTypeCV8UC3, pix)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	region := mat.Region(image.Rect(crop.Left, crop.Top, crop.Right+1, crop.Bottom+1))
	defer region.Close()

	out := gocv.NewMat()
	defer out.Close()
	if err := gocv.Resize(region, &out, image.Pt(dst.Width, dst.Height), 0, 0, gocv.InterpolationLinear); err != nil {
		return nil, err
	}
	return out.ToBytes(), nil
}

func (OpenCV) Encode(pix []byte, res Resolution, format types.Format, quality int) ([]byte, error) {
	if format == types.FormatBGR {
		return append([]byte(nil), pix...), nil
	}
	mat, err := gocv.NewMatFromBytes(res.Height, res.Width, gocv.MatTypeCV8UC3, pix)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	var (
		ext    gocv.FileExt
		params []int
	)
	switch format {
	case types.FormatJPEG:
		ext = gocv.JPEGFileExt
		params = []int{gocv.IMWriteJpegQuality, quality}
	case types.FormatPNG:
		ext = gocv.PNGFileExt
	default:
		return nil, fmt.Errorf("%s: %w", format, ErrFormat)
	}

	buf, err := gocv.IMEncodeWithParams(ext, mat, params)
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}
