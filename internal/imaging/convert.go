package imaging

import (
	"image"
	"image/color"
)

// ToBGR packs any image into BGR bytes.
func ToBGR(img image.Image) Raw {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	pix := make([]byte, w*h*Channels)

	if rgba, ok := img.(*image.RGBA); ok {
		for y := 0; y < h; y++ {
			row := rgba.Pix[rgba.PixOffset(b.Min.X, b.Min.Y+y):]
			for x := 0; x < w; x++ {
				o := (y*w + x) * Channels
				pix[o] = row[x*4+2]
				pix[o+1] = row[x*4+1]
				pix[o+2] = row[x*4]
			}
		}
		return Raw{Pix: pix, Width: w, Height: h}
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			o := (y*w + x) * Channels
			pix[o] = c.B
			pix[o+1] = c.G
			pix[o+2] = c.R
		}
	}
	return Raw{Pix: pix, Width: w, Height: h}
}

// FromBGR unpacks BGR bytes into an opaque RGBA image.
func FromBGR(pix []byte, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, o := 0, 0; i+2 < len(pix) && o+3 < len(img.Pix); i, o = i+3, o+4 {
		img.Pix[o] = pix[i+2]
		img.Pix[o+1] = pix[i+1]
		img.Pix[o+2] = pix[i]
		img.Pix[o+3] = 0xff
	}
	return img
}
