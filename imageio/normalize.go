// normalize.go - Umwandlung zwischen Bildern und normalisierten Tensoren
//
// Enthaelt:
// - ToTensor: RGB nach 1x3xHxW mit mean=std=0.5 (Werte in [-1, 1])
// - Denormalize: Umkehrung x*0.5+0.5
// - ToImage: 1xCxHxW in [0, 1] nach RGB (C=3) oder Graustufen (C=1)
package imageio

import (
	"fmt"
	"image"

	"github.com/deblurgan/deblur/nn"
)

// Normalisierung wie beim Training
const (
	Mean = 0.5
	Std  = 0.5
)

// ToTensor skaliert die RGB-Kanaele auf [0, 1] und normalisiert mit Mean/Std.
// Alpha wird verworfen.
func ToTensor(img *image.NRGBA) *nn.Tensor {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	t := nn.Zeros(1, 3, h, w)
	data := t.Data()
	plane := h * w

	for y := range h {
		row := img.Pix[y*img.Stride:]
		for x := range w {
			px := row[x*4 : x*4+3]
			for c := range 3 {
				v := float32(px[c]) / 255
				data[c*plane+y*w+x] = (v - Mean) / Std
			}
		}
	}
	return t
}

// Denormalize bildet normalisierte Werte zurueck auf [0, 1] ab.
func Denormalize(t *nn.Tensor) *nn.Tensor {
	out := t.Clone()
	for i, v := range out.Data() {
		out.Data()[i] = v*Std + Mean
	}
	return out
}

// ToImage wandelt einen 1xCxHxW Tensor mit Werten in [0, 1] in ein Bild.
// Werte werden begrenzt und wie bei einer Byte-Konvertierung abgeschnitten.
func ToImage(t *nn.Tensor) (image.Image, error) {
	shape := t.Shape()
	if len(shape) != 4 || shape[0] != 1 {
		return nil, fmt.Errorf("%w: expected 1xCxHxW, got %v", nn.ErrShape, shape)
	}
	c, h, w := shape[1], shape[2], shape[3]
	data := t.Data()
	plane := h * w

	switch c {
	case 3:
		img := image.NewNRGBA(image.Rect(0, 0, w, h))
		for y := range h {
			row := img.Pix[y*img.Stride:]
			for x := range w {
				for ch := range 3 {
					row[x*4+ch] = toByte(data[ch*plane+y*w+x])
				}
				row[x*4+3] = 0xff
			}
		}
		return img, nil
	case 1:
		img := image.NewGray(image.Rect(0, 0, w, h))
		for y := range h {
			for x := range w {
				img.Pix[y*img.Stride+x] = toByte(data[y*w+x])
			}
		}
		return img, nil
	default:
		return nil, fmt.Errorf("%w: cannot convert %d channels to an image", nn.ErrShape, c)
	}
}

func toByte(v float32) uint8 {
	return uint8(min(max(v, 0), 1) * 255)
}
