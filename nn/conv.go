// MODUL: conv
// ZWECK: Conv2d und ConvTranspose2d fuer NCHW Tensoren
// INPUT: Tensor [N, C_in, H, W], Gewichte im PyTorch Layout
// OUTPUT: Tensor [N, C_out, H_out, W_out]
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: gonum.org/v1/gonum/blas/blas32 (GEMM)
// HINWEISE: Conv2d via im2col + GEMM in Zeilenbloecken, ConvTranspose2d via GEMM + col2im

package nn

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// maxColElems begrenzt die Groesse eines im2col-Puffers (float32 Elemente)
const maxColElems = 1 << 22

// ============================================================================
// Conv2d
// ============================================================================

// Conv2d ist eine 2D-Faltung mit Zero-Padding.
// Weight hat das Layout [out, in, kh, kw], Bias [out] oder nil.
type Conv2d struct {
	Weight  *Tensor
	Bias    *Tensor
	Stride  int
	Padding int
}

// NewConv2d erstellt eine Faltung mit quadratischem Kernel.
func NewConv2d(in, out, kernel, stride, padding int, bias bool) *Conv2d {
	c := &Conv2d{
		Weight:  Zeros(out, in, kernel, kernel),
		Stride:  stride,
		Padding: padding,
	}
	if bias {
		c.Bias = Zeros(out)
	}
	return c
}

func (c *Conv2d) State(prefix string, sd StateDict) {
	sd[prefix+"weight"] = c.Weight
	if c.Bias != nil {
		sd[prefix+"bias"] = c.Bias
	}
}

func (c *Conv2d) Forward(x *Tensor) (*Tensor, error) {
	n, cin, h, w, err := x.dims4()
	if err != nil {
		return nil, err
	}
	cout, wcin, kh, kw := c.Weight.shape[0], c.Weight.shape[1], c.Weight.shape[2], c.Weight.shape[3]
	if cin != wcin {
		return nil, fmt.Errorf("%w: conv2d expects %d input channels, got %d", ErrShape, wcin, cin)
	}

	hout := (h+2*c.Padding-kh)/c.Stride + 1
	wout := (w+2*c.Padding-kw)/c.Stride + 1
	if h+2*c.Padding < kh || w+2*c.Padding < kw || hout <= 0 || wout <= 0 {
		return nil, fmt.Errorf("%w: conv2d kernel %dx%d larger than padded input %dx%d", ErrShape, kh, kw, h+2*c.Padding, w+2*c.Padding)
	}

	out := Zeros(n, cout, hout, wout)
	k := cin * kh * kw
	rows := max(1, maxColElems/(k*wout))
	chunks := (hout + rows - 1) / rows
	weight := blas32.General{Rows: cout, Cols: k, Stride: k, Data: c.Weight.data}

	for b := range n {
		src := x.data[b*cin*h*w : (b+1)*cin*h*w]
		dst := out.data[b*cout*hout*wout : (b+1)*cout*hout*wout]

		err := parallelFor(chunks, func(ci int) error {
			y0 := ci * rows
			y1 := min(hout, y0+rows)
			m := (y1 - y0) * wout

			cols := make([]float32, k*m)
			im2col(cols, src, cin, h, w, kh, kw, c.Stride, c.Padding, y0, y1, wout)

			blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, weight,
				blas32.General{Rows: k, Cols: m, Stride: m, Data: cols},
				0, blas32.General{Rows: cout, Cols: m, Stride: hout * wout, Data: dst[y0*wout:]})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	addBias(out, c.Bias)
	return out, nil
}

// im2col schreibt die Eingabe-Patches fuer die Ausgabezeilen [y0, y1) nach cols.
// Zeile r = (ci*kh+ki)*kw+kj, Spalte = (oy-y0)*wout+ox.
func im2col(cols, src []float32, cin, h, w, kh, kw, stride, pad, y0, y1, wout int) {
	m := (y1 - y0) * wout
	for ci := range cin {
		plane := src[ci*h*w : (ci+1)*h*w]
		for ki := range kh {
			for kj := range kw {
				row := cols[((ci*kh+ki)*kw+kj)*m:]
				for oy := y0; oy < y1; oy++ {
					iy := oy*stride - pad + ki
					dst := row[(oy-y0)*wout : (oy-y0+1)*wout]
					if iy < 0 || iy >= h {
						clear(dst)
						continue
					}
					line := plane[iy*w : (iy+1)*w]
					for ox := range wout {
						ix := ox*stride - pad + kj
						if ix < 0 || ix >= w {
							dst[ox] = 0
						} else {
							dst[ox] = line[ix]
						}
					}
				}
			}
		}
	}
}

// ============================================================================
// ConvTranspose2d
// ============================================================================

// ConvTranspose2d ist eine transponierte 2D-Faltung.
// Weight hat das Layout [in, out, kh, kw], Bias [out] oder nil.
type ConvTranspose2d struct {
	Weight        *Tensor
	Bias          *Tensor
	Stride        int
	Padding       int
	OutputPadding int
}

// NewConvTranspose2d erstellt eine transponierte Faltung mit quadratischem Kernel.
func NewConvTranspose2d(in, out, kernel, stride, padding, outputPadding int, bias bool) *ConvTranspose2d {
	c := &ConvTranspose2d{
		Weight:        Zeros(in, out, kernel, kernel),
		Stride:        stride,
		Padding:       padding,
		OutputPadding: outputPadding,
	}
	if bias {
		c.Bias = Zeros(out)
	}
	return c
}

func (c *ConvTranspose2d) State(prefix string, sd StateDict) {
	sd[prefix+"weight"] = c.Weight
	if c.Bias != nil {
		sd[prefix+"bias"] = c.Bias
	}
}

func (c *ConvTranspose2d) Forward(x *Tensor) (*Tensor, error) {
	n, cin, h, w, err := x.dims4()
	if err != nil {
		return nil, err
	}
	wcin, cout, kh, kw := c.Weight.shape[0], c.Weight.shape[1], c.Weight.shape[2], c.Weight.shape[3]
	if cin != wcin {
		return nil, fmt.Errorf("%w: conv_transpose2d expects %d input channels, got %d", ErrShape, wcin, cin)
	}

	hout := (h-1)*c.Stride - 2*c.Padding + kh + c.OutputPadding
	wout := (w-1)*c.Stride - 2*c.Padding + kw + c.OutputPadding
	if hout <= 0 || wout <= 0 {
		return nil, fmt.Errorf("%w: conv_transpose2d output %dx%d", ErrShape, hout, wout)
	}

	out := Zeros(n, cout, hout, wout)
	hw := h * w
	k := cout * kh * kw
	weight := blas32.General{Rows: cin, Cols: k, Stride: k, Data: c.Weight.data}
	cols := make([]float32, k*hw)

	for b := range n {
		src := x.data[b*cin*hw : (b+1)*cin*hw]
		dst := out.data[b*cout*hout*wout : (b+1)*cout*hout*wout]

		blas32.Gemm(blas.Trans, blas.NoTrans, 1, weight,
			blas32.General{Rows: cin, Cols: hw, Stride: hw, Data: src},
			0, blas32.General{Rows: k, Cols: hw, Stride: hw, Data: cols})

		err := parallelFor(cout, func(co int) error {
			plane := dst[co*hout*wout : (co+1)*hout*wout]
			for ki := range kh {
				for kj := range kw {
					row := cols[((co*kh+ki)*kw+kj)*hw:]
					for iy := range h {
						oy := iy*c.Stride - c.Padding + ki
						if oy < 0 || oy >= hout {
							continue
						}
						for ix := range w {
							ox := ix*c.Stride - c.Padding + kj
							if ox < 0 || ox >= wout {
								continue
							}
							plane[oy*wout+ox] += row[iy*w+ix]
						}
					}
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	addBias(out, c.Bias)
	return out, nil
}

// addBias addiert bias[c] auf jede Ebene von Kanal c
func addBias(t *Tensor, bias *Tensor) {
	if bias == nil {
		return
	}
	n, c, h, w := t.shape[0], t.shape[1], t.shape[2], t.shape[3]
	for b := range n {
		for ch := range c {
			v := bias.data[ch]
			plane := t.data[(b*c+ch)*h*w : (b*c+ch+1)*h*w]
			for i := range plane {
				plane[i] += v
			}
		}
	}
}
