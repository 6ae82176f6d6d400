// MODUL: tensor
// ZWECK: Dichter float32-Tensor fuer den Generator-Forward-Pass
// INPUT: Shape und optional Backing-Daten
// OUTPUT: *Tensor mit row-major (C-order) Speicher
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: keine (nur Standardbibliothek)
// HINWEISE: Bilder liegen im NCHW Layout vor, Region-Operationen arbeiten auf H/W

package nn

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrShape  = errors.New("nn: invalid shape")
	ErrBounds = errors.New("nn: region out of bounds")
)

// Tensor ist ein dichter float32-Tensor im C-Layout.
type Tensor struct {
	shape []int
	data  []float32
}

// numel berechnet die Elementanzahl einer Shape (Skalar = 1)
func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// New erstellt einen Tensor aus Shape und Daten.
// Die Daten werden nicht kopiert.
func New(shape []int, data []float32) (*Tensor, error) {
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("%w: negative dimension in %v", ErrShape, shape)
		}
	}
	if numel(shape) != len(data) {
		return nil, fmt.Errorf("%w: %v needs %d elements, got %d", ErrShape, shape, numel(shape), len(data))
	}
	return &Tensor{shape: slices.Clone(shape), data: data}, nil
}

// Zeros erstellt einen mit Nullen gefuellten Tensor.
func Zeros(shape ...int) *Tensor {
	return &Tensor{shape: slices.Clone(shape), data: make([]float32, numel(shape))}
}

// ZerosLike erstellt einen Null-Tensor mit gleicher Shape.
func ZerosLike(t *Tensor) *Tensor {
	return Zeros(t.shape...)
}

func (t *Tensor) Shape() []int    { return slices.Clone(t.shape) }
func (t *Tensor) Data() []float32 { return t.data }
func (t *Tensor) Dim(i int) int   { return t.shape[i] }
func (t *Tensor) Rank() int       { return len(t.shape) }
func (t *Tensor) Numel() int      { return len(t.data) }

// Clone erstellt eine tiefe Kopie.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{shape: slices.Clone(t.shape), data: slices.Clone(t.data)}
}

// SameShape prueft ob zwei Tensoren dieselbe Shape haben.
func (t *Tensor) SameShape(o *Tensor) bool {
	return slices.Equal(t.shape, o.shape)
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.shape)
}

// fmtShape meldet unvertraegliche Shapes zweier Operanden
func fmtShape(op string, a, b *Tensor) error {
	return fmt.Errorf("%w: %s %v and %v", ErrShape, op, a.shape, b.shape)
}

// dims4 gibt N, C, H, W eines 4D-Tensors zurueck
func (t *Tensor) dims4() (n, c, h, w int, err error) {
	if len(t.shape) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("%w: expected NCHW, got %v", ErrShape, t.shape)
	}
	return t.shape[0], t.shape[1], t.shape[2], t.shape[3], nil
}

// Region kopiert die Zeilen [y0, y1) und Spalten [x0, x1) aller N und C
// in einen neuen Tensor. Die Grenzen muessen innerhalb des Tensors liegen.
func (t *Tensor) Region(y0, y1, x0, x1 int) (*Tensor, error) {
	n, c, h, w, err := t.dims4()
	if err != nil {
		return nil, err
	}
	if y0 < 0 || x0 < 0 || y1 > h || x1 > w || y0 > y1 || x0 > x1 {
		return nil, fmt.Errorf("%w: rows [%d,%d) cols [%d,%d) of %v", ErrBounds, y0, y1, x0, x1, t.shape)
	}

	rh, rw := y1-y0, x1-x0
	out := Zeros(n, c, rh, rw)
	for p := range n * c {
		src := t.data[p*h*w:]
		dst := out.data[p*rh*rw:]
		for y := range rh {
			copy(dst[y*rw:(y+1)*rw], src[(y0+y)*w+x0:(y0+y)*w+x1])
		}
	}
	return out, nil
}

// SetRegion schreibt src an Position (y0, x0). N und C muessen uebereinstimmen.
func (t *Tensor) SetRegion(src *Tensor, y0, x0 int) error {
	n, c, h, w, err := t.dims4()
	if err != nil {
		return err
	}
	sn, sc, sh, sw, err := src.dims4()
	if err != nil {
		return err
	}
	if sn != n || sc != c {
		return fmt.Errorf("%w: cannot write %v into %v", ErrShape, src.shape, t.shape)
	}
	if y0 < 0 || x0 < 0 || y0+sh > h || x0+sw > w {
		return fmt.Errorf("%w: %v at (%d,%d) in %v", ErrBounds, src.shape, y0, x0, t.shape)
	}

	for p := range n * c {
		dst := t.data[p*h*w:]
		s := src.data[p*sh*sw:]
		for y := range sh {
			copy(dst[(y0+y)*w+x0:(y0+y)*w+x0+sw], s[y*sw:(y+1)*sw])
		}
	}
	return nil
}

// Batch gibt das i-te Element entlang N als eigenen 1xCxHxW Tensor zurueck.
// Die Daten werden geteilt.
func (t *Tensor) Batch(i int) (*Tensor, error) {
	n, c, h, w, err := t.dims4()
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= n {
		return nil, fmt.Errorf("%w: batch %d of %d", ErrBounds, i, n)
	}
	size := c * h * w
	return &Tensor{shape: []int{1, c, h, w}, data: t.data[i*size : (i+1)*size]}, nil
}

// StackBatch fuegt 1xCxHxW Tensoren entlang N zusammen.
func StackBatch(ts []*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrShape)
	}
	first := ts[0].shape
	var data []float32
	n := 0
	for _, t := range ts {
		if len(t.shape) != 4 || !slices.Equal(t.shape[1:], first[1:]) {
			return nil, fmt.Errorf("%w: cannot stack %v with %v", ErrShape, t.shape, first)
		}
		n += t.shape[0]
		data = append(data, t.data...)
	}
	return &Tensor{shape: []int{n, first[1], first[2], first[3]}, data: data}, nil
}
