// concat.go - Verkettung entlang der Kanal-Achse
//
// Nutzt pdevine/tensor (gorgonia) fuer die eigentliche Verkettung, damit
// Shape-Pruefung und Speicherlayout der Bibliothek folgen.
package nn

import (
	"fmt"

	"github.com/pdevine/tensor"
)

// Cat verkettet NCHW Tensoren entlang der Kanal-Achse (dim=1).
func Cat(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("%w: cat of nothing", ErrShape)
	}
	if len(ts) == 1 {
		return ts[0], nil
	}

	dense := make([]*tensor.Dense, len(ts))
	for i, t := range ts {
		if t.Rank() != 4 {
			return nil, fmt.Errorf("%w: cat expects NCHW, got %v", ErrShape, t.shape)
		}
		if t.shape[0] != ts[0].shape[0] || t.shape[2] != ts[0].shape[2] || t.shape[3] != ts[0].shape[3] {
			return nil, fmtShape("cat", ts[0], t)
		}
		dense[i] = tensor.New(tensor.WithShape(t.shape...), tensor.WithBacking(t.data))
	}

	joined, err := dense[0].Concat(1, dense[1:]...)
	if err != nil {
		return nil, fmt.Errorf("%w: cat %v: %v", ErrShape, ts[0].shape, err)
	}

	data, ok := joined.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("%w: cat produced %T", ErrShape, joined.Data())
	}
	return New(joined.Shape(), data)
}
