// Package tile - Kachelweise Inferenz auf festen 256x256 Ausschnitten.
//
// Der Generator wurde auf 256x256 Kacheln trainiert. Ein Bild beliebiger
// Groesse wird in ceil(H/256) x ceil(W/256) Kacheln zerlegt, die Kacheln
// am rechten und unteren Rand sind entsprechend kleiner. Zwischen Kacheln
// wird nicht ueberblendet, Naehte bleiben sichtbar.
package tile

import (
	"errors"
	"fmt"
	"image"

	"github.com/deblurgan/deblur/logutil"
	"github.com/deblurgan/deblur/nn"
)

// DefaultSize ist die Trainings-Kachelgroesse.
const DefaultSize = 256

// ErrTileShape wird zurueckgegeben wenn das Modell eine Kachel anderer Shape liefert.
var ErrTileShape = errors.New("model output does not match tile shape")

// Grid zerlegt h x w in Kacheln der Groesse size, zeilenweise von oben links.
// Das Ende jeder Kachel wird explizit auf die Bildgrenze begrenzt.
func Grid(h, w, size int) []image.Rectangle {
	if h <= 0 || w <= 0 || size <= 0 {
		return nil
	}

	rows := (h + size - 1) / size
	cols := (w + size - 1) / size

	tiles := make([]image.Rectangle, 0, rows*cols)
	for i := range rows {
		for j := range cols {
			tiles = append(tiles, image.Rect(
				j*size, i*size,
				min(w, (j+1)*size), min(h, (i+1)*size),
			))
		}
	}
	return tiles
}

// Tiler fuehrt ein Modell kachelweise ueber einen NCHW Tensor aus.
type Tiler struct {
	Size int
}

func New() *Tiler {
	return &Tiler{Size: DefaultSize}
}

// Run erzeugt einen Ausgabe-Tensor mit der Shape von in und fuellt ihn
// Kachel fuer Kachel mit der Modellausgabe fuer denselben Ausschnitt.
func (t *Tiler) Run(model nn.Layer, in *nn.Tensor) (*nn.Tensor, error) {
	if in.Rank() != 4 {
		return nil, fmt.Errorf("%w: expected NCHW input, got %v", nn.ErrShape, in.Shape())
	}
	h, w := in.Dim(2), in.Dim(3)

	out := nn.ZerosLike(in)
	for i, r := range Grid(h, w, t.Size) {
		patch, err := in.Region(r.Min.Y, r.Max.Y, r.Min.X, r.Max.X)
		if err != nil {
			return nil, err
		}

		logutil.Trace("tile", "index", i, "rect", r)
		result, err := model.Forward(patch)
		if err != nil {
			return nil, fmt.Errorf("tile %d %v: %w", i, r, err)
		}
		if !result.SameShape(patch) {
			return nil, fmt.Errorf("%w: tile %d %v: got %v, want %v", ErrTileShape, i, r, result.Shape(), patch.Shape())
		}

		if err := out.SetRegion(result, r.Min.Y, r.Min.X); err != nil {
			return nil, err
		}
	}
	return out, nil
}
