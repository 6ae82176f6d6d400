// MODUL: layer
// ZWECK: Layer-Interface, State-Dict Verwaltung und Sequential-Container
// INPUT: Tensoren, benannte Gewichte (PyTorch state_dict Namen)
// OUTPUT: Forward-Ergebnisse, befuellte Parameter
// NEBENEFFEKTE: LoadStateDict ueberschreibt Parameter-Daten
// ABHAENGIGKEITEN: keine externen
// HINWEISE: Namen folgen dem PyTorch-Schema "prefix.index.weight"

package nn

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
)

var (
	ErrMissingTensor    = errors.New("nn: missing tensor")
	ErrUnexpectedTensor = errors.New("nn: unexpected tensor")
	ErrShapeMismatch    = errors.New("nn: shape mismatch")
)

// Layer ist ein Modul mit Forward-Pass und benannten Parametern.
type Layer interface {
	Forward(x *Tensor) (*Tensor, error)

	// State traegt alle Parameter und Buffer unter prefix in sd ein.
	State(prefix string, sd StateDict)
}

// StateDict bildet Parameter-Namen auf Tensoren ab.
type StateDict map[string]*Tensor

// Names gibt die sortierten Namen zurueck.
func (sd StateDict) Names() []string {
	names := make([]string, 0, len(sd))
	for name := range sd {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// StateOf sammelt alle Parameter eines Layers.
func StateOf(l Layer) StateDict {
	sd := make(StateDict)
	l.State("", sd)
	return sd
}

// NumParams zaehlt alle Elemente im State-Dict.
func NumParams(l Layer) int {
	n := 0
	for _, t := range StateOf(l) {
		n += t.Numel()
	}
	return n
}

// LoadStateDict kopiert weights strikt in die Parameter von l.
// Fehlende, unerwartete und in der Shape abweichende Tensoren sind Fehler.
func LoadStateDict(l Layer, weights map[string]*Tensor) error {
	sd := StateOf(l)

	var errs []error
	for _, name := range sd.Names() {
		dst := sd[name]
		src, ok := weights[name]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingTensor, name))
			continue
		}
		if !dst.SameShape(src) {
			errs = append(errs, fmt.Errorf("%w: %s: checkpoint %v, model %v", ErrShapeMismatch, name, src.shape, dst.shape))
			continue
		}
		copy(dst.data, src.data)
	}

	var unexpected []string
	for name := range weights {
		if _, ok := sd[name]; !ok {
			unexpected = append(unexpected, name)
		}
	}
	slices.Sort(unexpected)
	for _, name := range unexpected {
		errs = append(errs, fmt.Errorf("%w: %s", ErrUnexpectedTensor, name))
	}

	return errors.Join(errs...)
}

// ============================================================================
// Sequential
// ============================================================================

// Sequential fuehrt Kind-Layer nacheinander aus. Kinder werden wie bei
// PyTorch ueber ihren Index benannt.
type Sequential struct {
	Layers []Layer
}

func NewSequential(layers ...Layer) *Sequential {
	return &Sequential{Layers: layers}
}

// Append fuegt Layer hinten an.
func (s *Sequential) Append(layers ...Layer) {
	s.Layers = append(s.Layers, layers...)
}

func (s *Sequential) Forward(x *Tensor) (*Tensor, error) {
	var err error
	for i, l := range s.Layers {
		x, err = l.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("layer %d (%T): %w", i, l, err)
		}
	}
	return x, nil
}

func (s *Sequential) State(prefix string, sd StateDict) {
	for i, l := range s.Layers {
		l.State(prefix+strconv.Itoa(i)+".", sd)
	}
}

// stateless wird in Layer ohne Parameter eingebettet.
type stateless struct{}

func (stateless) State(string, StateDict) {}
