// Package generator - Generator-Architekturen fuer die Deblur-Inferenz.
//
// MODUL: registry
// ZWECK: Geschlossene Tabelle Architektur-Name -> Konstruktor
// INPUT: checkpoint.GeneratorConfig (type + args)
// OUTPUT: nn.Layer mit korrekt geformten, noch leeren Parametern
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: agnivade/levenshtein (Namensvorschlag), nn, checkpoint
// HINWEISE: Alle Architekturen sind zur Compile-Zeit bekannt, keine Registrierung zur Laufzeit
package generator

import (
	"errors"
	"fmt"
	"slices"

	"github.com/agnivade/levenshtein"

	"github.com/deblurgan/deblur/checkpoint"
	"github.com/deblurgan/deblur/nn"
)

var (
	ErrUnknownArchitecture = errors.New("unknown generator architecture")
	ErrInvalidArgs         = errors.New("invalid generator arguments")
)

// ArchError beschreibt einen Fehler beim Erzeugen einer Architektur.
type ArchError struct {
	Op   string
	Name string
	Err  error
}

func (e *ArchError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Name, e.Err)
}

func (e *ArchError) Unwrap() error {
	return e.Err
}

// Architecture beschreibt einen Generator-Typ und seine Konstruktor-Argumente.
type Architecture struct {
	Name   string
	Params []Param
	build  func(a *Args) (nn.Layer, error)
}

// ============================================================================
// Dispatch-Tabelle
// ============================================================================

var architectures = map[string]*Architecture{
	"ResNetGenerator": {
		Name:   "ResNetGenerator",
		Params: resNetParams,
		build:  newResNetGenerator,
	},
	"UNetGenerator": {
		Name:   "UNetGenerator",
		Params: uNetParams,
		build:  newUNetGenerator,
	},
}

// Names gibt alle bekannten Architektur-Namen sortiert zurueck.
func Names() []string {
	names := make([]string, 0, len(architectures))
	for name := range architectures {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Lookup sucht eine Architektur ueber ihren Namen.
func Lookup(name string) (*Architecture, bool) {
	arch, ok := architectures[name]
	return arch, ok
}

// New erzeugt den in cfg benannten Generator mit den Argumenten aus cfg.Args.
func New(cfg checkpoint.GeneratorConfig) (nn.Layer, error) {
	arch, ok := architectures[cfg.Type]
	if !ok {
		err := ErrUnknownArchitecture
		if s := suggest(cfg.Type); s != "" {
			err = fmt.Errorf("%w (did you mean %q?)", ErrUnknownArchitecture, s)
		}
		return nil, &ArchError{Op: "build", Name: cfg.Type, Err: err}
	}

	args, err := parseArgs(arch.Params, cfg.Args)
	if err != nil {
		return nil, &ArchError{Op: "build", Name: cfg.Type, Err: err}
	}

	layer, err := arch.build(args)
	if err != nil {
		return nil, &ArchError{Op: "build", Name: cfg.Type, Err: err}
	}
	return layer, nil
}

// suggest liefert den aehnlichsten bekannten Namen oder ""
func suggest(name string) string {
	best, score := "", len(name)/2+1
	for _, candidate := range Names() {
		if d := levenshtein.ComputeDistance(name, candidate); d < score {
			best, score = candidate, d
		}
	}
	return best
}
