// args.go - Konstruktor-Argumente aus config.generator.args
//
// Enthaelt:
// - Kind/Param: deklarierte Argumente einer Architektur mit Default
// - parseArgs: Pruefung auf fehlende, unbekannte und falsch typisierte Argumente
// - Args: typisierter Zugriff nach erfolgreicher Pruefung
package generator

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/deblurgan/deblur/checkpoint"
)

// Kind ist der erwartete Typ eines Arguments.
type Kind int

const (
	KindInt Kind = iota
	KindString
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindString:
		return "str"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Param deklariert ein Konstruktor-Argument.
// Ohne Default ist das Argument Pflicht.
type Param struct {
	Name    string
	Kind    Kind
	Default any

	// Min gilt fuer KindInt, Choices fuer KindString
	Min     int
	Choices []string
}

// Required meldet ob das Argument angegeben werden muss.
func (p Param) Required() bool {
	return p.Default == nil
}

// DefaultString formatiert den Default wie in der Python-Signatur.
func (p Param) DefaultString() string {
	switch v := p.Default.(type) {
	case nil:
		return "-"
	case string:
		return fmt.Sprintf("%q", v)
	case bool:
		if v {
			return "True"
		}
		return "False"
	default:
		return fmt.Sprint(v)
	}
}

// Args sind die geprueften Argumente inklusive Defaults.
type Args struct {
	values map[string]any
}

func (a *Args) Int(name string) int    { return a.values[name].(int) }
func (a *Args) Str(name string) string { return a.values[name].(string) }
func (a *Args) Bool(name string) bool  { return a.values[name].(bool) }

// parseArgs prueft raw gegen params und sammelt alle Fehler
func parseArgs(params []Param, raw *orderedmap.OrderedMap[string, any]) (*Args, error) {
	args := &Args{values: make(map[string]any, len(params))}
	var errs []error

	for _, p := range params {
		v, ok := any(nil), false
		if raw != nil {
			v, ok = raw.Get(p.Name)
		}
		if !ok {
			if p.Required() {
				errs = append(errs, fmt.Errorf("%w: missing required argument %q", ErrInvalidArgs, p.Name))
				continue
			}
			v = p.Default
		}

		value, err := p.convert(v)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		args.values[p.Name] = value
	}

	if raw != nil {
		for pair := raw.Oldest(); pair != nil; pair = pair.Next() {
			if !slices.ContainsFunc(params, func(p Param) bool { return p.Name == pair.Key }) {
				errs = append(errs, fmt.Errorf("%w: unexpected argument %q", ErrInvalidArgs, pair.Key))
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return args, nil
}

// convert prueft Typ und Wertebereich eines Werts
func (p Param) convert(v any) (any, error) {
	switch p.Kind {
	case KindInt:
		n, ok := checkpoint.AsInt(v)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be %s, got %v (%T)", ErrInvalidArgs, p.Name, p.Kind, v, v)
		}
		if n < p.Min {
			return nil, fmt.Errorf("%w: %s must be >= %d, got %d", ErrInvalidArgs, p.Name, p.Min, n)
		}
		return n, nil
	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be %s, got %v (%T)", ErrInvalidArgs, p.Name, p.Kind, v, v)
		}
		if len(p.Choices) > 0 && !slices.Contains(p.Choices, s) {
			return nil, fmt.Errorf("%w: %s must be one of %s, got %q", ErrInvalidArgs, p.Name, strings.Join(p.Choices, ", "), s)
		}
		return s, nil
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be %s, got %v (%T)", ErrInvalidArgs, p.Name, p.Kind, v, v)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: %s has unknown kind %d", ErrInvalidArgs, p.Name, p.Kind)
	}
}
