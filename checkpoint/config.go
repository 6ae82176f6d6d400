// config.go - Trainings-Konfiguration aus dem Checkpoint
//
// Enthaelt:
// - Config/GeneratorConfig: typisierte Sicht auf config["generator"] und config["n_gpu"]
// - parseConfig: Pruefung der Pflichtfelder
// - AsInt: Ganzzahl-Koerzierung fuer Pickle- und JSON-Werte
// - decodeJSON: JSON mit erhaltener Schluessel-Reihenfolge
package checkpoint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// GeneratorConfig waehlt Architektur und Konstruktor-Argumente.
type GeneratorConfig struct {
	Type string
	Args *orderedmap.OrderedMap[string, any]
}

// Config ist die Konfiguration, mit der der Generator trainiert wurde.
type Config struct {
	Generator GeneratorConfig

	// NGPU ist config["n_gpu"], 1 wenn nicht gesetzt
	NGPU int

	// Raw enthaelt die komplette Konfiguration in Original-Reihenfolge
	Raw *orderedmap.OrderedMap[string, any]
}

// parseConfig liest die benoetigten Felder aus der normalisierten Konfiguration
func parseConfig(raw any) (*Config, error) {
	root, ok := raw.(*orderedmap.OrderedMap[string, any])
	if !ok {
		return nil, fmt.Errorf("%w: config is %T, not a mapping", ErrMalformed, raw)
	}

	gen, ok := root.Get("generator")
	if !ok {
		return nil, fmt.Errorf("%w: missing config.generator", ErrMissingConfig)
	}
	genMap, ok := gen.(*orderedmap.OrderedMap[string, any])
	if !ok {
		return nil, fmt.Errorf("%w: config.generator is %T, not a mapping", ErrMalformed, gen)
	}

	typ, ok := genMap.Get("type")
	if !ok {
		return nil, fmt.Errorf("%w: missing config.generator.type", ErrMissingConfig)
	}
	name, ok := typ.(string)
	if !ok {
		return nil, fmt.Errorf("%w: config.generator.type is %T, not a string", ErrMalformed, typ)
	}

	cfg := &Config{
		Generator: GeneratorConfig{Type: name, Args: orderedmap.New[string, any]()},
		NGPU:      1,
		Raw:       root,
	}

	if args, ok := genMap.Get("args"); ok && args != nil {
		argMap, ok := args.(*orderedmap.OrderedMap[string, any])
		if !ok {
			return nil, fmt.Errorf("%w: config.generator.args is %T, not a mapping", ErrMalformed, args)
		}
		cfg.Generator.Args = argMap
	}

	if v, ok := root.Get("n_gpu"); ok {
		n, ok := AsInt(v)
		if !ok {
			return nil, fmt.Errorf("%w: config.n_gpu is %v (%T), not an integer", ErrMalformed, v, v)
		}
		cfg.NGPU = n
	}

	return cfg, nil
}

// AsInt wandelt ganzzahlige Werte aus Pickle oder JSON in int um.
// Gleitkommazahlen werden nur ohne Nachkommaanteil akzeptiert.
func AsInt(v any) (int, bool) {
	switch v := v.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case int32:
		return int(v), true
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int(v), true
	case *big.Int:
		if !v.IsInt64() {
			return 0, false
		}
		return int(v.Int64()), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

// decodeJSON dekodiert data, Objekte werden zu geordneten Maps und
// Zahlen ohne Bruchteil oder Exponent zu int64
func decodeJSON(data []byte) (any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty JSON value", ErrMalformed)
	}

	switch data[0] {
	case '{':
		raw := orderedmap.New[string, json.RawMessage]()
		if err := json.Unmarshal(data, raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}

		out := orderedmap.New[string, any]()
		for pair := raw.Oldest(); pair != nil; pair = pair.Next() {
			v, err := decodeJSON(pair.Value)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", pair.Key, err)
			}
			out.Set(pair.Key, v)
		}
		return out, nil
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}

		out := make([]any, len(raw))
		for i, item := range raw {
			v, err := decodeJSON(item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if n, ok := v.(json.Number); ok {
		if !strings.ContainsAny(n.String(), ".eE") {
			if i, err := n.Int64(); err == nil {
				return i, nil
			}
		}
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return f, nil
	}
	return v, nil
}
