// torch.go - Lesen von torch.save Checkpoints ueber gopickle
//
// Enthaelt:
// - loadTorch: Einstieg fuer zip und Legacy-Pickle Archive
// - fromPickle: Pickle-Objekte in Go-Werte mit geordneten Maps umwandeln
// - materialize: strided Tensoren zusammenhaengend kopieren
package checkpoint

import (
	"fmt"
	"math/big"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/deblurgan/deblur/nn"
)

// loadTorch liest ein Dict {"config": ..., "generator": state_dict, ...}
func loadTorch(path string) (*Checkpoint, error) {
	obj, err := pytorch.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fromTorchObject(obj)
}

func fromTorchObject(obj any) (*Checkpoint, error) {
	root, ok := obj.(*types.Dict)
	if !ok {
		return nil, fmt.Errorf("%w: top-level object is %T, not a dict", ErrMalformed, obj)
	}

	rawConfig, ok := root.Get("config")
	if !ok {
		return nil, ErrMissingConfig
	}
	normalized, err := fromPickle(rawConfig)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := parseConfig(normalized)
	if err != nil {
		return nil, err
	}

	rawWeights, ok := root.Get("generator")
	if !ok || rawWeights == nil {
		return nil, ErrMissingWeights
	}
	weights, err := stateDictFromPickle(rawWeights)
	if err != nil {
		return nil, err
	}

	return &Checkpoint{Config: cfg, Weights: weights, Format: FormatTorch}, nil
}

// stateDictFromPickle wandelt ein (Ordered)Dict von Tensoren um
func stateDictFromPickle(obj any) (*orderedmap.OrderedMap[string, *nn.Tensor], error) {
	weights := orderedmap.New[string, *nn.Tensor]()
	add := func(k, v any) error {
		name, ok := k.(string)
		if !ok {
			return fmt.Errorf("%w: state dict key %v (%T)", ErrMalformed, k, k)
		}
		pt, ok := v.(*pytorch.Tensor)
		if !ok {
			return fmt.Errorf("%w: %s is %T, not a tensor", ErrMalformed, name, v)
		}
		t, err := materialize(pt)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		weights.Set(name, t)
		return nil
	}

	switch sd := obj.(type) {
	case *types.OrderedDict:
		for e := sd.List.Front(); e != nil; e = e.Next() {
			entry := e.Value.(*types.OrderedDictEntry)
			if err := add(entry.Key, entry.Value); err != nil {
				return nil, err
			}
		}
	case *types.Dict:
		for _, k := range sd.Keys() {
			if err := add(k, sd.MustGet(k)); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("%w: generator is %T, not a state dict", ErrMalformed, obj)
	}
	return weights, nil
}

// fromPickle normalisiert verschachtelte Pickle-Werte
func fromPickle(v any) (any, error) {
	switch v := v.(type) {
	case *types.Dict:
		out := orderedmap.New[string, any]()
		for _, k := range v.Keys() {
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("%w: non-string key %v (%T)", ErrMalformed, k, k)
			}
			item, err := fromPickle(v.MustGet(k))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out.Set(key, item)
		}
		return out, nil
	case *types.OrderedDict:
		out := orderedmap.New[string, any]()
		for e := v.List.Front(); e != nil; e = e.Next() {
			entry := e.Value.(*types.OrderedDictEntry)
			key, ok := entry.Key.(string)
			if !ok {
				return nil, fmt.Errorf("%w: non-string key %v (%T)", ErrMalformed, entry.Key, entry.Key)
			}
			item, err := fromPickle(entry.Value)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out.Set(key, item)
		}
		return out, nil
	case *types.List:
		return fromPickleSlice(*v)
	case *types.Tuple:
		return fromPickleSlice(*v)
	case *big.Int:
		if v.IsInt64() {
			return v.Int64(), nil
		}
		return v, nil
	default:
		return v, nil
	}
}

func fromPickleSlice(items []any) (any, error) {
	out := make([]any, len(items))
	for i, item := range items {
		v, err := fromPickle(item)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// materialize kopiert einen ggf. strided Tensor in einen dichten nn.Tensor
func materialize(pt *pytorch.Tensor) (*nn.Tensor, error) {
	if len(pt.Stride) != len(pt.Size) {
		return nil, fmt.Errorf("%w: size %v with stride %v", ErrMalformed, pt.Size, pt.Stride)
	}

	at, n, err := storageReader(pt.Source)
	if err != nil {
		return nil, err
	}

	numel := 1
	maxOffset := pt.StorageOffset
	for i, d := range pt.Size {
		numel *= d
		if d > 0 {
			maxOffset += (d - 1) * pt.Stride[i]
		}
	}
	if numel > 0 && (pt.StorageOffset < 0 || maxOffset >= n) {
		return nil, fmt.Errorf("%w: view %v/%v at %d exceeds storage of %d", ErrMalformed, pt.Size, pt.Stride, pt.StorageOffset, n)
	}

	data := make([]float32, numel)
	index := make([]int, len(pt.Size))
	for i := range data {
		offset := pt.StorageOffset
		for d, idx := range index {
			offset += idx * pt.Stride[d]
		}
		data[i] = at(offset)

		// Multi-Index im C-Layout weiterzaehlen
		for d := len(index) - 1; d >= 0; d-- {
			index[d]++
			if index[d] < pt.Size[d] {
				break
			}
			index[d] = 0
		}
	}

	return nn.New(pt.Size, data)
}

// storageReader liefert Element-Zugriff und Laenge eines torch Storage
func storageReader(s pytorch.StorageInterface) (func(int) float32, int, error) {
	switch s := s.(type) {
	case *pytorch.FloatStorage:
		return func(i int) float32 { return s.Data[i] }, len(s.Data), nil
	case *pytorch.HalfStorage:
		return func(i int) float32 { return s.Data[i] }, len(s.Data), nil
	case *pytorch.BFloat16Storage:
		return func(i int) float32 { return s.Data[i] }, len(s.Data), nil
	case *pytorch.DoubleStorage:
		return func(i int) float32 { return float32(s.Data[i]) }, len(s.Data), nil
	case *pytorch.LongStorage:
		return func(i int) float32 { return float32(s.Data[i]) }, len(s.Data), nil
	case *pytorch.IntStorage:
		return func(i int) float32 { return float32(s.Data[i]) }, len(s.Data), nil
	default:
		return nil, 0, fmt.Errorf("%w: torch storage %T", ErrUnsupportedDType, s)
	}
}
