// safetensors.go - safetensors Container lesen und schreiben
//
// Layout: 8 Byte Header-Laenge (little endian), JSON-Header, Rohdaten.
// Die Trainings-Konfiguration steht als JSON-String in __metadata__.config.
package checkpoint

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	"github.com/d4l3k/go-bfloat16"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"github.com/x448/float16"

	"github.com/deblurgan/deblur/nn"
)

const (
	metadataKey       = "__metadata__"
	metadataConfigKey = "config"

	// maxHeaderSize entspricht der Grenze der Referenz-Implementierung
	maxHeaderSize = 100 << 20
)

type tensorInfo struct {
	DType       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets [2]int `json:"data_offsets"`
}

// dtypeSize gibt die Bytes pro Element zurueck, 0 fuer unbekannte Typen
func dtypeSize(dtype string) int {
	switch dtype {
	case "F64", "I64":
		return 8
	case "F32", "I32":
		return 4
	case "F16", "BF16":
		return 2
	default:
		return 0
	}
}

func loadSafetensors(path string) (*Checkpoint, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(b) < 8 {
		return nil, fmt.Errorf("%w: file too short", ErrMalformed)
	}

	n := binary.LittleEndian.Uint64(b)
	if n > maxHeaderSize || n > uint64(len(b)-8) {
		return nil, fmt.Errorf("%w: header length %d", ErrMalformed, n)
	}
	header, data := b[8:8+n], b[8+n:]

	entries := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(header, entries); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}

	var metadata map[string]string
	weights := orderedmap.New[string, *nn.Tensor]()
	for pair := entries.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Key == metadataKey {
			if err := json.Unmarshal(pair.Value, &metadata); err != nil {
				return nil, fmt.Errorf("%w: metadata: %v", ErrMalformed, err)
			}
			continue
		}

		var info tensorInfo
		if err := json.Unmarshal(pair.Value, &info); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, pair.Key, err)
		}
		t, err := decodeTensor(info, data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", pair.Key, err)
		}
		weights.Set(pair.Key, t)
	}

	rawConfig, ok := metadata[metadataConfigKey]
	if !ok {
		return nil, ErrMissingConfig
	}
	normalized, err := decodeJSON([]byte(rawConfig))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := parseConfig(normalized)
	if err != nil {
		return nil, err
	}

	if weights.Len() == 0 {
		return nil, ErrMissingWeights
	}

	return &Checkpoint{Config: cfg, Weights: weights, Format: FormatSafetensors}, nil
}

func decodeTensor(info tensorInfo, data []byte) (*nn.Tensor, error) {
	size := dtypeSize(info.DType)
	if size == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDType, info.DType)
	}

	numel := 1
	for _, d := range info.Shape {
		if d < 0 || (d > 0 && numel > math.MaxInt/size/d) {
			return nil, fmt.Errorf("%w: invalid shape %v for %s", ErrMalformed, info.Shape, info.DType)
		}
		numel *= d
	}
	begin, end := info.DataOffsets[0], info.DataOffsets[1]
	if begin < 0 || end > len(data) || begin > end || end-begin != numel*size {
		return nil, fmt.Errorf("%w: offsets %v for %s%v", ErrMalformed, info.DataOffsets, info.DType, info.Shape)
	}
	raw := data[begin:end]

	var values []float32
	switch info.DType {
	case "F32":
		values = make([]float32, numel)
		for i := range values {
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case "F64":
		values = make([]float32, numel)
		for i := range values {
			values[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:])))
		}
	case "F16":
		values = make([]float32, numel)
		for i := range values {
			values[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		}
	case "BF16":
		values = bfloat16.DecodeFloat32(raw)
	case "I64":
		values = make([]float32, numel)
		for i := range values {
			values[i] = float32(int64(binary.LittleEndian.Uint64(raw[i*8:])))
		}
	case "I32":
		values = make([]float32, numel)
		for i := range values {
			values[i] = float32(int32(binary.LittleEndian.Uint32(raw[i*4:])))
		}
	}

	return nn.New(info.Shape, values)
}

// ============================================================================
// Schreiben
// ============================================================================

// Save schreibt config und state als safetensors (F32) nach path.
// Die Tensoren werden nach Namen sortiert abgelegt.
func Save(path string, config *orderedmap.OrderedMap[string, any], state map[string]*nn.Tensor) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(state))
	for name := range state {
		names = append(names, name)
	}
	slices.Sort(names)

	tensors := make([]rawTensor, len(names))
	for i, name := range names {
		t := state[name]
		buf := make([]byte, 4*t.Numel())
		for j, v := range t.Data() {
			binary.LittleEndian.PutUint32(buf[j*4:], math.Float32bits(v))
		}
		shape := t.Shape()
		if shape == nil {
			shape = []int{}
		}
		tensors[i] = rawTensor{Name: name, DType: "F32", Shape: shape, Data: buf}
	}

	if err := writeSafetensors(f, config, tensors); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// rawTensor ist ein bereits kodierter Tensor fuer writeSafetensors
type rawTensor struct {
	Name  string
	DType string
	Shape []int
	Data  []byte
}

func writeSafetensors(w io.Writer, config *orderedmap.OrderedMap[string, any], tensors []rawTensor) error {
	header := orderedmap.New[string, any]()
	if config != nil {
		b, err := json.Marshal(config)
		if err != nil {
			return err
		}
		header.Set(metadataKey, map[string]string{metadataConfigKey: string(b)})
	}

	offset := 0
	for _, t := range tensors {
		header.Set(t.Name, tensorInfo{
			DType:       t.DType,
			Shape:       t.Shape,
			DataOffsets: [2]int{offset, offset + len(t.Data)},
		})
		offset += len(t.Data)
	}

	b, err := json.Marshal(header)
	if err != nil {
		return err
	}
	// Header wie die Referenz-Implementierung auf 8 Byte auffuellen
	if pad := len(b) % 8; pad != 0 {
		b = append(b, bytes.Repeat([]byte(" "), 8-pad)...)
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(b))); err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	for _, t := range tensors {
		if _, err := w.Write(t.Data); err != nil {
			return err
		}
	}
	return nil
}
