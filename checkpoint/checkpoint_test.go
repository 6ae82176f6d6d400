package checkpoint

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/d4l3k/go-bfloat16"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"
	"github.com/stretchr/testify/require"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"github.com/x448/float16"

	"github.com/deblurgan/deblur/nn"
)

// testConfig baut eine Konfiguration wie sie beim Training gespeichert wird
func testConfig() *orderedmap.OrderedMap[string, any] {
	args := orderedmap.New[string, any]()
	args.Set("input_nc", 3)
	args.Set("output_nc", 3)
	args.Set("norm_type", "instance")

	gen := orderedmap.New[string, any]()
	gen.Set("type", "ResNetGenerator")
	gen.Set("args", args)

	cfg := orderedmap.New[string, any]()
	cfg.Set("name", "deblur")
	cfg.Set("n_gpu", 2)
	cfg.Set("generator", gen)
	return cfg
}

func mustTensor(t *testing.T, shape []int, data []float32) *nn.Tensor {
	t.Helper()
	tensor, err := nn.New(shape, data)
	require.NoError(t, err)
	return tensor
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.safetensors")
	state := map[string]*nn.Tensor{
		"model.1.weight":              mustTensor(t, []int{2, 1}, []float32{0.5, -1}),
		"model.1.bias":                mustTensor(t, []int{2}, []float32{3, 4}),
		"model.2.num_batches_tracked": nn.Zeros(),
	}
	require.NoError(t, Save(path, testConfig(), state))

	ckpt, err := Load(path)
	require.NoError(t, err)

	if ckpt.Format != FormatSafetensors {
		t.Errorf("Format = %q, erwartet %q", ckpt.Format, FormatSafetensors)
	}
	if ckpt.Config.Generator.Type != "ResNetGenerator" {
		t.Errorf("Type = %q, erwartet ResNetGenerator", ckpt.Config.Generator.Type)
	}
	if ckpt.Config.NGPU != 2 {
		t.Errorf("NGPU = %d, erwartet 2", ckpt.Config.NGPU)
	}

	var keys []string
	for pair := ckpt.Config.Generator.Args.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	if diff := cmp.Diff([]string{"input_nc", "output_nc", "norm_type"}, keys); diff != "" {
		t.Errorf("Args Reihenfolge (-want +got):\n%s", diff)
	}
	if v, _ := ckpt.Config.Generator.Args.Get("input_nc"); v != int64(3) {
		t.Errorf("input_nc = %v (%T), erwartet int64(3)", v, v)
	}

	// Save sortiert nach Namen
	var names []string
	for pair := ckpt.Weights.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	if diff := cmp.Diff([]string{"model.1.bias", "model.1.weight", "model.2.num_batches_tracked"}, names); diff != "" {
		t.Errorf("Namen (-want +got):\n%s", diff)
	}

	sd := ckpt.StateDict()
	if diff := cmp.Diff([]float32{0.5, -1}, sd["model.1.weight"].Data()); diff != "" {
		t.Errorf("Gewichte (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{2, 1}, sd["model.1.weight"].Shape()); diff != "" {
		t.Errorf("Shape (-want +got):\n%s", diff)
	}
	if n := ckpt.NumParams(); n != 5 {
		t.Errorf("NumParams = %d, erwartet 5", n)
	}
}

func TestLoadStripsDataParallelPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dp.safetensors")
	state := map[string]*nn.Tensor{
		"module.model.1.weight": nn.Zeros(1),
		"module.model.1.bias":   nn.Zeros(1),
	}
	require.NoError(t, Save(path, testConfig(), state))

	ckpt, err := Load(path)
	require.NoError(t, err)

	sd := ckpt.StateDict()
	for _, name := range []string{"model.1.weight", "model.1.bias"} {
		if _, ok := sd[name]; !ok {
			t.Errorf("%s fehlt, vorhanden: %v", name, nn.StateDict(sd).Names())
		}
	}
}

func TestLoadKeepsMixedPrefix(t *testing.T) {
	weights := orderedmap.New[string, *nn.Tensor]()
	weights.Set("module.a", nn.Zeros(1))
	weights.Set("b", nn.Zeros(1))

	if got := stripPrefix(weights); got.Len() != 2 || got.GetPair("module.a") == nil {
		t.Error("Praefix entfernt obwohl nicht alle Namen ihn tragen")
	}
}

func TestLoadDTypes(t *testing.T) {
	f16 := make([]byte, 4)
	binary.LittleEndian.PutUint16(f16, float16.Fromfloat32(1.5).Bits())
	binary.LittleEndian.PutUint16(f16[2:], float16.Fromfloat32(-2).Bits())

	i64 := make([]byte, 8)
	binary.LittleEndian.PutUint64(i64, uint64(42))

	f64 := make([]byte, 8)
	binary.LittleEndian.PutUint64(f64, math.Float64bits(0.25))

	var buf bytes.Buffer
	require.NoError(t, writeSafetensors(&buf, testConfig(), []rawTensor{
		{Name: "half", DType: "F16", Shape: []int{2}, Data: f16},
		{Name: "bf", DType: "BF16", Shape: []int{2}, Data: bfloat16.EncodeFloat32([]float32{1, -0.5})},
		{Name: "long", DType: "I64", Shape: []int{}, Data: i64},
		{Name: "double", DType: "F64", Shape: []int{1}, Data: f64},
	}))

	path := filepath.Join(t.TempDir(), "dtypes.safetensors")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	ckpt, err := Load(path)
	require.NoError(t, err)

	sd := ckpt.StateDict()
	for name, want := range map[string][]float32{
		"half":   {1.5, -2},
		"bf":     {1, -0.5},
		"long":   {42},
		"double": {0.25},
	} {
		if diff := cmp.Diff(want, sd[name].Data()); diff != "" {
			t.Errorf("%s (-want +got):\n%s", name, diff)
		}
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	write := func(name string, tensors []rawTensor, config *orderedmap.OrderedMap[string, any]) string {
		var buf bytes.Buffer
		require.NoError(t, writeSafetensors(&buf, config, tensors))
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
		return path
	}

	noGenerator := orderedmap.New[string, any]()
	noGenerator.Set("n_gpu", 1)

	badNGPU := testConfig()
	badNGPU.Set("n_gpu", "two")

	weight := rawTensor{Name: "w", DType: "F32", Shape: []int{1}, Data: make([]byte, 4)}

	garbage := filepath.Join(dir, "garbage.bin")
	require.NoError(t, os.WriteFile(garbage, []byte("not a checkpoint"), 0o644))

	truncated := filepath.Join(dir, "truncated.safetensors")
	hdr := make([]byte, 8)
	binary.LittleEndian.PutUint64(hdr, 1000)
	require.NoError(t, os.WriteFile(truncated, append(hdr, '{', '}'), 0o644))

	tests := []struct {
		name string
		path string
		want error
	}{
		{"fehlende Datei", filepath.Join(dir, "missing.pth"), ErrNotFound},
		{"unbekanntes Format", garbage, ErrUnsupportedFormat},
		{"abgeschnittener Header", truncated, ErrMalformed},
		{"ohne Konfiguration", write("noconfig.safetensors", []rawTensor{weight}, nil), ErrMissingConfig},
		{"ohne generator", write("nogen.safetensors", []rawTensor{weight}, noGenerator), ErrMissingConfig},
		{"n_gpu kein int", write("ngpu.safetensors", []rawTensor{weight}, badNGPU), ErrMalformed},
		{"ohne Gewichte", write("noweights.safetensors", nil, testConfig()), ErrMissingWeights},
		{"unbekannter dtype", write("u8.safetensors", []rawTensor{{Name: "w", DType: "U8", Shape: []int{1}, Data: []byte{1}}}, testConfig()), ErrUnsupportedDType},
		{"falsche Groesse", write("size.safetensors", []rawTensor{{Name: "w", DType: "F32", Shape: []int{2}, Data: make([]byte, 4)}}, testConfig()), ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, erwartet %v", err, tt.want)
			}
		})
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name  string
		magic []byte
		want  Format
	}{
		{"zip", []byte("PK\x03\x04\x00\x00\x00\x00\x00"), FormatTorch},
		{"pickle protokoll 2", []byte{0x80, 0x02, 0x8a, 0x0a, 0x6c, 0xfc, 0x9c, 0x46, 0xf9}, FormatTorch},
		{"safetensors", []byte{0x10, 0x01, 0, 0, 0, 0, 0, 0, '{'}, FormatSafetensors},
		{"safetensors Laenge 0x80", []byte{0x80, 0x00, 0, 0, 0, 0, 0, 0, '{'}, FormatSafetensors},
		{"safetensors Laenge 0x0280", []byte{0x80, 0x02, 0, 0, 0, 0, 0, 0, '{'}, FormatSafetensors},
		{"0x80 ohne Protokoll", []byte{0x80, 0x00, 'x'}, ""},
		{"kurz", []byte{0x80}, ""},
		{"leer", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectFormat(tt.magic); got != tt.want {
				t.Errorf("detectFormat(%x) = %q, erwartet %q", tt.magic, got, tt.want)
			}
		})
	}
}

// Jede Header-Laenge muss als safetensors erkannt werden, auch wenn ihr
// niedrigstes Byte wie ein Pickle-PROTO-Opcode aussieht.
func TestLoadHeaderLengths(t *testing.T) {
	dir := t.TempDir()
	state := map[string]*nn.Tensor{"model.1.weight": mustTensor(t, []int{1}, []float32{2})}

	pickleLike := 0
	for n := 1; n < 300; n++ {
		cfg := testConfig()
		gen, _ := cfg.Get("generator")
		gen.(*orderedmap.OrderedMap[string, any]).Set("type", strings.Repeat("G", n))

		path := filepath.Join(dir, fmt.Sprintf("g%d.safetensors", n))
		require.NoError(t, Save(path, cfg, state))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		if data[0] == 0x80 {
			pickleLike++
		}

		ckpt, err := Load(path)
		if err != nil {
			t.Errorf("Typ-Laenge %d: %v", n, err)
			continue
		}
		if ckpt.Format != FormatSafetensors || len(ckpt.Config.Generator.Type) != n {
			t.Errorf("Typ-Laenge %d: Format %q, Typ-Laenge %d", n, ckpt.Format, len(ckpt.Config.Generator.Type))
		}
	}

	if pickleLike == 0 {
		t.Error("erwartet mindestens eine Datei mit Header-Laenge 0x..80")
	}
}

// testdata/generator.pth ist ein torch.save Zip-Archiv, erzeugt mit testdata/generate.py
func TestLoadTorchZip(t *testing.T) {
	ckpt, err := Load(filepath.Join("testdata", "generator.pth"))
	require.NoError(t, err)

	if ckpt.Format != FormatTorch {
		t.Errorf("Format = %q, erwartet %q", ckpt.Format, FormatTorch)
	}
	if ckpt.Config.Generator.Type != "ResNetGenerator" {
		t.Errorf("Type = %q, erwartet ResNetGenerator", ckpt.Config.Generator.Type)
	}
	if ckpt.Config.NGPU != 2 {
		t.Errorf("NGPU = %d, erwartet 2", ckpt.Config.NGPU)
	}
	if v, _ := ckpt.Config.Generator.Args.Get("norm_type"); v != "instance" {
		t.Errorf("norm_type = %v, erwartet instance", v)
	}
	if v, _ := ckpt.Config.Generator.Args.Get("ngf"); v != 2 {
		t.Errorf("ngf = %v (%T), erwartet 2", v, v)
	}

	var names []string
	for pair := ckpt.Weights.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	wantNames := []string{
		"model.1.weight",
		"model.1.bias",
		"model.2.num_batches_tracked",
		"model.2.running_mean",
	}
	if diff := cmp.Diff(wantNames, names); diff != "" {
		t.Errorf("Namen ohne module. (-want +got):\n%s", diff)
	}

	type tensor struct {
		Shape []int
		Data  []float32
	}
	want := map[string]tensor{
		// transponierte Sicht auf [1 2 3 4 5 6]
		"model.1.weight":              {[]int{2, 3}, []float32{1, 3, 5, 2, 4, 6}},
		"model.1.bias":                {[]int{2}, []float32{0.5, -0.5}},
		"model.2.num_batches_tracked": {[]int{}, []float32{7}},
		"model.2.running_mean":        {[]int{2}, []float32{1.5, -2}},
	}
	for name, w := range want {
		got, _ := ckpt.Weights.Get(name)
		if diff := cmp.Diff(w, tensor{got.Shape(), got.Data()}, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("%s (-want +got):\n%s", name, diff)
		}
	}
}

func TestDecodeTensorShape(t *testing.T) {
	tests := []struct {
		name string
		info tensorInfo
		data []byte
	}{
		// (-2)*(-2)*4 passt zur Datenlaenge
		{"negative Dimension", tensorInfo{DType: "F32", Shape: []int{-2, -2}, DataOffsets: [2]int{0, 16}}, make([]byte, 16)},
		// 2^62*4*4 laeuft auf 0 ueber
		{"Ueberlauf", tensorInfo{DType: "F32", Shape: []int{1 << 62, 4}, DataOffsets: [2]int{0, 0}}, nil},
		{"Ueberlauf durch Elementgroesse", tensorInfo{DType: "F64", Shape: []int{1 << 61}, DataOffsets: [2]int{0, 0}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeTensor(tt.info, tt.data); !errors.Is(err, ErrMalformed) {
				t.Errorf("err = %v, erwartet ErrMalformed", err)
			}
		})
	}
}

func TestStorageReaderBFloat16(t *testing.T) {
	storage := &pytorch.BFloat16Storage{Data: []float32{1.5, -2}}

	got, err := materialize(&pytorch.Tensor{Source: storage, Size: []int{2}, Stride: []int{1}})
	require.NoError(t, err)

	if diff := cmp.Diff([]float32{1.5, -2}, got.Data()); diff != "" {
		t.Errorf("BF16 (-want +got):\n%s", diff)
	}
}

func TestMaterializeStrided(t *testing.T) {
	storage := &pytorch.FloatStorage{Data: []float32{0, 1, 2, 3, 4, 5}}

	tests := []struct {
		name   string
		tensor *pytorch.Tensor
		shape  []int
		want   []float32
	}{
		{
			name:   "zusammenhaengend",
			tensor: &pytorch.Tensor{Source: storage, Size: []int{2, 3}, Stride: []int{3, 1}},
			shape:  []int{2, 3},
			want:   []float32{0, 1, 2, 3, 4, 5},
		},
		{
			name:   "transponiert",
			tensor: &pytorch.Tensor{Source: storage, Size: []int{3, 2}, Stride: []int{1, 3}},
			shape:  []int{3, 2},
			want:   []float32{0, 3, 1, 4, 2, 5},
		},
		{
			name:   "mit Offset",
			tensor: &pytorch.Tensor{Source: storage, StorageOffset: 2, Size: []int{2}, Stride: []int{2}},
			shape:  []int{2},
			want:   []float32{2, 4},
		},
		{
			name:   "Skalar",
			tensor: &pytorch.Tensor{Source: &pytorch.LongStorage{Data: []int64{7}}, Size: []int{}, Stride: []int{}},
			shape:  []int{},
			want:   []float32{7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := materialize(tt.tensor)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.shape, got.Shape()); diff != "" {
				t.Errorf("Shape (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.want, got.Data()); diff != "" {
				t.Errorf("Daten (-want +got):\n%s", diff)
			}
		})
	}

	_, err := materialize(&pytorch.Tensor{Source: storage, StorageOffset: 4, Size: []int{3}, Stride: []int{1}})
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("View ausserhalb: err = %v, erwartet ErrMalformed", err)
	}
}

func TestFromTorchObject(t *testing.T) {
	args := types.NewDict()
	args.Set("input_nc", 3)
	args.Set("ngf", big.NewInt(64))
	args.Set("padding", &types.Tuple{1, 2})

	gen := types.NewDict()
	gen.Set("type", "UNetGenerator")
	gen.Set("args", args)

	config := types.NewDict()
	config.Set("generator", gen)
	config.Set("n_gpu", 1)

	weights := types.NewOrderedDict()
	weights.Set("module.model.model.0.weight", &pytorch.Tensor{
		Source: &pytorch.FloatStorage{Data: []float32{1, 2}},
		Size:   []int{2},
		Stride: []int{1},
	})

	root := types.NewDict()
	root.Set("config", config)
	root.Set("generator", weights)
	root.Set("epoch", 200)

	ckpt, err := fromTorchObject(root)
	require.NoError(t, err)

	if ckpt.Config.Generator.Type != "UNetGenerator" {
		t.Errorf("Type = %q, erwartet UNetGenerator", ckpt.Config.Generator.Type)
	}
	if v, _ := ckpt.Config.Generator.Args.Get("ngf"); v != int64(64) {
		t.Errorf("ngf = %v (%T), erwartet int64(64)", v, v)
	}
	if v, _ := ckpt.Config.Generator.Args.Get("padding"); !cmp.Equal(v, []any{1, 2}) {
		t.Errorf("padding = %v, erwartet [1 2]", v)
	}
	if ckpt.Weights.GetPair("module.model.model.0.weight") == nil {
		t.Error("Gewicht fehlt")
	}

	t.Run("ohne generator", func(t *testing.T) {
		root := types.NewDict()
		root.Set("config", config)
		if _, err := fromTorchObject(root); !errors.Is(err, ErrMissingWeights) {
			t.Errorf("err = %v, erwartet ErrMissingWeights", err)
		}
	})

	t.Run("kein dict", func(t *testing.T) {
		if _, err := fromTorchObject(&types.List{}); !errors.Is(err, ErrMalformed) {
			t.Errorf("err = %v, erwartet ErrMalformed", err)
		}
	})
}

func TestAsInt(t *testing.T) {
	tests := []struct {
		in   any
		want int
		ok   bool
	}{
		{3, 3, true},
		{int64(9), 9, true},
		{float64(64), 64, true},
		{1.5, 0, false},
		{big.NewInt(256), 256, true},
		{"3", 0, false},
		{true, 0, false},
	}

	for _, tt := range tests {
		got, ok := AsInt(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("AsInt(%v) = %d, %v, erwartet %d, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
