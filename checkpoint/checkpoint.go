// MODUL: checkpoint
// ZWECK: Laden eines Trainings-Checkpoints (Konfiguration + Generator-Gewichte)
// INPUT: Pfad zu einer torch.save Datei oder einer safetensors Datei
// OUTPUT: *Checkpoint mit Config, geordneten Gewichten und erkanntem Format
// NEBENEFFEKTE: Liest die Datei vollstaendig ein
// ABHAENGIGKEITEN: gopickle (torch), float16/bfloat16 (safetensors), go-ordered-map
// HINWEISE: Das Format wird am Dateiinhalt erkannt, nicht an der Endung

package checkpoint

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/deblurgan/deblur/nn"
)

var (
	ErrNotFound          = errors.New("checkpoint not found")
	ErrMalformed         = errors.New("malformed checkpoint")
	ErrMissingConfig     = errors.New("checkpoint has no configuration")
	ErrMissingWeights    = errors.New("checkpoint has no generator weights")
	ErrUnsupportedDType  = errors.New("unsupported tensor dtype")
	ErrUnsupportedFormat = errors.New("unknown checkpoint format")
)

// Format beschreibt das Container-Format einer Checkpoint-Datei.
type Format string

const (
	FormatTorch       Format = "torch"
	FormatSafetensors Format = "safetensors"
)

// dataParallelPrefix haengt nn.DataParallel beim Speichern vor jeden Namen
const dataParallelPrefix = "module."

// Checkpoint ist der geladene Inhalt einer Checkpoint-Datei.
type Checkpoint struct {
	Config  *Config
	Weights *orderedmap.OrderedMap[string, *nn.Tensor]
	Format  Format
}

// StateDict gibt die Gewichte als Map fuer nn.LoadStateDict zurueck.
func (c *Checkpoint) StateDict() map[string]*nn.Tensor {
	sd := make(map[string]*nn.Tensor, c.Weights.Len())
	for pair := c.Weights.Oldest(); pair != nil; pair = pair.Next() {
		sd[pair.Key] = pair.Value
	}
	return sd
}

// NumParams zaehlt die Elemente aller Gewichte.
func (c *Checkpoint) NumParams() int {
	n := 0
	for pair := c.Weights.Oldest(); pair != nil; pair = pair.Next() {
		n += pair.Value.Numel()
	}
	return n
}

// Load liest die Checkpoint-Datei unter path.
func Load(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	} else if err != nil {
		return nil, err
	}
	defer f.Close()

	magic := make([]byte, 9)
	n, err := io.ReadFull(f, magic)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	magic = magic[:n]

	var ckpt *Checkpoint
	switch format := detectFormat(magic); format {
	case FormatTorch:
		ckpt, err = loadTorch(path)
	case FormatSafetensors:
		ckpt, err = loadSafetensors(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	ckpt.Weights = stripPrefix(ckpt.Weights)
	slog.Debug("checkpoint loaded", "path", path, "format", ckpt.Format,
		"generator", ckpt.Config.Generator.Type, "tensors", ckpt.Weights.Len())
	return ckpt, nil
}

// detectFormat erkennt das Format anhand der ersten Bytes
func detectFormat(magic []byte) Format {
	switch {
	case bytes.HasPrefix(magic, []byte("PK\x03\x04")):
		// torch.save seit 1.6 (zip)
		return FormatTorch
	case len(magic) == 9 && magic[8] == '{':
		// vor dem Pickle-Fall pruefen: das niedrigste Byte der Header-Laenge kann 0x80 sein
		return FormatSafetensors
	case len(magic) >= 2 && magic[0] == 0x80 && magic[1] >= 2 && magic[1] <= 5:
		// Legacy torch.save (PROTO-Opcode, Protokoll 2 bis 5)
		return FormatTorch
	default:
		return ""
	}
}

// stripPrefix entfernt "module." wenn alle Namen es tragen
func stripPrefix(weights *orderedmap.OrderedMap[string, *nn.Tensor]) *orderedmap.OrderedMap[string, *nn.Tensor] {
	if weights.Len() == 0 {
		return weights
	}
	for pair := weights.Oldest(); pair != nil; pair = pair.Next() {
		if !strings.HasPrefix(pair.Key, dataParallelPrefix) {
			return weights
		}
	}

	stripped := orderedmap.New[string, *nn.Tensor]()
	for pair := weights.Oldest(); pair != nil; pair = pair.Next() {
		stripped.Set(strings.TrimPrefix(pair.Key, dataParallelPrefix), pair.Value)
	}
	return stripped
}
