package deblur

import (
	"errors"
	"image"
	"image/color"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/deblurgan/deblur/checkpoint"
	"github.com/deblurgan/deblur/device"
	"github.com/deblurgan/deblur/generator"
	"github.com/deblurgan/deblur/nn"
)

// writeCheckpoint erzeugt einen kleinen ResNet-Checkpoint mit festen Zufallsgewichten
func writeCheckpoint(t *testing.T, dir, typ string, ngf int) string {
	t.Helper()

	args := orderedmap.New[string, any]()
	args.Set("input_nc", 3)
	args.Set("output_nc", 3)
	args.Set("ngf", ngf)
	args.Set("n_blocks", 1)

	gen := orderedmap.New[string, any]()
	gen.Set("type", typ)
	gen.Set("args", args)

	cfg := orderedmap.New[string, any]()
	cfg.Set("name", "test")
	cfg.Set("n_gpu", 1)
	cfg.Set("generator", gen)

	model, err := generator.New(checkpoint.GeneratorConfig{Type: "ResNetGenerator", Args: args})
	require.NoError(t, err)

	r := rand.New(rand.NewPCG(7, 8))
	sd := nn.StateOf(model)
	for _, name := range sd.Names() {
		data := sd[name].Data()
		for i := range data {
			data[i] = (r.Float32()*2 - 1) * 0.1
		}
	}

	path := filepath.Join(dir, "model.safetensors")
	require.NoError(t, checkpoint.Save(path, cfg, sd))
	return path
}

func writeImage(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: uint8(x + y), A: 255})
		}
	}
	require.NoError(t, imaging.Save(img, path))
}

func testOptions(t *testing.T, ckpt string) Options {
	t.Helper()
	return Options{
		BlurredDir:   t.TempDir(),
		DeblurredDir: t.TempDir(),
		Checkpoint:   ckpt,
		Device:       device.Config{Threads: 2},
	}
}

func TestRunDeterministic(t *testing.T) {
	ckpt := writeCheckpoint(t, t.TempDir(), "ResNetGenerator", 2)

	in := t.TempDir()
	writeImage(t, filepath.Join(in, "img.png"), 256, 256)

	var outputs [][]byte
	for range 2 {
		opts := testOptions(t, ckpt)
		opts.BlurredDir = in

		summary, err := Run(opts)
		require.NoError(t, err)

		if summary.Images != 1 || summary.Tiles != 1 {
			t.Errorf("erwartet 1 Bild und 1 Kachel, got %d/%d", summary.Images, summary.Tiles)
		}
		if summary.RunID == "" {
			t.Error("erwartet eine Run-ID")
		}

		want := filepath.Join(opts.DeblurredDir, "deblurred img.png")
		if diff := cmp.Diff([]string{want}, summary.Outputs); diff != "" {
			t.Errorf("Outputs (-want +got):\n%s", diff)
		}

		data, err := os.ReadFile(want)
		require.NoError(t, err)
		outputs = append(outputs, data)
	}

	if string(outputs[0]) != string(outputs[1]) {
		t.Error("erwartet byte-identische Ausgaben fuer zwei Laeufe")
	}
}

func TestRunPartialTiles(t *testing.T) {
	opts := testOptions(t, writeCheckpoint(t, t.TempDir(), "ResNetGenerator", 2))
	writeImage(t, filepath.Join(opts.BlurredDir, "tall.png"), 256, 300)

	summary, err := Run(opts)
	require.NoError(t, err)

	if summary.Tiles != 2 {
		t.Errorf("erwartet 2 Kacheln, got %d", summary.Tiles)
	}

	img, err := imaging.Open(filepath.Join(opts.DeblurredDir, "deblurred tall.png"))
	require.NoError(t, err)
	if got := img.Bounds().Size(); got != image.Pt(256, 300) {
		t.Errorf("erwartet 256x300, got %v", got)
	}
}

func TestRunEmptyDir(t *testing.T) {
	opts := testOptions(t, writeCheckpoint(t, t.TempDir(), "ResNetGenerator", 2))

	summary, err := Run(opts)
	require.NoError(t, err)

	if summary.Images != 0 || len(summary.Outputs) != 0 {
		t.Errorf("erwartet keine Ausgaben, got %+v", summary)
	}
}

func TestRunFailsBeforeImages(t *testing.T) {
	dir := t.TempDir()
	good := writeCheckpoint(t, dir, "ResNetGenerator", 2)

	// falscher Architekturname im gleichen Format
	unknownDir := t.TempDir()
	unknown := writeCheckpoint(t, unknownDir, "ResNetGen", 2)

	// Gewichte mit ngf=2, Konfiguration mit ngf=4
	mismatchDir := t.TempDir()
	mismatch := writeCheckpoint(t, mismatchDir, "ResNetGenerator", 2)
	ckpt, err := checkpoint.Load(mismatch)
	require.NoError(t, err)
	ckpt.Config.Generator.Args.Set("ngf", 4)
	require.NoError(t, checkpoint.Save(mismatch, ckpt.Config.Raw, ckpt.StateDict()))

	cases := []struct {
		name string
		ckpt string
		in   string
		want error
	}{
		{"missing checkpoint", filepath.Join(dir, "missing.pth"), "", checkpoint.ErrNotFound},
		{"unknown architecture", unknown, "", generator.ErrUnknownArchitecture},
		{"shape mismatch", mismatch, "", nn.ErrShapeMismatch},
		{"missing input dir", good, filepath.Join(dir, "nope"), nil},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions(t, tt.ckpt)
			writeImage(t, filepath.Join(opts.BlurredDir, "img.png"), 256, 256)
			if tt.in != "" {
				opts.BlurredDir = tt.in
			}

			_, err := Run(opts)
			if err == nil {
				t.Fatal("erwartet Fehler")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("erwartet %v, got %v", tt.want, err)
			}

			entries, err := os.ReadDir(opts.DeblurredDir)
			require.NoError(t, err)
			if len(entries) != 0 {
				t.Errorf("erwartet keine Ausgabedateien, got %d", len(entries))
			}
		})
	}
}
