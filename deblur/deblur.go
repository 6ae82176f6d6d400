// Package deblur - Inferenz-Pipeline: Checkpoint laden, Generator bauen,
// Bilder kachelweise entschaerfen und speichern.
//
// MODUL: deblur
// ZWECK: Ein Durchlauf ueber alle Bilder eines Verzeichnisses
// INPUT: Options (Verzeichnisse, Checkpoint, Geraete-Konfiguration)
// OUTPUT: Summary, Dateien "deblurred <name>" im Zielverzeichnis
// NEBENEFFEKTE: Schreibt Bilddateien, Fortschritt auf stderr
// ABHAENGIGKEITEN: checkpoint, generator, device, dataset, tile, imageio, progress, google/uuid
// HINWEISE: Streng sequentiell pro Bild und Kachel, jeder Fehler bricht den Lauf ab
package deblur

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/deblurgan/deblur/checkpoint"
	"github.com/deblurgan/deblur/dataset"
	"github.com/deblurgan/deblur/device"
	"github.com/deblurgan/deblur/generator"
	"github.com/deblurgan/deblur/imageio"
	"github.com/deblurgan/deblur/nn"
	"github.com/deblurgan/deblur/progress"
	"github.com/deblurgan/deblur/tile"
)

// Options beschreibt einen Lauf.
type Options struct {
	BlurredDir   string
	DeblurredDir string
	Checkpoint   string

	Device device.Config

	// Progress zeigt einen Fortschrittsbalken auf stderr
	Progress bool

	// TileSize ist die Kachelgroesse, 0 = tile.DefaultSize
	TileSize int
}

// Summary fasst einen abgeschlossenen Lauf zusammen.
type Summary struct {
	RunID    string
	Images   int
	Tiles    int
	Outputs  []string
	Duration time.Duration
}

// Run fuehrt die Pipeline aus. Checkpoint- und Architekturfehler werden
// gemeldet bevor das Eingabeverzeichnis gelesen wird.
func Run(opts Options) (*Summary, error) {
	started := time.Now()
	summary := &Summary{RunID: uuid.NewString()}
	log := slog.With("run", summary.RunID)

	model, err := buildModel(log, opts)
	if err != nil {
		return nil, err
	}

	loader, err := dataset.Open(opts.BlurredDir)
	if err != nil {
		return nil, err
	}
	log.Info("deblurring", "images", loader.Len(), "input", opts.BlurredDir, "output", opts.DeblurredDir)

	tiler := tile.New()
	if opts.TileSize > 0 {
		tiler.Size = opts.TileSize
	}

	var bar *progress.Bar
	if opts.Progress && loader.Len() > 0 {
		p := progress.NewProgress(os.Stderr)
		defer p.Stop()

		bar = progress.NewBar("deblur", int64(loader.Len()), 0)
		p.Add("", bar)
	}

	for {
		sample, err := loader.Next()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, err
		}

		h, w := sample.Blurred.Dim(2), sample.Blurred.Dim(3)
		tiles := len(tile.Grid(h, w, tiler.Size))

		imageStart := time.Now()
		out, err := tiler.Run(model, sample.Blurred)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", sample.Name, err)
		}

		img, err := imageio.ToImage(imageio.Denormalize(out))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", sample.Name, err)
		}

		path, err := imageio.Save(img, opts.DeblurredDir, sample.Name)
		if err != nil {
			return nil, err
		}

		summary.Images++
		summary.Tiles += tiles
		summary.Outputs = append(summary.Outputs, path)
		log.Debug("image done", "name", sample.Name, "height", h, "width", w, "tiles", tiles, "elapsed", time.Since(imageStart))

		if bar != nil {
			bar.Increment()
		}
	}

	summary.Duration = time.Since(started)
	log.Info("done", "images", summary.Images, "tiles", summary.Tiles, "elapsed", summary.Duration)
	return summary, nil
}

// buildModel laedt den Checkpoint und gibt den Generator mit Gewichten zurueck
func buildModel(log *slog.Logger, opts Options) (nn.Layer, error) {
	ckpt, err := checkpoint.Load(opts.Checkpoint)
	if err != nil {
		return nil, err
	}

	gen, err := generator.New(ckpt.Config.Generator)
	if err != nil {
		return nil, err
	}

	dev, err := device.Init(opts.Device)
	if err != nil {
		return nil, err
	}

	if err := nn.LoadStateDict(gen, ckpt.StateDict()); err != nil {
		return nil, fmt.Errorf("load generator weights from %s: %w", opts.Checkpoint, err)
	}
	log.Info("generator ready", "type", ckpt.Config.Generator.Type, "format", ckpt.Format,
		"params", nn.NumParams(gen), "device", dev)

	if ckpt.Config.NGPU > 1 {
		if replicas := dev.Replicas(ckpt.Config.NGPU); replicas > 1 {
			log.Info("data parallel", "replicas", replicas)
			return nn.NewDataParallel(gen, replicas), nil
		}
	}
	return gen, nil
}
