// MODUL: image
// ZWECK: Bilder laden und speichern fuer die Deblur-Pipeline
// INPUT: Dateipfad (Laden), image.Image + Zielverzeichnis (Speichern)
// OUTPUT: *image.NRGBA, Pfad der geschriebenen Datei
// NEBENEFFEKTE: Dateisystem-Lese- und Schreibzugriff
// ABHAENGIGKEITEN: disintegration/imaging (Codecs), golang.org/x/image/draw
// HINWEISE: Format wird an der Dateiendung erkannt, JPEG wird mit Qualitaet 75 geschrieben

package imageio

import (
	"errors"
	"fmt"
	"image"
	"path/filepath"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

// OutputPrefix wird dem Original-Dateinamen vorangestellt
const OutputPrefix = "deblurred "

// JPEGQuality entspricht dem Default von PIL
const JPEGQuality = 75

// ErrUnsupportedFormat wird fuer Dateiendungen ohne Codec zurueckgegeben
var ErrUnsupportedFormat = errors.New("unsupported image format")

// SupportedFile prueft ob fuer die Dateiendung ein Codec vorhanden ist.
func SupportedFile(name string) bool {
	_, err := imaging.FormatFromFilename(name)
	return err == nil
}

// Load dekodiert die Bilddatei unter path als nicht vormultipliziertes RGBA.
func Load(path string) (*image.NRGBA, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load image %s: %w", path, err)
	}
	return toNRGBA(img), nil
}

// toNRGBA konvertiert ein beliebiges image.Image zu *image.NRGBA mit Ursprung (0,0)
func toNRGBA(img image.Image) *image.NRGBA {
	bounds := img.Bounds()
	if nrgba, ok := img.(*image.NRGBA); ok && bounds.Min == (image.Point{}) {
		return nrgba
	}

	nrgba := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(nrgba, nrgba.Bounds(), img, bounds.Min, draw.Src)
	return nrgba
}

// OutputPath gibt den Zielpfad fuer ein Eingabebild zurueck.
func OutputPath(dir, name string) string {
	return filepath.Join(dir, OutputPrefix+filepath.Base(name))
}

// Save schreibt img als "<dir>/deblurred <name>" und gibt den Pfad zurueck.
// Das Verzeichnis muss existieren.
func Save(img image.Image, dir, name string) (string, error) {
	path := OutputPath(dir, name)
	if !SupportedFile(path) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err := imaging.Save(img, path, imaging.JPEGQuality(JPEGQuality)); err != nil {
		return "", fmt.Errorf("save image %s: %w", path, err)
	}
	return path, nil
}
