// Package dataset - Verzeichnis-basierte Quelle fuer unscharfe Bilder.
//
// MODUL: dataset
// ZWECK: Liefert die Bilder eines Verzeichnisses einzeln als normalisierte Tensoren
// INPUT: Verzeichnis mit Bilddateien
// OUTPUT: Sample{Blurred 1x3xHxW, Name}
// NEBENEFFEKTE: Dateisystem-Lesezugriff
// ABHAENGIGKEITEN: imageio, nn
// HINWEISE: Reihenfolge nach Dateiname, Unterverzeichnisse und fremde Endungen werden uebersprungen
package dataset

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/deblurgan/deblur/imageio"
	"github.com/deblurgan/deblur/nn"
)

// Sample ist ein geladenes Eingabebild.
type Sample struct {
	Blurred *nn.Tensor
	Name    string
}

// Loader iteriert ueber die Bilder eines Verzeichnisses.
type Loader struct {
	dir   string
	names []string
	next  int
}

// Open listet die Bilddateien in dir.
func Open(dir string) (*Loader, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() && e.Type()&os.ModeSymlink == 0 {
			continue
		}
		if !imageio.SupportedFile(e.Name()) {
			slog.Debug("skipping non-image file", "dir", dir, "name", e.Name())
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)

	return &Loader{dir: dir, names: names}, nil
}

// Len gibt die Anzahl der Bilder zurueck.
func (l *Loader) Len() int {
	return len(l.names)
}

// Names gibt die Dateinamen in Ladereihenfolge zurueck.
func (l *Loader) Names() []string {
	return slices.Clone(l.names)
}

// Next laedt das naechste Bild. Am Ende wird io.EOF zurueckgegeben.
func (l *Loader) Next() (*Sample, error) {
	if l.next >= len(l.names) {
		return nil, io.EOF
	}
	name := l.names[l.next]
	l.next++

	img, err := imageio.Load(filepath.Join(l.dir, name))
	if err != nil {
		return nil, err
	}

	return &Sample{Blurred: imageio.ToTensor(img), Name: name}, nil
}
