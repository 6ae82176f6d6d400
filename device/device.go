// MODUL: device
// ZWECK: Explizite Geraete-Konfiguration statt CUDA_VISIBLE_DEVICES im Prozess zu setzen
// INPUT: Config (Geraete-Selektor, Thread-Anzahl)
// OUTPUT: *Device mit sichtbaren Beschleunigern und Replikat-Anzahl
// NEBENEFFEKTE: Setzt die intra-op Thread-Anzahl des nn-Pakets
// ABHAENGIGKEITEN: nn, log/slog
// HINWEISE: Gerechnet wird immer auf der CPU, Beschleuniger bestimmen nur die Replikate

package device

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/deblurgan/deblur/nn"
)

// ErrInvalidSelector wird fuer einen fehlerhaften Geraete-Selektor zurueckgegeben.
var ErrInvalidSelector = errors.New("invalid device selector")

// ============================================================================
// Backend-Typ und DeviceInfo
// ============================================================================

// Backend repraesentiert ein Compute-Backend.
type Backend string

const (
	BackendCPU  Backend = "cpu"
	BackendCUDA Backend = "cuda"
)

// DeviceInfo enthaelt Informationen ueber ein erkanntes Geraet.
type DeviceInfo struct {
	Backend    Backend // Backend-Typ
	DeviceID   int     // Geraete-Index in Erkennungsreihenfolge
	DeviceName string  // Lesbarer Geraetename
	BusID      string  // PCI Bus-ID (nur Beschleuniger)
}

// Detector erkennt Beschleuniger eines Backends.
type Detector interface {
	// Detect prueft ob das Backend verfuegbar ist
	Detect() bool

	// GetDevices gibt alle erkannten Geraete zurueck
	GetDevices() []DeviceInfo

	Backend() Backend
}

// detectors sind alle bekannten Beschleuniger-Detektoren.
var detectors = []Detector{
	NewCUDADetector(DefaultNvidiaProcPath),
}

// ============================================================================
// Config und Init
// ============================================================================

// Config ist die explizite Geraete-Konfiguration eines Laufs.
type Config struct {
	// Visible waehlt Beschleuniger per Index aus, z.B. "0,2".
	// Leer bedeutet alle.
	Visible string

	// Threads begrenzt die Goroutinen pro Operation, 0 = GOMAXPROCS
	Threads int
}

// Device ist das initialisierte Compute-Geraet.
type Device struct {
	Backend      Backend
	Accelerators []DeviceInfo
	Threads      int
}

// Init initialisiert das Geraet fuer cfg mit den eingebauten Detektoren.
func Init(cfg Config) (*Device, error) {
	return initWith(cfg, detectors)
}

func initWith(cfg Config, ds []Detector) (*Device, error) {
	visible, err := ParseVisible(cfg.Visible)
	if err != nil {
		return nil, err
	}
	if cfg.Threads < 0 {
		return nil, fmt.Errorf("invalid thread count %d", cfg.Threads)
	}

	var found []DeviceInfo
	for _, d := range ds {
		if d.Detect() {
			found = append(found, d.GetDevices()...)
		}
	}

	accelerators := found
	if visible != nil {
		accelerators = nil
		for _, idx := range visible {
			if idx >= len(found) {
				slog.Warn("ignoring device selector entry, no such accelerator", "index", idx, "detected", len(found))
				continue
			}
			accelerators = append(accelerators, found[idx])
		}
	}

	nn.SetThreads(cfg.Threads)
	dev := &Device{
		Backend:      BackendCPU,
		Accelerators: accelerators,
		Threads:      nn.Threads(),
	}

	if len(accelerators) == 0 {
		slog.Info("no accelerator available, using cpu", "threads", dev.Threads)
	} else {
		slog.Info("accelerators visible, computing on cpu", "count", len(accelerators), "threads", dev.Threads)
		for _, a := range accelerators {
			slog.Debug("accelerator", "backend", a.Backend, "id", a.DeviceID, "name", a.DeviceName, "bus", a.BusID)
		}
	}
	return dev, nil
}

// Replicas gibt die Anzahl der Data-Parallel Replikate fuer nGPU zurueck.
func (d *Device) Replicas(nGPU int) int {
	if nGPU <= 1 {
		return 1
	}
	return max(1, min(nGPU, len(d.Accelerators)))
}

func (d *Device) String() string {
	return fmt.Sprintf("%s (%d threads, %d accelerators)", d.Backend, d.Threads, len(d.Accelerators))
}

// ParseVisible zerlegt einen Selektor wie "0,2" in Indizes.
// Ein leerer Selektor ergibt nil (alle Geraete).
func ParseVisible(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	indices := []int{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		idx, err := strconv.Atoi(part)
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("%w: %q is not a device index", ErrInvalidSelector, part)
		}
		if slices.Contains(indices, idx) {
			return nil, fmt.Errorf("%w: device %d listed twice", ErrInvalidSelector, idx)
		}
		indices = append(indices, idx)
	}
	return indices, nil
}
