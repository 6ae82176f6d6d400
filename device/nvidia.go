// nvidia.go - NVIDIA Erkennung ueber procfs
//
// Der Treiber legt pro GPU ein Verzeichnis /proc/driver/nvidia/gpus/<bus-id>
// mit einer Datei "information" an. Eine CUDA-Laufzeit wird nicht benoetigt.
package device

import (
	"bufio"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// DefaultNvidiaProcPath ist das procfs Verzeichnis des NVIDIA Treibers.
const DefaultNvidiaProcPath = "/proc/driver/nvidia/gpus"

// CUDADetector liest die vom Treiber gemeldeten GPUs.
type CUDADetector struct {
	root string
}

func NewCUDADetector(root string) *CUDADetector {
	return &CUDADetector{root: root}
}

func (d *CUDADetector) Backend() Backend {
	return BackendCUDA
}

func (d *CUDADetector) Detect() bool {
	return len(d.busIDs()) > 0
}

// GetDevices gibt die GPUs sortiert nach Bus-ID zurueck.
func (d *CUDADetector) GetDevices() []DeviceInfo {
	var devices []DeviceInfo
	for i, bus := range d.busIDs() {
		devices = append(devices, DeviceInfo{
			Backend:    BackendCUDA,
			DeviceID:   i,
			DeviceName: readModel(filepath.Join(d.root, bus, "information")),
			BusID:      bus,
		})
	}
	return devices
}

func (d *CUDADetector) busIDs() []string {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	slices.Sort(ids)
	return ids
}

// readModel liest die Zeile "Model: ..." oder gibt "NVIDIA GPU" zurueck
func readModel(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return "NVIDIA GPU"
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if ok && strings.TrimSpace(key) == "Model" {
			return strings.TrimSpace(value)
		}
	}
	return "NVIDIA GPU"
}
