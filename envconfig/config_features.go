// config_features.go - Feature-Flags und GPU-Konfiguration
//
// Dieses Modul enthaelt:
// - Feature-Flags (NoProgress)
// - GPU-bezogene Environment-Variablen (nur lesend)
package envconfig

// =============================================================================
// Feature-Flags
// =============================================================================

var (
	// NoProgress deaktiviert den Fortschrittsbalken
	NoProgress = Bool("DEBLUR_NOPROGRESS")
)

// =============================================================================
// GPU-Sichtbarkeits-Variablen
// =============================================================================

var (
	// CudaVisibleDevices steuert sichtbare NVIDIA-Geraete
	// Wird nur angezeigt, nie gesetzt; die Auswahl laeuft ueber device.Config
	CudaVisibleDevices = String("CUDA_VISIBLE_DEVICES")
)
