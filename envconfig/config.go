// config.go - Haupt-Konfigurationsfunktionen fuer deblur
//
// Dieses Modul enthaelt:
// - LogLevel: Gibt Log-Level zurueck (DEBLUR_DEBUG)
// - Device: Standard-Geraeteauswahl (DEBLUR_DEVICE)
// - NumThreads: Threads fuer intra-op Parallelitaet (DEBLUR_NUM_THREADS)
// - Var: Liest eine bereinigte Environment-Variable
//
// Weitere Konfigurationen sind ausgelagert:
// - config_features.go: Feature-Flags und GPU-Variablen
// - config_utils.go: Utility-Funktionen und AsMap/Values
package envconfig

import (
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via DEBLUR_DEBUG
// Werte: 0/false = INFO (Default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("DEBLUR_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Device gibt die Standard-Geraeteauswahl zurueck
// Konfigurierbar via DEBLUR_DEVICE (z.B. "0,1")
// Wird nur verwendet wenn --device nicht gesetzt ist
func Device() string {
	return Var("DEBLUR_DEVICE")
}

// NumThreads gibt die Anzahl Threads fuer einen Forward-Pass zurueck
// Konfigurierbar via DEBLUR_NUM_THREADS
// Default: runtime.GOMAXPROCS(0)
func NumThreads() int {
	n := int(Uint("DEBLUR_NUM_THREADS", 0)())
	if n <= 0 {
		return runtime.GOMAXPROCS(0)
	}

	return n
}

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
