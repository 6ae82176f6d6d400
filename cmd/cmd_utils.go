// cmd_utils.go - Gemeinsame Hilfsfunktionen
// Hauptfunktionen: humanNumber, formatShape, formatValue
package cmd

import (
	"fmt"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// humanNumber - Kurzform grosser Zahlen (11.4M, 2.1K)
func humanNumber(n uint64) string {
	const (
		thousand = 1000
		million  = thousand * 1000
		billion  = million * 1000
	)

	switch {
	case n >= billion:
		return strconv.FormatFloat(float64(n)/billion, 'f', 1, 64) + "B"
	case n >= million:
		return strconv.FormatFloat(float64(n)/million, 'f', 1, 64) + "M"
	case n >= thousand:
		return strconv.FormatFloat(float64(n)/thousand, 'f', 1, 64) + "K"
	default:
		return strconv.FormatUint(n, 10)
	}
}

// formatShape - [1 3 256 256] wie PyTorch: (1, 3, 256, 256)
func formatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// formatValue - Konfigurationswerte lesbar ausgeben, verschachtelte Maps inline
func formatValue(v any) string {
	switch v := v.(type) {
	case string:
		return strconv.Quote(v)
	case *orderedmap.OrderedMap[string, any]:
		var parts []string
		for pair := v.Oldest(); pair != nil; pair = pair.Next() {
			parts = append(parts, pair.Key+": "+formatValue(pair.Value))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = formatValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case bool:
		if v {
			return "True"
		}
		return "False"
	default:
		return fmt.Sprint(v)
	}
}
