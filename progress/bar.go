// bar.go - tqdm-aehnlicher Fortschrittsbalken mit ASCII-Zeichen
package progress

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Bar zeigt den Fortschritt von currentValue bis maxValue.
type Bar struct {
	mu sync.Mutex

	message      string
	maxValue     int64
	currentValue int64

	started time.Time
	stopped time.Time

	// width ist die Gesamtbreite der Zeile, 0 = Terminal-Breite
	width int
}

func NewBar(message string, maxValue, initialValue int64) *Bar {
	return &Bar{
		message:      message,
		maxValue:     maxValue,
		currentValue: initialValue,
		started:      time.Now(),
	}
}

// Set setzt den aktuellen Wert.
func (b *Bar) Set(value int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.currentValue = min(value, b.maxValue)
	if b.currentValue >= b.maxValue && b.stopped.IsZero() {
		b.stopped = time.Now()
	}
}

// Increment erhoeht den Wert um 1.
func (b *Bar) Increment() {
	b.mu.Lock()
	value := b.currentValue + 1
	b.mu.Unlock()

	b.Set(value)
}

func (b *Bar) percent() float64 {
	if b.maxValue <= 0 {
		return 100
	}
	return float64(b.currentValue) * 100 / float64(b.maxValue)
}

// rate gibt Elemente pro Sekunde zurueck
func (b *Bar) rate() float64 {
	end := b.stopped
	if end.IsZero() {
		end = time.Now()
	}
	elapsed := end.Sub(b.started).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(b.currentValue) / elapsed
}

// String formatiert z.B. "deblur  50%|#####     | 2/4 [00:03, 0.66it/s]"
func (b *Bar) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	width := b.width
	if width <= 0 {
		width = termWidth()
	}

	pre := fmt.Sprintf("%s %3.0f%%", b.message, b.percent())
	elapsed := time.Since(b.started)
	if !b.stopped.IsZero() {
		elapsed = b.stopped.Sub(b.started)
	}
	suf := fmt.Sprintf(" %d/%d [%s, %.2fit/s]", b.currentValue, b.maxValue, formatDuration(elapsed), b.rate())

	inner := width - len(pre) - len(suf) - 2
	if inner < 1 {
		return pre + suf
	}

	filled := int(float64(inner) * b.percent() / 100)
	return pre + "|" + strings.Repeat("#", filled) + strings.Repeat(" ", inner-filled) + "|" + suf
}

// formatDuration formatiert als mm:ss oder h:mm:ss
func formatDuration(d time.Duration) string {
	s := int(d.Round(time.Second).Seconds())
	if s >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", s/3600, s/60%60, s%60)
	}
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}
