// Package progress - Fortschrittsanzeige auf dem Terminal.
//
// MODUL: progress
// ZWECK: Periodisches Neuzeichnen einer Liste von Zustaenden (Bars)
// INPUT: io.Writer (meist os.Stderr), State-Werte
// OUTPUT: ANSI-Ausgabe mit Cursor-Steuerung
// NEBENEFFEKTE: Startet eine Goroutine bis Stop aufgerufen wird
// ABHAENGIGKEITEN: golang.org/x/term (Terminal-Breite)
// HINWEISE: Nur fuer Terminals gedacht, siehe IsTerminal
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

// State ist ein darstellbarer Zustand, z.B. ein Bar.
type State interface {
	String() string
}

// Progress zeichnet alle hinzugefuegten Zustaende alle 100ms neu.
type Progress struct {
	mu sync.Mutex
	w  io.Writer

	pos    int
	states []State

	ticker *time.Ticker
	done   chan struct{}
}

func NewProgress(w io.Writer) *Progress {
	p := &Progress{
		w:      w,
		ticker: time.NewTicker(100 * time.Millisecond),
		done:   make(chan struct{}),
	}
	go p.start(p.ticker)
	return p
}

// IsTerminal prueft ob f ein Terminal ist.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Add fuegt einen Zustand hinzu.
func (p *Progress) Add(key string, state State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.states = append(p.states, state)
}

// Stop beendet das Neuzeichnen und gibt den letzten Stand aus.
// Gibt false zurueck wenn bereits gestoppt.
func (p *Progress) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ticker == nil {
		return false
	}

	p.ticker.Stop()
	p.ticker = nil
	close(p.done)

	p.render()
	if p.pos > 0 {
		fmt.Fprint(p.w, "\n")
	}
	fmt.Fprint(p.w, "\033[?25h")
	return true
}

func (p *Progress) start(ticker *time.Ticker) {
	p.mu.Lock()
	fmt.Fprint(p.w, "\033[?25l")
	p.mu.Unlock()

	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			p.render()
			p.mu.Unlock()
		case <-p.done:
			return
		}
	}
}

// render zeichnet alle Zustaende, mu muss gehalten werden
func (p *Progress) render() {
	var sb strings.Builder

	// zurueck an den Anfang der ersten Zeile
	if p.pos > 0 {
		fmt.Fprintf(&sb, "\033[%dA", p.pos-1)
	}
	sb.WriteString("\r")

	for i, state := range p.states {
		sb.WriteString("\033[2K")
		sb.WriteString(state.String())
		if i < len(p.states)-1 {
			sb.WriteString("\n")
		}
	}

	p.pos = len(p.states)
	fmt.Fprint(p.w, sb.String())
}

// termWidth gibt die Breite von stderr oder 80 zurueck
func termWidth() int {
	if w, _, err := term.GetSize(int(os.Stderr.Fd())); err == nil && w > 0 {
		return w
	}
	return 80
}
