// parallel.go - intra-op Parallelitaet innerhalb eines Forward-Passes
//
// Enthaelt:
// - SetThreads/Threads: Obergrenze fuer gleichzeitige Goroutinen
// - parallelFor: verteilt unabhaengige Arbeitspakete auf eine errgroup
package nn

import (
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

var threads atomic.Int32

// SetThreads setzt die Anzahl Goroutinen pro Operation. n <= 0 setzt auf GOMAXPROCS zurueck.
func SetThreads(n int) {
	threads.Store(int32(max(n, 0)))
}

// Threads gibt die aktuelle Obergrenze zurueck.
func Threads() int {
	if n := int(threads.Load()); n > 0 {
		return n
	}
	return runtime.GOMAXPROCS(0)
}

// parallelFor ruft fn fuer jedes i in [0, n) auf. Die Aufrufe duerfen
// nur disjunkte Ausgabebereiche schreiben.
func parallelFor(n int, fn func(i int) error) error {
	if n == 1 || Threads() == 1 {
		for i := range n {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}

	var g errgroup.Group
	g.SetLimit(Threads())
	for i := range n {
		g.Go(func() error {
			return fn(i)
		})
	}
	return g.Wait()
}
