// data_parallel.go - Aufteilung eines Batches auf mehrere Replikate
package nn

import (
	"golang.org/x/sync/errgroup"
)

// DataParallel teilt die Batch-Dimension auf Replicas gleichzeitige
// Forward-Paesse desselben Moduls auf. Die Gewichte werden nur gelesen.
type DataParallel struct {
	Module   Layer
	Replicas int
}

func NewDataParallel(m Layer, replicas int) *DataParallel {
	return &DataParallel{Module: m, Replicas: max(replicas, 1)}
}

// State verwendet wie PyTorch das Praefix "module.".
func (d *DataParallel) State(prefix string, sd StateDict) {
	d.Module.State(prefix+"module.", sd)
}

func (d *DataParallel) Forward(x *Tensor) (*Tensor, error) {
	n, _, _, _, err := x.dims4()
	if err != nil {
		return nil, err
	}
	if n <= 1 || d.Replicas <= 1 {
		return d.Module.Forward(x)
	}

	replicas := min(d.Replicas, n)
	per := (n + replicas - 1) / replicas
	results := make([]*Tensor, replicas)

	var g errgroup.Group
	for r := range replicas {
		g.Go(func() error {
			var parts []*Tensor
			for i := r * per; i < min(n, (r+1)*per); i++ {
				b, err := x.Batch(i)
				if err != nil {
					return err
				}
				parts = append(parts, b)
			}
			if len(parts) == 0 {
				return nil
			}

			chunk, err := StackBatch(parts)
			if err != nil {
				return err
			}
			results[r], err = d.Module.Forward(chunk)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var outs []*Tensor
	for _, r := range results {
		if r != nil {
			outs = append(outs, r)
		}
	}
	return StackBatch(outs)
}
