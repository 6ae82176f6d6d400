// norm.go - Normalisierungs-Layer (Inferenz)
//
// Enthaelt:
// - InstanceNorm2d: Statistik pro Sample und Kanal, optional affin
// - BatchNorm2d: gespeicherte Laufzeit-Statistik (eval-Modus)
package nn

import (
	"math"
)

const normEps = 1e-5

// InstanceNorm2d normalisiert jede (n, c) Ebene auf Mittelwert 0 und Varianz 1.
type InstanceNorm2d struct {
	Weight *Tensor
	Bias   *Tensor
}

// NewInstanceNorm2d erstellt eine InstanceNorm, mit affine=true inklusive weight/bias.
func NewInstanceNorm2d(channels int, affine bool) *InstanceNorm2d {
	n := &InstanceNorm2d{}
	if affine {
		n.Weight = Zeros(channels)
		n.Bias = Zeros(channels)
	}
	return n
}

func (n *InstanceNorm2d) State(prefix string, sd StateDict) {
	if n.Weight != nil {
		sd[prefix+"weight"] = n.Weight
		sd[prefix+"bias"] = n.Bias
	}
}

func (n *InstanceNorm2d) Forward(x *Tensor) (*Tensor, error) {
	b, c, h, w, err := x.dims4()
	if err != nil {
		return nil, err
	}
	if n.Weight != nil && n.Weight.Numel() != c {
		return nil, ErrShape
	}

	out := ZerosLike(x)
	size := h * w
	err = parallelFor(b*c, func(p int) error {
		src := x.data[p*size : (p+1)*size]
		dst := out.data[p*size : (p+1)*size]

		var mean float64
		for _, v := range src {
			mean += float64(v)
		}
		mean /= float64(size)

		var variance float64
		for _, v := range src {
			d := float64(v) - mean
			variance += d * d
		}
		variance /= float64(size)

		scale, shift := 1.0, 0.0
		if n.Weight != nil {
			scale = float64(n.Weight.data[p%c])
			shift = float64(n.Bias.data[p%c])
		}
		inv := scale / math.Sqrt(variance+normEps)
		for i, v := range src {
			dst[i] = float32((float64(v)-mean)*inv + shift)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BatchNorm2d verwendet die beim Training gesammelten Statistiken.
type BatchNorm2d struct {
	Weight            *Tensor
	Bias              *Tensor
	RunningMean       *Tensor
	RunningVar        *Tensor
	NumBatchesTracked *Tensor
}

func NewBatchNorm2d(channels int) *BatchNorm2d {
	return &BatchNorm2d{
		Weight:            Zeros(channels),
		Bias:              Zeros(channels),
		RunningMean:       Zeros(channels),
		RunningVar:        Zeros(channels),
		NumBatchesTracked: Zeros(),
	}
}

func (n *BatchNorm2d) State(prefix string, sd StateDict) {
	sd[prefix+"weight"] = n.Weight
	sd[prefix+"bias"] = n.Bias
	sd[prefix+"running_mean"] = n.RunningMean
	sd[prefix+"running_var"] = n.RunningVar
	sd[prefix+"num_batches_tracked"] = n.NumBatchesTracked
}

func (n *BatchNorm2d) Forward(x *Tensor) (*Tensor, error) {
	b, c, h, w, err := x.dims4()
	if err != nil {
		return nil, err
	}
	if n.Weight.Numel() != c {
		return nil, ErrShape
	}

	out := ZerosLike(x)
	size := h * w
	for p := range b * c {
		ch := p % c
		inv := float64(n.Weight.data[ch]) / math.Sqrt(float64(n.RunningVar.data[ch])+normEps)
		mean := float64(n.RunningMean.data[ch])
		shift := float64(n.Bias.data[ch])

		src := x.data[p*size : (p+1)*size]
		dst := out.data[p*size : (p+1)*size]
		for i, v := range src {
			dst[i] = float32((float64(v)-mean)*inv + shift)
		}
	}
	return out, nil
}
