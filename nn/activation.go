// activation.go - elementweise Layer
package nn

import (
	"math"
)

// ReLU setzt negative Werte auf 0.
type ReLU struct{ stateless }

func (ReLU) Forward(x *Tensor) (*Tensor, error) {
	return mapElems(x, func(v float32) float32 { return max(v, 0) }), nil
}

// LeakyReLU skaliert negative Werte mit Slope.
type LeakyReLU struct {
	stateless
	Slope float32
}

func (l LeakyReLU) Forward(x *Tensor) (*Tensor, error) {
	return mapElems(x, func(v float32) float32 {
		if v < 0 {
			return v * l.Slope
		}
		return v
	}), nil
}

type Tanh struct{ stateless }

func (Tanh) Forward(x *Tensor) (*Tensor, error) {
	return mapElems(x, func(v float32) float32 { return float32(math.Tanh(float64(v))) }), nil
}

// Dropout ist im Inferenz-Modus die Identitaet.
type Dropout struct {
	stateless
	P float32
}

func (Dropout) Forward(x *Tensor) (*Tensor, error) {
	return x, nil
}

// Clamp begrenzt alle Werte auf [lo, hi].
func Clamp(x *Tensor, lo, hi float32) *Tensor {
	return mapElems(x, func(v float32) float32 { return min(max(v, lo), hi) })
}

// Add addiert zwei Tensoren gleicher Shape.
func Add(a, b *Tensor) (*Tensor, error) {
	if !a.SameShape(b) {
		return nil, fmtShape("add", a, b)
	}
	out := ZerosLike(a)
	for i := range out.data {
		out.data[i] = a.data[i] + b.data[i]
	}
	return out, nil
}

func mapElems(x *Tensor, fn func(float32) float32) *Tensor {
	out := ZerosLike(x)
	for i, v := range x.data {
		out.data[i] = fn(v)
	}
	return out
}
