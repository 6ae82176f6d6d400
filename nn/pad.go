// pad.go - Reflection- und Replication-Padding fuer NCHW Tensoren
package nn

import (
	"fmt"
)

// ReflectionPad2d spiegelt den Rand ohne Wiederholung des Randpixels.
type ReflectionPad2d struct {
	stateless
	Pad int
}

func (p ReflectionPad2d) Forward(x *Tensor) (*Tensor, error) {
	_, _, h, w, err := x.dims4()
	if err != nil {
		return nil, err
	}
	if p.Pad >= h || p.Pad >= w {
		return nil, fmt.Errorf("%w: reflection padding %d needs input larger than %dx%d", ErrShape, p.Pad, h, w)
	}
	return pad2d(x, p.Pad, func(i, n int) int {
		if i < 0 {
			return -i
		}
		if i >= n {
			return 2*(n-1) - i
		}
		return i
	})
}

// ReplicationPad2d wiederholt das Randpixel.
type ReplicationPad2d struct {
	stateless
	Pad int
}

func (p ReplicationPad2d) Forward(x *Tensor) (*Tensor, error) {
	return pad2d(x, p.Pad, func(i, n int) int {
		return min(max(i, 0), n-1)
	})
}

// pad2d erweitert H und W um pad auf jeder Seite, index bildet
// Zielkoordinaten auf Quellkoordinaten ab
func pad2d(x *Tensor, pad int, index func(i, n int) int) (*Tensor, error) {
	n, c, h, w, err := x.dims4()
	if err != nil {
		return nil, err
	}
	if h == 0 || w == 0 {
		return nil, fmt.Errorf("%w: cannot pad empty input %v", ErrShape, x.shape)
	}

	ph, pw := h+2*pad, w+2*pad
	out := Zeros(n, c, ph, pw)

	srcX := make([]int, pw)
	for ox := range pw {
		srcX[ox] = index(ox-pad, w)
	}

	for p := range n * c {
		src := x.data[p*h*w : (p+1)*h*w]
		dst := out.data[p*ph*pw : (p+1)*ph*pw]
		for oy := range ph {
			line := src[index(oy-pad, h)*w:]
			row := dst[oy*pw : (oy+1)*pw]
			for ox, sx := range srcX {
				row[ox] = line[sx]
			}
		}
	}
	return out, nil
}
