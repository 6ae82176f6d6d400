package generator

import (
	"fmt"

	"github.com/deblurgan/deblur/nn"
)

const (
	normBatch    = "batch"
	normInstance = "instance"
)

var normTypes = []string{normBatch, normInstance}

// newNorm erzeugt die Normalisierung fuer norm_type.
// InstanceNorm ist wie beim Training nicht affin.
func newNorm(normType string, channels int) (nn.Layer, error) {
	switch normType {
	case normBatch:
		return nn.NewBatchNorm2d(channels), nil
	case normInstance:
		return nn.NewInstanceNorm2d(channels, false), nil
	default:
		return nil, fmt.Errorf("%w: normalization layer %q is not found", ErrInvalidArgs, normType)
	}
}

// useBias: ohne affine Normalisierung tragen die Faltungen selbst den Bias
func useBias(normType string) bool {
	return normType == normInstance
}
