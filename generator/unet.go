// unet.go - U-Net Generator (pix2pix Skip-Connection Bloecke)
package generator

import (
	"fmt"

	"github.com/deblurgan/deblur/nn"
)

var uNetParams = []Param{
	{Name: "input_nc", Kind: KindInt, Min: 1},
	{Name: "output_nc", Kind: KindInt, Min: 1},
	{Name: "num_downs", Kind: KindInt, Default: 8, Min: 5},
	{Name: "ngf", Kind: KindInt, Default: 64, Min: 1},
	{Name: "norm_type", Kind: KindString, Default: normBatch, Choices: normTypes},
	{Name: "use_dropout", Kind: KindBool, Default: false},
}

// UNetGenerator halbiert die Aufloesung num_downs mal, Eingaben muessen
// daher durch 2^num_downs teilbar sein.
type UNetGenerator struct {
	Model *UNetBlock
}

func newUNetGenerator(a *Args) (nn.Layer, error) {
	ngf := a.Int("ngf")
	normType := a.Str("norm_type")
	dropout := a.Bool("use_dropout")

	block := newUNetBlock(ngf*8, ngf*8, 0, nil, blockInnermost, normType, false)
	for range a.Int("num_downs") - 5 {
		block = newUNetBlock(ngf*8, ngf*8, 0, block, blockMiddle, normType, dropout)
	}
	block = newUNetBlock(ngf*4, ngf*8, 0, block, blockMiddle, normType, false)
	block = newUNetBlock(ngf*2, ngf*4, 0, block, blockMiddle, normType, false)
	block = newUNetBlock(ngf, ngf*2, 0, block, blockMiddle, normType, false)
	block = newUNetBlock(a.Int("output_nc"), ngf, a.Int("input_nc"), block, blockOutermost, normType, false)

	return &UNetGenerator{Model: block}, nil
}

func (g *UNetGenerator) State(prefix string, sd nn.StateDict) {
	g.Model.State(prefix+"model.", sd)
}

func (g *UNetGenerator) Forward(x *nn.Tensor) (*nn.Tensor, error) {
	return g.Model.Forward(x)
}

// ============================================================================
// UNetBlock
// ============================================================================

type blockPosition int

const (
	blockMiddle blockPosition = iota
	blockInnermost
	blockOutermost
)

// UNetBlock ist down -> submodule -> up. Ausser dem aeussersten Block
// wird die Eingabe mit der Ausgabe entlang der Kanaele verkettet.
type UNetBlock struct {
	Model     *nn.Sequential
	Outermost bool
}

// newUNetBlock erzeugt einen Block, inputNC 0 bedeutet inputNC = outerNC
func newUNetBlock(outerNC, innerNC, inputNC int, sub *UNetBlock, pos blockPosition, normType string, dropout bool) *UNetBlock {
	if inputNC == 0 {
		inputNC = outerNC
	}
	bias := useBias(normType)
	norm := func(ch int) nn.Layer {
		l, _ := newNorm(normType, ch)
		return l
	}

	downconv := nn.NewConv2d(inputNC, innerNC, 4, 2, 1, bias)
	downrelu := nn.LeakyReLU{Slope: 0.2}

	model := nn.NewSequential()
	switch pos {
	case blockOutermost:
		model.Append(downconv, sub, nn.ReLU{}, nn.NewConvTranspose2d(innerNC*2, outerNC, 4, 2, 1, 0, true), nn.Tanh{})
	case blockInnermost:
		model.Append(downrelu, downconv, nn.ReLU{}, nn.NewConvTranspose2d(innerNC, outerNC, 4, 2, 1, 0, bias), norm(outerNC))
	default:
		model.Append(downrelu, downconv, norm(innerNC), sub, nn.ReLU{}, nn.NewConvTranspose2d(innerNC*2, outerNC, 4, 2, 1, 0, bias), norm(outerNC))
		if dropout {
			model.Append(nn.Dropout{P: 0.5})
		}
	}

	return &UNetBlock{Model: model, Outermost: pos == blockOutermost}
}

func (b *UNetBlock) State(prefix string, sd nn.StateDict) {
	b.Model.State(prefix+"model.", sd)
}

func (b *UNetBlock) Forward(x *nn.Tensor) (*nn.Tensor, error) {
	out, err := b.Model.Forward(x)
	if err != nil {
		return nil, err
	}
	if b.Outermost {
		return out, nil
	}

	joined, err := nn.Cat(x, out)
	if err != nil {
		return nil, fmt.Errorf("skip connection: %w", err)
	}
	return joined, nil
}
