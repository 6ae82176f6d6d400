// resnet.go - ResNet-Generator (DeblurGAN)
//
// Aufbau von model (Sequential, Indizes = state_dict Namen):
//
//	0-3    ReflectionPad(3), Conv7, Norm, ReLU
//	4-9    2x Downsampling: Conv3 s2, Norm, ReLU
//	10-    n_blocks ResBlocks auf ngf*4 Kanaelen
//	...    2x Upsampling: ConvTranspose3 s2, Norm, ReLU
//	...    ReflectionPad(3), Conv7, Tanh
package generator

import (
	"fmt"

	"github.com/deblurgan/deblur/nn"
)

const (
	padReflect   = "reflect"
	padReplicate = "replicate"
	padZero      = "zero"
)

var resNetParams = []Param{
	{Name: "input_nc", Kind: KindInt, Min: 1},
	{Name: "output_nc", Kind: KindInt, Min: 1},
	{Name: "ngf", Kind: KindInt, Default: 64, Min: 1},
	{Name: "n_blocks", Kind: KindInt, Default: 9},
	{Name: "norm_type", Kind: KindString, Default: normInstance, Choices: normTypes},
	{Name: "padding_type", Kind: KindString, Default: padReflect, Choices: []string{padReflect, padReplicate, padZero}},
	{Name: "use_dropout", Kind: KindBool, Default: true},
	{Name: "learn_residual", Kind: KindBool, Default: true},
}

// ResNetGenerator ist ein Encoder-ResBlocks-Decoder Generator.
// Mit LearnResidual wird die Ausgabe auf die Eingabe addiert und auf [-1, 1] begrenzt.
type ResNetGenerator struct {
	Model         *nn.Sequential
	LearnResidual bool
}

func newResNetGenerator(a *Args) (nn.Layer, error) {
	inputNC, outputNC, ngf := a.Int("input_nc"), a.Int("output_nc"), a.Int("ngf")
	normType := a.Str("norm_type")
	bias := useBias(normType)

	if a.Bool("learn_residual") && inputNC != outputNC {
		return nil, fmt.Errorf("%w: learn_residual needs input_nc == output_nc, got %d and %d", ErrInvalidArgs, inputNC, outputNC)
	}

	norm := func(ch int) nn.Layer {
		l, _ := newNorm(normType, ch)
		return l
	}

	model := nn.NewSequential(
		nn.ReflectionPad2d{Pad: 3},
		nn.NewConv2d(inputNC, ngf, 7, 1, 0, bias),
		norm(ngf),
		nn.ReLU{},
	)

	const downsampling = 2
	for i := range downsampling {
		mult := 1 << i
		model.Append(
			nn.NewConv2d(ngf*mult, ngf*mult*2, 3, 2, 1, bias),
			norm(ngf*mult*2),
			nn.ReLU{},
		)
	}

	mult := 1 << downsampling
	for range a.Int("n_blocks") {
		model.Append(newResBlock(ngf*mult, a.Str("padding_type"), norm, a.Bool("use_dropout"), bias))
	}

	for i := range downsampling {
		mult := 1 << (downsampling - i)
		model.Append(
			nn.NewConvTranspose2d(ngf*mult, ngf*mult/2, 3, 2, 1, 1, bias),
			norm(ngf*mult/2),
			nn.ReLU{},
		)
	}

	model.Append(
		nn.ReflectionPad2d{Pad: 3},
		nn.NewConv2d(ngf, outputNC, 7, 1, 0, true),
		nn.Tanh{},
	)

	return &ResNetGenerator{Model: model, LearnResidual: a.Bool("learn_residual")}, nil
}

func (g *ResNetGenerator) State(prefix string, sd nn.StateDict) {
	g.Model.State(prefix+"model.", sd)
}

func (g *ResNetGenerator) Forward(x *nn.Tensor) (*nn.Tensor, error) {
	out, err := g.Model.Forward(x)
	if err != nil {
		return nil, err
	}
	if !g.LearnResidual {
		return out, nil
	}

	sum, err := nn.Add(x, out)
	if err != nil {
		return nil, fmt.Errorf("residual: %w", err)
	}
	return nn.Clamp(sum, -1, 1), nil
}

// ============================================================================
// ResBlock
// ============================================================================

// ResBlock berechnet x + conv_block(x).
type ResBlock struct {
	ConvBlock *nn.Sequential
}

func newResBlock(dim int, paddingType string, norm func(int) nn.Layer, dropout, bias bool) *ResBlock {
	block := nn.NewSequential()

	pad := func() int {
		switch paddingType {
		case padReflect:
			block.Append(nn.ReflectionPad2d{Pad: 1})
		case padReplicate:
			block.Append(nn.ReplicationPad2d{Pad: 1})
		case padZero:
			return 1
		}
		return 0
	}

	p := pad()
	block.Append(nn.NewConv2d(dim, dim, 3, 1, p, bias), norm(dim), nn.ReLU{})
	if dropout {
		block.Append(nn.Dropout{P: 0.5})
	}

	p = pad()
	block.Append(nn.NewConv2d(dim, dim, 3, 1, p, bias), norm(dim))

	return &ResBlock{ConvBlock: block}
}

func (b *ResBlock) State(prefix string, sd nn.StateDict) {
	b.ConvBlock.State(prefix+"conv_block.", sd)
}

func (b *ResBlock) Forward(x *nn.Tensor) (*nn.Tensor, error) {
	out, err := b.ConvBlock.Forward(x)
	if err != nil {
		return nil, err
	}
	return nn.Add(x, out)
}
