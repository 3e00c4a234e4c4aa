package stego

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	timage "github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
	"github.com/gomlx/gomlx/pkg/ml/layers/regularizers"
)

// downConv is the U-Net downsampling convolution: kernel 4, stride 2,
// "same" padding, halving the spatial size.
func downConv(ctx *context.Context, x *Node, filters int, useBias bool) *Node {
	return layers.Convolution(ctx, x).
		Channels(filters).
		KernelSize(4).
		Strides(2).
		PadSame().
		UseBias(useBias).
		Done()
}

// upsample2x doubles the spatial size of a [b, h, w, c] tensor by
// interleaving a zero row after every row and a zero column after every
// column. The input values land on the even positions of the output.
func upsample2x(x *Node) *Node {
	b := x.Shape().Dimensions[0]
	h := x.Shape().Dimensions[1]
	w := x.Shape().Dimensions[2]
	c := x.Shape().Dimensions[3]
	zeros := ZerosLike(x)

	rows := Concatenate([]*Node{ExpandAxes(x, 2), ExpandAxes(zeros, 2)}, 2)
	x = Reshape(rows, b, 2*h, w, c)
	zeros = ZerosLike(x)
	cols := Concatenate([]*Node{ExpandAxes(x, 3), ExpandAxes(zeros, 3)}, 3)
	return Reshape(cols, b, 2*h, 2*w, c)
}

// upConv is the U-Net upsampling step: a transposed convolution with
// kernel 4 and stride 2, doubling the spatial size. It is expressed as
// zero-insertion upsampling followed by a regular kernel-4 stride-1 "same"
// convolution, which parameterizes the same operator.
//
// For a [b, h, w, c] input it yields [b, 2h, 2w, filters].
func upConv(ctx *context.Context, x *Node, filters int, useBias bool) *Node {
	g := x.Graph()
	ctxInScope := ctx.In("deconv")
	dtype := x.DType()
	inputChannels := x.Shape().Dimensions[3]

	kernelVar := ctxInScope.VariableWithShape("weights",
		shapes.Make(dtype, 4, 4, inputChannels, filters))
	if regularizer := regularizers.FromContext(ctx); regularizer != nil {
		regularizer(ctxInScope, g, kernelVar)
	}
	kernel := kernelVar.ValueGraph(g)
	output := Convolve(upsample2x(x), kernel).
		ChannelsAxis(timage.ChannelsLast).
		PadSame().
		Done()

	if useBias {
		biasVar := ctxInScope.VariableWithShape("biases", shapes.Make(dtype, filters))
		bias := biasVar.ValueGraph(g)
		output = Add(output, Reshape(bias, 1, 1, 1, filters))
	}

	if l2any, found := ctxInScope.GetParam(layers.ParamL2Regularization); found {
		l2 := l2any.(float64)
		if l2 > 0 {
			regularizers.L2(l2)(ctxInScope, g, kernelVar)
		}
	}
	return output
}

// revealConv is the reveal network convolution: kernel 3, stride 1, "same"
// padding, shape-preserving. Bias is always on.
func revealConv(ctx *context.Context, x *Node, filters int) *Node {
	return layers.Convolution(ctx, x).
		Channels(filters).
		KernelSize(3).
		PadSame().
		Done()
}

// normalize applies the configured normalization over a [b, h, w, c]
// tensor. Instance normalization is layer normalization over the spatial
// axes only, without learned gain or offset.
func normalize(ctx *context.Context, x *Node, kind NormKind) *Node {
	switch kind {
	case NormBatch:
		return batchnorm.New(ctx, x, -1).Done()
	case NormInstance:
		return layers.LayerNormalization(ctx, x, 1, 2).
			LearnedGain(false).
			LearnedOffset(false).
			Done()
	default:
		return x
	}
}
