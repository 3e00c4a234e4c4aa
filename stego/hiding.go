package stego

import (
	"fmt"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
)

// unetBlockSpec describes one U-Net level. Blocks are laid out bottom-up,
// innermost first, and applied recursively from the outermost: each block
// downsamples, hands off to its inner neighbor, upsamples, and (except the
// outermost) concatenates its own input back onto the result as the skip
// connection.
type unetBlockSpec struct {
	// inner is the downsampling convolution's filter count, outer the
	// upsampling one's.
	inner, outer int
	innermost    bool
	outermost    bool
	dropout      bool
}

// unetBlocks lays out the block descriptors for the configured depth: one
// innermost block, NumDowns-5 wide middle blocks, a ladder of halving
// widths, and the outermost block producing the image channels.
func unetBlocks(cfg *Config) []unetBlockSpec {
	nhf := cfg.HidingFilters
	wide := nhf * 8
	specs := make([]unetBlockSpec, 0, cfg.NumDowns)
	specs = append(specs, unetBlockSpec{inner: wide, outer: wide, innermost: true})
	for i := 0; i < cfg.NumDowns-5; i++ {
		specs = append(specs, unetBlockSpec{inner: wide, outer: wide, dropout: cfg.Dropout})
	}
	specs = append(specs,
		unetBlockSpec{inner: wide, outer: nhf * 4},
		unetBlockSpec{inner: nhf * 4, outer: nhf * 2},
		unetBlockSpec{inner: nhf * 2, outer: nhf},
		unetBlockSpec{inner: nhf, outer: cfg.Channels, outermost: true},
	)
	return specs
}

// applyUnetBlock runs block `level` on x. Layer ordering within a block
// follows the classic U-Net generator: LeakyReLU(0.2) before the
// downsampling convolution, ReLU before the upsampling one, normalization
// after each convolution. The innermost block skips the down
// normalization; the outermost block runs a bare convolution down and
// finishes with the configured output activation instead of a
// normalization.
func applyUnetBlock(ctx *context.Context, cfg *Config, specs []unetBlockSpec, level int, x *Node) *Node {
	spec := specs[level]
	blockCtx := ctx.In(fmt.Sprintf("block_%d", level))

	h := x
	if !spec.outermost {
		h = activations.LeakyReluWith(h, 0.2)
	}
	h = downConv(blockCtx.In("down"), h, spec.inner, cfg.UseBias())
	if !spec.outermost && !spec.innermost {
		h = normalize(blockCtx.In("down"), h, cfg.Norm)
	}

	if !spec.innermost {
		h = applyUnetBlock(ctx, cfg, specs, level-1, h)
	}

	h = activations.Relu(h)
	if spec.outermost {
		h = upConv(blockCtx.In("up"), h, spec.outer, true)
		if cfg.Output == ActivationTanh {
			return MulScalar(Tanh(h), 10.0/255.0)
		}
		return Sigmoid(h)
	}
	h = upConv(blockCtx.In("up"), h, spec.outer, cfg.UseBias())
	h = normalize(blockCtx.In("up"), h, cfg.Norm)
	if spec.dropout {
		h = layers.DropoutStatic(blockCtx, h, 0.5)
	}
	return Concatenate([]*Node{x, h}, -1)
}

// HidingNetwork builds the U-Net that embeds a secret into a cover. The
// input is the channel-wise concatenation of the images the network may
// see (cover and secret in cover-dependent mode, secret alone otherwise);
// the key tile, when present, is concatenated into the input of the
// outermost downsampling convolution, doubling its input channels. The
// output has the image's channel count and the input's spatial size, in
// [0,1] for a sigmoid head or in [-10/255, 10/255] for a tanh head.
func HidingNetwork(ctx *context.Context, cfg *Config, input, tile *Node) *Node {
	ctx = ctx.In("hiding")
	if input.Rank() != 4 {
		exceptions.Panicf("hiding network input must be rank-4 [batch, height, width, channels], got %s",
			input.Shape())
	}
	height, width := input.Shape().Dimensions[1], input.Shape().Dimensions[2]
	if height != width {
		exceptions.Panicf("images must be square, got %dx%d", height, width)
	}
	if height%(1<<uint(cfg.NumDowns)) != 0 {
		exceptions.Panicf("image size %d is not divisible by 2^num_downs=%d",
			height, 1<<uint(cfg.NumDowns))
	}
	if tile != nil {
		input = Concatenate([]*Node{input, tile}, -1)
	}
	specs := unetBlocks(cfg)
	return applyUnetBlock(ctx, cfg, specs, len(specs)-1, input)
}
