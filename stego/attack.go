package stego

import (
	"math"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	timage "github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// attackFn distorts a contiguous batch slice of containers.
type attackFn func(ctx *context.Context, cfg *Config, x *Node) *Node

// attackTable maps each single-distortion kind to its transform. Kinds
// are validated at configuration time, so lookups cannot miss.
var attackTable = map[AttackKind]attackFn{
	AttackNoise:  attackNoise,
	AttackBlur:   attackBlur,
	AttackResize: attackResize,
	AttackJPEG:   attackJPEG,
}

// AttackLayer simulates a lossy channel between hiding and reveal. In
// combine mode the batch splits into five contiguous slices attacked by
// identity, noise, blur, resize and jpeg, in this order; a single
// distortion leaves the first 2/5 of the batch clean and attacks the
// rest. Every transform is differentiable, so the hiding network trains
// through the channel. Batch size and image shape are preserved.
func AttackLayer(ctx *context.Context, cfg *Config, container *Node) *Node {
	if cfg.Attack == AttackIdentity {
		return container
	}
	ctx = ctx.In("attack")
	batch := container.Shape().Dimensions[0]
	if batch < 5 {
		exceptions.Panicf("attack %s slices the batch in fifths and needs batch size >= 5, got %d",
			cfg.Attack, batch)
	}
	if cfg.Attack == AttackCombine {
		kinds := []AttackKind{AttackIdentity, AttackNoise, AttackBlur, AttackResize, AttackJPEG}
		parts := make([]*Node, len(kinds))
		for i, kind := range kinds {
			from, to := i*batch/5, (i+1)*batch/5
			if i == len(kinds)-1 {
				to = batch
			}
			part := Slice(container, AxisRange(from, to))
			if kind != AttackIdentity {
				part = attackTable[kind](ctx, cfg, part)
			}
			parts[i] = part
		}
		return Concatenate(parts, 0)
	}
	cut := 2 * batch / 5
	clean := Slice(container, AxisRange(0, cut))
	attacked := attackTable[cfg.Attack](ctx, cfg, Slice(container, AxisRange(cut)))
	return Concatenate([]*Node{clean, attacked}, 0)
}

// attackNoise adds white Gaussian noise with the configured sigma.
func attackNoise(ctx *context.Context, cfg *Config, x *Node) *Node {
	noise := ctx.RandomNormal(x.Graph(), x.Shape())
	return Add(x, MulScalar(noise, cfg.NoiseSigma))
}

// attackBlur convolves each channel with a normalized Gaussian kernel.
func attackBlur(ctx *context.Context, cfg *Config, x *Node) *Node {
	g := x.Graph()
	channels := x.Shape().Dimensions[3]
	kernel := ConstCachedTensor(g, gaussianKernel(cfg.BlurKernel, cfg.BlurSigma, channels))
	return Convolve(x, kernel).
		ChannelsAxis(timage.ChannelsLast).
		PadSame().
		Done()
}

// gaussianKernel builds the [size, size, channels, channels] convolution
// kernel holding a normalized 2D Gaussian on the channel diagonal and
// zeros elsewhere, so each channel is blurred independently.
func gaussianKernel(size int, sigma float64, channels int) *tensors.Tensor {
	weights := make([]float64, size*size)
	center := float64(size-1) / 2
	var total float64
	for i := range weights {
		dy := float64(i/size) - center
		dx := float64(i%size) - center
		weights[i] = math.Exp(-(dx*dx + dy*dy) / (2 * sigma * sigma))
		total += weights[i]
	}
	flat := make([]float32, size*size*channels*channels)
	for i, w := range weights {
		for c := 0; c < channels; c++ {
			flat[(i*channels+c)*channels+c] = float32(w / total)
		}
	}
	return tensors.FromFlatDataAndDimensions(flat, size, size, channels, channels)
}

// attackResize downscales bilinearly and scales back up, losing the
// high-frequency detail where a perturbation could hide.
func attackResize(ctx *context.Context, cfg *Config, x *Node) *Node {
	dims := x.Shape().Dimensions
	height, width := dims[1], dims[2]
	smallH := max(1, int(math.Round(float64(height)*cfg.ResizeFactor)))
	smallW := max(1, int(math.Round(float64(width)*cfg.ResizeFactor)))
	down := Interpolate(x, NoInterpolation, smallH, smallW, NoInterpolation).Bilinear().Done()
	return Interpolate(down, NoInterpolation, height, width, NoInterpolation).Bilinear().Done()
}
