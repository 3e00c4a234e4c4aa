package stego

import (
	"fmt"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
)

// RevealNetwork builds the CNN that decodes a container back into the
// secret. The key tile, when present, is concatenated channel-wise into
// the input, doubling the first convolution's input channels. Six
// shape-preserving convolutions widen to 4×nrf and narrow back down to
// the image channels; each but the last is normalized and rectified, and
// a final sigmoid maps the output to [0,1]. Strictly sequential, no skip
// connections.
func RevealNetwork(ctx *context.Context, cfg *Config, container, tile *Node) *Node {
	ctx = ctx.In("reveal")
	if container.Rank() != 4 {
		exceptions.Panicf("reveal network input must be rank-4 [batch, height, width, channels], got %s",
			container.Shape())
	}
	if tile != nil {
		container = Concatenate([]*Node{container, tile}, -1)
	}
	nrf := cfg.RevealFilters
	h := container
	for i, filters := range []int{nrf, nrf * 2, nrf * 4, nrf * 2, nrf} {
		layerCtx := ctx.In(fmt.Sprintf("conv_%d", i))
		h = revealConv(layerCtx, h, filters)
		h = normalize(layerCtx, h, cfg.Norm)
		h = activations.Relu(h)
	}
	h = revealConv(ctx.In("output"), h, cfg.Channels)
	return Sigmoid(h)
}
