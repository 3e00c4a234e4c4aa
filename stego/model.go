package stego

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// Indices into the prediction slice returned by Forward.
const (
	OutContainer = iota
	OutRevealed
	OutRevealedFake
	OutTotalLoss
	OutHidingLoss
	OutRevealLoss
	OutFakeLoss
	OutHidingAPD
	OutRevealAPD
	OutFakeAPD
	NumOutputs
)

// mse is the mean squared error over all elements.
func mse(a, b *Node) *Node {
	diff := Sub(a, b)
	return ReduceAllMean(Mul(diff, diff))
}

// apd is the average pixel difference, the mean absolute error scaled to
// the 0-255 range.
func apd(a, b *Node) *Node {
	return MulScalar(ReduceAllMean(Abs(Sub(a, b))), 255)
}

// Forward builds the full training pass: key tiling, hiding, the attack
// channel and the two reveal passes, one with the real key and one with
// the fake. It returns the containers, both recovered secrets, the
// weighted total loss with its three terms, and the APD of each path, in
// the Out* order.
//
// Keyed configurations take inputs [secret, cover, key, fakeKey]; keyless
// ones just [secret, cover] and skip the fake pass, returning zeros in
// its slots. Cover and secret must be square images of identical shape.
// The fake-key reveal regresses toward an all-black image: whoever
// reveals without the right key learns nothing.
func Forward(ctx *context.Context, cfg *Config, inputs []*Node) []*Node {
	wantInputs := 2
	if cfg.Keyed() {
		wantInputs = 4
	}
	if len(inputs) != wantInputs {
		exceptions.Panicf("model takes %d inputs when key_len=%d, got %d",
			wantInputs, cfg.KeyLen, len(inputs))
	}
	secret, cover := inputs[0], inputs[1]
	if !secret.Shape().Equal(cover.Shape()) {
		exceptions.Panicf("cover shape %s and secret shape %s must match",
			cover.Shape(), secret.Shape())
	}
	if secret.Rank() != 4 {
		exceptions.Panicf("images must be rank-4 [batch, height, width, channels], got %s",
			secret.Shape())
	}
	if secret.Shape().Dimensions[1] != secret.Shape().Dimensions[2] {
		exceptions.Panicf("images must be square, got %dx%d",
			secret.Shape().Dimensions[1], secret.Shape().Dimensions[2])
	}
	batch := secret.Shape().Dimensions[0]

	var key, fakeKey *Node
	if cfg.Keyed() {
		key, fakeKey = inputs[2], inputs[3]
	}

	hidingIn := secret
	if cfg.CoverDependent {
		hidingIn = Concatenate([]*Node{cover, secret}, -1)
	}
	var hidingTile *Node
	if cfg.Keyed() {
		hidingTile = keyTile(ctx.In("hiding"), cfg, key, batch)
	}
	hidden := HidingNetwork(ctx, cfg, hidingIn, hidingTile)
	container := hidden
	if !cfg.CoverDependent {
		container = Add(hidden, cover)
	}

	attacked := AttackLayer(ctx, cfg, container)

	// Both reveal passes run on the same weights, so reuse checks are off.
	revealCtx := ctx.Checked(false)
	var realTile, fakeTile *Node
	if cfg.Keyed() {
		realTile = keyTile(revealCtx.In("reveal"), cfg, key, batch)
		fakeTile = keyTile(revealCtx.In("reveal"), cfg, fakeKey, batch)
	}
	revealed := RevealNetwork(revealCtx, cfg, attacked, realTile)
	var revealedFake *Node
	if cfg.Keyed() {
		revealedFake = RevealNetwork(revealCtx, cfg, attacked, fakeTile)
	} else {
		// Image-only mode has no fake-key pass; the penalty term vanishes.
		revealedFake = ZerosLike(revealed)
	}

	black := ZerosLike(revealedFake)
	hidingLoss := mse(container, cover)
	revealLoss := mse(revealed, secret)
	fakeLoss := mse(revealedFake, black)
	total := Add(hidingLoss,
		Add(MulScalar(revealLoss, cfg.Beta), MulScalar(fakeLoss, cfg.Gamma)))

	return []*Node{
		container, revealed, revealedFake,
		total, hidingLoss, revealLoss, fakeLoss,
		apd(container, cover), apd(revealed, secret), apd(revealedFake, black),
	}
}

// ModelGraphFn adapts Forward to the trainer's model-graph signature.
func ModelGraphFn(cfg *Config) func(ctx *context.Context, spec any, inputs []*Node) []*Node {
	return func(ctx *context.Context, spec any, inputs []*Node) []*Node {
		ctx = ctx.In("model")
		return Forward(ctx, cfg, inputs)
	}
}

// TotalLoss is the trainer's loss function: the model already computes
// its weighted loss, so just select it from the predictions.
func TotalLoss(labels, predictions []*Node) *Node {
	return predictions[OutTotalLoss]
}
