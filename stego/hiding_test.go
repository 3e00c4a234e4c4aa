package stego

import (
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHidingNetwork(t *testing.T) {
	backend := graphtest.BuildTestBackend()

	t.Run("sigmoid", func(t *testing.T) {
		cfg := testConfig()
		ctx := context.New()
		got := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
			input := testImage(g, 2, 32, 6)
			tile := TileKey(binaryKey(g, 32, 0), 2, 32, 32, 3)
			return HidingNetwork(ctx, cfg, input, tile)
		})
		require.NoError(t, got.Shape().Check(dtypes.Float32, 2, 32, 32, 3))
		lo, hi := valueRange(got)
		assert.GreaterOrEqual(t, lo, float32(0))
		assert.LessOrEqual(t, hi, float32(1))
		assert.Greater(t, ctx.NumParameters(), 0)
	})

	t.Run("tanh", func(t *testing.T) {
		cfg := testConfig()
		cfg.Output = ActivationTanh
		cfg.CoverDependent = false
		ctx := context.New()
		got := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
			return HidingNetwork(ctx, cfg, testImage(g, 2, 32, 3), nil)
		})
		require.NoError(t, got.Shape().Check(dtypes.Float32, 2, 32, 32, 3))
		lo, hi := valueRange(got)
		limit := float32(10.0/255.0) + 1e-6
		assert.GreaterOrEqual(t, lo, -limit)
		assert.LessOrEqual(t, hi, limit)
	})

	t.Run("not-square", func(t *testing.T) {
		cfg := testConfig()
		ctx := context.New()
		require.Panics(t, func() {
			context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
				return HidingNetwork(ctx, cfg, Ones(g, shapes.Make(dtypes.Float32, 1, 32, 64, 6)), nil)
			})
		})
	})

	t.Run("indivisible", func(t *testing.T) {
		cfg := testConfig()
		ctx := context.New()
		require.Panics(t, func() {
			context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
				return HidingNetwork(ctx, cfg, Ones(g, shapes.Make(dtypes.Float32, 1, 24, 24, 6)), nil)
			})
		})
	})
}
