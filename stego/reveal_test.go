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

func TestRevealNetwork(t *testing.T) {
	backend := graphtest.BuildTestBackend()

	t.Run("keyed", func(t *testing.T) {
		cfg := testConfig()
		ctx := context.New()
		got := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
			container := testImage(g, 2, 32, 3)
			tile := TileKey(binaryKey(g, 32, 0), 2, 32, 32, 3)
			return RevealNetwork(ctx, cfg, container, tile)
		})
		require.NoError(t, got.Shape().Check(dtypes.Float32, 2, 32, 32, 3))
		lo, hi := valueRange(got)
		assert.GreaterOrEqual(t, lo, float32(0))
		assert.LessOrEqual(t, hi, float32(1))
		assert.Greater(t, ctx.NumParameters(), 0)
	})

	t.Run("keyless", func(t *testing.T) {
		cfg := testConfig()
		cfg.KeyLen = 0
		ctx := context.New()
		got := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
			return RevealNetwork(ctx, cfg, testImage(g, 3, 32, 3), nil)
		})
		require.NoError(t, got.Shape().Check(dtypes.Float32, 3, 32, 32, 3))
	})

	t.Run("bad-rank", func(t *testing.T) {
		cfg := testConfig()
		ctx := context.New()
		require.Panics(t, func() {
			context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
				return RevealNetwork(ctx, cfg, Ones(g, shapes.Make(dtypes.Float32, 2, 32, 3)), nil)
			})
		})
	})
}
