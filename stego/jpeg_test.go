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
	"gonum.org/v1/gonum/mat"
)

func TestJPEGQuantTables(t *testing.T) {
	t.Run("quality-50", func(t *testing.T) {
		// At quality 50 the scale factor is 100, leaving the Annex K
		// tables untouched.
		quant := jpegQuantTensor(50, 3)
		require.NoError(t, quant.Shape().Check(dtypes.Float32, 3, 8, 8))
		flat := flatFloats(quant)
		for i := 0; i < 64; i++ {
			require.Equal(t, float32(jpegLumaBase[i]), flat[i], "luma entry %d", i)
			require.Equal(t, float32(jpegChromaBase[i]), flat[64+i], "chroma entry %d", i)
			require.Equal(t, float32(jpegChromaBase[i]), flat[128+i], "chroma entry %d", i)
		}
	})

	t.Run("quality-100", func(t *testing.T) {
		flat := flatFloats(jpegQuantTensor(100, 3))
		for i, v := range flat {
			require.Equal(t, float32(1), v, "entry %d", i)
		}
	})

	t.Run("quality-1", func(t *testing.T) {
		flat := flatFloats(jpegQuantTensor(1, 3))
		for i, v := range flat {
			require.Equal(t, float32(255), v, "entry %d", i)
		}
	})

	t.Run("grayscale", func(t *testing.T) {
		quant := jpegQuantTensor(50, 1)
		require.NoError(t, quant.Shape().Check(dtypes.Float32, 1, 8, 8))
		flat := flatFloats(quant)
		for i := 0; i < 64; i++ {
			require.Equal(t, float32(jpegLumaBase[i]), flat[i], "entry %d", i)
		}
	})
}

func TestDCTBasisOrthonormal(t *testing.T) {
	flat := flatFloats(dctBasis)
	data := make([]float64, len(flat))
	for i, v := range flat {
		data[i] = float64(v)
	}
	d := mat.NewDense(8, 8, data)
	var product mat.Dense
	product.Mul(d, d.T())
	for row := 0; row < 8; row++ {
		for col := 0; col < 8; col++ {
			want := 0.0
			if row == col {
				want = 1.0
			}
			require.InDelta(t, want, product.At(row, col), 1e-6, "entry (%d, %d)", row, col)
		}
	}
}

func TestSmoothRound(t *testing.T) {
	graphtest.RunTestGraphFn(t, "smoothRound",
		func(g *Graph) (inputs, outputs []*Node) {
			x := Const(g, []float32{-1.5, -1, -0.25, 0, 0.25, 0.5, 1, 2.75})
			inputs = []*Node{x}
			outputs = []*Node{smoothRound(x)}
			return
		}, []any{
			[]float32{-1.5, -1, -0.0908451, 0, 0.0908451, 0.5, 1, 2.9091549},
		}, 1e-5)
}

func TestColorConversionRoundTrip(t *testing.T) {
	rgb := [][][][]float32{{
		{{0, 0, 0}, {255, 255, 255}},
		{{255, 0, 0}, {12, 101, 234}},
	}}
	graphtest.RunTestGraphFn(t, "YCbCr round trip",
		func(g *Graph) (inputs, outputs []*Node) {
			x := Const(g, rgb)
			inputs = []*Node{x}
			outputs = []*Node{yCbCrToRGB(rgbToYCbCr(x))}
			return
		}, []any{rgb}, 0.01)
}

func TestDCTRoundTrip(t *testing.T) {
	graphtest.RunTestGraphFn(t, "DCT round trip",
		func(g *Graph) (inputs, outputs []*Node) {
			blocks := Reshape(IotaFull(g, shapes.Make(dtypes.Float32, 64)), 1, 1, 1, 1, 8, 8)
			blocks = AddScalar(blocks, -31.5)
			d := ConstTensor(g, dctBasis)
			inputs = []*Node{blocks}
			outputs = []*Node{Sub(idct2D(dct2D(blocks, d), d), blocks)}
			return
		}, []any{shapes.Make(dtypes.Float32, 1, 1, 1, 1, 8, 8)}, 1e-3)
}

func TestAttackJPEG(t *testing.T) {
	backend := graphtest.BuildTestBackend()

	t.Run("rgb", func(t *testing.T) {
		cfg := testConfig()
		ctx := context.New()
		outputs := context.MustExecOnceN(backend, ctx, func(ctx *context.Context, g *Graph) []*Node {
			x := testImage(g, 2, 16, 3)
			return []*Node{x, attackJPEG(ctx, cfg, x)}
		})
		require.NoError(t, outputs[1].Shape().Check(dtypes.Float32, 2, 16, 16, 3))
		lo, hi := valueRange(outputs[1])
		assert.GreaterOrEqual(t, lo, float32(0))
		assert.LessOrEqual(t, hi, float32(1))
		assert.NotEqual(t, flatFloats(outputs[0]), flatFloats(outputs[1]),
			"quantization should distort the image")
	})

	t.Run("grayscale", func(t *testing.T) {
		cfg := testConfig()
		ctx := context.New()
		got := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
			return attackJPEG(ctx, cfg, testImage(g, 1, 8, 1))
		})
		require.NoError(t, got.Shape().Check(dtypes.Float32, 1, 8, 8, 1))
	})

	t.Run("not-divisible", func(t *testing.T) {
		cfg := testConfig()
		ctx := context.New()
		require.Panics(t, func() {
			context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
				return attackJPEG(ctx, cfg, Ones(g, shapes.Make(dtypes.Float32, 1, 12, 12, 3)))
			})
		})
	})
}
