package stego

import (
	"math"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"gonum.org/v1/gonum/mat"
)

// Base quantization tables from the JPEG standard (Annex K), row-major.
var jpegLumaBase = [64]float64{
	16, 11, 10, 16, 24, 40, 51, 61,
	12, 12, 14, 19, 26, 58, 60, 55,
	14, 13, 16, 24, 40, 57, 69, 56,
	14, 17, 22, 29, 51, 87, 80, 62,
	18, 22, 37, 56, 68, 109, 103, 77,
	24, 35, 55, 64, 81, 104, 113, 92,
	49, 64, 78, 87, 103, 121, 120, 101,
	72, 92, 95, 98, 112, 100, 103, 99,
}

var jpegChromaBase = [64]float64{
	17, 18, 24, 47, 99, 99, 99, 99,
	18, 21, 26, 66, 99, 99, 99, 99,
	24, 26, 56, 99, 99, 99, 99, 99,
	47, 66, 99, 99, 99, 99, 99, 99,
	99, 99, 99, 99, 99, 99, 99, 99,
	99, 99, 99, 99, 99, 99, 99, 99,
	99, 99, 99, 99, 99, 99, 99, 99,
	99, 99, 99, 99, 99, 99, 99, 99,
}

// dctBasisTensor builds the orthonormal 8×8 DCT-II basis matrix
// D[k][n] = c(k)·cos(π(2n+1)k/16) with c(0)=√(1/8) and c(k)=√(2/8)
// otherwise.
func dctBasisTensor() *tensors.Tensor {
	basis := mat.NewDense(8, 8, nil)
	for k := 0; k < 8; k++ {
		c := math.Sqrt(2.0 / 8.0)
		if k == 0 {
			c = math.Sqrt(1.0 / 8.0)
		}
		for n := 0; n < 8; n++ {
			basis.Set(k, n, c*math.Cos(math.Pi*float64((2*n+1)*k)/16))
		}
	}
	flat := make([]float32, 64)
	for row := 0; row < 8; row++ {
		for col := 0; col < 8; col++ {
			flat[row*8+col] = float32(basis.At(row, col))
		}
	}
	return tensors.FromFlatDataAndDimensions(flat, 8, 8)
}

var dctBasis = dctBasisTensor()

// jpegQuantTensor scales the base quantization tables to the requested
// quality with the libjpeg rule and lays them out per channel: luma for
// channel 0, chroma for channels 1 and 2. Images with other channel
// counts use luma throughout.
func jpegQuantTensor(quality, channels int) *tensors.Tensor {
	scale := float64(200 - 2*quality)
	if quality < 50 {
		scale = 5000 / float64(quality)
	}
	scaled := func(base *[64]float64) [64]float32 {
		var out [64]float32
		for i, v := range base {
			q := math.Floor((v*scale + 50) / 100)
			out[i] = float32(min(max(q, 1), 255))
		}
		return out
	}
	luma := scaled(&jpegLumaBase)
	chroma := scaled(&jpegChromaBase)
	flat := make([]float32, channels*64)
	for c := 0; c < channels; c++ {
		table := luma
		if channels == 3 && c > 0 {
			table = chroma
		}
		copy(flat[c*64:], table[:])
	}
	return tensors.FromFlatDataAndDimensions(flat, channels, 8, 8)
}

// rgbToYCbCr converts [b, h, w, 3] images of 0-255 RGB values to YCbCr.
func rgbToYCbCr(x *Node) *Node {
	g := x.Graph()
	m := Const(g, [][]float32{
		{0.299, -0.168736, 0.5},
		{0.587, -0.331264, -0.418688},
		{0.114, 0.5, -0.081312},
	})
	offset := Reshape(Const(g, []float32{0, 128, 128}), 1, 1, 1, 3)
	return Add(Einsum("bhwc,cd->bhwd", x, m), offset)
}

// yCbCrToRGB inverts rgbToYCbCr.
func yCbCrToRGB(x *Node) *Node {
	g := x.Graph()
	offset := Reshape(Const(g, []float32{0, 128, 128}), 1, 1, 1, 3)
	m := Const(g, [][]float32{
		{1, 1, 1},
		{0, -0.344136, 1.772},
		{1.402, -0.714136, 0},
	})
	return Einsum("bhwc,cd->bhwd", Sub(x, offset), m)
}

// dct2D computes D·X·Dᵀ over the trailing 8×8 axes of the
// [b, h/8, w/8, c, 8, 8] block tensor, the per-block 2D DCT.
func dct2D(blocks, d *Node) *Node {
	rows := Einsum("ai,bhwcij->bhwcaj", d, blocks)
	return Einsum("bhwcaj,mj->bhwcam", rows, d)
}

// idct2D computes Dᵀ·Y·D, inverting dct2D.
func idct2D(blocks, d *Node) *Node {
	rows := Einsum("ia,bhwcij->bhwcaj", d, blocks)
	return Einsum("bhwcaj,jm->bhwcam", rows, d)
}

// smoothRound is a differentiable surrogate for rounding to nearest:
// r(v) = v − sin(2πv)/(2π). It agrees with true rounding at integers and
// half-integers and keeps a nonzero gradient everywhere else.
func smoothRound(x *Node) *Node {
	return Sub(x, DivScalar(Sin(MulScalar(x, 2*math.Pi)), 2*math.Pi))
}

// attackJPEG approximates JPEG compression differentiably: YCbCr color
// conversion, per-block 2D DCT, quantization against quality-scaled
// tables with smoothRound in place of true rounding, then the inverse
// path back to RGB, clipped to [0,1]. Chroma subsampling is omitted.
func attackJPEG(ctx *context.Context, cfg *Config, x *Node) *Node {
	g := x.Graph()
	dims := x.Shape().Dimensions
	batch, height, width, channels := dims[0], dims[1], dims[2], dims[3]
	if height%8 != 0 || width%8 != 0 {
		exceptions.Panicf("jpeg attack needs image sizes divisible by 8, got %dx%d", height, width)
	}

	values := MulScalar(x, 255)
	if channels == 3 {
		values = rgbToYCbCr(values)
	}

	// Rearrange into zero-centered 8×8 blocks: [batch, h/8, w/8, c, 8, 8].
	blocks := Reshape(values, batch, height/8, 8, width/8, 8, channels)
	blocks = TransposeAllDims(blocks, 0, 1, 3, 5, 2, 4)
	blocks = AddScalar(blocks, -128)

	d := ConstCachedTensor(g, dctBasis)
	freq := dct2D(blocks, d)
	quant := Reshape(ConstTensor(g, jpegQuantTensor(cfg.JPEGQuality, channels)), 1, 1, 1, channels, 8, 8)
	dequantized := Mul(smoothRound(Div(freq, quant)), quant)
	spatial := AddScalar(idct2D(dequantized, d), 128)

	out := TransposeAllDims(spatial, 0, 1, 4, 2, 5, 3)
	out = Reshape(out, batch, height, width, channels)
	if channels == 3 {
		out = yCbCrToRGB(out)
	}
	return ClipScalar(DivScalar(out, 255), 0, 1)
}
