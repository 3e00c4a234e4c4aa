package stego

import (
	"math"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMSEAndAPD(t *testing.T) {
	a := tensors.FromFlatDataAndDimensions([]float32{0, 0.5, 1, 0.25}, 1, 2, 2, 1)
	b := tensors.FromFlatDataAndDimensions([]float32{0.1, 0.5, 0.9, 0.25}, 1, 2, 2, 1)

	mse, err := MSE(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 0.005, mse, 1e-8)

	apd, err := APD(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 12.75, apd, 1e-5)

	_, err = MSE(a, tensors.FromScalarAndDimensions(float32(0), 1, 2, 2, 3))
	require.ErrorContains(t, err, "same shape")

	_, err = APD(tensors.FromScalarAndDimensions(float32(0), 4, 4), a)
	require.ErrorContains(t, err, "image metrics want")
}

func TestPSNR(t *testing.T) {
	a := tensors.FromScalarAndDimensions(float32(0.25), 2, 8, 8, 1)
	psnr, err := PSNR(a, a)
	require.NoError(t, err)
	assert.True(t, math.IsInf(psnr, 1), "identical images should have infinite PSNR")

	// An off-by-one on every byte gives an MSE of 1.
	zeros := tensors.FromScalarAndDimensions(float32(0), 1, 8, 8, 1)
	ones := tensors.FromScalarAndDimensions(float32(1.0/255.0), 1, 8, 8, 1)
	psnr, err = PSNR(zeros, ones)
	require.NoError(t, err)
	assert.InDelta(t, 10*math.Log10(255*255), psnr, 1e-9)
}

func TestSSIM(t *testing.T) {
	flat := make([]float32, 64)
	for j := range flat {
		flat[j] = float32(j) / 64
	}
	gradient := tensors.FromFlatDataAndDimensions(flat, 1, 8, 8, 1)
	ssim, err := SSIM(gradient, gradient)
	require.NoError(t, err)
	assert.Equal(t, 1.0, ssim, "identical images should score exactly 1")

	// Two constant planes have zero variances, leaving only the
	// luminance term.
	black := tensors.FromScalarAndDimensions(float32(0), 1, 8, 8, 1)
	gray := tensors.FromScalarAndDimensions(float32(0.5), 1, 8, 8, 1)
	ssim, err = SSIM(black, gray)
	require.NoError(t, err)
	want := ssimC1 / (128*128 + ssimC1)
	assert.InDelta(t, want, ssim, 1e-12)

	small := tensors.FromScalarAndDimensions(float32(0), 1, 6, 6, 1)
	_, err = SSIM(small, small)
	require.ErrorContains(t, err, "at least 7x7")
}
