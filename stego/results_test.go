package stego

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveResultGrid(t *testing.T) {
	cover := tensors.FromScalarAndDimensions(float32(0.25), 2, 8, 8, 3)
	container := tensors.FromScalarAndDimensions(float32(0.35), 2, 8, 8, 3)
	secret := tensors.FromScalarAndDimensions(float32(0.75), 2, 8, 8, 3)
	revealed := tensors.FromScalarAndDimensions(float32(0.75), 2, 8, 8, 3)
	fake := tensors.FromScalarAndDimensions(float32(0.01), 2, 8, 8, 3)

	t.Run("keyed", func(t *testing.T) {
		name := filepath.Join(t.TempDir(), "grid.png")
		require.NoError(t, SaveResultGrid(name, cover, container, secret, revealed, fake))

		f, err := os.Open(name)
		require.NoError(t, err)
		defer f.Close()
		img, err := png.Decode(f)
		require.NoError(t, err)

		// Two columns and seven rows of 8px cells with 1px borders.
		assert.Equal(t, 1+2*9, img.Bounds().Dx())
		assert.Equal(t, 1+7*9, img.Bounds().Dy())

		r, _, _, _ := img.At(1, 1).RGBA()
		assert.Equal(t, uint32(64), r>>8, "cover cell")
		r, _, _, _ = img.At(1, 19).RGBA()
		assert.Equal(t, uint32(255), r>>8, "amplified container gap")
		r, _, _, a := img.At(0, 0).RGBA()
		assert.Equal(t, uint32(0), r>>8, "border should be black")
		assert.Equal(t, uint32(255), a>>8)
	})

	t.Run("keyless", func(t *testing.T) {
		name := filepath.Join(t.TempDir(), "grid.png")
		require.NoError(t, SaveResultGrid(name, cover, container, secret, revealed, nil))

		f, err := os.Open(name)
		require.NoError(t, err)
		defer f.Close()
		img, err := png.Decode(f)
		require.NoError(t, err)
		assert.Equal(t, 1+6*9, img.Bounds().Dy(), "no fake-key row without a key")
	})

	t.Run("shape-mismatch", func(t *testing.T) {
		name := filepath.Join(t.TempDir(), "grid.png")
		short := tensors.FromScalarAndDimensions(float32(0.35), 1, 8, 8, 3)
		err := SaveResultGrid(name, cover, short, secret, revealed, nil)
		require.ErrorContains(t, err, "disagree in shape")
	})

	t.Run("bad-rank", func(t *testing.T) {
		name := filepath.Join(t.TempDir(), "grid.png")
		flat := tensors.FromScalarAndDimensions(float32(0.25), 8, 8)
		err := SaveResultGrid(name, flat, flat, flat, flat, nil)
		require.ErrorContains(t, err, "1 or 3 channels")
	})
}

func TestByteMapping(t *testing.T) {
	assert.Equal(t, uint8(0), toByte(-0.1))
	assert.Equal(t, uint8(0), toByte(0))
	assert.Equal(t, uint8(64), toByte(0.25))
	assert.Equal(t, uint8(128), toByte(0.5))
	assert.Equal(t, uint8(255), toByte(1))
	assert.Equal(t, uint8(255), toByte(1.7))

	assert.Equal(t, float32(0), clamp01(-0.5))
	assert.Equal(t, float32(0.3), clamp01(0.3))
	assert.Equal(t, float32(1), clamp01(1.5))
}
