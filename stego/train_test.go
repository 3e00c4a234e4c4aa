package stego

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/ui/gonb/plotly"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestImages fills dir with count flat-colored PNG images, each a
// different color so batches are distinguishable.
func writeTestImages(t *testing.T, dir string, count, size int) {
	require.NoError(t, os.MkdirAll(dir, 0777))
	for i := 0; i < count; i++ {
		img := imaging.New(size, size, color.NRGBA{
			R: uint8(10 + 20*i),
			G: uint8(255 - 15*i),
			B: uint8(40 + 13*i),
			A: 255,
		})
		require.NoError(t, imaging.Save(img, filepath.Join(dir, fmt.Sprintf("img-%02d.png", i))))
	}
}

// TestTrainSmoke trains a tiny keyed model for one epoch and then drives
// the whole lifecycle: checkpoints, result grids, inference from the
// saved state and directory evaluation.
func TestTrainSmoke(t *testing.T) {
	if testing.Short() {
		fmt.Println("TestTrainSmoke skipped with go test -short: it trains a small model end to end.")
		return
	}
	dataDir := t.TempDir()
	secretsDir := filepath.Join(dataDir, "secrets")
	coversDir := filepath.Join(dataDir, "covers")
	writeTestImages(t, secretsDir, 12, 32)
	writeTestImages(t, coversDir, 12, 32)

	ctx := CreateDefaultContext()
	ctx.SetParams(map[string]any{
		ParamImageSize:          32,
		ParamNumDowns:           5,
		ParamHidingFilters:      2,
		ParamRevealFilters:      2,
		ParamKeyLen:             32,
		ParamBatchSize:          5,
		ParamEvalBatchSize:      2,
		ParamEpochs:             1,
		ParamStepsPerEpoch:      2,
		ParamResultsEvery:       1,
		ParamValidationFraction: 0.25,
		plotly.ParamPlots:       false,
	})
	Train(ctx, secretsDir, coversDir, dataDir, "smoke", true, nil)

	checkpointDir := filepath.Join(dataDir, "smoke")
	entries, err := os.ReadDir(checkpointDir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
	assert.FileExists(t, filepath.Join(checkpointDir, "result-epoch-0001.png"))
	assert.DirExists(t, filepath.Join(checkpointDir, "best"))

	backend := graphtest.BuildTestBackend()
	model, err := LoadInferenceModel(backend, checkpointDir)
	require.NoError(t, err)
	assert.Equal(t, 32, model.Config().ImageSize)

	cover := imaging.New(32, 32, color.NRGBA{R: 200, G: 180, B: 160, A: 255})
	secret := imaging.New(32, 32, color.NRGBA{R: 20, G: 40, B: 60, A: 255})
	container, err := model.Hide(cover, secret, "sesame")
	require.NoError(t, err)
	require.Equal(t, 32, container.Bounds().Dx())
	revealed, err := model.Reveal(container, "sesame")
	require.NoError(t, err)
	require.Equal(t, 32, revealed.Bounds().Dx())

	_, err = model.Hide(cover, secret, "")
	require.ErrorContains(t, err, "passphrase is required")

	result, err := model.EvaluateDirs(secretsDir, coversDir, 4, 1)
	require.NoError(t, err)
	assert.Equal(t, 12, result.Pairs)
	assert.Greater(t, result.HidingPSNR, 0.0)
}

// TestCheckpointRoundTrip saves a freshly initialized model and checks
// that a context restored from the checkpoint reproduces the exact same
// forward outputs.
func TestCheckpointRoundTrip(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	dir := t.TempDir()

	ctx := CreateDefaultContext()
	ctx.SetParams(map[string]any{
		ParamImageSize:     32,
		ParamNumDowns:      5,
		ParamHidingFilters: 2,
		ParamRevealFilters: 2,
		ParamNorm:          "none",
		ParamKeyLen:        32,
	})
	checkpoint, err := checkpoints.Build(ctx).Dir(dir).Keep(1).Done()
	require.NoError(t, err)
	cfg, err := FromContext(ctx)
	require.NoError(t, err)

	forward := func(cfg *Config) func(ctx *context.Context, g *Graph) []*Node {
		return func(ctx *context.Context, g *Graph) []*Node {
			secret := testImage(g, 2, cfg.ImageSize, cfg.Channels)
			cover := Sub(OnesLike(secret), secret)
			outs := Forward(ctx.In("model"), cfg, []*Node{
				secret, cover, binaryKey(g, cfg.KeyLen, 0), binaryKey(g, cfg.KeyLen, 1)})
			return []*Node{outs[OutContainer], outs[OutRevealed]}
		}
	}
	before := context.MustExecOnceN(backend, ctx, forward(cfg))
	require.NoError(t, checkpoint.Save())

	restored := context.New()
	_, err = checkpoints.Load(restored).Dir(dir).Done()
	require.NoError(t, err)
	restoredCfg, err := FromContext(restored)
	require.NoError(t, err)
	assert.Equal(t, cfg, restoredCfg)

	after := context.MustExecOnceN(backend, restored.Reuse(), forward(restoredCfg))
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, flatFloats(before[i]), flatFloats(after[i]),
			"output #%d changed across the checkpoint round trip", i)
	}
}
