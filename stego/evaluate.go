package stego

import (
	"io"
	"math/rand"

	"github.com/SleepSupreme/sdh/imagefolder"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
)

// EvalResult aggregates quality metrics over an evaluation run, averaged
// across batches. The hiding side compares containers to covers, the
// reveal side compares recovered secrets to the originals.
type EvalResult struct {
	Pairs int

	HidingMSE, RevealMSE   float64
	HidingAPD, RevealAPD   float64
	HidingPSNR, RevealPSNR float64
	HidingSSIM, RevealSSIM float64
}

// EvaluateDirs pairs the images of two directories, runs the hide and
// reveal passes over every pair with freshly sampled keys, and averages
// MSE, APD, PSNR and SSIM for both paths. Scoring uses the real-key path
// only.
func (m *InferenceModel) EvaluateDirs(secretsDir, coversDir string, batchSize int, seed int64) (*EvalResult, error) {
	folders := &imagefolder.Configuration{
		SecretsDir:    secretsDir,
		CoversDir:     coversDir,
		ImageSize:     m.cfg.ImageSize,
		Channels:      m.cfg.Channels,
		BatchSize:     batchSize,
		EvalBatchSize: batchSize,
		Seed:          seed,
	}
	var evalDS train.Dataset
	err := exceptions.TryCatch[error](func() {
		evalDS, _ = imagefolder.CreateEvalDataset(m.backend, folders)
	})
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(seed))
	result := &EvalResult{}
	batches := 0
	for {
		_, inputs, _, err := evalDS.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		secret, cover := inputs[0], inputs[1]

		args := []any{secret, cover}
		var key *tensors.Tensor
		if m.cfg.Keyed() {
			key = KeyTensor(SampleKey(rng, m.cfg.KeyLen))
			args = append(args, key)
		}
		var container, revealed *tensors.Tensor
		err = exceptions.TryCatch[error](func() {
			container = must.M1(m.hide.Exec(args...))[0]
			revealArgs := []any{container}
			if key != nil {
				revealArgs = append(revealArgs, key)
			}
			revealed = must.M1(m.reveal.Exec(revealArgs...))[0]
		})
		if err != nil {
			return nil, err
		}

		if err := accumulate(&result.HidingMSE, &result.HidingAPD, &result.HidingPSNR, &result.HidingSSIM,
			container, cover); err != nil {
			return nil, err
		}
		if err := accumulate(&result.RevealMSE, &result.RevealAPD, &result.RevealPSNR, &result.RevealSSIM,
			revealed, secret); err != nil {
			return nil, err
		}
		result.Pairs += secret.Shape().Dimensions[0]
		batches++
	}
	if batches == 0 {
		return nil, errors.Errorf("no image pairs to evaluate between %q and %q", secretsDir, coversDir)
	}
	for _, sum := range []*float64{
		&result.HidingMSE, &result.HidingAPD, &result.HidingPSNR, &result.HidingSSIM,
		&result.RevealMSE, &result.RevealAPD, &result.RevealPSNR, &result.RevealSSIM,
	} {
		*sum /= float64(batches)
	}
	return result, nil
}

// accumulate adds one batch worth of quality metrics comparing got
// against want.
func accumulate(mseSum, apdSum, psnrSum, ssimSum *float64, got, want *tensors.Tensor) error {
	v, err := MSE(got, want)
	if err != nil {
		return err
	}
	*mseSum += v
	if v, err = APD(got, want); err != nil {
		return err
	}
	*apdSum += v
	if v, err = PSNR(got, want); err != nil {
		return err
	}
	*psnrSum += v
	if v, err = SSIM(got, want); err != nil {
		return err
	}
	*ssimSum += v
	return nil
}
