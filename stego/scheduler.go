package stego

import (
	"math"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/janpfeifer/must"
)

// Context parameters steering the learning-rate schedule.
const (
	// ParamLRDecayEvery is the number of epochs between step decays.
	ParamLRDecayEvery = "lr_decay_every"

	// ParamLRDecayFactor divides the learning rate at each step decay.
	ParamLRDecayFactor = "lr_decay_factor"

	// ParamPlateauPatience is how many epochs the validation reveal loss
	// may stagnate before the plateau rule kicks in.
	ParamPlateauPatience = "plateau_patience"

	// ParamPlateauFactor scales the learning rate when a plateau is hit.
	ParamPlateauFactor = "plateau_factor"
)

// Scheduler anneals the learning rate over epochs. Two rules compose
// multiplicatively: a step decay dividing the rate by a fixed factor
// every few epochs, and a reduce-on-plateau scale that shrinks whenever
// the validation reveal loss stops improving for longer than the
// patience. Composing them means a plateau reduction survives the next
// step decay instead of being overwritten by it.
type Scheduler struct {
	ctx *context.Context

	baseLR        float64
	decayEvery    int
	decayFactor   float64
	patience      int
	plateauFactor float64

	plateauScale float64
	bestLoss     float64
	badEpochs    int
}

// NewScheduler reads the schedule hyperparameters from the context. It
// must be the same context given to the trainer, so the learning-rate
// variable the optimizer reads is the one updated here.
func NewScheduler(ctx *context.Context) *Scheduler {
	return &Scheduler{
		ctx:           ctx,
		baseLR:        context.GetParamOr(ctx, optimizers.ParamLearningRate, 0.001),
		decayEvery:    context.GetParamOr(ctx, ParamLRDecayEvery, 30),
		decayFactor:   context.GetParamOr(ctx, ParamLRDecayFactor, 10.0),
		patience:      context.GetParamOr(ctx, ParamPlateauPatience, 8),
		plateauFactor: context.GetParamOr(ctx, ParamPlateauFactor, 0.5),
		plateauScale:  1.0,
		bestLoss:      math.Inf(1),
	}
}

// LearningRate returns the rate the schedule assigns to the given epoch,
// counted from 0.
func (s *Scheduler) LearningRate(epoch int) float64 {
	lr := s.baseLR * s.plateauScale
	if s.decayEvery > 0 && s.decayFactor > 1 {
		lr /= math.Pow(s.decayFactor, float64(epoch/s.decayEvery))
	}
	return lr
}

// StartEpoch stores the epoch's learning rate in the optimizer's
// variable and returns it.
func (s *Scheduler) StartEpoch(epoch int) float64 {
	lr := s.LearningRate(epoch)
	lrVar := optimizers.LearningRateVar(s.ctx, dtypes.Float32, s.baseLR)
	must.M(lrVar.SetValue(tensors.FromScalar(float32(lr))))
	return lr
}

// OnValidation feeds an epoch's validation reveal loss to the plateau
// rule. The scale only ever shrinks; it resets the stagnation counter
// whenever it fires so reductions are at least patience epochs apart.
func (s *Scheduler) OnValidation(revealLoss float64) {
	if revealLoss < s.bestLoss {
		s.bestLoss = revealLoss
		s.badEpochs = 0
		return
	}
	s.badEpochs++
	if s.badEpochs > s.patience {
		s.plateauScale *= s.plateauFactor
		s.badEpochs = 0
	}
}
