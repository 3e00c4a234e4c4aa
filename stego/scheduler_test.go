package stego

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func schedulerContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		optimizers.ParamLearningRate: 0.1,
		ParamLRDecayEvery:            2,
		ParamLRDecayFactor:           10.0,
		ParamPlateauPatience:         1,
		ParamPlateauFactor:           0.5,
	})
	return ctx
}

func TestSchedulerStepDecay(t *testing.T) {
	s := NewScheduler(schedulerContext())
	assert.InDelta(t, 0.1, s.LearningRate(0), 1e-12)
	assert.InDelta(t, 0.1, s.LearningRate(1), 1e-12)
	assert.InDelta(t, 0.01, s.LearningRate(2), 1e-12)
	assert.InDelta(t, 0.01, s.LearningRate(3), 1e-12)
	assert.InDelta(t, 0.001, s.LearningRate(4), 1e-12)
}

func TestSchedulerPlateau(t *testing.T) {
	s := NewScheduler(schedulerContext())

	s.OnValidation(1.0)
	s.OnValidation(0.5)
	assert.InDelta(t, 0.1, s.LearningRate(0), 1e-12)

	// One stagnant epoch stays within the patience.
	s.OnValidation(0.6)
	assert.InDelta(t, 0.1, s.LearningRate(0), 1e-12)

	// The second one fires the plateau rule.
	s.OnValidation(0.7)
	assert.InDelta(t, 0.05, s.LearningRate(0), 1e-12)

	// The plateau scale composes with the step decay.
	assert.InDelta(t, 0.005, s.LearningRate(2), 1e-12)

	// An improvement resets the stagnation counter but keeps the scale.
	s.OnValidation(0.4)
	s.OnValidation(0.5)
	s.OnValidation(0.5)
	assert.InDelta(t, 0.025, s.LearningRate(0), 1e-12)
}

func TestSchedulerStartEpoch(t *testing.T) {
	ctx := schedulerContext()
	s := NewScheduler(ctx)
	require.InDelta(t, 0.01, s.StartEpoch(2), 1e-12)

	lrVar := optimizers.LearningRateVar(ctx, dtypes.Float32, 0.1)
	value := tensors.ToScalar[float32](must.M1(lrVar.Value()))
	assert.InDelta(t, 0.01, value, 1e-6)
}

func TestSchedulerDefaults(t *testing.T) {
	s := NewScheduler(context.New())
	assert.InDelta(t, 0.001, s.LearningRate(0), 1e-12)
	assert.InDelta(t, 0.001, s.LearningRate(29), 1e-12)
	assert.InDelta(t, 0.0001, s.LearningRate(30), 1e-12)
}
