package stego

import (
	"fmt"
	"math"
	"os"
	"path"
	"time"

	"github.com/SleepSupreme/sdh/imagefolder"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/gomlx/ui/gonb/plotly"
	"github.com/janpfeifer/must"
)

// Context parameters steering the training loop, as opposed to the model
// architecture parameters in config.go.
const (
	// ParamBatchSize is the training batch size.
	ParamBatchSize = "batch_size"

	// ParamEvalBatchSize is the batch size for evaluation passes. Zero
	// falls back to the training batch size.
	ParamEvalBatchSize = "eval_batch_size"

	// ParamEpochs is the total number of epochs to train, counting epochs
	// already run by a loaded checkpoint.
	ParamEpochs = "epochs"

	// ParamStepsPerEpoch is the number of optimizer steps per epoch. Zero
	// derives it from the number of secret/cover pairs.
	ParamStepsPerEpoch = "steps_per_epoch"

	// ParamNumCheckpoints is how many newest checkpoints to keep.
	ParamNumCheckpoints = "num_checkpoints"

	// ParamResultsEvery is the epoch period for saving qualitative result
	// grids. Zero disables them.
	ParamResultsEvery = "results_every"

	// ParamValidationFraction is the fraction of image pairs held out for
	// validation.
	ParamValidationFraction = "validation_fraction"

	// ParamSeed seeds key sampling and the train/validation split.
	ParamSeed = "seed"
)

// CreateDefaultContext sets the context with default hyperparameters to use with Train.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.ResetRNGState()
	ctx.SetParams(map[string]any{
		ParamBatchSize:          10,
		ParamEvalBatchSize:      10,
		ParamEpochs:             100,
		ParamStepsPerEpoch:      0,
		ParamNumCheckpoints:     3,
		ParamResultsEvery:       10,
		ParamValidationFraction: 0.1,
		ParamSeed:               42,

		// "plots" saves evaluation points along the checkpoint directory
		// during training, for plotting (with Plotly when in GoNB).
		plotly.ParamPlots: true,

		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 0.001,

		// Learning-rate schedule, see scheduler.go.
		ParamLRDecayEvery:    30,
		ParamLRDecayFactor:   10.0,
		ParamPlateauPatience: 8,
		ParamPlateauFactor:   0.5,
	})
	// Model architecture and attack-simulation defaults.
	ctx.SetParams(DefaultParams())
	return ctx
}

// Train runs the full training loop: pairing the secrets and covers
// directories into datasets, building the hiding/reveal networks and
// training them jointly for the configured number of epochs.
//
// Two checkpoints are maintained under checkpointPath: the newest state,
// written continuously and reloaded on resume, and under a "best"
// subdirectory the state with the lowest validation APD sum seen so far.
// An empty checkpointPath trains from scratch without saving.
func Train(ctx *context.Context, secretsDir, coversDir, dataDir, checkpointPath string, evaluateOnEnd bool, paramsSet []string) {
	dataDir = fsutil.MustReplaceTildeInDir(dataDir)
	if !fsutil.MustFileExists(dataDir) {
		must.M(os.MkdirAll(dataDir, 0777))
	}
	secretsDir = fsutil.MustReplaceTildeInDir(secretsDir)
	coversDir = fsutil.MustReplaceTildeInDir(coversDir)

	cfg := must.M1(FromContext(ctx))
	batchSize := context.GetParamOr(ctx, ParamBatchSize, 10)
	evalBatchSize := context.GetParamOr(ctx, ParamEvalBatchSize, 0)
	if evalBatchSize <= 0 {
		evalBatchSize = batchSize
	}
	if cfg.Attack != AttackIdentity {
		// The attack layer slices the batch in fifths.
		if batchSize < 5 || evalBatchSize < 5 {
			exceptions.Panicf("attack %q requires batch sizes of at least 5, got batch_size=%d, eval_batch_size=%d",
				cfg.Attack, batchSize, evalBatchSize)
		}
	}

	// Checkpoints: "best" is built first and "newest" second, so on resume
	// the newest values are the ones left loaded in the context.
	numCheckpoints := context.GetParamOr(ctx, ParamNumCheckpoints, 3)
	excluded := append(paramsSet,
		plotly.ParamPlots,
		ParamNumCheckpoints,
		ParamEpochs,
		ParamResultsEvery,
	)
	var bestCheckpoint, newestCheckpoint *checkpoints.Handler
	if checkpointPath != "" {
		bestCheckpoint = must.M1(checkpoints.Build(ctx).
			DirFromBase(path.Join(checkpointPath, "best"), dataDir).
			ExcludeParams(excluded...).
			Keep(1).Done())
		newestCheckpoint = must.M1(checkpoints.Build(ctx).
			DirFromBase(checkpointPath, dataDir).
			ExcludeParams(excluded...).
			Keep(numCheckpoints).Done())
	}

	// Image pairs, split into train and validation.
	backend := backends.MustNew()
	folders := &imagefolder.Configuration{
		SecretsDir:         secretsDir,
		CoversDir:          coversDir,
		ImageSize:          cfg.ImageSize,
		Channels:           cfg.Channels,
		BatchSize:          batchSize,
		EvalBatchSize:      evalBatchSize,
		ValidationFraction: context.GetParamOr(ctx, ParamValidationFraction, 0.1),
		Seed:               int64(context.GetParamOr(ctx, ParamSeed, 42)),
	}
	trainDS, trainEvalDS, validationDS, numTrainPairs := imagefolder.CreateDatasets(backend, folders)
	stepsPerEpoch := context.GetParamOr(ctx, ParamStepsPerEpoch, 0)
	if stepsPerEpoch <= 0 {
		stepsPerEpoch = numTrainPairs / batchSize
	}

	if cfg.Keyed() {
		seed := int64(context.GetParamOr(ctx, ParamSeed, 42))
		trainDS = WithKeys(trainDS, cfg.KeyLen, seed)
		trainEvalDS = WithKeys(trainEvalDS, cfg.KeyLen, seed+1)
		validationDS = WithKeys(validationDS, cfg.KeyLen, seed+2)
	}

	// Fixed validation batch reused for every result grid.
	resultsEvery := context.GetParamOr(ctx, ParamResultsEvery, 0)
	var gridInputs []*tensors.Tensor
	if newestCheckpoint != nil && resultsEvery > 0 {
		var err error
		_, gridInputs, _, err = validationDS.Yield()
		must.M(err)
		validationDS.Reset()
	}

	// Create a train.Trainer: this object will orchestrate running the model, feeding
	// results to the optimizer, evaluating the metrics, etc. (all happens in trainer.TrainStep)
	modelFn := ModelGraphFn(cfg)
	trainer := train.NewTrainer(backend, ctx, modelFn,
		TotalLoss,
		optimizers.FromContext(ctx),
		TrainMetrics(),
		EvalMetrics())

	loop := train.NewLoop(trainer)
	commandline.AttachProgressBar(loop) // Attaches a progress bar to the loop.

	// Attach a checkpoint: checkpoint every 3 minutes of training, and at
	// the end of every epoch.
	if newestCheckpoint != nil {
		period := time.Minute * 3
		train.PeriodicCallback(loop, period, true, "saving checkpoint", 100,
			func(loop *train.Loop, metrics []*tensors.Tensor) error {
				return newestCheckpoint.Save()
			})
	}

	// Attach Plotly plots: plot points at exponential steps.
	// The points generated are saved along the checkpoint directory (if one is given).
	if context.GetParamOr(ctx, plotly.ParamPlots, false) {
		_ = plotly.New().
			WithCheckpoint(newestCheckpoint).
			Dynamic().
			WithDatasets(trainEvalDS, validationDS).
			ScheduleExponential(loop, 200, 1.2).
			WithBatchNormalizationAveragesUpdate(trainEvalDS)
	}

	// Inference-mode pass over the grid batch, sharing the training variables.
	var gridExec *context.Exec
	if gridInputs != nil {
		gridExec = context.MustNewExec(backend, ctx.Reuse(), func(ctx *context.Context, inputs []*Node) []*Node {
			g := inputs[0].Graph()
			ctx.SetTraining(g, false) // Some layers behave differently in train/eval.
			outputs := modelFn(ctx, nil, inputs)
			return []*Node{outputs[OutContainer], outputs[OutRevealed], outputs[OutRevealedFake]}
		})
	}

	epochs := context.GetParamOr(ctx, ParamEpochs, 0)
	globalStep := int(optimizers.GetGlobalStep(ctx))
	if globalStep > 0 {
		trainer.SetContext(ctx.Reuse())
	}
	startEpoch := globalStep / stepsPerEpoch
	if startEpoch > 0 {
		fmt.Printf("Resuming from global step %d (epoch %d).\n", globalStep, startEpoch)
	}
	if startEpoch >= epochs {
		fmt.Printf("\t- target epochs=%d already reached (global step %d). To train further, increase epochs.\n",
			epochs, globalStep)
	}

	scheduler := NewScheduler(ctx)
	bestSum := math.Inf(1)
	for epoch := startEpoch; epoch < epochs; epoch++ {
		lr := scheduler.StartEpoch(epoch)
		fmt.Printf("Epoch %d/%d (learning rate %.3g):\n", epoch+1, epochs, lr)
		_ = must.M1(loop.RunSteps(trainDS, stepsPerEpoch))
		if epoch == startEpoch {
			fmt.Printf("\t%d parameters in the context\n", ctx.NumParameters())
		}

		// Validation pass.
		evalValues := must.M1(trainer.Eval(validationDS))
		var hAPD, rAPD, fAPD, rLoss float64
		for i, metric := range trainer.EvalMetrics() {
			switch metric.ShortName() {
			case "h_apd":
				hAPD = float64(tensors.ToScalar[float32](evalValues[i]))
			case "r_apd":
				rAPD = float64(tensors.ToScalar[float32](evalValues[i]))
			case "f_apd":
				fAPD = float64(tensors.ToScalar[float32](evalValues[i]))
			case "r_loss":
				rLoss = float64(tensors.ToScalar[float32](evalValues[i]))
			}
		}
		validationDS.Reset()
		fmt.Printf("\tvalidation: hiding %.2f, reveal %.2f, fake %.2f (APD), reveal loss %.5g\n",
			hAPD, rAPD, fAPD, rLoss)
		scheduler.OnValidation(rLoss)

		if sum := hAPD + rAPD + fAPD; bestCheckpoint != nil && sum < bestSum {
			bestSum = sum
			fmt.Printf("\tnew best validation APD sum %.2f, saving\n", sum)
			must.M(bestCheckpoint.Save())
		}

		if gridExec != nil && ((epoch+1)%resultsEvery == 0 || epoch+1 == epochs) {
			saveEpochGrid(gridExec, gridInputs, newestCheckpoint.Dir(), epoch+1, cfg.Keyed())
		}
	}
	fmt.Printf("\t[Step %d] median train step: %d microseconds\n",
		loop.LoopStep, loop.MedianTrainStepDuration().Microseconds())
	fmt.Printf("Training done (global_step=%d).\n", optimizers.GetGlobalStep(ctx))

	if must.M1(batchnorm.UpdateAverages(trainer, trainEvalDS)) {
		fmt.Println("\tUpdated batch normalization mean/variances averages.")
		if newestCheckpoint != nil {
			must.M(newestCheckpoint.Save())
		}
	}

	// Finally, print an evaluation on train and validation datasets.
	if evaluateOnEnd {
		fmt.Println()
		must.M(commandline.ReportEval(trainer, trainEvalDS, validationDS))
		fmt.Println()
	}
}

// saveEpochGrid runs the model on the fixed grid batch and writes the
// qualitative result grid for the epoch into dir.
func saveEpochGrid(gridExec *context.Exec, gridInputs []*tensors.Tensor, dir string, epoch int, keyed bool) {
	args := make([]any, len(gridInputs))
	for i, t := range gridInputs {
		args[i] = t
	}
	outputs := must.M1(gridExec.Exec(args...))
	secret, cover := gridInputs[0], gridInputs[1]
	container, revealed, revealedFake := outputs[0], outputs[1], outputs[2]
	if !keyed {
		revealedFake = nil
	}
	name := path.Join(dir, fmt.Sprintf("result-epoch-%04d.png", epoch))
	must.M(SaveResultGrid(name, cover, container, secret, revealed, revealedFake))
	fmt.Printf("\tresult grid saved to %s\n", name)
}
