package stego

import (
	"fmt"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
)

// APDMetricType groups the average-pixel-difference metrics: mean
// absolute error scaled to the 0-255 pixel range.
const APDMetricType = "apd"

func apdPPrint(value *tensors.Tensor) string {
	return fmt.Sprintf("%.2f", tensors.ToScalar[float32](value))
}

// predictionMetric builds a metric graph that selects output idx from
// the model's predictions. The model already reduces its metrics to
// scalars.
func predictionMetric(idx int) metrics.BaseMetricGraph {
	return func(ctx *context.Context, labels, predictions []*Node) *Node {
		return predictions[idx]
	}
}

// TrainMetrics returns the moving-average APD metrics reported during
// training steps.
func TrainMetrics() []metrics.Interface {
	const weight = 0.01
	return []metrics.Interface{
		metrics.NewExponentialMovingAverageMetric(
			"Moving Average Hiding APD", "~h_apd", APDMetricType,
			predictionMetric(OutHidingAPD), apdPPrint, weight),
		metrics.NewExponentialMovingAverageMetric(
			"Moving Average Reveal APD", "~r_apd", APDMetricType,
			predictionMetric(OutRevealAPD), apdPPrint, weight),
		metrics.NewExponentialMovingAverageMetric(
			"Moving Average Fake Reveal APD", "~f_apd", APDMetricType,
			predictionMetric(OutFakeAPD), apdPPrint, weight),
	}
}

// EvalMetrics returns the mean metrics computed during evaluation: the
// three APDs, checked against the best-checkpoint rule, and the reveal
// loss the learning-rate plateau rule watches.
func EvalMetrics() []metrics.Interface {
	return []metrics.Interface{
		metrics.NewMeanMetric(
			"Mean Hiding APD", "h_apd", APDMetricType,
			predictionMetric(OutHidingAPD), apdPPrint),
		metrics.NewMeanMetric(
			"Mean Reveal APD", "r_apd", APDMetricType,
			predictionMetric(OutRevealAPD), apdPPrint),
		metrics.NewMeanMetric(
			"Mean Fake Reveal APD", "f_apd", APDMetricType,
			predictionMetric(OutFakeAPD), apdPPrint),
		metrics.NewMeanMetric(
			"Mean Reveal Loss", "r_loss", metrics.LossMetricType,
			predictionMetric(OutRevealLoss), nil),
	}
}
