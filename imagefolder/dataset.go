package imagefolder

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"slices"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
)

// fileDataset yields one decoded image per file, along with the file's
// index, so results can be reassembled in order after parallel decoding.
// Yield is safe for concurrent use and the dataset can be wrapped in
// datasets.Parallel.
type fileDataset struct {
	name     string
	paths    []string
	size     int
	channels int

	mu   sync.Mutex
	next int
}

var _ train.Dataset = (*fileDataset)(nil)

func (ds *fileDataset) Name() string { return ds.name }

func (ds *fileDataset) nextIndex() int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	index := ds.next
	ds.next++
	return index
}

func (ds *fileDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	spec = ds
	index := ds.nextIndex()
	if index >= len(ds.paths) {
		err = io.EOF
		return
	}
	img, err := imaging.Open(ds.paths[index])
	if err != nil {
		err = errors.Wrapf(err, "failed to decode image %q", ds.paths[index])
		return
	}
	flat := imageToFlat(img, ds.size, ds.channels)
	inputs = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(flat, ds.size, ds.size, ds.channels)}
	labels = []*tensors.Tensor{tensors.FromValue(int32(index))}
	return
}

func (ds *fileDataset) Reset() {
	ds.mu.Lock()
	ds.next = 0
	ds.mu.Unlock()
}

// loadImageTensor decodes every file in paths, in parallel, into a single
// tensor shaped [len(paths), size, size, channels].
func loadImageTensor(paths []string, size, channels int, desc string) (*tensors.Tensor, error) {
	numImages := len(paths)
	all := tensors.FromShape(shapes.Make(dtypes.Float32, numImages, size, size, channels))
	imageLen := size * size * channels
	var err error
	tensors.MustMutableFlatData[float32](all, func(flatAll []float32) {
		ds := datasets.Parallel(&fileDataset{name: desc, paths: paths, size: size, channels: channels})
		pbar := progressbar.Default(int64(numImages), "Decoding "+desc)
		for range numImages {
			_, inputs, labels, yieldErr := ds.Yield()
			if yieldErr != nil {
				err = errors.WithMessagef(yieldErr, "failed to decode all %s", desc)
				return
			}
			image := inputs[0]
			if err = image.Shape().Check(dtypes.Float32, size, size, channels); err != nil {
				err = errors.WithMessagef(err, "unexpected image shape %s while decoding %s", image.Shape(), desc)
				return
			}
			index := int(tensors.ToScalar[int32](labels[0]))
			tensors.MustConstFlatData[float32](image, func(flatImage []float32) {
				copy(flatAll[index*imageLen:], flatImage)
			})
			_ = pbar.Add(1)
		}
		_ = pbar.Finish()
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}

// pairedPaths lists both directories and truncates to the shorter one.
func pairedPaths(config *Configuration) (secrets, covers []string) {
	secrets = must.M1(listImages(config.SecretsDir))
	covers = must.M1(listImages(config.CoversDir))
	if len(secrets) != len(covers) {
		n := min(len(secrets), len(covers))
		fmt.Printf("> found %d secrets and %d covers, pairing the first %d of each\n",
			len(secrets), len(covers), n)
		secrets = secrets[:n]
		covers = covers[:n]
	}
	return
}

func selectPaths(paths []string, indices []int) []string {
	selected := make([]string, 0, len(indices))
	for _, index := range indices {
		selected = append(selected, paths[index])
	}
	return selected
}

// CreateDatasets decodes every secret/cover pair into memory, splits them
// into train and validation sides and returns the three datasets used
// during training: trainDS loops forever over shuffled training batches,
// while trainEvalDS and validationDS go over their side once per use.
// All three drop incomplete batches, since the attack layer needs a fixed
// batch size. numTrainPairs is the number of pairs on the training side.
//
// It panics on I/O errors and on a split that leaves either side with
// fewer pairs than one batch.
func CreateDatasets(backend backends.Backend, config *Configuration) (trainDS, trainEvalDS, validationDS train.Dataset, numTrainPairs int) {
	secretPaths, coverPaths := pairedPaths(config)
	n := len(secretPaths)
	numValidation := int(math.Round(config.ValidationFraction * float64(n)))
	numTrainPairs = n - numValidation
	if numTrainPairs < config.BatchSize {
		exceptions.Panicf("only %d training pairs left by validation_fraction=%g, need at least batch_size=%d",
			numTrainPairs, config.ValidationFraction, config.BatchSize)
	}
	if numValidation < config.EvalBatchSize {
		exceptions.Panicf("validation split has %d pairs, fewer than eval_batch_size=%d: "+
			"raise validation_fraction or lower eval_batch_size", numValidation, config.EvalBatchSize)
	}

	perm := rand.New(rand.NewSource(config.Seed)).Perm(n)
	validationIdx := slices.Clone(perm[:numValidation])
	trainIdx := slices.Clone(perm[numValidation:])
	slices.Sort(validationIdx)
	slices.Sort(trainIdx)
	fmt.Printf("> %d image pairs: %d to train, %d to validate\n", n, numTrainPairs, numValidation)

	trainSecrets := must.M1(loadImageTensor(selectPaths(secretPaths, trainIdx), config.ImageSize, config.Channels, "train secrets"))
	trainCovers := must.M1(loadImageTensor(selectPaths(coverPaths, trainIdx), config.ImageSize, config.Channels, "train covers"))
	baseTrain := must.M1(datasets.InMemoryFromData(backend, "train",
		[]any{trainSecrets, trainCovers}, []any{trainSecrets}))

	validationSecrets := must.M1(loadImageTensor(selectPaths(secretPaths, validationIdx), config.ImageSize, config.Channels, "validation secrets"))
	validationCovers := must.M1(loadImageTensor(selectPaths(coverPaths, validationIdx), config.ImageSize, config.Channels, "validation covers"))
	baseValidation := must.M1(datasets.InMemoryFromData(backend, "validation",
		[]any{validationSecrets, validationCovers}, []any{validationSecrets}))

	trainDS = baseTrain.Copy().BatchSize(config.BatchSize, true).Shuffle().Infinite(true)
	trainEvalDS = baseTrain.BatchSize(config.EvalBatchSize, true)
	validationDS = baseValidation.BatchSize(config.EvalBatchSize, true)
	return
}

// CreateEvalDataset decodes every secret/cover pair, with no validation
// split, and returns a single pass of evaluation batches plus the number
// of pairs. The last batch may be smaller than EvalBatchSize. It panics
// on I/O errors.
func CreateEvalDataset(backend backends.Backend, config *Configuration) (train.Dataset, int) {
	secretPaths, coverPaths := pairedPaths(config)
	secrets := must.M1(loadImageTensor(secretPaths, config.ImageSize, config.Channels, "secrets"))
	covers := must.M1(loadImageTensor(coverPaths, config.ImageSize, config.Channels, "covers"))
	base := must.M1(datasets.InMemoryFromData(backend, "evaluation",
		[]any{secrets, covers}, []any{secrets}))
	return base.BatchSize(config.EvalBatchSize, false), len(secretPaths)
}
