package stego

import (
	"crypto/md5"
	"math/rand"
	"slices"
	"sync"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/train"
)

// SampleKey draws a uniform random binary key of the given length.
func SampleKey(rng *rand.Rand, length int) []float32 {
	key := make([]float32, length)
	for i := range key {
		if rng.Intn(2) == 1 {
			key[i] = 1
		}
	}
	return key
}

// SampleFakeKey draws a random key of the same length as realKey,
// resampling until the two differ. Returns nil for an empty realKey, for
// which no distinct key exists.
func SampleFakeKey(rng *rand.Rand, realKey []float32) []float32 {
	if len(realKey) == 0 {
		return nil
	}
	for {
		fake := SampleKey(rng, len(realKey))
		if !slices.Equal(fake, realKey) {
			return fake
		}
	}
}

// PassphraseKey derives a deterministic binary key from a passphrase: the
// MD5 digest of the passphrase provides 128 bits, repeated cyclically
// (most significant bit first) up to the requested length.
func PassphraseKey(passphrase string, length int) []float32 {
	digest := md5.Sum([]byte(passphrase))
	key := make([]float32, length)
	for i := range key {
		b := digest[(i/8)%len(digest)]
		key[i] = float32(b >> (7 - uint(i%8)) & 1)
	}
	return key
}

// KeyTensor converts key bits to the rank-1 tensor the model graphs take
// as input.
func KeyTensor(key []float32) *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions(key, len(key))
}

// TileKey broadcasts a rank-1 key over the image plane: position x along
// the width axis carries key bit x, constant across batch, height and
// channels. The key length must equal the image width.
func TileKey(key *Node, batch, height, width, channels int) *Node {
	if key.Rank() != 1 {
		exceptions.Panicf("key must be rank-1, got shape %s", key.Shape())
	}
	length := key.Shape().Dimensions[0]
	if length != width {
		exceptions.Panicf("cannot tile a key of length %d over images of width %d, lengths must match",
			length, width)
	}
	key = Reshape(key, 1, 1, width, 1)
	return BroadcastToDims(key, batch, height, width, channels)
}

// EncodeKey projects a rank-1 key through a learned linear layer into an
// r×r patch with the image's channel count, then tiles the patch over the
// full [batch, height, width, channels] extent. Height and width must be
// divisible by r.
func EncodeKey(ctx *context.Context, key *Node, batch, height, width, channels, r int) *Node {
	if key.Rank() != 1 {
		exceptions.Panicf("key must be rank-1, got shape %s", key.Shape())
	}
	if r <= 0 || height%r != 0 || width%r != 0 {
		exceptions.Panicf("image size %dx%d is not divisible by the key redundancy patch size %d",
			height, width, r)
	}
	ctx = ctx.In("key_encoder")
	patch := layers.DenseWithBias(ctx, ExpandAxes(key, 0), r*r*channels)
	patch = Reshape(patch, 1, 1, r, 1, r, channels)
	tiled := BroadcastToDims(patch, batch, height/r, r, width/r, r, channels)
	return Reshape(tiled, batch, height, width, channels)
}

// keyTile builds the image-shaped tile for a key in the configured mode.
// In learned mode the projection weights live under the given context
// scope, so the hiding and reveal networks each learn their own encoder.
func keyTile(ctx *context.Context, cfg *Config, key *Node, batch int) *Node {
	if cfg.KeyMode == KeyLearned {
		return EncodeKey(ctx, key, batch, cfg.ImageSize, cfg.ImageSize, cfg.Channels, cfg.Redundancy)
	}
	return TileKey(key, batch, cfg.ImageSize, cfg.ImageSize, cfg.Channels)
}

// keyedDataset appends a freshly sampled real and fake key to each batch
// of an underlying [secret, cover] dataset.
type keyedDataset struct {
	ds     train.Dataset
	keyLen int

	mu  sync.Mutex
	rng *rand.Rand
}

var _ train.Dataset = &keyedDataset{}

// WithKeys wraps a dataset yielding [secret, cover] inputs so that it
// yields [secret, cover, key, fakeKey], sampling one key pair per batch.
// The fake key is guaranteed distinct from the real one. A non-positive
// key length returns the dataset unchanged.
func WithKeys(ds train.Dataset, keyLen int, seed int64) train.Dataset {
	if keyLen <= 0 {
		return ds
	}
	return &keyedDataset{
		ds:     ds,
		keyLen: keyLen,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

func (ds *keyedDataset) Name() string { return ds.ds.Name() }

// ShortName implements train.HasShortName for plot labels.
func (ds *keyedDataset) ShortName() string {
	if sn, ok := ds.ds.(train.HasShortName); ok {
		return sn.ShortName()
	}
	return ds.ds.Name()
}

func (ds *keyedDataset) Reset() { ds.ds.Reset() }

func (ds *keyedDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	spec, inputs, labels, err = ds.ds.Yield()
	if err != nil {
		return
	}
	ds.mu.Lock()
	realKey := SampleKey(ds.rng, ds.keyLen)
	fakeKey := SampleFakeKey(ds.rng, realKey)
	ds.mu.Unlock()
	inputs = append(inputs, KeyTensor(realKey), KeyTensor(fakeKey))
	return
}
