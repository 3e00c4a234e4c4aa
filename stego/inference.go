package stego

import (
	"image"

	"github.com/SleepSupreme/sdh/imagefolder"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
)

// InferenceModel runs a trained model on individual images: hiding a
// secret inside a cover and revealing it back. The configuration and
// weights come from a training checkpoint; keys are derived from
// passphrases instead of sampled.
type InferenceModel struct {
	backend backends.Backend
	ctx     *context.Context
	cfg     *Config

	hide   *context.Exec
	reveal *context.Exec
}

// LoadInferenceModel restores the configuration and weights saved under
// checkpointDir and builds the hide and reveal executables over them. It
// fails if the directory holds no checkpoint.
func LoadInferenceModel(backend backends.Backend, checkpointDir string) (*InferenceModel, error) {
	ctx := context.New()
	_, err := checkpoints.Load(ctx).Dir(checkpointDir).Done()
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to load checkpoint from %q", checkpointDir)
	}
	cfg, err := FromContext(ctx)
	if err != nil {
		return nil, err
	}
	m := &InferenceModel{backend: backend, ctx: ctx, cfg: cfg}
	m.hide = context.MustNewExec(backend, ctx.Reuse(), m.hideGraph)
	m.reveal = context.MustNewExec(backend, ctx.Reuse(), m.revealGraph)
	return m, nil
}

// Config returns the restored model configuration.
func (m *InferenceModel) Config() *Config { return m.cfg }

// hideGraph builds the hiding pass: inputs are [secret, cover], plus the
// key for keyed models, the output is the container.
func (m *InferenceModel) hideGraph(ctx *context.Context, inputs []*Node) *Node {
	g := inputs[0].Graph()
	ctx.SetTraining(g, false) // Some layers behave differently in train/eval.
	ctx = ctx.In("model")
	cfg := m.cfg
	secret, cover := inputs[0], inputs[1]
	batch := secret.Shape().Dimensions[0]
	hidingIn := secret
	if cfg.CoverDependent {
		hidingIn = Concatenate([]*Node{cover, secret}, -1)
	}
	var tile *Node
	if cfg.Keyed() {
		tile = keyTile(ctx.In("hiding"), cfg, inputs[2], batch)
	}
	hidden := HidingNetwork(ctx, cfg, hidingIn, tile)
	if cfg.CoverDependent {
		return hidden
	}
	return Add(hidden, cover)
}

// revealGraph builds the reveal pass: inputs are [container], plus the
// key for keyed models, the output is the recovered secret.
func (m *InferenceModel) revealGraph(ctx *context.Context, inputs []*Node) *Node {
	g := inputs[0].Graph()
	ctx.SetTraining(g, false)
	ctx = ctx.In("model")
	cfg := m.cfg
	container := inputs[0]
	batch := container.Shape().Dimensions[0]
	var tile *Node
	if cfg.Keyed() {
		tile = keyTile(ctx.In("reveal"), cfg, inputs[1], batch)
	}
	return RevealNetwork(ctx, cfg, container, tile)
}

// passphraseTensor maps a passphrase to the model's key tensor. Keyless
// models take no passphrase, keyed models require one.
func (m *InferenceModel) passphraseTensor(passphrase string) (*tensors.Tensor, error) {
	if !m.cfg.Keyed() {
		if passphrase != "" {
			return nil, errors.Errorf("model was trained without a key, remove the passphrase")
		}
		return nil, nil
	}
	if passphrase == "" {
		return nil, errors.Errorf("model was trained with a %d-bit key, a passphrase is required", m.cfg.KeyLen)
	}
	return KeyTensor(PassphraseKey(passphrase, m.cfg.KeyLen)), nil
}

// Hide embeds secret inside cover and returns the container image. Both
// images are resized to the trained edge size if needed.
func (m *InferenceModel) Hide(cover, secret image.Image, passphrase string) (image.Image, error) {
	key, err := m.passphraseTensor(passphrase)
	if err != nil {
		return nil, err
	}
	var container image.Image
	err = exceptions.TryCatch[error](func() {
		secretT := must.M1(imagefolder.ImagesToBatch([]image.Image{secret}, m.cfg.ImageSize, m.cfg.Channels))
		coverT := must.M1(imagefolder.ImagesToBatch([]image.Image{cover}, m.cfg.ImageSize, m.cfg.Channels))
		args := []any{secretT, coverT}
		if key != nil {
			args = append(args, key)
		}
		outputs := must.M1(m.hide.Exec(args...))
		container = must.M1(imagefolder.BatchToImages(outputs[0]))[0]
	})
	if err != nil {
		return nil, err
	}
	return container, nil
}

// Reveal recovers the secret hidden inside the container image.
func (m *InferenceModel) Reveal(container image.Image, passphrase string) (image.Image, error) {
	key, err := m.passphraseTensor(passphrase)
	if err != nil {
		return nil, err
	}
	var secret image.Image
	err = exceptions.TryCatch[error](func() {
		containerT := must.M1(imagefolder.ImagesToBatch([]image.Image{container}, m.cfg.ImageSize, m.cfg.Channels))
		args := []any{containerT}
		if key != nil {
			args = append(args, key)
		}
		outputs := must.M1(m.reveal.Exec(args...))
		secret = must.M1(imagefolder.BatchToImages(outputs[0]))[0]
	})
	if err != nil {
		return nil, err
	}
	return secret, nil
}
