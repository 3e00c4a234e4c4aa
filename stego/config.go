// Package stego implements a key-conditioned steganographic image hiding
// pipeline on top of GoMLX: a U-Net hiding network embeds a secret image
// into a cover image under a binary key, and a CNN reveal network recovers
// the secret only when given the same key. Training enforces the key
// requirement with a fake-key penalty that drives the reveal output to
// black under any key other than the real one, and a differentiable attack
// layer (noise, blur, resize, JPEG) between hiding and reveal makes the
// container robust to a lossy channel.
//
// Images are rank-4 float32 tensors in [0,1] with a channels-last layout,
// [batch, height, width, channels]. Keys are binary float32 vectors whose
// length defaults to the image width.
package stego

import (
	"strings"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

// Hyperparameter names used in the context params. They are set with
// defaults by DefaultParams, can be overridden in the command line with
// -set, and are saved along with checkpoints.
const (
	ParamImageSize      = "image_size"
	ParamChannels       = "channels"
	ParamNumDowns       = "num_downs"
	ParamHidingFilters  = "nhf"
	ParamRevealFilters  = "nrf"
	ParamNorm           = "norm"
	ParamDropout        = "dropout"
	ParamActivation     = "activation"
	ParamKeyLen         = "key_len"
	ParamKeyMode        = "key_mode"
	ParamRedundancy     = "redundancy"
	ParamCoverDependent = "cover_dependent"
	ParamBeta           = "beta"
	ParamGamma          = "gamma"
	ParamAttack         = "attack"
	ParamNoiseSigma     = "noise_sigma"
	ParamBlurKernel     = "blur_kernel"
	ParamBlurSigma      = "blur_sigma"
	ParamResizeFactor   = "resize_factor"
	ParamJPEGQuality    = "jpeg_quality"
)

// NormKind selects the normalization applied inside the hiding and reveal
// networks. It is parsed from the "norm" hyperparameter once, at
// configuration time.
type NormKind int

const (
	// NormBatch is batch normalization over the channels axis.
	NormBatch NormKind = iota
	// NormInstance normalizes each example over its spatial axes, with no
	// learned scale or offset.
	NormInstance
	// NormNone disables normalization.
	NormNone
)

// String implements fmt.Stringer.
func (n NormKind) String() string {
	switch n {
	case NormBatch:
		return "batch"
	case NormInstance:
		return "instance"
	case NormNone:
		return "none"
	}
	return "invalid"
}

// ParseNormKind converts the "norm" hyperparameter value.
func ParseNormKind(s string) (NormKind, error) {
	switch strings.ToLower(s) {
	case "batch":
		return NormBatch, nil
	case "instance":
		return NormInstance, nil
	case "none", "":
		return NormNone, nil
	}
	return 0, errors.Errorf("normalization %q is not implemented, valid values are batch, instance or none", s)
}

// OutputActivation selects the hiding network's final activation.
type OutputActivation int

const (
	// ActivationSigmoid maps the output to [0,1], the usual choice when the
	// network outputs the container directly.
	ActivationSigmoid OutputActivation = iota
	// ActivationTanh maps the output to a small bounded perturbation
	// (scaled by 10/255), the usual choice for cover-independent hiding
	// where the output is added onto the cover.
	ActivationTanh
)

// String implements fmt.Stringer.
func (a OutputActivation) String() string {
	if a == ActivationTanh {
		return "tanh"
	}
	return "sigmoid"
}

// ParseOutputActivation converts the "activation" hyperparameter value.
func ParseOutputActivation(s string) (OutputActivation, error) {
	switch strings.ToLower(s) {
	case "sigmoid":
		return ActivationSigmoid, nil
	case "tanh":
		return ActivationTanh, nil
	}
	return 0, errors.Errorf("output activation %q is not implemented, valid values are sigmoid or tanh", s)
}

// KeyMode selects how a key vector becomes an image-shaped tile.
type KeyMode int

const (
	// KeyTiled broadcasts the raw key along the width axis. Requires the key
	// length to equal the image width.
	KeyTiled KeyMode = iota
	// KeyLearned projects the key through a learned linear layer into an
	// r×r patch which is then tiled over the image plane.
	KeyLearned
)

// String implements fmt.Stringer.
func (m KeyMode) String() string {
	if m == KeyLearned {
		return "learned"
	}
	return "tiled"
}

// ParseKeyMode converts the "key_mode" hyperparameter value.
func ParseKeyMode(s string) (KeyMode, error) {
	switch strings.ToLower(s) {
	case "tiled":
		return KeyTiled, nil
	case "learned":
		return KeyLearned, nil
	}
	return 0, errors.Errorf("key mode %q is not implemented, valid values are tiled or learned", s)
}

// AttackKind selects the simulated channel distortion applied to containers
// before the reveal network.
type AttackKind int

const (
	AttackIdentity AttackKind = iota
	AttackNoise
	AttackBlur
	AttackResize
	AttackJPEG
	// AttackCombine splits each batch in five contiguous slices and applies
	// one distortion per slice: identity, noise, blur, resize and jpeg, in
	// this order.
	AttackCombine
)

// String implements fmt.Stringer.
func (a AttackKind) String() string {
	switch a {
	case AttackIdentity:
		return "identity"
	case AttackNoise:
		return "noise"
	case AttackBlur:
		return "blur"
	case AttackResize:
		return "resize"
	case AttackJPEG:
		return "jpeg"
	case AttackCombine:
		return "combine"
	}
	return "invalid"
}

// ParseAttackKind converts the "attack" hyperparameter value.
func ParseAttackKind(s string) (AttackKind, error) {
	switch strings.ToLower(s) {
	case "identity", "":
		return AttackIdentity, nil
	case "noise":
		return AttackNoise, nil
	case "blur":
		return AttackBlur, nil
	case "resize":
		return AttackResize, nil
	case "jpeg":
		return AttackJPEG, nil
	case "combine":
		return AttackCombine, nil
	}
	return 0, errors.Errorf("attack %q is not implemented, valid values are identity, noise, blur, resize, jpeg or combine", s)
}

// Config is the immutable model configuration, parsed and validated once
// from the context hyperparameters before any network is built. Everything
// that shapes the graphs lives here; training-schedule knobs (learning
// rate, batch size, epochs) stay in the context params and are read by the
// training loop directly.
type Config struct {
	// ImageSize is the height and width of all images. Images are square.
	ImageSize int
	// Channels per image, normally 3.
	Channels int

	// NumDowns is the U-Net depth, the number of 2x downsampling steps.
	// ImageSize must be divisible by 2^NumDowns.
	NumDowns int
	// HidingFilters (nhf) is the base filter count of the hiding network.
	HidingFilters int
	// RevealFilters (nrf) is the base filter count of the reveal network.
	RevealFilters int

	Norm    NormKind
	Dropout bool
	Output  OutputActivation

	// KeyLen is the binary key length. Zero disables the key path entirely
	// and the networks run on images alone.
	KeyLen int
	// KeyMode selects direct tiling or the learned projection.
	KeyMode KeyMode
	// Redundancy is the side r of the patch the learned key projection
	// produces. ImageSize must be divisible by it.
	Redundancy int

	// CoverDependent selects DDH (the hiding network sees cover and secret)
	// over UDH (it sees only the secret and its output is added onto the
	// cover).
	CoverDependent bool

	// Beta weighs the reveal loss and Gamma the fake-key penalty in the
	// total training loss.
	Beta  float64
	Gamma float64

	Attack       AttackKind
	NoiseSigma   float64
	BlurKernel   int
	BlurSigma    float64
	ResizeFactor float64
	JPEGQuality  int
}

// DefaultParams are the hyperparameter defaults, meant to be handed to
// Context.SetParams before flag overrides are applied.
func DefaultParams() map[string]any {
	return map[string]any{
		ParamImageSize:      256,
		ParamChannels:       3,
		ParamNumDowns:       7,
		ParamHidingFilters:  64,
		ParamRevealFilters:  64,
		ParamNorm:           "batch",
		ParamDropout:        false,
		ParamActivation:     "sigmoid",
		ParamKeyLen:         256,
		ParamKeyMode:        "tiled",
		ParamRedundancy:     16,
		ParamCoverDependent: true,
		ParamBeta:           0.75,
		ParamGamma:          0.25,
		ParamAttack:         "identity",
		ParamNoiseSigma:     0.01,
		ParamBlurKernel:     5,
		ParamBlurSigma:      1.0,
		ParamResizeFactor:   0.5,
		ParamJPEGQuality:    50,
	}
}

// FromContext reads and validates the model configuration from the context
// hyperparameters.
func FromContext(ctx *context.Context) (*Config, error) {
	cfg := &Config{
		ImageSize:      context.GetParamOr(ctx, ParamImageSize, 256),
		Channels:       context.GetParamOr(ctx, ParamChannels, 3),
		NumDowns:       context.GetParamOr(ctx, ParamNumDowns, 7),
		HidingFilters:  context.GetParamOr(ctx, ParamHidingFilters, 64),
		RevealFilters:  context.GetParamOr(ctx, ParamRevealFilters, 64),
		Dropout:        context.GetParamOr(ctx, ParamDropout, false),
		KeyLen:         context.GetParamOr(ctx, ParamKeyLen, 256),
		Redundancy:     context.GetParamOr(ctx, ParamRedundancy, 16),
		CoverDependent: context.GetParamOr(ctx, ParamCoverDependent, true),
		Beta:           context.GetParamOr(ctx, ParamBeta, 0.75),
		Gamma:          context.GetParamOr(ctx, ParamGamma, 0.25),
		NoiseSigma:     context.GetParamOr(ctx, ParamNoiseSigma, 0.01),
		BlurKernel:     context.GetParamOr(ctx, ParamBlurKernel, 5),
		BlurSigma:      context.GetParamOr(ctx, ParamBlurSigma, 1.0),
		ResizeFactor:   context.GetParamOr(ctx, ParamResizeFactor, 0.5),
		JPEGQuality:    context.GetParamOr(ctx, ParamJPEGQuality, 50),
	}
	var err error
	if cfg.Norm, err = ParseNormKind(context.GetParamOr(ctx, ParamNorm, "batch")); err != nil {
		return nil, err
	}
	if cfg.Output, err = ParseOutputActivation(context.GetParamOr(ctx, ParamActivation, "sigmoid")); err != nil {
		return nil, err
	}
	if cfg.KeyMode, err = ParseKeyMode(context.GetParamOr(ctx, ParamKeyMode, "tiled")); err != nil {
		return nil, err
	}
	if cfg.Attack, err = ParseAttackKind(context.GetParamOr(ctx, ParamAttack, "identity")); err != nil {
		return nil, err
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the cross-field constraints. It is called by FromContext
// and by the network constructors, so a hand-built Config is checked too.
func (c *Config) Validate() error {
	if c.ImageSize <= 0 || c.Channels <= 0 {
		return errors.Errorf("invalid image geometry %dx%dx%d, sizes must be positive",
			c.ImageSize, c.ImageSize, c.Channels)
	}
	if c.NumDowns < 5 {
		return errors.Errorf("num_downs=%d is too shallow, the U-Net needs at least 5 downsampling steps", c.NumDowns)
	}
	if c.ImageSize%(1<<uint(c.NumDowns)) != 0 {
		return errors.Errorf("image size %d is not divisible by 2^num_downs=%d",
			c.ImageSize, 1<<uint(c.NumDowns))
	}
	if c.HidingFilters <= 0 || c.RevealFilters <= 0 {
		return errors.Errorf("filter counts must be positive, got nhf=%d nrf=%d",
			c.HidingFilters, c.RevealFilters)
	}
	if c.KeyLen < 0 {
		return errors.Errorf("key length %d must be zero (no key) or positive", c.KeyLen)
	}
	if c.KeyLen > 0 {
		switch c.KeyMode {
		case KeyTiled:
			if c.KeyLen != c.ImageSize {
				return errors.Errorf("tiled key mode requires key length (%d) to equal the image width (%d)",
					c.KeyLen, c.ImageSize)
			}
		case KeyLearned:
			if c.Redundancy <= 0 {
				return errors.Errorf("redundancy %d must be positive in learned key mode", c.Redundancy)
			}
			if c.ImageSize%c.Redundancy != 0 {
				return errors.Errorf("image size %d is not divisible by the key redundancy patch size %d",
					c.ImageSize, c.Redundancy)
			}
		}
	}
	if c.Beta < 0 || c.Gamma < 0 {
		return errors.Errorf("loss weights must be non-negative, got beta=%g gamma=%g", c.Beta, c.Gamma)
	}
	if c.NoiseSigma < 0 {
		return errors.Errorf("noise sigma %g must be non-negative", c.NoiseSigma)
	}
	if c.BlurKernel <= 0 || c.BlurKernel%2 == 0 {
		return errors.Errorf("blur kernel size %d must be positive and odd", c.BlurKernel)
	}
	if c.BlurSigma <= 0 {
		return errors.Errorf("blur sigma %g must be positive", c.BlurSigma)
	}
	if c.ResizeFactor <= 0 || c.ResizeFactor >= 1 {
		return errors.Errorf("resize factor %g must be in (0, 1)", c.ResizeFactor)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return errors.Errorf("jpeg quality %d must be in [1, 100]", c.JPEGQuality)
	}
	return nil
}

// UseBias reports whether convolutions should carry a bias term. Batch
// normalization already learns an offset per channel, making the bias
// redundant.
func (c *Config) UseBias() bool {
	return c.Norm != NormBatch
}

// Keyed reports whether the key path is enabled.
func (c *Config) Keyed() bool {
	return c.KeyLen > 0
}
