package stego

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// SaveResultGrid writes a qualitative snapshot of a batch as one PNG
// grid, one column per example and one row per signal. Top to bottom:
// cover, container, the container gap ((container-cover)*10+0.5,
// clamped), secret, recovered secret, the recovery gap
// ((recovered-secret)*10+0.5, clamped) and, if revealedFake is not nil,
// the fake-key recovery amplified 30x. Cells are separated by a 1px
// black border.
//
// All tensors must be float32, shaped [batch, height, width, channels]
// with values in [0, 1] and 1 or 3 channels.
func SaveResultGrid(name string, cover, container, secret, revealed, revealedFake *tensors.Tensor) error {
	batch := cover.Shape().Dimensions
	if cover.Rank() != 4 || (batch[3] != 1 && batch[3] != 3) {
		return errors.Errorf("result grid wants [batch, height, width, channels] tensors with 1 or 3 channels, got %s",
			cover.Shape())
	}
	for _, t := range []*tensors.Tensor{container, secret, revealed} {
		if !t.Shape().Equal(cover.Shape()) {
			return errors.Errorf("result grid tensors disagree in shape: %s vs %s", cover.Shape(), t.Shape())
		}
	}
	b, h, w, c := batch[0], batch[1], batch[2], batch[3]

	coverF, err := flatValues(cover)
	if err != nil {
		return err
	}
	containerF, err := flatValues(container)
	if err != nil {
		return err
	}
	secretF, err := flatValues(secret)
	if err != nil {
		return err
	}
	revealedF, err := flatValues(revealed)
	if err != nil {
		return err
	}

	rows := []func(j int) float32{
		func(j int) float32 { return coverF[j] },
		func(j int) float32 { return containerF[j] },
		func(j int) float32 { return clamp01((containerF[j]-coverF[j])*10 + 0.5) },
		func(j int) float32 { return secretF[j] },
		func(j int) float32 { return revealedF[j] },
		func(j int) float32 { return clamp01((revealedF[j]-secretF[j])*10 + 0.5) },
	}
	if revealedFake != nil {
		if !revealedFake.Shape().Equal(cover.Shape()) {
			return errors.Errorf("result grid tensors disagree in shape: %s vs %s",
				cover.Shape(), revealedFake.Shape())
		}
		fakeF, err := flatValues(revealedFake)
		if err != nil {
			return err
		}
		rows = append(rows, func(j int) float32 { return clamp01(fakeF[j] * 30) })
	}

	const pad = 1
	img := image.NewNRGBA(image.Rect(0, 0, pad+b*(w+pad), pad+len(rows)*(h+pad)))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	for r, at := range rows {
		for i := 0; i < b; i++ {
			x0, y0 := pad+i*(w+pad), pad+r*(h+pad)
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					base := ((i*h+y)*w + x) * c
					var pixel color.NRGBA
					pixel.A = 255
					if c == 1 {
						gray := toByte(at(base))
						pixel.R, pixel.G, pixel.B = gray, gray, gray
					} else {
						pixel.R = toByte(at(base))
						pixel.G = toByte(at(base + 1))
						pixel.B = toByte(at(base + 2))
					}
					img.SetNRGBA(x0+x, y0+y, pixel)
				}
			}
		}
	}

	f, err := os.Create(name)
	if err != nil {
		return errors.Wrapf(err, "failed to create result grid file %q", name)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to encode result grid %q", name)
	}
	return errors.Wrapf(f.Close(), "failed to close result grid file %q", name)
}

// flatValues copies the tensor's flat float32 data to a new slice.
func flatValues(t *tensors.Tensor) ([]float32, error) {
	var out []float32
	err := tensors.ConstFlatData[float32](t, func(flat []float32) {
		out = make([]float32, len(flat))
		copy(out, flat)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "while reading %s tensor for the result grid", t.Shape())
	}
	return out, nil
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// toByte maps [0, 1] floats to bytes rounding to the nearest integer.
func toByte(v float32) uint8 {
	scaled := v*255 + 0.5
	if scaled < 0 {
		return 0
	}
	if scaled > 255 {
		return 255
	}
	return uint8(scaled)
}
