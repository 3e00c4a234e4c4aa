package stego

import (
	"math"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Quality metrics comparing image batches host-side, shaped
// [batch, height, width, channels] in [0, 1]. APD works on the raw
// float values; PSNR and SSIM quantize to 8 bits first, the scale the
// images are eventually stored at, and average per-image scores.

// MSE returns the mean squared error over the raw float values, the
// quantity the training losses minimize.
func MSE(a, b *tensors.Tensor) (float64, error) {
	af, bf, _, err := pairValues(a, b)
	if err != nil {
		return 0, err
	}
	var sum float64
	for j := range af {
		d := float64(af[j]) - float64(bf[j])
		sum += d * d
	}
	return sum / float64(len(af)), nil
}

// APD returns the average pixel difference, the mean absolute
// difference scaled to the 8-bit range.
func APD(a, b *tensors.Tensor) (float64, error) {
	af, bf, _, err := pairValues(a, b)
	if err != nil {
		return 0, err
	}
	var sum float64
	for j := range af {
		sum += math.Abs(float64(af[j]) - float64(bf[j]))
	}
	return sum / float64(len(af)) * 255, nil
}

// PSNR returns the batch-mean peak signal-to-noise ratio in dB,
// computed per image on quantized 8-bit values. Identical images make
// it +Inf.
func PSNR(a, b *tensors.Tensor) (float64, error) {
	af, bf, dims, err := pairValues(a, b)
	if err != nil {
		return 0, err
	}
	batch := dims[0]
	perImage := len(af) / batch
	var total float64
	for i := 0; i < batch; i++ {
		var mse float64
		for j := i * perImage; j < (i+1)*perImage; j++ {
			d := float64(toByte(af[j])) - float64(toByte(bf[j]))
			mse += d * d
		}
		mse /= float64(perImage)
		if mse == 0 {
			return math.Inf(1), nil
		}
		total += 10 * math.Log10(255*255/mse)
	}
	return total / float64(batch), nil
}

const (
	ssimWindow = 7

	ssimC1 = (0.01 * 255) * (0.01 * 255)
	ssimC2 = (0.03 * 255) * (0.03 * 255)
)

// SSIM returns the batch-mean structural similarity, computed per
// channel on quantized 8-bit values with a 7x7 uniform window and
// averaged. Identical images score exactly 1.
func SSIM(a, b *tensors.Tensor) (float64, error) {
	af, bf, dims, err := pairValues(a, b)
	if err != nil {
		return 0, err
	}
	batch, h, w, c := dims[0], dims[1], dims[2], dims[3]
	if h < ssimWindow || w < ssimWindow {
		return 0, errors.Errorf("SSIM needs images of at least %dx%d pixels, got %dx%d",
			ssimWindow, ssimWindow, h, w)
	}
	x := make([]float64, h*w)
	y := make([]float64, h*w)
	var total float64
	for i := 0; i < batch; i++ {
		var overChannels float64
		for ch := 0; ch < c; ch++ {
			for yy := 0; yy < h; yy++ {
				for xx := 0; xx < w; xx++ {
					j := ((i*h+yy)*w + xx) * c
					x[yy*w+xx] = float64(toByte(af[j+ch]))
					y[yy*w+xx] = float64(toByte(bf[j+ch]))
				}
			}
			overChannels += ssimPlane(x, y, h, w)
		}
		total += overChannels / float64(c)
	}
	return total / float64(batch), nil
}

// ssimPlane averages the SSIM map of one channel plane over all window
// positions fully inside the image. Window statistics use the sample
// covariance, matching the reference implementation.
func ssimPlane(x, y []float64, h, w int) float64 {
	const (
		radius  = ssimWindow / 2
		np      = float64(ssimWindow * ssimWindow)
		covNorm = np / (np - 1)
	)
	var sum float64
	var count int
	for cy := radius; cy < h-radius; cy++ {
		for cx := radius; cx < w-radius; cx++ {
			var sx, sy, sxx, syy, sxy float64
			for dy := -radius; dy <= radius; dy++ {
				for dx := -radius; dx <= radius; dx++ {
					px := x[(cy+dy)*w+cx+dx]
					py := y[(cy+dy)*w+cx+dx]
					sx += px
					sy += py
					sxx += px * px
					syy += py * py
					sxy += px * py
				}
			}
			ux, uy := sx/np, sy/np
			vx := covNorm * (sxx/np - ux*ux)
			vy := covNorm * (syy/np - uy*uy)
			vxy := covNorm * (sxy/np - ux*uy)
			sum += ((2*ux*uy + ssimC1) * (2*vxy + ssimC2)) /
				((ux*ux + uy*uy + ssimC1) * (vx + vy + ssimC2))
			count++
		}
	}
	return sum / float64(count)
}

// pairValues checks a and b are image batches of the same shape and
// copies out their flat values.
func pairValues(a, b *tensors.Tensor) (af, bf []float32, dims []int, err error) {
	if a.Rank() != 4 {
		err = errors.Errorf("image metrics want [batch, height, width, channels] tensors, got %s", a.Shape())
		return
	}
	if !a.Shape().Equal(b.Shape()) {
		err = errors.Errorf("image metrics want tensors of the same shape, got %s and %s", a.Shape(), b.Shape())
		return
	}
	af, err = flatValues(a)
	if err != nil {
		return
	}
	bf, err = flatValues(b)
	return
}
