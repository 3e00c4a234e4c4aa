// Package imagefolder loads secret and cover images from two directories
// and serves them as paired GoMLX datasets for the steganography trainer.
//
// Pairing is positional: the i-th secret file pairs with the i-th cover
// file, both in lexicographic order. When the directories hold different
// numbers of images the longer list is truncated. Every image is resized
// on its smallest side and center-cropped to a square of the configured
// size, with values scaled to [0, 1].
package imagefolder

import (
	"image"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Configuration of the image pair datasets. SecretsDir and CoversDir are
// scanned non-recursively for image files (png, jpg, jpeg, bmp or gif).
type Configuration struct {
	SecretsDir string
	CoversDir  string

	// ImageSize is the width and height every image is cropped and resized to.
	ImageSize int

	// Channels is 1 for grayscale or 3 for RGB.
	Channels int

	BatchSize     int
	EvalBatchSize int

	// ValidationFraction of the pairs held out for validation, in [0, 1).
	ValidationFraction float64

	// Seed for the train/validation split.
	Seed int64
}

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".gif":  true,
}

// listImages returns the image files directly under dir, sorted by name.
func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list images in %q", dir)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("no image files (png, jpg, jpeg, bmp or gif) found in %q", dir)
	}
	return paths, nil
}

// squareResize resizes the smallest dimension of img to size, preserving the
// aspect ratio, and then crops the largest dimension at the center.
func squareResize(img image.Image, size int) image.Image {
	width := img.Bounds().Dx()
	height := img.Bounds().Dy()
	if width < height {
		ratio := float64(width) / float64(size)
		width = size
		height = int(math.Round(float64(height) / ratio))
	} else if height < width {
		ratio := float64(height) / float64(size)
		height = size
		width = int(math.Round(float64(width) / ratio))
	} else {
		width = size
		height = size
	}
	img = imaging.Resize(img, width, height, imaging.Linear)
	if width > height {
		start := (width - size) / 2
		img = imaging.Crop(img, image.Rect(start, 0, start+size, size))
	} else if height > width {
		start := (height - size) / 2
		img = imaging.Crop(img, image.Rect(0, start, size, start+size))
	}
	return img
}

// imageToFlat converts img to size x size x channels float32 values in
// [0, 1], row-major with channels innermost.
func imageToFlat(img image.Image, size, channels int) []float32 {
	img = squareResize(img, size)
	if channels == 1 {
		img = imaging.Grayscale(img)
	}
	nrgba := imaging.Clone(img)
	flat := make([]float32, 0, size*size*channels)
	for y := range size {
		for x := range size {
			base := y*nrgba.Stride + x*4
			for d := range channels {
				flat = append(flat, float32(nrgba.Pix[base+d])/255)
			}
		}
	}
	return flat
}

// ImagesToBatch converts images to a tensor shaped
// [len(images), size, size, channels] with float32 values in [0, 1].
// Images that are not size x size are resized and center-cropped first.
func ImagesToBatch(images []image.Image, size, channels int) (*tensors.Tensor, error) {
	if len(images) == 0 {
		return nil, errors.Errorf("no images to convert")
	}
	if channels != 1 && channels != 3 {
		return nil, errors.Errorf("channels must be 1 (grayscale) or 3 (RGB), got %d", channels)
	}
	flat := make([]float32, 0, len(images)*size*size*channels)
	for _, img := range images {
		flat = append(flat, imageToFlat(img, size, channels)...)
	}
	return tensors.FromFlatDataAndDimensions(flat, len(images), size, size, channels), nil
}

// BatchToImages converts a tensor shaped [batch, height, width, channels]
// with float32 values in [0, 1] back to Go images. Values outside [0, 1],
// which the hiding residual can produce, are clipped.
func BatchToImages(batch *tensors.Tensor) ([]image.Image, error) {
	shape := batch.Shape()
	if shape.Rank() != 4 {
		return nil, errors.Errorf("expected an image batch shaped [batch, height, width, channels], got %s", shape)
	}
	dims := shape.Dimensions
	numImages, height, width, channels := dims[0], dims[1], dims[2], dims[3]
	if channels != 1 && channels != 3 {
		return nil, errors.Errorf("expected 1 or 3 channels, got image batch shaped %s", shape)
	}
	images := make([]image.Image, 0, numImages)
	err := tensors.ConstFlatData[float32](batch, func(flat []float32) {
		for imageIdx := range numImages {
			img := image.NewNRGBA(image.Rect(0, 0, width, height))
			for y := range height {
				for x := range width {
					base := ((imageIdx*height+y)*width + x) * channels
					target := y*img.Stride + x*4
					if channels == 1 {
						v := floatByte(flat[base])
						img.Pix[target+0] = v
						img.Pix[target+1] = v
						img.Pix[target+2] = v
					} else {
						img.Pix[target+0] = floatByte(flat[base+0])
						img.Pix[target+1] = floatByte(flat[base+1])
						img.Pix[target+2] = floatByte(flat[base+2])
					}
					img.Pix[target+3] = 255
				}
			}
			images = append(images, img)
		}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to read image batch shaped %s", shape)
	}
	return images, nil
}

func floatByte(v float32) uint8 {
	scaled := v*255 + 0.5
	if scaled <= 0 {
		return 0
	}
	if scaled >= 255 {
		return 255
	}
	return uint8(scaled)
}
