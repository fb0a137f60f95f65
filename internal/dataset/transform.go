package dataset

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
)

// Normalization is the per-channel mean/std applied after scaling pixels to [0, 1].
type Normalization struct {
	Mean [3]float32
	Std  [3]float32
}

var normalizations = map[string]Normalization{
	"cifar10": {
		Mean: [3]float32{0.4914, 0.4822, 0.4465},
		Std:  [3]float32{0.2470, 0.2435, 0.2616},
	},
	"cifar100": {
		Mean: [3]float32{0.5071, 0.4865, 0.4409},
		Std:  [3]float32{0.2673, 0.2564, 0.2762},
	},
	"svhn": {
		Mean: [3]float32{0.4377, 0.4438, 0.4728},
		Std:  [3]float32{0.1980, 0.2010, 0.1970},
	},
}

// Identity leaves pixels in [0, 1].
var Identity = Normalization{Std: [3]float32{1, 1, 1}}

// NormalizationFor returns the statistics of a training set; the loader of an
// out-of-distribution set must use the statistics of the model's training set.
func NormalizationFor(trainset string) (Normalization, error) {
	n, ok := normalizations[trainset]
	if !ok {
		return Normalization{}, fmt.Errorf("dataset: no normalization for %q", trainset)
	}
	return n, nil
}

// decodeImage decodes a PNG/JPEG payload into a CHW float32 vector of
// 3*side*side values, nearest-neighbour resampled to side x side.
func decodeImage(raw []byte, side int, norm Normalization) ([]float32, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return nil, errors.New("empty image")
	}
	plane := side * side
	out := make([]float32, 3*plane)
	stepX := float64(width) / float64(side)
	stepY := float64(height) / float64(side)
	for gy := 0; gy < side; gy++ {
		for gx := 0; gx < side; gx++ {
			px := bounds.Min.X + int(math.Min(float64(width-1), float64(gx)*stepX))
			py := bounds.Min.Y + int(math.Min(float64(height-1), float64(gy)*stepY))
			r, g, b, _ := img.At(px, py).RGBA()
			idx := gy*side + gx
			for c, v := range [3]uint32{r, g, b} {
				out[c*plane+idx] = (float32(v)/65535.0 - norm.Mean[c]) / norm.Std[c]
			}
		}
	}
	return out, nil
}
