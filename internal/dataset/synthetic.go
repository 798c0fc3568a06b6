package dataset

import (
	"math"
	"math/rand"

	"gorgonia.org/tensor"
)

// Colorization generates n grayscale/RGB pairs of smooth random gradients.
// Inputs are [n, h*w] luminance, targets [n, 3*h*w] with the three
// channels stored plane after plane.
func Colorization(n, h, w int, seed int64) (inputs, targets *tensor.Dense) {
	rng := rand.New(rand.NewSource(seed))
	pixels := h * w
	gray := make([]float64, n*pixels)
	rgb := make([]float64, n*3*pixels)
	for i := 0; i < n; i++ {
		var base, dx, dy [3]float64
		for c := 0; c < 3; c++ {
			base[c] = rng.Float64()
			dx[c] = rng.Float64()*2 - 1
			dy[c] = rng.Float64()*2 - 1
		}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				fx := float64(x) / math.Max(1, float64(w-1))
				fy := float64(y) / math.Max(1, float64(h-1))
				var ch [3]float64
				for c := 0; c < 3; c++ {
					ch[c] = clamp01(base[c] + 0.5*dx[c]*fx + 0.5*dy[c]*fy)
					rgb[i*3*pixels+c*pixels+y*w+x] = ch[c]
				}
				gray[i*pixels+y*w+x] = 0.299*ch[0] + 0.587*ch[1] + 0.114*ch[2]
			}
		}
	}
	inputs = tensor.New(tensor.WithShape(n, pixels), tensor.WithBacking(gray))
	targets = tensor.New(tensor.WithShape(n, 3*pixels), tensor.WithBacking(rgb))
	return inputs, targets
}

// Motion generates n sequences of a Gaussian bump moving at constant
// velocity across a frame of size features. Each sample holds
// keyframes ([n, keyframes, size]) and the interp frames that follow the
// last keyframe ([n, interp*size]).
func Motion(n, keyframes, interp, size int, seed int64) (inputs, targets *tensor.Dense) {
	rng := rand.New(rand.NewSource(seed))
	seq := make([]float64, n*keyframes*size)
	tgt := make([]float64, n*interp*size)
	for i := 0; i < n; i++ {
		start := rng.Float64() * float64(size)
		velocity := (rng.Float64()*2 - 1) * 0.5
		width := 0.75 + rng.Float64()
		for t := 0; t < keyframes+interp; t++ {
			center := start + velocity*float64(t)
			for f := 0; f < size; f++ {
				d := float64(f) - center
				v := math.Exp(-d * d / (2 * width * width))
				if t < keyframes {
					seq[(i*keyframes+t)*size+f] = v
				} else {
					tgt[i*interp*size+(t-keyframes)*size+f] = v
				}
			}
		}
	}
	inputs = tensor.New(tensor.WithShape(n, keyframes, size), tensor.WithBacking(seq))
	targets = tensor.New(tensor.WithShape(n, interp*size), tensor.WithBacking(tgt))
	return inputs, targets
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
