package evidence

import (
	"bytes"
	"image"
	"image/jpeg"
)

// DefaultMinSharpness is the variance-of-Laplacian floor below which a
// frame counts as blurred. Tuned against 720p+ security camera stills;
// uniform surfaces (walls, night IR wash) land well under it.
const DefaultMinSharpness = 40.0

// Sharpness computes a variance-of-Laplacian focus measure over the
// frame's luminance. Higher is sharper; blur flattens the Laplacian
// response toward zero.
func Sharpness(jpegData []byte) (float64, error) {
	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return 0, err
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return 0, nil
	}

	// Luminance plane
	lum := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			lum[y*w+x] = 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(bl>>8)
		}
	}

	// 4-neighbor Laplacian, mean and variance in one pass
	var sum, sumSq float64
	n := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			lap := 4*lum[y*w+x] - lum[(y-1)*w+x] - lum[(y+1)*w+x] - lum[y*w+x-1] - lum[y*w+x+1]
			sum += lap
			sumSq += lap * lap
			n++
		}
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean, nil
}

// SampleSharp picks count frames at evenly spaced positions across
// candidates. A pick failing the sharpness floor is replaced by its
// nearest unused sharp neighbor; if every neighbor is blurred too, the
// original pick stands (a blurred frame beats a missing one).
func SampleSharp(candidates [][]byte, count int, minSharpness float64) [][]byte {
	if len(candidates) == 0 || count < 1 {
		return nil
	}
	if count >= len(candidates) {
		out := make([][]byte, len(candidates))
		copy(out, candidates)
		return out
	}

	sharp := make([]bool, len(candidates))
	for i, c := range candidates {
		v, err := Sharpness(c)
		sharp[i] = err == nil && v >= minSharpness
	}

	used := make([]bool, len(candidates))
	out := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		// Even spacing: midpoint of each of count segments
		pick := (2*i + 1) * len(candidates) / (2 * count)
		idx := pick
		if !sharp[pick] || used[pick] {
			idx = nearestUsable(sharp, used, pick)
			if idx < 0 {
				idx = pick // all blurred, keep the original
			}
		}
		used[idx] = true
		out = append(out, candidates[idx])
	}
	return out
}

// nearestUsable scans outward from pick for a sharp, unused frame.
func nearestUsable(sharp, used []bool, pick int) int {
	for d := 0; d < len(sharp); d++ {
		if i := pick - d; i >= 0 && sharp[i] && !used[i] {
			return i
		}
		if i := pick + d; i < len(sharp) && sharp[i] && !used[i] {
			return i
		}
	}
	return -1
}
