// Package brainmask separates brain from background in a DWI volume by
// median filtering the mean b0 image and thresholding it with Otsu's method.
package brainmask

import (
	"fmt"
	"math"
	"runtime"
	"sort"

	"gonum.org/v1/gonum/floats"

	"ccsnr/internal/models"
	"ccsnr/pkg/gradients"
)

// Defaults of the median_otsu procedure.
const (
	DefaultMedianRadius = 4
	DefaultNumPass      = 4
	DefaultB0Threshold  = 50
	histogramBins       = 256
)

// MedianOtsu extracts a brain mask. It implements the brain extraction
// backend of the SNR estimator.
type MedianOtsu struct {
	// MedianRadius is the half-width of the cubic median window
	MedianRadius int

	// NumPass is how many times the median filter is applied
	NumPass int

	// B0Threshold is the largest b-value treated as non-diffusion-weighted
	B0Threshold float64

	// NumCores is the number of goroutines used by the median filter
	NumCores int
}

// New returns a MedianOtsu with the reference defaults.
func New() *MedianOtsu {
	return &MedianOtsu{
		MedianRadius: DefaultMedianRadius,
		NumPass:      DefaultNumPass,
		B0Threshold:  DefaultB0Threshold,
		NumCores:     runtime.NumCPU(),
	}
}

// Extract averages the b0 volumes, median filters the result and keeps
// the voxels above the Otsu threshold.
func (m *MedianOtsu) Extract(dwi *models.Volume4D, gtab *models.GradientTable) (*models.Mask, error) {
	if dwi.Nt == 0 || dwi.NumVoxels() == 0 {
		return nil, fmt.Errorf("empty volume")
	}

	var b0 []int
	if gtab != nil {
		b0 = gradients.B0Indices(gtab, m.B0Threshold)
	}
	if len(b0) == 0 {
		b0 = []int{0}
	}

	mean := make([]float64, dwi.NumVoxels())
	for _, t := range b0 {
		floats.Add(mean, dwi.Frame(t))
	}
	floats.Scale(1/float64(len(b0)), mean)

	filtered := mean
	for pass := 0; pass < m.NumPass; pass++ {
		filtered = MedianFilter(filtered, dwi.Nx, dwi.Ny, dwi.Nz, m.MedianRadius, m.NumCores)
	}

	threshold := OtsuThreshold(filtered)
	mask := models.NewMask(dwi.Nx, dwi.Ny, dwi.Nz)
	for i, v := range filtered {
		mask.Data[i] = v > threshold
	}
	if mask.Count() == 0 {
		return nil, fmt.Errorf("otsu threshold %g left an empty brain mask", threshold)
	}
	return mask, nil
}

// MedianFilter replaces every voxel by the median of the cube of
// half-width radius around it. Borders are mirrored.
func MedianFilter(data []float64, nx, ny, nz, radius, numCores int) []float64 {
	out := make([]float64, len(data))
	if radius <= 0 || nz <= 0 {
		copy(out, data)
		return out
	}
	if numCores < 1 {
		numCores = 1
	}
	if numCores > nz {
		numCores = nz
	}

	done := make(chan struct{})
	slab := (nz + numCores - 1) / numCores
	tasks := 0
	for z0 := 0; z0 < nz; z0 += slab {
		z1 := z0 + slab
		if z1 > nz {
			z1 = nz
		}
		tasks++
		go func(z0, z1 int) {
			medianSlab(data, out, nx, ny, nz, radius, z0, z1)
			done <- struct{}{}
		}(z0, z1)
	}
	for i := 0; i < tasks; i++ {
		<-done
	}
	return out
}

func medianSlab(data, out []float64, nx, ny, nz, radius, z0, z1 int) {
	side := 2*radius + 1
	window := make([]float64, 0, side*side*side)
	for z := z0; z < z1; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				window = window[:0]
				for dz := -radius; dz <= radius; dz++ {
					zz := reflect(z+dz, nz)
					for dy := -radius; dy <= radius; dy++ {
						yy := reflect(y+dy, ny)
						base := (zz*ny + yy) * nx
						for dx := -radius; dx <= radius; dx++ {
							window = append(window, data[base+reflect(x+dx, nx)])
						}
					}
				}
				sort.Float64s(window)
				out[(z*ny+y)*nx+x] = window[len(window)/2]
			}
		}
	}
}

// reflect mirrors i into [0, n) including the edge sample.
func reflect(i, n int) int {
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}

// OtsuThreshold returns the center of the histogram bin that maximizes the
// between-class variance of a 256-bin histogram spanning the data range.
// NaN and infinite samples are ignored.
func OtsuThreshold(data []float64) float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range data {
		if !finite(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo > hi {
		return 0
	}
	if lo == hi {
		return lo
	}

	width := (hi - lo) / histogramBins
	histogram := make([]int, histogramBins)
	total := 0
	for _, v := range data {
		if !finite(v) {
			continue
		}
		bin := int((v - lo) / width)
		if bin >= histogramBins {
			bin = histogramBins - 1
		}
		histogram[bin]++
		total++
	}

	sum := 0.0
	for i, count := range histogram {
		sum += float64(i) * float64(count)
	}

	sumB := 0.0
	wB := 0
	maxVariance := -1.0
	best := 0
	for i := 0; i < histogramBins; i++ {
		wB += histogram[i]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}

		sumB += float64(i) * float64(histogram[i])
		mB := sumB / float64(wB)
		mF := (sum - sumB) / float64(wF)

		varBetween := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if varBetween > maxVariance {
			maxVariance = varBetween
			best = i
		}
	}

	return lo + (float64(best)+0.5)*width
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
