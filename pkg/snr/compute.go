// Package snr estimates worst-case and best-case SNR of a diffusion
// weighted acquisition from the corpus callosum and a background region.
package snr

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"ccsnr/internal/models"
	"ccsnr/pkg/gradients"
	"ccsnr/pkg/roi"
)

var (
	// ErrEmptyRegion is returned when the signal or noise mask selects no
	// voxel. It matches roi.ErrEmptyMask with errors.Is.
	ErrEmptyRegion = fmt.Errorf("empty region: %w", roi.ErrEmptyMask)

	// ErrDegenerateNoise is returned together with a flagged Result when
	// the background standard deviation is exactly zero.
	ErrDegenerateNoise = errors.New("noise standard deviation is zero")
)

// DirectionLabels names the entries of Result.SNR.
var DirectionLabels = [4]string{"b0", "x", "y", "z"}

// Result holds the SNR at the b0 volume and at the volumes whose gradient
// is nearest the x, y and z axes, in that order.
type Result struct {
	// SNR is MeanSignal divided by NoiseStd
	SNR [4]float64

	// Indices are the volume indices the ratios were taken at
	Indices [4]int

	// Directions are the gradient vectors at Indices
	Directions [4][3]float64

	// MeanSignal is the mean corpus callosum intensity at Indices
	MeanSignal [4]float64

	// NoiseStd is the population standard deviation of the background
	NoiseStd float64

	// Degenerate is set when NoiseStd is zero and SNR holds no usable values
	Degenerate bool
}

// Compute derives the four SNR values from a DWI volume, its gradient
// table, a corpus callosum mask and a background mask.
//
// The mean signal is taken per volume over ccMask. The noise standard
// deviation is a single population value over every noiseMask voxel of
// every volume. Volume 0 is assumed to be the b0 reference.
//
// When the noise standard deviation is zero the returned Result has
// Degenerate set and the error is ErrDegenerateNoise.
func Compute(dwi *models.Volume4D, gtab *models.GradientTable, ccMask, noiseMask *models.Mask) (Result, error) {
	if err := checkInputs(dwi, gtab, ccMask, noiseMask); err != nil {
		return Result{}, err
	}

	meanSignal, err := MeanSignal(dwi, ccMask)
	if err != nil {
		return Result{}, fmt.Errorf("corpus callosum mask: %w", err)
	}

	noiseStd, err := NoiseStd(dwi, noiseMask)
	if err != nil {
		return Result{}, fmt.Errorf("noise mask: %w", err)
	}

	axes, err := gradients.NearestAxes(gtab.BVecs)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Indices:  [4]int{0, axes[0], axes[1], axes[2]},
		NoiseStd: noiseStd,
	}
	for i, d := range res.Indices {
		res.Directions[i] = gtab.BVecs[d]
		res.MeanSignal[i] = meanSignal[d]
		res.SNR[i] = meanSignal[d] / noiseStd
	}

	if noiseStd == 0 {
		res.Degenerate = true
		return res, ErrDegenerateNoise
	}
	return res, nil
}

// MeanSignal returns the mean intensity over mask for every volume.
func MeanSignal(dwi *models.Volume4D, mask *models.Mask) ([]float64, error) {
	voxels := maskIndices(mask)
	if len(voxels) == 0 {
		return nil, ErrEmptyRegion
	}

	means := make([]float64, dwi.Nt)
	samples := make([]float64, len(voxels))
	for t := 0; t < dwi.Nt; t++ {
		frame := dwi.Frame(t)
		for i, v := range voxels {
			samples[i] = frame[v]
		}
		means[t] = stat.Mean(samples, nil)
	}
	return means, nil
}

// NoiseStd returns the population standard deviation of every intensity
// under mask, pooled across all volumes.
func NoiseStd(dwi *models.Volume4D, mask *models.Mask) (float64, error) {
	voxels := maskIndices(mask)
	if len(voxels) == 0 {
		return 0, ErrEmptyRegion
	}

	samples := make([]float64, 0, len(voxels)*dwi.Nt)
	for t := 0; t < dwi.Nt; t++ {
		frame := dwi.Frame(t)
		for _, v := range voxels {
			samples = append(samples, frame[v])
		}
	}
	std := stat.PopStdDev(samples, nil)
	if math.IsNaN(std) {
		return 0, fmt.Errorf("noise standard deviation is not a number")
	}
	return std, nil
}

func maskIndices(mask *models.Mask) []int {
	var idx []int
	for i, set := range mask.Data {
		if set {
			idx = append(idx, i)
		}
	}
	return idx
}

func checkInputs(dwi *models.Volume4D, gtab *models.GradientTable, ccMask, noiseMask *models.Mask) error {
	if dwi.Nt == 0 || len(dwi.Data) != dwi.NumVoxels()*dwi.Nt {
		return fmt.Errorf("volume holds %d values, want %dx%dx%dx%d", len(dwi.Data), dwi.Nx, dwi.Ny, dwi.Nz, dwi.Nt)
	}
	if err := gtab.Validate(dwi.Nt); err != nil {
		return err
	}
	if !dwi.SameGrid(ccMask) {
		return fmt.Errorf("corpus callosum mask does not match the volume grid")
	}
	if !dwi.SameGrid(noiseMask) {
		return fmt.Errorf("noise mask does not match the volume grid")
	}
	return nil
}
