// Package gradients loads diffusion gradient tables and selects the
// gradient directions closest to the canonical x, y and z axes.
package gradients

import (
	"errors"
	"math"

	"ccsnr/internal/models"
)

// ErrNoNonZeroDirection is returned when every gradient vector is null,
// which leaves nothing to match against the canonical axes.
var ErrNoNonZeroDirection = errors.New("gradient table has no non-null direction")

// Axes are the canonical unit vectors in x, y, z order.
var Axes = [3][3]float64{
	{1, 0, 0},
	{0, 1, 0},
	{0, 0, 1},
}

// NearestAxes returns, for each canonical axis, the index of the gradient
// vector with the smallest squared Euclidean distance to it. Vectors whose
// components sum to exactly zero are b0 markers and are never selected.
// Ties resolve to the lowest index.
func NearestAxes(vecs [][3]float64) ([3]int, error) {
	candidates := make([][3]float64, len(vecs))
	valid := 0
	for i, v := range vecs {
		if v[0]+v[1]+v[2] == 0 {
			inf := math.Inf(1)
			candidates[i] = [3]float64{inf, inf, inf}
			continue
		}
		candidates[i] = v
		valid++
	}
	if valid == 0 {
		return [3]int{}, ErrNoNonZeroDirection
	}

	var idx [3]int
	for a, axis := range Axes {
		best := math.Inf(1)
		idx[a] = -1
		for i, v := range candidates {
			if math.IsInf(v[0], 1) {
				continue
			}
			d := squaredDistance(v, axis)
			if idx[a] < 0 || d < best {
				best = d
				idx[a] = i
			}
		}
	}
	return idx, nil
}

func squaredDistance(a, b [3]float64) float64 {
	dx, dy, dz := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return dx*dx + dy*dy + dz*dz
}

// B0Indices returns the indices of volumes whose b-value is at or below
// threshold.
func B0Indices(gtab *models.GradientTable, threshold float64) []int {
	var idx []int
	for i, b := range gtab.BVals {
		if b <= threshold {
			idx = append(idx, i)
		}
	}
	return idx
}
