// Package roi builds the voxel regions used for SNR estimation: the shrunk
// bounding box around the brain, the corpus callosum mask carved out of a
// colored FA map, and the background region believed to contain only noise.
package roi

import (
	"errors"

	"ccsnr/internal/models"
)

// ErrEmptyMask is returned when a mask has no true voxel where a statistic
// or bounding box over it is required.
var ErrEmptyMask = errors.New("mask has no true voxel")

// BoundingBox returns the tight half-open box enclosing every true voxel.
func BoundingBox(mask *models.Mask) (models.Box, error) {
	box := models.Box{
		Min: [3]int{mask.Nx, mask.Ny, mask.Nz},
		Max: [3]int{0, 0, 0},
	}
	found := false

	for z := 0; z < mask.Nz; z++ {
		for y := 0; y < mask.Ny; y++ {
			row := mask.Data[mask.Index(0, y, z):mask.Index(0, y, z)+mask.Nx]
			for x, set := range row {
				if !set {
					continue
				}
				found = true
				p := [3]int{x, y, z}
				for i := range p {
					if p[i] < box.Min[i] {
						box.Min[i] = p[i]
					}
					if p[i]+1 > box.Max[i] {
						box.Max[i] = p[i] + 1
					}
				}
			}
		}
	}

	if !found {
		return models.Box{}, ErrEmptyMask
	}
	return box, nil
}

// Shrink computes the bounding box of mask and pulls every face inward by a
// quarter of the extent on that axis (integer division), centering the
// region away from partial-volume voxels at the mask boundary. Axes shorter
// than four voxels are left unchanged.
func Shrink(mask *models.Mask) (models.Box, error) {
	box, err := BoundingBox(mask)
	if err != nil {
		return models.Box{}, err
	}

	for i := 0; i < 3; i++ {
		margin := (box.Max[i] - box.Min[i]) / 4
		box.Min[i] += margin
		box.Max[i] -= margin
	}
	return box, nil
}

// BoxMask returns an nx*ny*nz mask that is true exactly inside box.
func BoxMask(nx, ny, nz int, box models.Box) *models.Mask {
	m := models.NewMask(nx, ny, nz)
	z0, z1 := clamp(box.Min[2], nz), clamp(box.Max[2], nz)
	y0, y1 := clamp(box.Min[1], ny), clamp(box.Max[1], ny)
	x0, x1 := clamp(box.Min[0], nx), clamp(box.Max[0], nx)

	for z := z0; z < z1; z++ {
		for y := y0; y < y1; y++ {
			base := m.Index(0, y, z)
			for x := x0; x < x1; x++ {
				m.Data[base+x] = true
			}
		}
	}
	return m
}

func clamp(v, n int) int {
	if v < 0 {
		return 0
	}
	if v > n {
		return n
	}
	return v
}
