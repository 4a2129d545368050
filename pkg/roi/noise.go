package roi

import "ccsnr/internal/models"

// DefaultDilationIterations is the number of dilation passes applied to the
// brain mask before it is inverted.
const DefaultDilationIterations = 10

// NoiseMask derives a background region from a brain mask. The mask is
// grown by iterations 6-connected dilations, the lower half of the volume
// along z is forced into the excluded region, and the result is inverted.
//
// The half-volume exclusion assumes one half of the field of view is
// always brain-adjacent. It is a heuristic: acquisitions with unusual
// orientation, or scanners that zero-fill outside the brain, can yield a
// background whose standard deviation is not the true noise level.
func NoiseMask(brain *models.Mask, iterations int) *models.Mask {
	grown := Dilate(brain, iterations)

	half := grown.Nz / 2
	for z := 0; z < half; z++ {
		start := grown.Index(0, 0, z)
		end := start + grown.Nx*grown.Ny
		for i := start; i < end; i++ {
			grown.Data[i] = true
		}
	}

	for i, set := range grown.Data {
		grown.Data[i] = !set
	}
	return grown
}

// Dilate applies iterations binary dilations with the face-adjacent
// structuring element. Voxels outside the grid count as background.
func Dilate(mask *models.Mask, iterations int) *models.Mask {
	cur := mask.Clone()
	if iterations <= 0 {
		return cur
	}
	next := models.NewMask(mask.Nx, mask.Ny, mask.Nz)

	for it := 0; it < iterations; it++ {
		changed := false
		for z := 0; z < cur.Nz; z++ {
			for y := 0; y < cur.Ny; y++ {
				for x := 0; x < cur.Nx; x++ {
					i := cur.Index(x, y, z)
					v := cur.Data[i] ||
						(x > 0 && cur.Data[i-1]) ||
						(x < cur.Nx-1 && cur.Data[i+1]) ||
						(y > 0 && cur.Data[i-cur.Nx]) ||
						(y < cur.Ny-1 && cur.Data[i+cur.Nx]) ||
						(z > 0 && cur.Data[i-cur.Nx*cur.Ny]) ||
						(z < cur.Nz-1 && cur.Data[i+cur.Nx*cur.Ny])
					if v != cur.Data[i] {
						changed = true
					}
					next.Data[i] = v
				}
			}
		}
		cur, next = next, cur
		if !changed {
			break
		}
	}
	return cur
}
