package roi

import (
	"fmt"

	"ccsnr/internal/models"
)

// Segment selects corpus callosum voxels from a colored FA map. A voxel is
// kept only if it lies inside box and every channel falls in its inclusive
// band from bands. Voxels outside box are never selected. An empty result
// is returned as an all-false mask, not an error.
func Segment(cfa *models.ColorFA, box models.Box, bands models.ThresholdBands) (*models.Mask, error) {
	if len(cfa.Data) != 3*cfa.Nx*cfa.Ny*cfa.Nz {
		return nil, fmt.Errorf("color FA map has %d values, want %d", len(cfa.Data), 3*cfa.Nx*cfa.Ny*cfa.Nz)
	}

	cc := BoxMask(cfa.Nx, cfa.Ny, cfa.Nz, box)
	for c := 0; c < 3; c++ {
		and(cc, channelBand(cfa, c, bands[2*c], bands[2*c+1]))
	}
	return cc, nil
}

// channelBand marks voxels whose channel c lies in [lo, hi].
func channelBand(cfa *models.ColorFA, c int, lo, hi float64) *models.Mask {
	m := models.NewMask(cfa.Nx, cfa.Ny, cfa.Nz)
	for i := range m.Data {
		v := cfa.Data[3*i+c]
		m.Data[i] = lo <= v && v <= hi
	}
	return m
}

// and stores dst AND src into dst.
func and(dst, src *models.Mask) {
	for i := range dst.Data {
		dst.Data[i] = dst.Data[i] && src.Data[i]
	}
}
