package models

import "fmt"

// Volume4D is a diffusion-weighted acquisition: one 3D volume per
// gradient index, stored x-fastest in a flat slice.
type Volume4D struct {
	// Data holds Nx*Ny*Nz*Nt intensities
	Data []float64

	// Nx, Ny, Nz are the spatial dimensions, Nt the number of volumes
	Nx, Ny, Nz, Nt int
}

// NewVolume4D allocates a zero-filled volume.
func NewVolume4D(nx, ny, nz, nt int) *Volume4D {
	return &Volume4D{
		Data: make([]float64, nx*ny*nz*nt),
		Nx:   nx,
		Ny:   ny,
		Nz:   nz,
		Nt:   nt,
	}
}

// NumVoxels returns the number of voxels in one 3D volume.
func (v *Volume4D) NumVoxels() int {
	return v.Nx * v.Ny * v.Nz
}

// Index returns the flat offset of (x, y, z, t).
func (v *Volume4D) Index(x, y, z, t int) int {
	return ((t*v.Nz+z)*v.Ny+y)*v.Nx + x
}

// At returns the intensity at (x, y, z, t).
func (v *Volume4D) At(x, y, z, t int) float64 {
	return v.Data[v.Index(x, y, z, t)]
}

// Set stores an intensity at (x, y, z, t).
func (v *Volume4D) Set(x, y, z, t int, value float64) {
	v.Data[v.Index(x, y, z, t)] = value
}

// Frame returns the 3D volume at gradient index t without copying.
func (v *Volume4D) Frame(t int) []float64 {
	n := v.NumVoxels()
	return v.Data[t*n : (t+1)*n]
}

// SameGrid reports whether m covers the spatial grid of v.
func (v *Volume4D) SameGrid(m *Mask) bool {
	return m != nil && m.Nx == v.Nx && m.Ny == v.Ny && m.Nz == v.Nz
}

// Mask is a boolean 3D volume, x-fastest.
type Mask struct {
	Data       []bool
	Nx, Ny, Nz int
}

// NewMask allocates an all-false mask.
func NewMask(nx, ny, nz int) *Mask {
	return &Mask{Data: make([]bool, nx*ny*nz), Nx: nx, Ny: ny, Nz: nz}
}

// Index returns the flat offset of (x, y, z).
func (m *Mask) Index(x, y, z int) int {
	return (z*m.Ny+y)*m.Nx + x
}

// At reports whether (x, y, z) is set.
func (m *Mask) At(x, y, z int) bool {
	return m.Data[m.Index(x, y, z)]
}

// Set assigns (x, y, z).
func (m *Mask) Set(x, y, z int, value bool) {
	m.Data[m.Index(x, y, z)] = value
}

// Count returns the number of true voxels.
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.Data {
		if b {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the mask.
func (m *Mask) Clone() *Mask {
	c := NewMask(m.Nx, m.Ny, m.Nz)
	copy(c.Data, m.Data)
	return c
}

// ColorFA is a colored fractional-anisotropy map. Each voxel carries
// three interleaved channels: |e1.x|*FA, |e1.y|*FA, |e1.z|*FA.
type ColorFA struct {
	Data       []float64
	Nx, Ny, Nz int
}

// NewColorFA allocates a zero-filled map.
func NewColorFA(nx, ny, nz int) *ColorFA {
	return &ColorFA{Data: make([]float64, 3*nx*ny*nz), Nx: nx, Ny: ny, Nz: nz}
}

// At returns channel c of voxel (x, y, z).
func (c *ColorFA) At(x, y, z, channel int) float64 {
	return c.Data[3*((z*c.Ny+y)*c.Nx+x)+channel]
}

// Set stores channel c of voxel (x, y, z).
func (c *ColorFA) Set(x, y, z, channel int, value float64) {
	c.Data[3*((z*c.Ny+y)*c.Nx+x)+channel] = value
}

// GradientTable pairs a b-value with a gradient direction per volume.
// Null directions mark non-diffusion-weighted (b0) volumes.
type GradientTable struct {
	BVals []float64
	BVecs [][3]float64
}

// Len returns the number of gradient entries.
func (g *GradientTable) Len() int {
	return len(g.BVecs)
}

// Validate checks that the table describes nt volumes.
func (g *GradientTable) Validate(nt int) error {
	if len(g.BVals) != len(g.BVecs) {
		return fmt.Errorf("gradient table has %d b-values but %d vectors", len(g.BVals), len(g.BVecs))
	}
	if len(g.BVecs) != nt {
		return fmt.Errorf("gradient table has %d entries, volume has %d", len(g.BVecs), nt)
	}
	return nil
}

// Box is an axis-aligned voxel box. Min is inclusive, Max exclusive.
type Box struct {
	Min [3]int
	Max [3]int
}

// Contains reports whether (x, y, z) lies inside the box.
func (b Box) Contains(x, y, z int) bool {
	p := [3]int{x, y, z}
	for i := range p {
		if p[i] < b.Min[i] || p[i] >= b.Max[i] {
			return false
		}
	}
	return true
}

// Size returns the extent of the box along each axis.
func (b Box) Size() [3]int {
	return [3]int{b.Max[0] - b.Min[0], b.Max[1] - b.Min[1], b.Max[2] - b.Min[2]}
}

// Within reports whether b lies entirely inside outer.
func (b Box) Within(outer Box) bool {
	for i := 0; i < 3; i++ {
		if b.Min[i] < outer.Min[i] || b.Max[i] > outer.Max[i] {
			return false
		}
	}
	return true
}

// ThresholdBands holds inclusive per-channel intervals over a ColorFA map:
// xmin, xmax, ymin, ymax, zmin, zmax.
type ThresholdBands [6]float64

// DefaultThresholdBands selects voxels strongly oriented along x and
// weakly along y and z.
var DefaultThresholdBands = ThresholdBands{0.6, 1, 0, 0.1, 0, 0.1}

// Affine maps voxel indices to scanner coordinates.
type Affine [4][4]float64

// IdentityAffine returns the identity transform.
func IdentityAffine() Affine {
	return Affine{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}
