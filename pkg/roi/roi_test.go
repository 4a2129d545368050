package roi

import (
	"errors"
	"math/rand"
	"testing"

	"ccsnr/internal/models"
)

// fillBox sets every voxel of box in m
func fillBox(m *models.Mask, box models.Box) {
	for z := box.Min[2]; z < box.Max[2]; z++ {
		for y := box.Min[1]; y < box.Max[1]; y++ {
			for x := box.Min[0]; x < box.Max[0]; x++ {
				m.Set(x, y, z, true)
			}
		}
	}
}

func TestShrinkQuarterMargin(t *testing.T) {
	mask := models.NewMask(100, 8, 3)
	fillBox(mask, models.Box{Min: [3]int{0, 0, 0}, Max: [3]int{100, 8, 3}})

	box, err := Shrink(mask)
	if err != nil {
		t.Fatalf("Shrink failed: %v", err)
	}

	if box.Min[0] != 25 || box.Max[0] != 75 {
		t.Errorf("Expected x range [25,75), got [%d,%d)", box.Min[0], box.Max[0])
	}
	if box.Min[1] != 2 || box.Max[1] != 6 {
		t.Errorf("Expected y range [2,6), got [%d,%d)", box.Min[1], box.Max[1])
	}
	// Extent 3 gives a zero margin
	if box.Min[2] != 0 || box.Max[2] != 3 {
		t.Errorf("Expected z range unchanged [0,3), got [%d,%d)", box.Min[2], box.Max[2])
	}
}

func TestShrinkEmptyMask(t *testing.T) {
	_, err := Shrink(models.NewMask(4, 4, 4))
	if !errors.Is(err, ErrEmptyMask) {
		t.Fatalf("Expected ErrEmptyMask, got %v", err)
	}
}

func TestShrinkStaysInsideBoundingBox(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		mask := models.NewMask(1+rng.Intn(20), 1+rng.Intn(20), 1+rng.Intn(20))
		for i := range mask.Data {
			mask.Data[i] = rng.Float64() < 0.05
		}
		mask.Data[rng.Intn(len(mask.Data))] = true

		tight, err := BoundingBox(mask)
		if err != nil {
			t.Fatalf("BoundingBox failed: %v", err)
		}
		shrunk, err := Shrink(mask)
		if err != nil {
			t.Fatalf("Shrink failed: %v", err)
		}
		if !shrunk.Within(tight) {
			t.Errorf("Trial %d: shrunk box %+v escapes bounding box %+v", trial, shrunk, tight)
		}
		for i, n := range shrunk.Size() {
			if n <= 0 {
				t.Errorf("Trial %d: empty extent %d on axis %d", trial, n, i)
			}
		}
	}
}

// uniformCFA builds a map with the same color in every voxel
func uniformCFA(nx, ny, nz int, r, g, b float64) *models.ColorFA {
	cfa := models.NewColorFA(nx, ny, nz)
	for i := 0; i < nx*ny*nz; i++ {
		cfa.Data[3*i] = r
		cfa.Data[3*i+1] = g
		cfa.Data[3*i+2] = b
	}
	return cfa
}

func TestSegmentRestrictedToBox(t *testing.T) {
	cfa := uniformCFA(10, 10, 10, 0.9, 0.05, 0.02)
	box := models.Box{Min: [3]int{2, 3, 4}, Max: [3]int{5, 6, 7}}

	cc, err := Segment(cfa, box, models.DefaultThresholdBands)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}

	if got, want := cc.Count(), 27; got != want {
		t.Errorf("Expected %d selected voxels, got %d", want, got)
	}
	for z := 0; z < 10; z++ {
		for y := 0; y < 10; y++ {
			for x := 0; x < 10; x++ {
				if cc.At(x, y, z) && !box.Contains(x, y, z) {
					t.Fatalf("Voxel (%d,%d,%d) selected outside the box", x, y, z)
				}
			}
		}
	}
}

func TestSegmentBands(t *testing.T) {
	box := models.Box{Min: [3]int{0, 0, 0}, Max: [3]int{2, 2, 2}}

	tests := []struct {
		name    string
		r, g, b float64
		bands   models.ThresholdBands
		want    int
	}{
		{"strong red", 0.8, 0.0, 0.1, models.DefaultThresholdBands, 8},
		{"band edges inclusive", 0.6, 0.1, 0.1, models.DefaultThresholdBands, 8},
		{"weak red", 0.5, 0.0, 0.0, models.DefaultThresholdBands, 0},
		{"too green", 0.9, 0.2, 0.0, models.DefaultThresholdBands, 0},
		{"degenerate band", 0.3, 0.2, 0.1, models.ThresholdBands{}, 0},
		{"degenerate band exact zeros", 0, 0, 0, models.ThresholdBands{}, 8},
		{"out of range bands accepted", 2, 0, 0, models.ThresholdBands{1.5, 3, -1, 1, -1, 1}, 8},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cc, err := Segment(uniformCFA(4, 4, 4, tc.r, tc.g, tc.b), box, tc.bands)
			if err != nil {
				t.Fatalf("Segment failed: %v", err)
			}
			if got := cc.Count(); got != tc.want {
				t.Errorf("Expected %d voxels, got %d", tc.want, got)
			}
		})
	}
}

func TestSegmentRejectsMalformedMap(t *testing.T) {
	cfa := &models.ColorFA{Data: make([]float64, 5), Nx: 2, Ny: 2, Nz: 2}
	if _, err := Segment(cfa, models.Box{Max: [3]int{2, 2, 2}}, models.DefaultThresholdBands); err == nil {
		t.Error("Expected an error for a truncated color FA map")
	}
}

func TestDilateSixConnected(t *testing.T) {
	mask := models.NewMask(5, 5, 5)
	mask.Set(2, 2, 2, true)

	once := Dilate(mask, 1)
	if got := once.Count(); got != 7 {
		t.Errorf("Expected 7 voxels after one dilation, got %d", got)
	}
	if once.At(1, 1, 2) {
		t.Error("Diagonal neighbour must not be reached in one dilation")
	}

	twice := Dilate(mask, 2)
	if got := twice.Count(); got != 25 {
		t.Errorf("Expected 25 voxels after two dilations, got %d", got)
	}

	if mask.Count() != 1 {
		t.Error("Dilate must not modify its input")
	}
}

func TestNoiseMask(t *testing.T) {
	brain := models.NewMask(20, 20, 20)
	fillBox(brain, models.Box{Min: [3]int{8, 8, 8}, Max: [3]int{12, 12, 12}})

	noise := NoiseMask(brain, 2)

	for z := 0; z < 10; z++ {
		for y := 0; y < 20; y++ {
			for x := 0; x < 20; x++ {
				if noise.At(x, y, z) {
					t.Fatalf("Voxel (%d,%d,%d) in the excluded half is marked as noise", x, y, z)
				}
			}
		}
	}

	// Brain and its two-voxel shell are excluded
	if noise.At(10, 10, 12) || noise.At(10, 10, 13) {
		t.Error("Dilated brain voxels must not be noise")
	}
	if !noise.At(10, 10, 14) {
		t.Error("Voxel beyond the dilated shell should be noise")
	}
	if !noise.At(0, 0, 19) {
		t.Error("Far corner in the upper half should be noise")
	}
}

func TestNoiseMaskDefaultIterations(t *testing.T) {
	brain := models.NewMask(30, 30, 30)
	brain.Set(15, 15, 15, true)

	noise := NoiseMask(brain, DefaultDilationIterations)
	if noise.At(15, 15, 25) {
		t.Error("Voxel 10 steps from the brain must be excluded")
	}
	if !noise.At(15, 15, 26) {
		t.Error("Voxel 11 steps from the brain should be noise")
	}
}
