package brainmask

import (
	"math"
	"math/rand"
	"testing"

	"ccsnr/internal/models"
)

func TestReflect(t *testing.T) {
	tests := []struct{ i, n, want int }{
		{0, 5, 0},
		{4, 5, 4},
		{-1, 5, 0},
		{-2, 5, 1},
		{5, 5, 4},
		{6, 5, 3},
		{-3, 2, 1},
		{7, 1, 0},
	}
	for _, tc := range tests {
		if got := reflect(tc.i, tc.n); got != tc.want {
			t.Errorf("reflect(%d, %d) = %d, want %d", tc.i, tc.n, got, tc.want)
		}
	}
}

func TestMedianFilterRemovesSpike(t *testing.T) {
	n := 5
	data := make([]float64, n*n*n)
	for i := range data {
		data[i] = 10
	}
	data[(2*n+2)*n+2] = 1000

	out := MedianFilter(data, n, n, n, 1, 2)
	for i, v := range out {
		if v != 10 {
			t.Fatalf("Expected 10 at %d after filtering, got %f", i, v)
		}
	}
	if data[(2*n+2)*n+2] != 1000 {
		t.Error("MedianFilter must not modify its input")
	}
}

func TestMedianFilterZeroRadiusCopies(t *testing.T) {
	data := []float64{1, 2, 3, 4}
	out := MedianFilter(data, 2, 2, 1, 0, 1)
	for i := range data {
		if out[i] != data[i] {
			t.Fatalf("Expected copy, got %v", out)
		}
	}
}

func TestOtsuThresholdBimodal(t *testing.T) {
	var data []float64
	for i := 0; i < 500; i++ {
		data = append(data, 10+float64(i%5))
	}
	for i := 0; i < 300; i++ {
		data = append(data, 200+float64(i%7))
	}

	th := OtsuThreshold(data)
	if th <= 14 || th >= 200 {
		t.Errorf("Expected threshold between the two modes, got %f", th)
	}
}

func TestOtsuThresholdConstant(t *testing.T) {
	if th := OtsuThreshold([]float64{3, 3, 3}); th != 3 {
		t.Errorf("Expected 3 for constant data, got %f", th)
	}
}

func TestExtractSphere(t *testing.T) {
	n := 20
	gtab := &models.GradientTable{
		BVals: []float64{0, 1000, 0},
		BVecs: [][3]float64{{0, 0, 0}, {1, 0, 0}, {0, 0, 0}},
	}
	dwi := models.NewVolume4D(n, n, n, gtab.Len())
	rng := rand.New(rand.NewSource(11))

	c := float64(n-1) / 2
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				r := math.Sqrt((float64(x)-c)*(float64(x)-c) + (float64(y)-c)*(float64(y)-c) + (float64(z)-c)*(float64(z)-c))
				for t := 0; t < gtab.Len(); t++ {
					v := rng.Float64() * 5
					if r < 6 {
						v += 300
					}
					// Diffusion weighted volume is ignored by the b0 mean
					if t == 1 {
						v = 1e6
					}
					dwi.Set(x, y, z, t, v)
				}
			}
		}
	}

	extractor := &MedianOtsu{MedianRadius: 1, NumPass: 2, B0Threshold: DefaultB0Threshold, NumCores: 3}
	mask, err := extractor.Extract(dwi, gtab)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if !mask.At(10, 10, 10) {
		t.Error("Sphere center must be inside the mask")
	}
	if mask.At(0, 0, 0) || mask.At(19, 19, 0) {
		t.Error("Corners must be outside the mask")
	}
	count := mask.Count()
	volume := 4.0 / 3.0 * math.Pi * 6 * 6 * 6
	if math.Abs(float64(count)-volume) > 0.3*volume {
		t.Errorf("Mask size %d far from sphere volume %.0f", count, volume)
	}
}

func TestOtsuThresholdIgnoresNonFinite(t *testing.T) {
	th := OtsuThreshold([]float64{1, 2, math.NaN(), 100, 101, math.Inf(1), math.Inf(-1)})
	if th <= 2 || th >= 100 {
		t.Errorf("Expected threshold between the two groups, got %f", th)
	}

	if th := OtsuThreshold([]float64{math.NaN(), math.NaN()}); th != 0 {
		t.Errorf("Expected 0 when no sample is finite, got %f", th)
	}
}

func TestOtsuThresholdBinCenter(t *testing.T) {
	// Range 0..256 gives unit-width bins; the split falls after bin 0
	data := []float64{0, 0, 0, 256, 256, 256}
	if th := OtsuThreshold(data); th != 0.5 {
		t.Errorf("Expected the center of the first bin 0.5, got %f", th)
	}
}

func TestExtractWithNaNVoxel(t *testing.T) {
	n := 8
	gtab := &models.GradientTable{BVals: []float64{0}, BVecs: [][3]float64{{0, 0, 0}}}
	dwi := models.NewVolume4D(n, n, n, 1)
	for z := 2; z < 6; z++ {
		for y := 2; y < 6; y++ {
			for x := 2; x < 6; x++ {
				dwi.Set(x, y, z, 0, 100)
			}
		}
	}
	dwi.Set(0, 0, 0, 0, math.NaN())

	extractor := &MedianOtsu{MedianRadius: 0, NumPass: 0, B0Threshold: DefaultB0Threshold, NumCores: 1}
	mask, err := extractor.Extract(dwi, gtab)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if mask.Count() != 64 {
		t.Errorf("Expected the 64-voxel cube, got %d voxels", mask.Count())
	}
	if mask.At(0, 0, 0) {
		t.Error("NaN voxel must not be part of the mask")
	}
}
