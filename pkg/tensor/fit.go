// Package tensor fits a single diffusion tensor per voxel by linear least
// squares on the log signal and derives fractional anisotropy and the
// colored FA map from its eigen-decomposition.
package tensor

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	"gonum.org/v1/gonum/mat"

	"ccsnr/internal/models"
)

// DefaultMinSignal is the floor applied to intensities before the log.
const DefaultMinSignal = 1e-4

// ErrNoFit marks a voxel whose signal or fitted tensor is not finite.
// Fitter.Fit leaves such voxels at zero color FA.
var ErrNoFit = errors.New("no finite tensor fit")

// Tensor is the eigen-decomposition of a fitted diffusion tensor.
type Tensor struct {
	// Evals are the eigenvalues in descending order
	Evals [3]float64

	// Evecs[i] is the unit eigenvector for Evals[i]
	Evecs [3][3]float64

	// S0 is the fitted non-diffusion-weighted signal
	S0 float64
}

// FA returns the fractional anisotropy of t, clipped to [0, 1].
func (t Tensor) FA() float64 {
	l1, l2, l3 := t.Evals[0], t.Evals[1], t.Evals[2]
	den := l1*l1 + l2*l2 + l3*l3
	if den == 0 {
		return 0
	}
	num := (l1-l2)*(l1-l2) + (l2-l3)*(l2-l3) + (l3-l1)*(l3-l1)
	fa := math.Sqrt(0.5 * num / den)
	return math.Max(0, math.Min(1, fa))
}

// Color returns |e1| scaled by FA, one channel per axis.
func (t Tensor) Color() [3]float64 {
	fa := t.FA()
	if math.IsNaN(fa) {
		return [3]float64{}
	}
	e1 := t.Evecs[0]
	return [3]float64{math.Abs(e1[0]) * fa, math.Abs(e1[1]) * fa, math.Abs(e1[2]) * fa}
}

// Model holds the least-squares operator for one gradient scheme.
type Model struct {
	// pinv is the 7xN pseudo-inverse of the design matrix
	pinv      *mat.Dense
	minSignal float64
}

// NewModel builds the design matrix for gtab and its pseudo-inverse. The
// unknowns are Dxx, Dyy, Dzz, Dxy, Dxz, Dyz and ln S0.
func NewModel(gtab *models.GradientTable, minSignal float64) (*Model, error) {
	n := gtab.Len()
	if n < 7 {
		return nil, fmt.Errorf("tensor fit needs at least 7 volumes, got %d", n)
	}
	if minSignal <= 0 {
		minSignal = DefaultMinSignal
	}

	design := mat.NewDense(n, 7, nil)
	for i, g := range gtab.BVecs {
		b := gtab.BVals[i]
		design.SetRow(i, []float64{
			-b * g[0] * g[0],
			-b * g[1] * g[1],
			-b * g[2] * g[2],
			-2 * b * g[0] * g[1],
			-2 * b * g[0] * g[2],
			-2 * b * g[1] * g[2],
			1,
		})
	}

	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1
	}
	var pinv mat.Dense
	if err := pinv.Solve(design, mat.NewDiagDense(n, ones)); err != nil {
		return nil, fmt.Errorf("gradient scheme does not support a tensor fit: %w", err)
	}

	return &Model{pinv: &pinv, minSignal: minSignal}, nil
}

// FitVoxel fits the tensor for one voxel's signal series.
func (m *Model) FitVoxel(signal []float64, eig *mat.EigenSym) (Tensor, error) {
	_, n := m.pinv.Dims()
	if len(signal) != n {
		return Tensor{}, fmt.Errorf("signal has %d samples, model expects %d", len(signal), n)
	}

	logSignal := make([]float64, n)
	for i, s := range signal {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return Tensor{}, fmt.Errorf("%w: sample %d is %g", ErrNoFit, i, s)
		}
		logSignal[i] = math.Log(math.Max(s, m.minSignal))
	}
	var coef mat.VecDense
	coef.MulVec(m.pinv, mat.NewVecDense(n, logSignal))

	for i := 0; i < 7; i++ {
		if v := coef.AtVec(i); math.IsNaN(v) || math.IsInf(v, 0) {
			return Tensor{}, fmt.Errorf("%w: coefficient %d is %g", ErrNoFit, i, v)
		}
	}

	dxx, dyy, dzz := coef.AtVec(0), coef.AtVec(1), coef.AtVec(2)
	dxy, dxz, dyz := coef.AtVec(3), coef.AtVec(4), coef.AtVec(5)
	d := mat.NewSymDense(3, []float64{
		dxx, dxy, dxz,
		dxy, dyy, dyz,
		dxz, dyz, dzz,
	})

	if eig == nil {
		eig = &mat.EigenSym{}
	}
	if ok := eig.Factorize(d, true); !ok {
		return Tensor{}, fmt.Errorf("%w: eigen-decomposition did not converge", ErrNoFit)
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// Values come back ascending
	t := Tensor{S0: math.Exp(coef.AtVec(6))}
	for i := 0; i < 3; i++ {
		col := 2 - i
		t.Evals[i] = math.Max(vals[col], 0)
		for j := 0; j < 3; j++ {
			t.Evecs[i][j] = vecs.At(j, col)
		}
	}
	return t, nil
}

// Fitter computes colored FA maps. It implements the tensor fitting
// backend of the SNR estimator.
type Fitter struct {
	// NumCores is the number of goroutines the volume is split across
	NumCores int

	// MinSignal floors intensities before taking the log
	MinSignal float64
}

// NewFitter returns a Fitter using every available core.
func NewFitter() *Fitter {
	return &Fitter{NumCores: runtime.NumCPU(), MinSignal: DefaultMinSignal}
}

// Fit fits a tensor in every masked voxel and returns the colored FA map.
// Voxels outside mask, and masked voxels without a finite fit, are left
// at zero.
func (f *Fitter) Fit(dwi *models.Volume4D, gtab *models.GradientTable, mask *models.Mask) (*models.ColorFA, error) {
	if err := gtab.Validate(dwi.Nt); err != nil {
		return nil, err
	}
	if !dwi.SameGrid(mask) {
		return nil, fmt.Errorf("mask does not match the volume grid")
	}

	model, err := NewModel(gtab, f.MinSignal)
	if err != nil {
		return nil, err
	}

	cfa := models.NewColorFA(dwi.Nx, dwi.Ny, dwi.Nz)

	numWorkers := f.NumCores
	if numWorkers < 1 {
		numWorkers = 1
	}
	if numWorkers > dwi.Nz {
		numWorkers = dwi.Nz
	}
	if numWorkers == 0 {
		return cfa, nil
	}

	// Each worker owns a z-slab, so writes never overlap
	type slabResult struct {
		z0, z1 int
		err    error
	}
	resultChan := make(chan slabResult)
	slab := (dwi.Nz + numWorkers - 1) / numWorkers
	tasks := 0
	for z0 := 0; z0 < dwi.Nz; z0 += slab {
		z1 := z0 + slab
		if z1 > dwi.Nz {
			z1 = dwi.Nz
		}
		tasks++
		go func(z0, z1 int) {
			resultChan <- slabResult{z0: z0, z1: z1, err: fitSlab(model, dwi, mask, cfa, z0, z1)}
		}(z0, z1)
	}

	var firstErr error
	for completed := 0; completed < tasks; completed++ {
		res := <-resultChan
		if res.err != nil && firstErr == nil {
			firstErr = fmt.Errorf("slab z=%d..%d: %w", res.z0, res.z1-1, res.err)
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return cfa, nil
}

func fitSlab(model *Model, dwi *models.Volume4D, mask *models.Mask, cfa *models.ColorFA, z0, z1 int) error {
	var eig mat.EigenSym
	signal := make([]float64, dwi.Nt)
	for z := z0; z < z1; z++ {
		for y := 0; y < dwi.Ny; y++ {
			for x := 0; x < dwi.Nx; x++ {
				if !mask.At(x, y, z) {
					continue
				}
				for t := 0; t < dwi.Nt; t++ {
					signal[t] = dwi.At(x, y, z, t)
				}
				tensor, err := model.FitVoxel(signal, &eig)
				if errors.Is(err, ErrNoFit) {
					continue
				}
				if err != nil {
					return fmt.Errorf("voxel (%d,%d,%d): %w", x, y, z, err)
				}
				rgb := tensor.Color()
				for c := 0; c < 3; c++ {
					cfa.Set(x, y, z, c, rgb[c])
				}
			}
		}
	}
	return nil
}
