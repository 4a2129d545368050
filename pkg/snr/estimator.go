package snr

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"ccsnr/internal/logger"
	"ccsnr/internal/models"
	"ccsnr/pkg/roi"
)

const component = "snr"

// BrainExtractor produces a brain mask from a DWI volume.
type BrainExtractor interface {
	Extract(dwi *models.Volume4D, gtab *models.GradientTable) (*models.Mask, error)
}

// TensorFitter fits a diffusion tensor inside mask and returns the
// colored FA map.
type TensorFitter interface {
	Fit(dwi *models.Volume4D, gtab *models.GradientTable, mask *models.Mask) (*models.ColorFA, error)
}

// Params holds the estimation parameters.
type Params struct {
	// Thresholds are the color FA bands a corpus callosum voxel must satisfy
	Thresholds models.ThresholdBands

	// DilationIterations is how far the brain mask is grown before inversion
	DilationIterations int
}

// DefaultParams returns the parameters of the reference workflow.
func DefaultParams() Params {
	return Params{
		Thresholds:         models.DefaultThresholdBands,
		DilationIterations: roi.DefaultDilationIterations,
	}
}

// Report is the outcome of one estimation run.
type Report struct {
	// RunID identifies the run in logs and result files
	RunID string

	Result

	// ROI is the shrunk box the corpus callosum was searched in
	ROI models.Box

	// CCVoxels and NoiseVoxels are the sizes of the two regions
	CCVoxels    int
	NoiseVoxels int

	BrainMask *models.Mask
	CCMask    *models.Mask
	NoiseMask *models.Mask
	ColorFA   *models.ColorFA
}

// Estimator runs the corpus callosum SNR workflow on one volume at a time.
// It keeps no state between runs.
type Estimator struct {
	params    Params
	extractor BrainExtractor
	fitter    TensorFitter
	log       logger.Logger
}

// NewEstimator wires the estimation parameters to the brain extraction and
// tensor fitting backends. extractor may be nil when every run supplies
// its own mask.
func NewEstimator(params Params, extractor BrainExtractor, fitter TensorFitter, log logger.Logger) *Estimator {
	if log == nil {
		log = logger.Nop()
	}
	return &Estimator{
		params:    params,
		extractor: extractor,
		fitter:    fitter,
		log:       log,
	}
}

// Process estimates SNR for dwi. If brainMask is nil it is computed with
// the configured BrainExtractor.
//
// A degenerate noise estimate returns both the Report, flagged, and
// ErrDegenerateNoise.
func (e *Estimator) Process(dwi *models.Volume4D, gtab *models.GradientTable, brainMask *models.Mask) (*Report, error) {
	if err := gtab.Validate(dwi.Nt); err != nil {
		return nil, err
	}
	report := &Report{RunID: uuid.NewString()}
	fields := map[string]interface{}{"run": report.RunID}

	// Step 1: brain mask
	if brainMask == nil {
		if e.extractor == nil {
			return nil, fmt.Errorf("no brain mask supplied and no extractor configured")
		}
		e.log.Info(component, "Computing brain mask...", fields)
		mask, err := e.extractor.Extract(dwi, gtab)
		if err != nil {
			return nil, fmt.Errorf("brain extraction failed: %w", err)
		}
		brainMask = mask
	}
	if !dwi.SameGrid(brainMask) {
		return nil, fmt.Errorf("brain mask %dx%dx%d does not match volume %dx%dx%d",
			brainMask.Nx, brainMask.Ny, brainMask.Nz, dwi.Nx, dwi.Ny, dwi.Nz)
	}
	report.BrainMask = brainMask

	// Step 2: tensor fit
	e.log.Info(component, "Computing tensors...", fields)
	cfa, err := e.fitter.Fit(dwi, gtab, brainMask)
	if err != nil {
		return nil, fmt.Errorf("tensor fit failed: %w", err)
	}
	report.ColorFA = cfa

	// Step 3: corpus callosum
	e.log.Info(component, "Computing worst-case/best-case SNR using the corpus callosum...", fields)
	box, err := roi.Shrink(brainMask)
	if err != nil {
		return nil, fmt.Errorf("brain mask: %w", err)
	}
	report.ROI = box

	ccMask, err := roi.Segment(cfa, box, e.params.Thresholds)
	if err != nil {
		return nil, err
	}
	report.CCMask = ccMask
	report.CCVoxels = ccMask.Count()
	e.log.Debug(component, "Segmented corpus callosum", map[string]interface{}{
		"run":    report.RunID,
		"voxels": report.CCVoxels,
		"roiMin": box.Min,
		"roiMax": box.Max,
	})

	// Step 4: background
	// The lower half along z is always excluded from the background. When
	// that half holds no brain at all the orientation is likely unexpected.
	if lowerHalfHasNoBrain(brainMask) {
		e.log.Warning(component, "Excluded lower half contains no brain; check the volume orientation", map[string]interface{}{
			"run": report.RunID,
			"nz":  brainMask.Nz,
		})
	}
	noiseMask := roi.NoiseMask(brainMask, e.params.DilationIterations)
	report.NoiseMask = noiseMask
	report.NoiseVoxels = noiseMask.Count()
	e.log.Debug(component, "Built noise region", map[string]interface{}{
		"run":    report.RunID,
		"voxels": report.NoiseVoxels,
	})

	// Step 5: ratios
	res, err := Compute(dwi, gtab, ccMask, noiseMask)
	report.Result = res
	if errors.Is(err, ErrDegenerateNoise) {
		e.log.Warning(component, "Noise standard deviation is zero; background may be zero-filled", fields)
		return report, err
	}
	if err != nil {
		return nil, err
	}

	for i, d := range res.Indices {
		if i == 0 {
			e.log.Info(component, "SNR for the b=0 image", map[string]interface{}{
				"run": report.RunID,
				"snr": res.SNR[i],
			})
			continue
		}
		e.log.Info(component, "SNR for direction", map[string]interface{}{
			"run":       report.RunID,
			"axis":      DirectionLabels[i],
			"direction": d,
			"bvec":      res.Directions[i],
			"snr":       res.SNR[i],
		})
	}
	return report, nil
}

// lowerHalfHasNoBrain reports whether every brain voxel lies at or above
// z = Nz/2, the part NoiseMask keeps.
func lowerHalfHasNoBrain(brain *models.Mask) bool {
	tight, err := roi.BoundingBox(brain)
	return err == nil && tight.Min[2] >= brain.Nz/2
}
