package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"ccsnr/internal/logger"
	"ccsnr/internal/models"
	"ccsnr/pkg/brainmask"
	"ccsnr/pkg/config"
	"ccsnr/pkg/gradients"
	"ccsnr/pkg/nifti"
	"ccsnr/pkg/report"
	"ccsnr/pkg/snr"
	"ccsnr/pkg/tensor"
)

// input is one DWI acquisition to process
type input struct {
	data, bvals, bvecs string
}

func main() {
	// Parse command line arguments
	dataFile := flag.String("data", "", "DWI NIfTI file (.nii or .nii.gz); wildcards process several inputs")
	bvalsFile := flag.String("bvals", "", "b-values file; wildcards must match -data")
	bvecsFile := flag.String("bvecs", "", "b-vectors file; wildcards must match -data")
	maskFile := flag.String("mask", "", "Brain mask NIfTI file (computed with median_otsu when empty)")
	bboxThreshold := flag.String("bbox-threshold", "", "Color FA bands, e.g. [0.6,1,0,0.1,0,0.1]")
	outDir := flag.String("out-dir", "", "Directory for the result file")
	outFile := flag.String("out-file", "", "Name of the result file (default product.json)")
	format := flag.String("format", "", "Result format: text or json")
	saveMasks := flag.Bool("save-masks", false, "Save the corpus callosum and noise masks")
	numCores := flag.Int("cores", 0, "Number of CPU cores to use (default: all available)")
	configPath := flag.String("config", "", "YAML configuration file")
	writeConfig := flag.String("write-config", "", "Write the default configuration to this path and exit")
	flag.Parse()

	if *writeConfig != "" {
		if err := config.CreateDefaultConfigFile(*writeConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Validate inputs
	if *dataFile == "" || *bvalsFile == "" || *bvecsFile == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Explicit flags win over the config file
	if *bboxThreshold != "" {
		bands, err := config.ParseThresholds(*bboxThreshold)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid -bbox-threshold: %v\n", err)
			os.Exit(2)
		}
		cfg.Processing.Thresholds = bands[:]
	}
	if *outDir != "" {
		cfg.Output.OutDir = *outDir
	}
	if *outFile != "" {
		cfg.Output.OutFile = *outFile
	}
	if *format != "" {
		cfg.Output.Format = *format
	}
	if *saveMasks {
		cfg.Output.SaveMasks = true
	}
	if *numCores > 0 {
		cfg.Processing.NumCores = *numCores
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(2)
	}

	log := logger.NewConsoleLogger(logger.ParseLevel(cfg.Output.LogLevel))

	inputs, err := expandInputs(*dataFile, *bvalsFile, *bvecsFile)
	if err != nil {
		log.Error("main", err, nil)
		os.Exit(2)
	}

	failed := 0
	for _, in := range inputs {
		outPath := resultPath(cfg, in, len(inputs) > 1)
		startTime := time.Now()
		if err := run(cfg, in, *maskFile, outPath, log); err != nil {
			log.Error("main", err, map[string]interface{}{"data": in.data})
			failed++
			continue
		}
		log.Info("main", "Result written", map[string]interface{}{
			"data":    in.data,
			"path":    outPath,
			"elapsed": time.Since(startTime).String(),
		})
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// run estimates SNR for one input and writes the result file
func run(cfg *config.Config, in input, maskPath, outPath string, log *logger.ZerologAdapter) error {
	img, err := nifti.Read(in.data)
	if err != nil {
		return fmt.Errorf("failed to load DWI: %w", err)
	}
	dwi := img.Volume

	gtab, err := gradients.Load(in.bvals, in.bvecs)
	if err != nil {
		return fmt.Errorf("failed to load gradient table: %w", err)
	}
	if err := gtab.Validate(dwi.Nt); err != nil {
		return err
	}

	var brain *models.Mask
	if maskPath != "" {
		brain, err = nifti.ReadMask(maskPath)
		if err != nil {
			return fmt.Errorf("failed to load brain mask: %w", err)
		}
	}

	extractor := &brainmask.MedianOtsu{
		MedianRadius: cfg.BrainMask.MedianRadius,
		NumPass:      cfg.BrainMask.NumPass,
		B0Threshold:  cfg.Processing.B0Threshold,
		NumCores:     cfg.Processing.NumCores,
	}
	fitter := &tensor.Fitter{
		NumCores:  cfg.Processing.NumCores,
		MinSignal: cfg.Tensor.MinSignal,
	}
	params := snr.Params{
		Thresholds:         cfg.Bands(),
		DilationIterations: cfg.Processing.DilationIterations,
	}
	estimator := snr.NewEstimator(params, extractor, fitter, log.With("data", filepath.Base(in.data)))

	rep, err := estimator.Process(dwi, gtab, brain)
	if errors.Is(err, snr.ErrDegenerateNoise) {
		return fmt.Errorf("refusing to write a result: %w (is the background zero-filled?)", err)
	}
	if err != nil {
		return err
	}

	if cfg.Output.SaveMasks {
		dir := filepath.Dir(outPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		if err := nifti.WriteMask(filepath.Join(dir, "cc.nii.gz"), rep.CCMask, img.Affine); err != nil {
			return fmt.Errorf("failed to save corpus callosum mask: %w", err)
		}
		if err := nifti.WriteMask(filepath.Join(dir, "mask_noise.nii.gz"), rep.NoiseMask, img.Affine); err != nil {
			return fmt.Errorf("failed to save noise mask: %w", err)
		}
	}

	return report.Write(outPath, cfg.Output.Format, rep)
}

// expandInputs resolves wildcards and pairs the matches in sorted order
func expandInputs(data, bvals, bvecs string) ([]input, error) {
	var lists [3][]string
	for i, pattern := range []string{data, bvals, bvecs} {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no file matches %q", pattern)
		}
		sort.Strings(matches)
		lists[i] = matches
	}

	if len(lists[0]) != len(lists[1]) || len(lists[0]) != len(lists[2]) {
		return nil, fmt.Errorf("matched %d data, %d bvals and %d bvecs files", len(lists[0]), len(lists[1]), len(lists[2]))
	}

	inputs := make([]input, len(lists[0]))
	for i := range inputs {
		inputs[i] = input{data: lists[0][i], bvals: lists[1][i], bvecs: lists[2][i]}
	}
	return inputs, nil
}

// resultPath places each input's result in its own directory when several
// inputs are processed in one invocation
func resultPath(cfg *config.Config, in input, multiple bool) string {
	dir := cfg.Output.OutDir
	if multiple {
		base := filepath.Base(in.data)
		base = strings.TrimSuffix(base, ".gz")
		base = strings.TrimSuffix(base, ".nii")
		dir = filepath.Join(dir, base)
	}
	return filepath.Join(dir, cfg.Output.OutFile)
}
