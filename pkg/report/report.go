// Package report writes SNR estimation results to disk.
package report

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ccsnr/pkg/snr"
)

// Direction is one entry of the JSON result.
type Direction struct {
	Label      string     `json:"label"`
	Index      int        `json:"index"`
	BVec       [3]float64 `json:"bvec"`
	MeanSignal float64    `json:"meanSignal"`
	// SNR is null when the noise estimate was degenerate
	SNR *float64 `json:"snr"`
}

// Document is the JSON layout of a result file.
type Document struct {
	RunID       string      `json:"runId"`
	Directions  []Direction `json:"directions"`
	NoiseStd    float64     `json:"noiseStd"`
	Degenerate  bool        `json:"degenerate"`
	CCVoxels    int         `json:"ccVoxels"`
	NoiseVoxels int         `json:"noiseVoxels"`
	ROIMin      [3]int      `json:"roiMin"`
	ROIMax      [3]int      `json:"roiMax"`
}

// NewDocument flattens a report for serialization.
func NewDocument(r *snr.Report) Document {
	doc := Document{
		RunID:       r.RunID,
		NoiseStd:    r.NoiseStd,
		Degenerate:  r.Degenerate,
		CCVoxels:    r.CCVoxels,
		NoiseVoxels: r.NoiseVoxels,
		ROIMin:      r.ROI.Min,
		ROIMax:      r.ROI.Max,
	}
	for i, label := range snr.DirectionLabels {
		d := Direction{
			Label:      label,
			Index:      r.Indices[i],
			BVec:       r.Directions[i],
			MeanSignal: r.MeanSignal[i],
		}
		if v := r.SNR[i]; !r.Degenerate && !math.IsInf(v, 0) && !math.IsNaN(v) {
			d.SNR = &v
		}
		doc.Directions = append(doc.Directions, d)
	}
	return doc
}

// FormatText renders the four ratios separated by spaces in b0, x, y, z
// order. Degenerate results are prefixed with a marker line so they cannot
// be read as valid numbers.
func FormatText(r *snr.Report) string {
	values := make([]string, len(r.SNR))
	for i, v := range r.SNR {
		values[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	line := strings.Join(values, " ")
	if r.Degenerate {
		return "# degenerate: noise standard deviation is zero\n" + line
	}
	return line
}

// WriteText writes FormatText to path.
func WriteText(path string, r *snr.Report) error {
	return writeFile(path, []byte(FormatText(r)))
}

// WriteJSON writes the report as indented JSON to path.
func WriteJSON(path string, r *snr.Report) error {
	data, err := json.MarshalIndent(NewDocument(r), "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling report: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

// Write dispatches on format, "text" or "json".
func Write(path, format string, r *snr.Report) error {
	switch format {
	case "", "text":
		return WriteText(path, r)
	case "json":
		return WriteJSON(path, r)
	}
	return fmt.Errorf("unknown output format %q", format)
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing result file: %w", err)
	}
	return nil
}
