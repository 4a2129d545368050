package report

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ccsnr/pkg/snr"
)

func sampleReport() *snr.Report {
	return &snr.Report{
		RunID: "run-1",
		Result: snr.Result{
			SNR:        [4]float64{50, 10, 45, 47.5},
			Indices:    [4]int{0, 58, 57, 126},
			Directions: [4][3]float64{{0, 0, 0}, {0.98875, 0.1177, -0.09229}, {-0.05039, 0.99871, 0.0054406}, {-0.11825, -0.039925, 0.99218}},
			MeanSignal: [4]float64{100, 20, 90, 95},
			NoiseStd:   2,
		},
		CCVoxels:    64,
		NoiseVoxels: 1000,
	}
}

func TestFormatText(t *testing.T) {
	if got := FormatText(sampleReport()); got != "50 10 45 47.5" {
		t.Errorf("Unexpected text output %q", got)
	}
}

func TestFormatTextDegenerate(t *testing.T) {
	r := sampleReport()
	r.Degenerate = true
	r.SNR = [4]float64{math.Inf(1), math.Inf(1), math.Inf(1), math.Inf(1)}

	got := FormatText(r)
	if !strings.HasPrefix(got, "# degenerate") {
		t.Errorf("Degenerate output must be flagged, got %q", got)
	}
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "product.json")
	if err := Write(path, "json", sampleReport()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read result: %v", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if len(doc.Directions) != 4 || doc.Directions[1].Label != "x" || doc.Directions[1].Index != 58 {
		t.Errorf("Unexpected directions %+v", doc.Directions)
	}
	if doc.Directions[3].SNR == nil || *doc.Directions[3].SNR != 47.5 {
		t.Errorf("Expected z SNR 47.5, got %v", doc.Directions[3].SNR)
	}
}

func TestWriteJSONDegenerate(t *testing.T) {
	r := sampleReport()
	r.Degenerate = true
	r.NoiseStd = 0
	r.SNR = [4]float64{math.Inf(1), math.Inf(1), math.Inf(1), math.Inf(1)}

	path := filepath.Join(t.TempDir(), "product.json")
	if err := WriteJSON(path, r); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	data, _ := os.ReadFile(path)
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if !doc.Degenerate {
		t.Error("Expected the degenerate flag")
	}
	for _, d := range doc.Directions {
		if d.SNR != nil {
			t.Errorf("Expected null SNR for %s, got %f", d.Label, *d.SNR)
		}
	}
}

func TestWriteUnknownFormat(t *testing.T) {
	if err := Write(filepath.Join(t.TempDir(), "x"), "csv", sampleReport()); err == nil {
		t.Error("Expected an error for an unknown format")
	}
}
