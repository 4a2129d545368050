package gradients

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"ccsnr/internal/models"
)

// Load reads an FSL-style bvals/bvecs pair into a gradient table.
func Load(bvalsPath, bvecsPath string) (*models.GradientTable, error) {
	bvals, err := ReadBVals(bvalsPath)
	if err != nil {
		return nil, err
	}
	bvecs, err := ReadBVecs(bvecsPath)
	if err != nil {
		return nil, err
	}

	gtab := &models.GradientTable{BVals: bvals, BVecs: bvecs}
	if err := gtab.Validate(len(bvals)); err != nil {
		return nil, fmt.Errorf("%s and %s disagree: %w", bvalsPath, bvecsPath, err)
	}
	return gtab, nil
}

// ReadBVals reads whitespace separated b-values from a file.
func ReadBVals(path string) ([]float64, error) {
	rows, err := readTable(path)
	if err != nil {
		return nil, err
	}

	var bvals []float64
	for _, row := range rows {
		bvals = append(bvals, row...)
	}
	if len(bvals) == 0 {
		return nil, fmt.Errorf("no b-values found in %s", path)
	}
	return bvals, nil
}

// ReadBVecs reads gradient directions stored either as three rows
// (FSL layout) or as one row per direction.
func ReadBVecs(path string) ([][3]float64, error) {
	rows, err := readTable(path)
	if err != nil {
		return nil, err
	}

	switch {
	case len(rows) == 3 && len(rows[0]) == len(rows[1]) && len(rows[1]) == len(rows[2]):
		vecs := make([][3]float64, len(rows[0]))
		for i := range vecs {
			vecs[i] = [3]float64{rows[0][i], rows[1][i], rows[2][i]}
		}
		return vecs, nil

	case len(rows) > 0:
		vecs := make([][3]float64, len(rows))
		for i, row := range rows {
			if len(row) != 3 {
				return nil, fmt.Errorf("%s line %d: expected 3 components, got %d", path, i+1, len(row))
			}
			vecs[i] = [3]float64{row[0], row[1], row[2]}
		}
		return vecs, nil
	}
	return nil, fmt.Errorf("no gradient vectors found in %s", path)
}

// readTable parses a text file of whitespace or comma separated numbers,
// skipping blank lines and '#' comments.
func readTable(path string) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening gradient file: %w", err)
	}
	defer f.Close()

	rows, err := parseTable(f)
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", path, err)
	}
	return rows, nil
}

func parseTable(r io.Reader) ([][]float64, error) {
	var rows [][]float64
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.FieldsFunc(text, func(c rune) bool {
			return c == ' ' || c == '\t' || c == ','
		})
		row := make([]float64, len(fields))
		for i, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	return rows, scanner.Err()
}
