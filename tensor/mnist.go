package tensor

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
)

// Sample is one labelled 28x28 image with pixels scaled to [0,1].
type Sample struct {
	Label int
	Image *Tensor
}

// ReadMNISTCSV parses rows of the form label,p0,...,p783 with raw 0-255
// pixel intensities. At most limit rows are returned; limit <= 0 reads all.
func ReadMNISTCSV(r io.Reader, limit int) ([]Sample, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = 1 + 28*28
	cr.ReuseRecord = true

	var out []Sample
	for line := 1; limit <= 0 || len(out) < limit; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, fmt.Errorf("line %d: %w", line, err)
		}
		label, err := strconv.Atoi(record[0])
		if err != nil || label < 0 || label > 9 {
			return out, fmt.Errorf("line %d: invalid label %q", line, record[0])
		}
		img := New(28, 28)
		for i := range img.Data {
			x, err := strconv.ParseFloat(record[i+1], 64)
			if err != nil {
				return out, fmt.Errorf("line %d: parsing pixel %d: %w", line, i, err)
			}
			img.Data[i] = x / 255.0
		}
		out = append(out, Sample{Label: label, Image: img})
	}
	return out, nil
}

// LoadMNISTCSV reads samples from a CSV file, see ReadMNISTCSV.
func LoadMNISTCSV(filename string, limit int) ([]Sample, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadMNISTCSV(f, limit)
}
