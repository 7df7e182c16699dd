package datasets

import (
	"encoding/csv"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

func parseFloat32(s string) (float32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty string")
	}
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, err
	}
	return float32(v), nil
}

// readHeader reads the first CSV record and returns the column index of each
// header name (trimmed, lower-cased). Every name in required must be present.
func readHeader(reader *csv.Reader, required ...string) (map[string]int, error) {
	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read header")
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.TrimSpace(strings.ToLower(col))] = i
	}
	for _, col := range required {
		if _, ok := colIndex[col]; !ok {
			return nil, errors.Errorf("required column %q not found in CSV", col)
		}
	}
	return colIndex, nil
}
