package results

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
)

var csvHeader = []string{
	"subject_id",
	"run_id",
	"lesion_volume_mm3",
	"left_overlap",
	"overlap_fraction_left",
	"right_overlap",
	"overlap_fraction_right",
}

// CSVStore appends result rows to a CSV file, writing the header row
// first when the destination does not exist yet.
type CSVStore struct {
	Path string
}

// NewCSVStore returns a store writing to path
func NewCSVStore(path string) *CSVStore {
	return &CSVStore{Path: path}
}

// Append writes one row, creating the file and header on first use
func (s *CSVStore) Append(row Row) error {
	if dir := filepath.Dir(s.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	info, err := os.Stat(s.Path)
	writeHeader := os.IsNotExist(err) || (err == nil && info.Size() == 0)

	f, err := os.OpenFile(s.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(csvHeader); err != nil {
			return err
		}
	}
	r := row.Result
	if err := w.Write([]string{
		row.SubjectID,
		row.RunID,
		strconv.Itoa(r.LesionVolumeMM3),
		strconv.FormatBool(r.LeftOverlap),
		strconv.FormatFloat(r.LeftFraction, 'f', 6, 64),
		strconv.FormatBool(r.RightOverlap),
		strconv.FormatFloat(r.RightFraction, 'f', 6, 64),
	}); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// Close is a no-op; the file is opened per append
func (s *CSVStore) Close() error { return nil }
