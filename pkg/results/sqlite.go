package results

import (
	"database/sql"

	_ "modernc.org/sqlite"
)

// SQLiteStore appends result rows to a SQLite database, creating the
// schema on first open. Useful when results from many runs feed a
// downstream analysis that outgrows a flat CSV.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS overlap_results (
			subject_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			lesion_volume_mm3 INTEGER NOT NULL,
			left_overlap BOOLEAN NOT NULL,
			overlap_fraction_left DOUBLE NOT NULL,
			right_overlap BOOLEAN NOT NULL,
			overlap_fraction_right DOUBLE NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// Append inserts one result row
func (s *SQLiteStore) Append(row Row) error {
	r := row.Result
	_, err := s.db.Exec(`
		INSERT INTO overlap_results (
			subject_id, run_id, lesion_volume_mm3,
			left_overlap, overlap_fraction_left,
			right_overlap, overlap_fraction_right
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.SubjectID, row.RunID, r.LesionVolumeMM3,
		r.LeftOverlap, r.LeftFraction,
		r.RightOverlap, r.RightFraction,
	)
	return err
}

// Close closes the database
func (s *SQLiteStore) Close() error { return s.db.Close() }
