// Package results persists per-subject overlap results to an
// append-only tabular store, one row per subject per run. Two backends
// are provided: a CSV file and a SQLite database. Neither backend
// serializes concurrent appends from multiple processes to the same
// destination; callers running subjects in parallel must give each run
// its own destination or serialize externally.
package results

import "lesionflow/pkg/analysis"

// Row is one persisted result record
type Row struct {
	SubjectID string
	RunID     string
	Result    analysis.Result
}

// Store appends result rows to a tabular destination
type Store interface {
	Append(row Row) error
	Close() error
}
