package scenepipeline

import (
	"encoding/csv"
	"fmt"
	"os"

	renderworkererrors "github.com/loomrender/renderworker/errors"
	"github.com/loomrender/renderworker/model"
)

// resolveCSVScenes substitutes ResolvedURL for every csv-entry-type scene
// from the row at job.LeadRow.Index / scene.CSVColumn, before fingerprinting
// or recording (§9 open question: CSV substitution happens in Prepare, so
// the fingerprint — and thus cache sharing — is over the resolved URL, not
// the column reference).
func resolveCSVScenes(job *model.Job, csvPath string) error {
	needsCSV := false
	for _, s := range job.Scenes {
		if s.EntryType == model.EntryTypeCSV {
			needsCSV = true
			break
		}
	}
	if !needsCSV {
		return nil
	}

	if job.LeadRow == nil {
		return renderworkererrors.NewValidationError("job has csv-entry scenes but no lead row reference")
	}

	f, err := os.Open(csvPath)
	if err != nil {
		return renderworkererrors.NewValidationError(fmt.Sprintf("opening lead csv: %s", err))
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return renderworkererrors.NewValidationError(fmt.Sprintf("reading lead csv header: %s", err))
	}

	columnIndex := make(map[string]int, len(header))
	for i, name := range header {
		columnIndex[name] = i
	}

	rows, err := reader.ReadAll()
	if err != nil {
		return renderworkererrors.NewValidationError(fmt.Sprintf("reading lead csv rows: %s", err))
	}
	if job.LeadRow.Index < 0 || job.LeadRow.Index >= len(rows) {
		return renderworkererrors.NewValidationError(fmt.Sprintf("lead row index %d out of range (%d rows)", job.LeadRow.Index, len(rows)))
	}
	row := rows[job.LeadRow.Index]

	for i := range job.Scenes {
		scene := &job.Scenes[i]
		if scene.EntryType != model.EntryTypeCSV {
			continue
		}
		col, ok := columnIndex[scene.CSVColumn]
		if !ok || col >= len(row) {
			return renderworkererrors.NewValidationError(fmt.Sprintf("csv column %q not found for scene %s", scene.CSVColumn, scene.ID))
		}
		scene.ResolvedURL = row[col]
	}

	return nil
}
