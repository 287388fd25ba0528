package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethpandaops/poolspy/internal/aggregate"
)

// Files holds the paths written by WriteFiles.
type Files struct {
	Text  string
	CSV   string
	Daily string
}

// WriteFiles writes the text report, the CSV report and, when daily is not
// empty, the per-date hours table into dir. Each file is replaced
// atomically.
func (r *Report) WriteFiles(dir string, daily *aggregate.DailyTable) (Files, error) {
	var files Files

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return files, fmt.Errorf("creating output dir: %w", err)
	}

	month := r.Month()

	files.Text = filepath.Join(dir, TextFileName(r.Organization, month))
	if err := writeAtomic(files.Text, []byte(r.Text())); err != nil {
		return files, err
	}

	csvData, err := r.CSV()
	if err != nil {
		return files, fmt.Errorf("rendering csv: %w", err)
	}

	files.CSV = filepath.Join(dir, CSVFileName(r.Organization, month))
	if err := writeAtomic(files.CSV, csvData); err != nil {
		return files, err
	}

	if daily.Empty() {
		return files, nil
	}

	dailyData, err := DailyCSV(daily)
	if err != nil {
		return files, fmt.Errorf("rendering daily table: %w", err)
	}

	files.Daily = filepath.Join(dir, DailyFileName(r.Organization, month))
	if err := writeAtomic(files.Daily, dailyData); err != nil {
		return files, err
	}

	return files, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return fmt.Errorf("writing %s: %w", path, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("closing %s: %w", path, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("replacing %s: %w", path, err)
	}

	return nil
}
