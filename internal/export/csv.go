package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"covlog/internal/merge"
)

// WriteCSV writes a header line and one line per row.
func WriteCSV(w io.Writer, rows []merge.Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(Strings(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVFile writes rows to path, replacing any existing file.
func WriteCSVFile(path string, rows []merge.Row) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := WriteCSV(f, rows); err != nil {
		return fmt.Errorf("write csv %s: %w", path, err)
	}
	return nil
}
