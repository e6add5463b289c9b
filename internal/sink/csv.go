package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tfvieira/tic43/internal/dataset"
)

// CSV writes <Dir>/<name>.csv. The file is replaced atomically so a failed
// write leaves the previous contents intact.
type CSV struct {
	Dir string
}

// NewCSV returns a CSV sink rooted at dir. The directory is created on the
// first write.
func NewCSV(dir string) *CSV {
	return &CSV{Dir: dir}
}

func (s *CSV) Write(ctx context.Context, name string, rows []Row) error {
	if err := s.write(ctx, name, rows); err != nil {
		return &WriteError{Name: name, Kind: "csv", Err: err}
	}
	return nil
}

func (s *CSV) write(ctx context.Context, name string, rows []Row) error {
	if err := dataset.ValidateName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.Dir, "."+name+"-*.csv")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	w := csv.NewWriter(tmp)
	if err := w.Write(Columns); err != nil {
		_ = tmp.Close()
		return err
	}
	for _, row := range rows {
		if err := w.Write(row.values()); err != nil {
			_ = tmp.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush csv: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, filepath.Join(s.Dir, name+".csv")); err != nil {
		return fmt.Errorf("replace results file: %w", err)
	}
	return nil
}
