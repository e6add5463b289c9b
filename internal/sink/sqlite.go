package sink

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/tfvieira/tic43/internal/dataset"
)

const schema = `
CREATE TABLE IF NOT EXISTS eval_records (
	dataset TEXT NOT NULL,
	position INTEGER NOT NULL,
	question TEXT NOT NULL,
	obtained_answer TEXT NOT NULL,
	expected_answer TEXT NOT NULL,
	similarity_rating TEXT NOT NULL,
	similarity_score INTEGER NOT NULL,
	justification TEXT NOT NULL,
	written_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (dataset, position)
);
CREATE INDEX IF NOT EXISTS idx_eval_records_rating ON eval_records(dataset, similarity_rating);
`

// SQLite stores every dataset in one eval_records table. Writing a dataset
// replaces its rows in a single transaction.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and creates) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; sqlite serialises writes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Write(ctx context.Context, name string, rows []Row) error {
	if err := s.write(ctx, name, rows); err != nil {
		return &WriteError{Name: name, Kind: "sqlite", Err: err}
	}
	return nil
}

func (s *SQLite) write(ctx context.Context, name string, rows []Row) error {
	if err := dataset.ValidateName(name); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM eval_records WHERE dataset = ?`, name); err != nil {
		return fmt.Errorf("clear previous rows: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO eval_records
		(dataset, position, question, obtained_answer, expected_answer, similarity_rating, similarity_score, justification)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, name, i,
			row.Question, row.ObtainedAnswer, row.ExpectedAnswer,
			row.SimilarityRating, row.SimilarityScore, row.Justification,
		); err != nil {
			return fmt.Errorf("insert row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rows returns the stored rows of a dataset in record order.
func (s *SQLite) Rows(ctx context.Context, name string) ([]Row, error) {
	result, err := s.db.QueryContext(ctx, `SELECT question, obtained_answer, expected_answer,
		similarity_rating, similarity_score, justification
		FROM eval_records WHERE dataset = ? ORDER BY position`, name)
	if err != nil {
		return nil, err
	}
	defer result.Close()

	var rows []Row
	for result.Next() {
		var r Row
		if err := result.Scan(&r.Question, &r.ObtainedAnswer, &r.ExpectedAnswer,
			&r.SimilarityRating, &r.SimilarityScore, &r.Justification); err != nil {
			return nil, err
		}
		rows = append(rows, r)
	}
	return rows, result.Err()
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
