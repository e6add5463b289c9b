package dataset

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// extensions in lookup order.
var extensions = []string{".csv", ".json", ".yaml", ".yml"}

// FileSource reads <Dir>/<name>.{csv,json,yaml,yml}.
type FileSource struct {
	Dir string
}

// NewFileSource returns a source rooted at dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{Dir: dir}
}

// Load reads the first file found for name. Every failure is an *AccessError.
func (s *FileSource) Load(ctx context.Context, name string) ([]Example, error) {
	if err := ctx.Err(); err != nil {
		return nil, &AccessError{Name: name, Err: err}
	}
	if err := ValidateName(name); err != nil {
		return nil, &AccessError{Name: name, Err: err}
	}

	path, err := s.locate(name)
	if err != nil {
		return nil, &AccessError{Name: name, Err: err}
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, &AccessError{Name: name, Path: path, Err: err}
	}
	defer file.Close()

	var examples []Example
	switch filepath.Ext(path) {
	case ".csv":
		examples, err = decodeCSV(file)
	case ".json":
		examples, err = decodeJSON(file)
	default:
		examples, err = decodeYAML(file)
	}
	if err != nil {
		return nil, &AccessError{Name: name, Path: path, Err: err}
	}
	return examples, nil
}

func (s *FileSource) locate(name string) (string, error) {
	for _, ext := range extensions {
		path := filepath.Join(s.Dir, name+ext)
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return path, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("no %s file in %s: %w", strings.Join(extensions, "/"), s.Dir, fs.ErrNotExist)
}

var (
	questionColumns = []string{"input", "question"}
	expectedColumns = []string{"expected_output", "expected"}
)

func decodeCSV(r io.Reader) ([]Example, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("empty csv file")
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	questionIdx := columnIndex(header, questionColumns)
	if questionIdx < 0 {
		return nil, fmt.Errorf("csv header has no %s column", strings.Join(questionColumns, " or "))
	}
	expectedIdx := columnIndex(header, expectedColumns)
	if expectedIdx < 0 {
		return nil, fmt.Errorf("csv header has no %s column", strings.Join(expectedColumns, " or "))
	}

	var examples []Example
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", len(examples)+2, err)
		}
		examples = append(examples, Example{
			Question: record[questionIdx],
			Expected: record[expectedIdx],
		})
	}
	return examples, nil
}

func columnIndex(header []string, names []string) int {
	for _, name := range names {
		for i, col := range header {
			col = strings.TrimPrefix(col, "\ufeff")
			if strings.EqualFold(strings.TrimSpace(col), name) {
				return i
			}
		}
	}
	return -1
}

// fileExample accepts the column aliases used by the CSV layout.
type fileExample struct {
	Input          string `json:"input" yaml:"input"`
	Question       string `json:"question" yaml:"question"`
	ExpectedOutput string `json:"expected_output" yaml:"expected_output"`
	Expected       string `json:"expected" yaml:"expected"`
}

func (f fileExample) toExample() Example {
	ex := Example{Question: f.Input, Expected: f.ExpectedOutput}
	if ex.Question == "" {
		ex.Question = f.Question
	}
	if ex.Expected == "" {
		ex.Expected = f.Expected
	}
	return ex
}

func decodeJSON(r io.Reader) ([]Example, error) {
	var rows []fileExample
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode json dataset: %w", err)
	}
	return convert(rows), nil
}

func decodeYAML(r io.Reader) ([]Example, error) {
	var rows []fileExample
	if err := yaml.NewDecoder(r).Decode(&rows); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml dataset: %w", err)
	}
	return convert(rows), nil
}

func convert(rows []fileExample) []Example {
	examples := make([]Example, 0, len(rows))
	for _, row := range rows {
		examples = append(examples, row.toExample())
	}
	return examples
}
