package answer_eval

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfvieira/tic43/internal/dataset"
	"github.com/tfvieira/tic43/internal/sink"
)

type recordingSink struct {
	written map[string][]sink.Row
	failFor string
}

func (s *recordingSink) Write(_ context.Context, name string, rows []sink.Row) error {
	if name == s.failFor {
		return errors.New("disk full")
	}
	if s.written == nil {
		s.written = make(map[string][]sink.Row)
	}
	s.written[name] = rows
	return nil
}

func TestRunnerContinuesPastFailedDatasets(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "basic_questions.csv"),
		[]byte("input,expected_output\nq0,q0\nq1,q1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "domain_specific_questions.csv"),
		[]byte("input,expected_output\nq0,q0\n"), 0o644))

	out := &recordingSink{failFor: "domain_specific_questions"}
	runner := NewRunner(New(echoGenerator(0), matchingJudge()), dataset.NewFileSource(dataDir), out, 2)

	report := runner.Run(context.Background(), []string{
		"basic_questions",
		"adversarial_questions",
		"domain_specific_questions",
	})

	require.Len(t, report.Datasets, 3)
	assert.NotEmpty(t, report.RunID)
	assert.True(t, report.Failed())

	basic := report.Datasets[0]
	require.NoError(t, basic.Err)
	assert.Equal(t, 2, basic.Summary.Total)
	assert.InDelta(t, 4.0, basic.Summary.MeanScore, 1e-9)
	require.Len(t, out.written["basic_questions"], 2)
	assert.Equal(t, "q1", out.written["basic_questions"][1].Question)
	assert.Equal(t, "Identical / Semantically Equivalent", out.written["basic_questions"][1].SimilarityRating)

	missing := report.Datasets[1]
	assert.ErrorIs(t, missing.Err, dataset.ErrAccess)
	assert.NotContains(t, out.written, "adversarial_questions")

	unpersisted := report.Datasets[2]
	require.Error(t, unpersisted.Err)
	assert.Contains(t, unpersisted.Error(), "disk full")
	assert.Len(t, unpersisted.Records, 1)
}

func TestRunnerWritesCSVPerDataset(t *testing.T) {
	dataDir, outDir := t.TempDir(), filepath.Join(t.TempDir(), "eval")
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "basic_questions.json"),
		[]byte(`[{"question":"q0","expected_output":"q0"}]`), 0o644))

	runner := NewRunner(New(echoGenerator(0), matchingJudge()), dataset.NewFileSource(dataDir), sink.NewCSV(outDir), 3)
	report := runner.Run(context.Background(), []string{"basic_questions"})

	require.False(t, report.Failed())
	_, err := os.Stat(filepath.Join(outDir, "basic_questions.csv"))
	assert.NoError(t, err)
}
