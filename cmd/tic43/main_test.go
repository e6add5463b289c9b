package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfvieira/tic43/evaluation/answer_eval"
	"github.com/tfvieira/tic43/internal/refiner"
	"github.com/tfvieira/tic43/internal/verdict"
)

// fakeLLM answers chat completions by capability, told apart by the opening
// line of the system prompt.
type fakeLLM struct {
	reviews atomic.Int32
	// changesBeforeApprove is the number of change verdicts before approving.
	changesBeforeApprove int32
}

func (f *fakeLLM) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || len(payload.Messages) < 2 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	system, user := payload.Messages[0].Content, payload.Messages[1].Content

	var content string
	switch {
	case strings.HasPrefix(system, "You grade"):
		rating := verdict.RatingTotallyDifferent
		if strings.Contains(user, "Obtained Answer: answer to Paris\n") {
			rating = verdict.RatingIdentical
		}
		content = fmt.Sprintf("```json\n{\"similarity_rating\": %q, \"justification\": \"compared\"}\n```", rating)
	case strings.HasPrefix(system, "You review"):
		if f.reviews.Add(1) <= f.changesBeforeApprove {
			content = `{"review_status": "change", "review_suggestions": "handle empty input"}`
		} else {
			content = `{"review_status": "approve", "review_suggestions": ""}`
		}
	case strings.HasPrefix(system, "You are a senior engineer planning"):
		content = "1. parse\n2. return"
	case strings.HasPrefix(system, "You are a senior engineer implementing"):
		content = fmt.Sprintf("func parse() {} // review %d", f.reviews.Load())
	default:
		content = "answer to " + user
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
}

func startFakeLLM(t *testing.T, f *fakeLLM) string {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: unable to create loopback listener: %v", err)
	}
	server := httptest.NewUnstartedServer(f)
	server.Listener = ln
	server.Start()
	t.Cleanup(server.Close)
	return server.URL
}

// workspace isolates the test from any config or .env in the real
// environment and points the LLM client at baseURL.
func workspace(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_BASE_URL", "")
	t.Setenv("TIC43_LLM_API_KEY", "")
	if baseURL != "" {
		t.Setenv("TIC43_LLM_API_KEY", "test-key")
		t.Setenv("TIC43_LLM_BASE_URL", baseURL)
	}
	return dir
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	root := newRootCommand()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--plain"}, args...))
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(&stderr, err)
	}
	return exitCode(err), stdout.String(), stderr.String()
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitFailure, exitCode(errors.New("dataset failed")))
	assert.Equal(t, exitUsage, exitCode(usageError(errors.New("bad flag"))))
	assert.Equal(t, exitUsage, exitCode(fmt.Errorf("wrapped: %w", usageError(errors.New("bad")))))
	assert.Nil(t, usageError(nil))
}

func TestUsageErrorsExitWithTwo(t *testing.T) {
	workspace(t, "")

	tests := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"eval", "--no-such-flag"}},
		{"unknown command", []string{"frobnicate"}},
		{"refine without task", []string{"refine"}},
		{"serve with args", []string{"serve", "extra"}},
		{"missing api key", []string{"refine", "task"}},
		{"invalid attempts", []string{"refine", "task", "--max-attempts", "0"}},
		{"missing config file", []string{"eval", "--config", "nope.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := runCLI(t, tt.args...)
			assert.Equal(t, exitUsage, code, stderr)
		})
	}
}

func TestEmptyPromptOverrideIsAUsageError(t *testing.T) {
	dir := workspace(t, "http://127.0.0.1:1")
	promptDir := filepath.Join(dir, "prompts")
	require.NoError(t, os.MkdirAll(promptDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(promptDir, "judge.md"), []byte("  \n"), 0o644))
	t.Setenv("TIC43_PROMPTS_DIR", promptDir)

	code, _, stderr := runCLI(t, "eval", "capitals")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "prompt judge is empty")
}

func writeDataset(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".csv"), []byte(content), 0o644))
}

func TestEvalCommandWritesResults(t *testing.T) {
	url := startFakeLLM(t, &fakeLLM{})
	dir := workspace(t, url)
	writeDataset(t, filepath.Join(dir, "data"), "capitals", "input,expected_output\nParis,Paris\nRome,Roma\n")

	code, stdout, stderr := runCLI(t, "eval", "capitals", "--workers", "2", "--sqlite", filepath.Join(dir, "results.db"))
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "capitals: 2 records, 0 errors")

	f, err := os.Open(filepath.Join(dir, "eval", "capitals.csv"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "question", rows[0][0])
	assert.Equal(t, []string{"Paris", "answer to Paris", "Paris", string(verdict.RatingIdentical), "4", "compared"}, rows[1])
	assert.Equal(t, string(verdict.RatingTotallyDifferent), rows[2][3])
	assert.FileExists(t, filepath.Join(dir, "results.db"))
}

func TestEvalCommandReportsMissingDataset(t *testing.T) {
	url := startFakeLLM(t, &fakeLLM{})
	dir := workspace(t, url)
	writeDataset(t, filepath.Join(dir, "data"), "present", "question,expected_output\nParis,Paris\n")

	code, stdout, _ := runCLI(t, "eval", "missing", "present")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stdout, "missing")
	assert.Contains(t, stdout, "present: 1 records")
	assert.FileExists(t, filepath.Join(dir, "eval", "present.csv"))
	assert.NoFileExists(t, filepath.Join(dir, "eval", "missing.csv"))
}

func TestRefineCommandApproves(t *testing.T) {
	url := startFakeLLM(t, &fakeLLM{changesBeforeApprove: 1})
	workspace(t, url)

	code, stdout, stderr := runCLI(t, "refine", "parse", "JSON", "--max-attempts", "3")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "PLAN (attempt 1)")
	assert.Contains(t, stdout, "REVIEW (attempt 2)")
	assert.Contains(t, stdout, "handle empty input")
	assert.Contains(t, stdout, "CHANGES")
	assert.Contains(t, stdout, "refinement approved after 2 attempt(s)")
}

func TestRefineCommandExhaustsAttempts(t *testing.T) {
	url := startFakeLLM(t, &fakeLLM{changesBeforeApprove: 10})
	workspace(t, url)

	code, stdout, stderr := runCLI(t, "refine", "task", "-n", "2")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stdout, "max attempts exceeded")
	assert.Contains(t, stderr, "refinement aborted")
}

func TestConsoleObserverPrintsMalformedReview(t *testing.T) {
	var out bytes.Buffer
	o := newConsoleObserver(&out, nil)
	o.OnRefineEvent(refiner.Event{Type: refiner.EventReview, Attempt: 1, Content: "LGTM", Err: verdict.ErrMalformed})
	assert.Contains(t, out.String(), "malformed review")
	assert.Contains(t, out.String(), "LGTM")
}

func TestLineDiff(t *testing.T) {
	before := "a\nb\nc\nd\ne\nf\ng\n"
	after := "a\nb\nc\nX\ne\nf\ng\n"

	diff := lineDiff(before, after, 1)
	assert.Contains(t, diff, "- d\n")
	assert.Contains(t, diff, "+ X\n")
	assert.Contains(t, diff, "  c\n")
	assert.Contains(t, diff, "unchanged lines")
	assert.NotContains(t, diff, "  a\n")
}

func TestRatingHistogramOrdersBestFirst(t *testing.T) {
	lines := ratingHistogram(answer_eval.Summary{
		Total:  4,
		Errors: 1,
		Ratings: map[verdict.Rating]int{
			verdict.RatingIdentical:        2,
			verdict.RatingTotallyDifferent: 1,
			verdict.RatingError:            1,
		},
	})
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], string(verdict.RatingIdentical)))
	assert.True(t, strings.HasPrefix(lines[1], string(verdict.RatingTotallyDifferent)))
	assert.True(t, strings.HasPrefix(lines[2], string(verdict.RatingError)))
}
