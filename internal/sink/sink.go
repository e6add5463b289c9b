// Package sink persists evaluation records per dataset.
package sink

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// Columns is the persisted record layout, in order.
var Columns = []string{
	"question",
	"obtained_answer",
	"expected_answer",
	"similarity_rating",
	"similarity_score",
	"justification",
}

// Row is one persisted evaluation record.
type Row struct {
	Question         string `json:"question"`
	ObtainedAnswer   string `json:"obtained_answer"`
	ExpectedAnswer   string `json:"expected_answer"`
	SimilarityRating string `json:"similarity_rating"`
	SimilarityScore  int    `json:"similarity_score"`
	Justification    string `json:"justification"`
}

func (r Row) values() []string {
	return []string{
		r.Question,
		r.ObtainedAnswer,
		r.ExpectedAnswer,
		r.SimilarityRating,
		strconv.Itoa(r.SimilarityScore),
		r.Justification,
	}
}

// Sink stores the rows of one dataset, replacing anything stored before
// under the same name.
type Sink interface {
	Write(ctx context.Context, name string, rows []Row) error
}

// Multi writes to every sink and joins their errors.
type Multi []Sink

func (m Multi) Write(ctx context.Context, name string, rows []Row) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, name, rows); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteError reports a failed write of one dataset.
type WriteError struct {
	Name string
	Kind string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s results for %q: %v", e.Kind, e.Name, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
