// Package verdict parses the JSON verdicts emitted by judging stages.
package verdict

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Similarity is the evaluator judge's verdict.
type Similarity struct {
	Rating        Rating `json:"similarity_rating"`
	Score         int    `json:"similarity_score"`
	Justification string `json:"justification"`
}

// Status is the refiner reviewer's decision.
type Status string

const (
	StatusApprove Status = "approve"
	StatusChange  Status = "change"
)

// Review is the refiner reviewer's verdict.
type Review struct {
	Status      Status `json:"review_status"`
	Suggestions string `json:"review_suggestions"`
}

// Approved reports whether the review ends the refinement loop.
func (r Review) Approved() bool {
	return r.Status == StatusApprove
}

var fencedBlock = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*[ \t]*\n?(.*?)```")

// StripFences removes markdown code fences around a payload. When the output
// holds a fenced block inside prose, the block's body is returned.
func StripFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if m := fencedBlock.FindStringSubmatch(trimmed); m != nil {
		return strings.TrimSpace(m[1])
	}
	// An opening fence that was never closed.
	if strings.HasPrefix(trimmed, "```") {
		if nl := strings.IndexByte(trimmed, '\n'); nl >= 0 {
			return strings.TrimSpace(trimmed[nl+1:])
		}
		return ""
	}
	return trimmed
}

// ParseSimilarity parses a judge verdict with similarity_rating and
// justification fields and derives the score from the rating.
func ParseSimilarity(raw string) (Similarity, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return Similarity{}, err
	}

	ratingText, err := stringField(obj, "similarity_rating")
	if err != nil {
		return Similarity{}, err
	}
	rating, ok := ParseRating(ratingText)
	if !ok {
		return Similarity{}, &FieldError{Field: "similarity_rating", Reason: "is not a known rating", Value: ratingText}
	}

	justification, err := stringField(obj, "justification")
	if err != nil {
		return Similarity{}, err
	}

	score, _ := rating.Score()
	return Similarity{Rating: rating, Score: score, Justification: strings.TrimSpace(justification)}, nil
}

// ParseReview parses a reviewer verdict. review_suggestions must be empty
// for approve and non-empty for change.
func ParseReview(raw string) (Review, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return Review{}, err
	}

	statusText, err := stringField(obj, "review_status")
	if err != nil {
		return Review{}, err
	}
	status := Status(strings.ToLower(strings.TrimSpace(statusText)))
	if status != StatusApprove && status != StatusChange {
		return Review{}, &FieldError{Field: "review_status", Reason: `must be "approve" or "change"`, Value: statusText}
	}

	suggestions, err := stringField(obj, "review_suggestions")
	if err != nil {
		return Review{}, err
	}
	suggestions = strings.TrimSpace(suggestions)

	switch {
	case status == StatusApprove && suggestions != "":
		return Review{}, &FieldError{Field: "review_suggestions", Reason: "must be empty when review_status is approve"}
	case status == StatusChange && suggestions == "":
		return Review{}, &FieldError{Field: "review_suggestions", Reason: "must not be empty when review_status is change"}
	}

	return Review{Status: status, Suggestions: suggestions}, nil
}

func decodeObject(raw string) (map[string]json.RawMessage, error) {
	payload := StripFences(raw)

	var obj map[string]json.RawMessage
	err := json.Unmarshal([]byte(payload), &obj)
	if err == nil {
		if obj == nil {
			return nil, &ParseError{Raw: raw, Err: errors.New("null payload")}
		}
		return obj, nil
	}

	if found, ok := embeddedObject(payload); ok {
		return found, nil
	}

	// Repair the outermost braces when no offset decodes cleanly.
	if start := strings.Index(payload, "{"); start >= 0 {
		if end := strings.LastIndex(payload, "}"); end > start {
			payload = payload[start : end+1]
		}
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		if repaired, repairErr := jsonrepair.JSONRepair(payload); repairErr == nil {
			obj = nil
			if repairedErr := json.Unmarshal([]byte(repaired), &obj); repairedErr == nil && obj != nil {
				return obj, nil
			}
		}
	}
	return nil, &ParseError{Raw: raw, Err: err}
}

// embeddedObject decodes the first JSON object found at a '{' in payload,
// ignoring prose before and after it. Empty objects are skipped while a
// non-empty one follows.
func embeddedObject(payload string) (map[string]json.RawMessage, bool) {
	var empty map[string]json.RawMessage
	for i := 0; i < len(payload); i++ {
		next := strings.IndexByte(payload[i:], '{')
		if next < 0 {
			break
		}
		i += next

		var obj map[string]json.RawMessage
		if err := json.NewDecoder(strings.NewReader(payload[i:])).Decode(&obj); err != nil || obj == nil {
			continue
		}
		if len(obj) > 0 {
			return obj, true
		}
		if empty == nil {
			empty = obj
		}
	}
	return empty, empty != nil
}

func stringField(obj map[string]json.RawMessage, name string) (string, error) {
	raw, ok := obj[name]
	if !ok {
		return "", &FieldError{Field: name, Reason: "is missing"}
	}
	var value string
	if string(bytes.TrimSpace(raw)) == "null" {
		return "", &FieldError{Field: name, Reason: "must be a string", Value: "null"}
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", &FieldError{Field: name, Reason: "must be a string", Value: string(raw)}
	}
	return value, nil
}
