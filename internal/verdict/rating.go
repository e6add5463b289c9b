package verdict

import (
	"regexp"
	"strings"
)

// Rating is a similarity tier assigned by the judge.
type Rating string

const (
	RatingTotallyDifferent  Rating = "Totally Different"
	RatingSlightlySimilar   Rating = "Slightly Similar"
	RatingModeratelySimilar Rating = "Moderately Similar"
	RatingHighlySimilar     Rating = "Highly Similar"
	RatingIdentical         Rating = "Identical / Semantically Equivalent"

	// RatingError marks a degraded record; the judge never produces it.
	RatingError Rating = "Error"
)

var ratings = []Rating{
	RatingTotallyDifferent,
	RatingSlightlySimilar,
	RatingModeratelySimilar,
	RatingHighlySimilar,
	RatingIdentical,
}

// Ratings returns the five judge ratings ordered by score.
func Ratings() []Rating {
	return append([]Rating(nil), ratings...)
}

// Score maps a judge rating to 0..4. RatingError and unknown values report false.
func (r Rating) Score() (int, bool) {
	for i, known := range ratings {
		if r == known {
			return i, true
		}
	}
	return 0, false
}

var (
	slashSpace = regexp.MustCompile(`\s*/\s*`)
	runOfSpace = regexp.MustCompile(`\s+`)
)

// ParseRating resolves s to one of the five judge ratings. Matching ignores
// case, repeated whitespace and spacing around "/".
func ParseRating(s string) (Rating, bool) {
	normalized := runOfSpace.ReplaceAllString(strings.TrimSpace(s), " ")
	normalized = slashSpace.ReplaceAllString(normalized, " / ")
	for _, r := range ratings {
		if strings.EqualFold(normalized, string(r)) {
			return r, true
		}
	}
	return "", false
}
