package answer_eval

import "github.com/tfvieira/tic43/internal/verdict"

// Summary aggregates the records of one dataset.
type Summary struct {
	Total     int                    `json:"total"`
	Errors    int                    `json:"errors"`
	MeanScore float64                `json:"mean_score"`
	Ratings   map[verdict.Rating]int `json:"ratings"`
}

// Summarize counts records per rating. MeanScore averages judged records
// only; degraded records are counted in Errors.
func Summarize(records []Record) Summary {
	s := Summary{Total: len(records), Ratings: make(map[verdict.Rating]int)}
	judged, sum := 0, 0
	for _, r := range records {
		s.Ratings[r.SimilarityRating]++
		if r.Degraded() {
			s.Errors++
			continue
		}
		judged++
		sum += r.SimilarityScore
	}
	if judged > 0 {
		s.MeanScore = float64(sum) / float64(judged)
	}
	return s
}
