package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"report-checker/internal/extract"
)

// Recommendation is one criticism tied to a review criterion.
type Recommendation struct {
	Criterion string   `json:"criterion"`
	Issues    []string `json:"issues"`
}

// Result is the structured feedback for one report.
type Result struct {
	Recommendations []Recommendation `json:"recommendations"`
	CorrectedReport string           `json:"corrected_report"`
}

var ErrMissingField = errors.New("required field missing")

type wireRecommendation struct {
	Criterion *string   `json:"criterion"`
	Issues    *[]string `json:"issues"`
}

// Decode extracts the JSON object from the model text and maps it into a
// Result. Missing "recommendations" and "corrected_report" default to empty;
// each recommendation must carry both "criterion" and "issues".
func Decode(raw string) (Result, error) {
	obj, err := extract.Object(raw)
	if err != nil {
		return Result{}, err
	}

	res := Result{Recommendations: []Recommendation{}}
	if v, ok := obj["recommendations"]; ok {
		var wire []wireRecommendation
		if err := json.Unmarshal(v, &wire); err != nil {
			return Result{}, fmt.Errorf("recommendations: %w", err)
		}
		for i, w := range wire {
			if w.Criterion == nil {
				return Result{}, fmt.Errorf("recommendations[%d].criterion: %w", i, ErrMissingField)
			}
			if w.Issues == nil {
				return Result{}, fmt.Errorf("recommendations[%d].issues: %w", i, ErrMissingField)
			}
			res.Recommendations = append(res.Recommendations, Recommendation{Criterion: *w.Criterion, Issues: *w.Issues})
		}
	}
	if v, ok := obj["corrected_report"]; ok {
		if err := json.Unmarshal(v, &res.CorrectedReport); err != nil {
			return Result{}, fmt.Errorf("corrected_report: %w", err)
		}
	}
	return res, nil
}
