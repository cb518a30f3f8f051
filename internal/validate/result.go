// Package validate checks extracted product data for quality problems
// before persistence. Hard errors reject the record outright; soft findings
// multiply down a per-check quality score.
package validate

// Result carries the outcome of one check, or the aggregate of all of them.
type Result struct {
	Valid    bool
	Score    float64
	Errors   []string
	Warnings []string
}

func newResult() Result {
	return Result{Valid: true, Score: 1.0}
}

func (r *Result) addError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Valid = false
}

func (r *Result) addWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// penalize scales the score down for a soft finding.
func (r *Result) penalize(msg string, factor float64) {
	r.addWarning(msg)
	r.Score *= factor
}
