package pacing

import "strings"

// rejectRewrite returns a reason when a provider rewrite is unusable: empty,
// not shorter, missing a number or losing a negation.
func (e *Engine) rejectRewrite(original, rewritten string) string {
	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		return "empty"
	}
	if e.Estimate(rewritten) >= e.Estimate(original) {
		return "not shorter"
	}
	have := make(map[string]int)
	for _, n := range numbers(rewritten) {
		have[n]++
	}
	for _, n := range numbers(original) {
		if have[n] == 0 {
			return "dropped number " + n
		}
		have[n]--
	}
	if e.countNegations(rewritten) < e.countNegations(original) {
		return "dropped negation"
	}
	return ""
}

func (e *Engine) countNegations(text string) int {
	count := 0
	for _, t := range e.folder.tokenize(text) {
		if isNegation(t.folded) {
			count++
		}
	}
	return count
}
