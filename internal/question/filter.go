package question

import (
	"sort"
	"strings"
)

// Filter narrows a question bank listing. Empty fields match everything.
type Filter struct {
	Search     string
	Subject    string
	Type       string
	Difficulty string
}

func (f Filter) Match(q Question) bool {
	if term := strings.ToLower(strings.TrimSpace(f.Search)); term != "" {
		if !strings.Contains(strings.ToLower(q.Text), term) && !strings.Contains(strings.ToLower(q.Subject), term) {
			return false
		}
	}
	if s := strings.TrimSpace(f.Subject); s != "" && q.Subject != s {
		return false
	}
	if t := strings.TrimSpace(f.Type); t != "" && q.Type != NormalizeType(t) {
		return false
	}
	if d := strings.TrimSpace(f.Difficulty); d != "" && q.Difficulty != NormalizeDifficulty(d) {
		return false
	}
	return true
}

func FilterQuestions(items []Question, f Filter) []Question {
	out := make([]Question, 0, len(items))
	for _, q := range items {
		if f.Match(q) {
			out = append(out, q)
		}
	}
	return out
}

// Subjects returns the distinct non-empty subjects, sorted.
func Subjects(items []Question) []string {
	set := map[string]struct{}{}
	for _, q := range items {
		if s := strings.TrimSpace(q.Subject); s != "" {
			set[s] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
