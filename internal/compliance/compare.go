package compliance

import (
	"sort"

	"github.com/xkilldash9x/consentscope/api/schemas"
)

// Compare reports how curr changed relative to prev. Issues are matched by
// category and title.
func Compare(prev, curr *schemas.AnalysisResult) schemas.Comparison {
	c := schemas.Comparison{
		PreviousID: prev.ID,
		CurrentID:  curr.ID,
		ScoreDelta: curr.Score.Total - prev.Score.Total,
	}
	before := issueKeys(prev.Issues)
	after := issueKeys(curr.Issues)
	for k, title := range after {
		if _, ok := before[k]; !ok {
			c.NewIssues = append(c.NewIssues, title)
		}
	}
	for k, title := range before {
		if _, ok := after[k]; !ok {
			c.ResolvedIssues = append(c.ResolvedIssues, title)
		}
	}
	sort.Strings(c.NewIssues)
	sort.Strings(c.ResolvedIssues)
	return c
}

func issueKeys(issues []schemas.Issue) map[string]string {
	out := make(map[string]string, len(issues))
	for _, is := range issues {
		// Informational findings are not regressions or fixes.
		if is.Severity == schemas.SeverityInfo {
			continue
		}
		out[is.Category+"|"+is.Title] = is.Title
	}
	return out
}
