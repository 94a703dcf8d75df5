package watcher

import "sort"

// ChangeAnalysis describes which fixtures must be re-estimated and which must be forgotten
type ChangeAnalysis struct {
	Reestimate []string // Fixtures to invalidate, reload, and estimate again
	Forget     []string // Fixtures that no longer exist
}

// Empty returns true if nothing needs to be done
func (a *ChangeAnalysis) Empty() bool {
	return len(a.Reestimate) == 0 && len(a.Forget) == 0
}

// AnalyzeChanges folds debounced events into one analysis. A later event for the same
// path wins, so a file that was removed and then recreated is re-estimated.
func AnalyzeChanges(events ...ChangeEvent) *ChangeAnalysis {
	last := make(map[string]ChangeType)
	for _, event := range events {
		for _, path := range event.Paths {
			last[path] = event.Type
		}
	}

	analysis := &ChangeAnalysis{}
	for path, t := range last {
		switch t {
		case ChangeTypeModified:
			analysis.Reestimate = append(analysis.Reestimate, path)
		case ChangeTypeRemoved:
			analysis.Forget = append(analysis.Forget, path)
		}
	}
	sort.Strings(analysis.Reestimate)
	sort.Strings(analysis.Forget)

	return analysis
}
