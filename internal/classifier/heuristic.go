package classifier

import (
	"sort"
	"strings"
)

type categoryMatch struct {
	Category string
	Score    int
	Triggers []string
	// Strength is in (0,1]; explicit categories have strength 1.
	Strength float64
}

// inferCategory resolves the task category: explicit, then code, then the
// best trigger match. Ties on score go to the alphabetically first category.
func inferCategory(task Task, categories map[string][]string) (categoryMatch, bool) {
	if c := strings.ToLower(strings.TrimSpace(task.Category)); c != "" {
		return categoryMatch{Category: c, Strength: 1}, true
	}
	if task.IsCodeTask {
		return categoryMatch{Category: "code", Strength: 1}, true
	}

	text := strings.ToLower(taskText(task))
	names := make([]string, 0, len(categories))
	for name := range categories {
		names = append(names, name)
	}
	sort.Strings(names)

	var best categoryMatch
	for _, name := range names {
		var matched []string
		for _, trig := range categories[name] {
			if trig = strings.ToLower(strings.TrimSpace(trig)); trig != "" && containsTrigger(text, trig) {
				matched = append(matched, trig)
			}
		}
		if len(matched) > best.Score {
			best = categoryMatch{Category: strings.ToLower(name), Score: len(matched), Triggers: matched}
		}
	}
	if best.Score == 0 {
		return categoryMatch{}, false
	}
	best.Strength = float64(minInt(best.Score, 3)) / 3.0
	return best, true
}

// containsTrigger reports whether trigger occurs in text on word boundaries.
func containsTrigger(text, trigger string) bool {
	for start := 0; start <= len(text)-len(trigger); {
		idx := strings.Index(text[start:], trigger)
		if idx == -1 {
			return false
		}
		idx += start
		end := idx + len(trigger)
		if (idx == 0 || !isWordChar(text[idx-1])) && (end == len(text) || !isWordChar(text[end])) {
			return true
		}
		start = idx + 1
	}
	return false
}

func isWordChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
}

func taskText(task Task) string {
	if strings.TrimSpace(task.Description) == "" {
		return task.Title
	}
	return task.Title + " " + task.Description
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
