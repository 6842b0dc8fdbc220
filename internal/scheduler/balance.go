package scheduler

import (
	"sort"

	"invoice-harvester-go/internal/models"
)

// Balance picks at most limit messages spread over calendar months. Each
// month gets ceil(limit/months) slots; slots a small month leaves unused
// are handed out round-robin. Months and messages come out oldest first.
func Balance(msgs []models.CandidateMessage, limit int) (selected, rest []models.CandidateMessage) {
	sorted := make([]models.CandidateMessage, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	if limit <= 0 || len(sorted) <= limit {
		return sorted, nil
	}

	var keys []string
	groups := make(map[string][]models.CandidateMessage)
	for _, m := range sorted {
		key := m.Date.UTC().Format("2006-01")
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], m)
	}

	quota := (limit + len(keys) - 1) / len(keys)
	taken := make(map[string]int, len(keys))
	total := 0
	for _, k := range keys {
		n := min(quota, len(groups[k]), limit-total)
		taken[k] = n
		total += n
	}
	for total < limit {
		progressed := false
		for _, k := range keys {
			if total == limit {
				break
			}
			if taken[k] < len(groups[k]) {
				taken[k]++
				total++
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}

	for _, k := range keys {
		selected = append(selected, groups[k][:taken[k]]...)
		rest = append(rest, groups[k][taken[k]:]...)
	}
	return selected, rest
}
