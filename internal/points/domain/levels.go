package domain

import "sort"

// LevelFor returns the largest index i with total >= thresholds[i].
// Thresholds must be strictly increasing and start at 0; the rewards config
// validates this at startup. Totals below zero floor at level 0.
func LevelFor(thresholds []int64, total int64) int {
	idx := sort.Search(len(thresholds), func(i int) bool {
		return thresholds[i] > total
	})
	if idx == 0 {
		return 0
	}
	return idx - 1
}
