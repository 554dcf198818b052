package claim

import "sort"

// Arbitrate decides which of the contending workers keeps a job. The
// lexicographically smallest worker ID wins, so every contender reaches the
// same verdict from the same set regardless of listing order.
func Arbitrate(self string, contenders []string) (winner string, won bool) {
	if len(contenders) == 0 {
		return "", false
	}
	sorted := append([]string(nil), contenders...)
	sort.Strings(sorted)
	winner = sorted[0]
	return winner, winner == self
}
