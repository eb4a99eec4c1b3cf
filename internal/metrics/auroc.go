package metrics

import (
	"slices"
)

// auroc computes the area under the ROC curve through the Mann-Whitney rank
// statistic, giving tied scores their average rank. Without positives or
// without negatives the curve is degenerate and the area is 0.
func auroc(scores []float64, positives []bool) float64 {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case scores[a] < scores[b]:
			return -1
		case scores[a] > scores[b]:
			return 1
		default:
			return 0
		}
	})

	var rankSum, numPos float64
	for start := 0; start < len(order); {
		end := start + 1
		for end < len(order) && scores[order[end]] == scores[order[start]] {
			end++
		}
		// ranks are 1 based
		rank := float64(start+end+1) / 2
		for _, idx := range order[start:end] {
			if positives[idx] {
				rankSum += rank
				numPos++
			}
		}
		start = end
	}

	numNeg := float64(len(scores)) - numPos
	if numPos == 0 || numNeg == 0 {
		return 0
	}
	return (rankSum - numPos*(numPos+1)/2) / (numPos * numNeg)
}
