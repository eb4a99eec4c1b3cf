package metrics

import (
	"errors"
	"fmt"
	"math"
)

var ErrShapeMismatch = errors.New("predictions and targets have mismatched shapes")

// stat holds the confusion counts of one class or label.
type stat struct {
	tp, fp, tn, fn float64
}

func (s stat) add(o stat) stat {
	return stat{tp: s.tp + o.tp, fp: s.fp + o.fp, tn: s.tn + o.tn, fn: s.fn + o.fn}
}

func safeDivide(num, denom float64) float64 {
	if denom == 0 {
		return 0
	}
	return num / denom
}

func (s stat) accuracy() float64 {
	return safeDivide(s.tp+s.tn, s.tp+s.tn+s.fp+s.fn)
}

func (s stat) precision() float64 {
	return safeDivide(s.tp, s.tp+s.fp)
}

func (s stat) recall() float64 {
	return safeDivide(s.tp, s.tp+s.fn)
}

func (s stat) f1() float64 {
	return safeDivide(2*s.tp, 2*s.tp+s.fp+s.fn)
}

func (s stat) support() float64 {
	return s.tp + s.fn
}

// reduce averages per class scores. Under macro averaging classes that never
// occur in either predictions or targets are left out, except for multilabel
// problems where every label counts.
func reduce(stats []stat, score func(stat) float64, average Average, multilabel bool) float64 {
	if average == Micro {
		var total stat
		for _, s := range stats {
			total = total.add(s)
		}
		return score(total)
	}

	var weighted, weights float64
	for _, s := range stats {
		w := 1.0
		switch {
		case average == Weighted:
			w = s.support()
		case !multilabel && s.tp+s.fp+s.fn == 0:
			w = 0
		}
		weighted += w * score(s)
		weights += w
	}
	return safeDivide(weighted, weights)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func inUnitInterval(preds [][]float32) bool {
	for _, row := range preds {
		for _, p := range row {
			if p < 0 || p > 1 {
				return false
			}
		}
	}
	return true
}

func softmax(row []float32) []float64 {
	out := make([]float64, len(row))
	if len(row) == 0 {
		return out
	}
	maxLogit := float64(row[0])
	for _, v := range row[1:] {
		maxLogit = math.Max(maxLogit, float64(v))
	}
	var sum float64
	for i, v := range row {
		out[i] = math.Exp(float64(v) - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func argmax(row []float32) int {
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	return best
}

func checkRows(preds [][]float32, target [][]int32) error {
	if len(preds) != len(target) {
		return fmt.Errorf("%w: %d predictions for %d targets", ErrShapeMismatch, len(preds), len(target))
	}
	return nil
}

func ignored(args Args, t int32) bool {
	return args.IgnoreIndex != nil && int(t) == *args.IgnoreIndex
}
