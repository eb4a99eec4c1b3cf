package metrics

import "fmt"

// binaryProbs reduces predictions to the probability of the positive class.
// A single column holds probabilities or logits, two columns hold logits or
// probabilities of both classes.
func binaryProbs(preds [][]float32, target [][]int32, args Args) ([]float64, []int32, error) {
	if err := checkRows(preds, target); err != nil {
		return nil, nil, err
	}

	sigmoidNeeded := !inUnitInterval(preds)
	probs := make([]float64, 0, len(preds))
	labels := make([]int32, 0, len(target))
	for i, row := range preds {
		if len(target[i]) != 1 {
			return nil, nil, fmt.Errorf("%w: binary target row %d has %d entries", ErrShapeMismatch, i, len(target[i]))
		}
		t := target[i][0]
		if ignored(args, t) {
			continue
		}
		if t != 0 && t != 1 {
			return nil, nil, fmt.Errorf("invalid binary target %d at row %d", t, i)
		}

		var p float64
		switch len(row) {
		case 1:
			p = float64(row[0])
			if sigmoidNeeded {
				p = sigmoid(p)
			}
		case 2:
			if sigmoidNeeded {
				p = softmax(row)[1]
			} else {
				p = float64(row[1])
			}
		default:
			return nil, nil, fmt.Errorf("%w: binary prediction row %d has %d columns", ErrShapeMismatch, i, len(row))
		}
		probs = append(probs, p)
		labels = append(labels, t)
	}
	return probs, labels, nil
}

func binaryStat(probs []float64, labels []int32, threshold float64) stat {
	var s stat
	for i, p := range probs {
		positive := p > threshold
		switch {
		case positive && labels[i] == 1:
			s.tp++
		case positive:
			s.fp++
		case labels[i] == 1:
			s.fn++
		default:
			s.tn++
		}
	}
	return s
}

func binaryStatScorer(score func(stat) float64) scorerFactory {
	return func(args Args) (Scorer, error) {
		threshold := args.threshold()
		return func(preds [][]float32, target [][]int32) (float64, error) {
			probs, labels, err := binaryProbs(preds, target, args)
			if err != nil {
				return 0, err
			}
			return score(binaryStat(probs, labels, threshold)), nil
		}, nil
	}
}

func binaryAUROC(args Args) (Scorer, error) {
	return func(preds [][]float32, target [][]int32) (float64, error) {
		probs, labels, err := binaryProbs(preds, target, args)
		if err != nil {
			return 0, err
		}
		positives := make([]bool, len(labels))
		for i, l := range labels {
			positives[i] = l == 1
		}
		return auroc(probs, positives), nil
	}, nil
}
