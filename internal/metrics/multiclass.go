package metrics

import "fmt"

func validateNumClasses(args Args) error {
	if args.NumClasses < 2 {
		return fmt.Errorf("num_classes must be at least 2, got %d", args.NumClasses)
	}
	return nil
}

// multiclassRows drops ignored rows and checks every target is a valid class.
func multiclassRows(preds [][]float32, target [][]int32, args Args) ([][]float32, []int, error) {
	if err := checkRows(preds, target); err != nil {
		return nil, nil, err
	}

	keptPreds := make([][]float32, 0, len(preds))
	labels := make([]int, 0, len(target))
	for i, row := range preds {
		if len(target[i]) != 1 {
			return nil, nil, fmt.Errorf("%w: multiclass target row %d has %d entries", ErrShapeMismatch, i, len(target[i]))
		}
		t := target[i][0]
		if ignored(args, t) {
			continue
		}
		if t < 0 || int(t) >= args.NumClasses {
			return nil, nil, fmt.Errorf("invalid target class %d at row %d, expected value in [0, %d)", t, i, args.NumClasses)
		}
		if len(row) != 1 && len(row) != args.NumClasses {
			return nil, nil, fmt.Errorf("%w: prediction row %d has %d columns, expected %d", ErrShapeMismatch, i, len(row), args.NumClasses)
		}
		keptPreds = append(keptPreds, row)
		labels = append(labels, int(t))
	}
	return keptPreds, labels, nil
}

func multiclassStats(preds [][]float32, labels []int, numClasses int) ([]stat, error) {
	stats := make([]stat, numClasses)
	for i, row := range preds {
		// A single column holds the predicted class id.
		pred := int(row[0])
		if len(row) > 1 {
			pred = argmax(row)
		}
		if pred < 0 || pred >= numClasses {
			return nil, fmt.Errorf("invalid predicted class %d at row %d", pred, i)
		}

		for c := range stats {
			switch {
			case c == pred && c == labels[i]:
				stats[c].tp++
			case c == pred:
				stats[c].fp++
			case c == labels[i]:
				stats[c].fn++
			default:
				stats[c].tn++
			}
		}
	}
	return stats, nil
}

// multiclassStatScorer builds precision, recall, f1 and accuracy scorers.
// Multiclass accuracy is the recall of each class.
func multiclassStatScorer(score func(stat) float64) scorerFactory {
	return func(args Args) (Scorer, error) {
		if err := validateNumClasses(args); err != nil {
			return nil, err
		}
		average, err := args.average()
		if err != nil {
			return nil, err
		}
		return func(preds [][]float32, target [][]int32) (float64, error) {
			kept, labels, err := multiclassRows(preds, target, args)
			if err != nil {
				return 0, err
			}
			stats, err := multiclassStats(kept, labels, args.NumClasses)
			if err != nil {
				return 0, err
			}
			return reduce(stats, score, average, false), nil
		}, nil
	}
}

// multiclassAUROC is the one-vs-rest area averaged over classes. Predictions
// outside [0, 1] are treated as logits and normalized with softmax.
func multiclassAUROC(args Args) (Scorer, error) {
	if err := validateNumClasses(args); err != nil {
		return nil, err
	}
	average, err := args.average()
	if err != nil {
		return nil, err
	}
	if average == Micro {
		return nil, fmt.Errorf("average 'micro' is not supported for multiclass auroc")
	}

	return func(preds [][]float32, target [][]int32) (float64, error) {
		kept, labels, err := multiclassRows(preds, target, args)
		if err != nil {
			return 0, err
		}

		normalize := !inUnitInterval(kept)
		probs := make([][]float64, len(kept))
		for i, row := range kept {
			if len(row) != args.NumClasses {
				return 0, fmt.Errorf("%w: auroc needs one score per class, row %d has %d columns", ErrShapeMismatch, i, len(row))
			}
			if normalize {
				probs[i] = softmax(row)
				continue
			}
			probs[i] = make([]float64, len(row))
			for j, p := range row {
				probs[i][j] = float64(p)
			}
		}

		var weighted, weights float64
		scores := make([]float64, len(probs))
		positives := make([]bool, len(probs))
		for c := 0; c < args.NumClasses; c++ {
			var support float64
			for i := range probs {
				scores[i] = probs[i][c]
				positives[i] = labels[i] == c
				if positives[i] {
					support++
				}
			}
			w := 1.0
			if average == Weighted {
				w = support
			}
			weighted += w * auroc(scores, positives)
			weights += w
		}
		return safeDivide(weighted, weights), nil
	}, nil
}
