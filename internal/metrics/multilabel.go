package metrics

import "fmt"

func validateNumLabels(args Args) error {
	if args.NumLabels < 1 {
		return fmt.Errorf("num_labels must be at least 1, got %d", args.NumLabels)
	}
	return nil
}

// multilabelProbs maps predictions through a sigmoid when they are not
// already probabilities and checks that every row has one entry per label.
func multilabelProbs(preds [][]float32, target [][]int32, args Args) ([][]float64, error) {
	if err := checkRows(preds, target); err != nil {
		return nil, err
	}

	normalize := !inUnitInterval(preds)
	probs := make([][]float64, len(preds))
	for i, row := range preds {
		if len(row) != args.NumLabels || len(target[i]) != args.NumLabels {
			return nil, fmt.Errorf("%w: row %d has %d predictions and %d targets, expected %d labels", ErrShapeMismatch, i, len(row), len(target[i]), args.NumLabels)
		}
		probs[i] = make([]float64, len(row))
		for j, p := range row {
			probs[i][j] = float64(p)
			if normalize {
				probs[i][j] = sigmoid(probs[i][j])
			}
		}
	}
	return probs, nil
}

func multilabelStatScorer(score func(stat) float64) scorerFactory {
	return func(args Args) (Scorer, error) {
		if err := validateNumLabels(args); err != nil {
			return nil, err
		}
		average, err := args.average()
		if err != nil {
			return nil, err
		}
		threshold := args.threshold()

		return func(preds [][]float32, target [][]int32) (float64, error) {
			probs, err := multilabelProbs(preds, target, args)
			if err != nil {
				return 0, err
			}

			stats := make([]stat, args.NumLabels)
			for i, row := range probs {
				for j, p := range row {
					t := target[i][j]
					if ignored(args, t) {
						continue
					}
					positive := p > threshold
					switch {
					case positive && t == 1:
						stats[j].tp++
					case positive:
						stats[j].fp++
					case t == 1:
						stats[j].fn++
					default:
						stats[j].tn++
					}
				}
			}
			return reduce(stats, score, average, true), nil
		}, nil
	}
}

func multilabelAUROC(args Args) (Scorer, error) {
	if err := validateNumLabels(args); err != nil {
		return nil, err
	}
	average, err := args.average()
	if err != nil {
		return nil, err
	}

	return func(preds [][]float32, target [][]int32) (float64, error) {
		probs, err := multilabelProbs(preds, target, args)
		if err != nil {
			return 0, err
		}

		if average == Micro {
			var scores []float64
			var positives []bool
			for i, row := range probs {
				for j, p := range row {
					if ignored(args, target[i][j]) {
						continue
					}
					scores = append(scores, p)
					positives = append(positives, target[i][j] == 1)
				}
			}
			return auroc(scores, positives), nil
		}

		var weighted, weights float64
		for j := 0; j < args.NumLabels; j++ {
			var scores []float64
			var positives []bool
			var support float64
			for i, row := range probs {
				if ignored(args, target[i][j]) {
					continue
				}
				scores = append(scores, row[j])
				positives = append(positives, target[i][j] == 1)
				if target[i][j] == 1 {
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
