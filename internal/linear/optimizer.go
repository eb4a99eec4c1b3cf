package linear

import (
	"math"

	"textclf/internal/core/types"
)

type gradients struct {
	weights []map[int]float64
	bias    []float64
}

func newGradients(numLabels int) *gradients {
	g := &gradients{weights: make([]map[int]float64, numLabels), bias: make([]float64, numLabels)}
	for i := range g.weights {
		g.weights[i] = map[int]float64{}
	}
	return g
}

// accumulate adds the loss gradient of one example, scaled by scale, to g
// and returns the loss. A nil g only computes the loss.
// Single label problems use softmax cross entropy, multilabel ones a mean
// binary cross entropy over labels.
func (m *Model) accumulate(g *gradients, ex example, scale float64) float64 {
	logits := m.logits(ex.x)

	dlogits := make([]float64, len(logits))
	var loss float64
	if m.problem == types.Multilabel {
		n := float64(len(logits))
		for c, l := range logits {
			p := sigmoid(l)
			dlogits[c] = (p - ex.multi[c]) / n
			// log(1 + exp(-|l|)) keeps the loss finite for large logits
			loss += (math.Max(l, 0) - l*ex.multi[c] + math.Log1p(math.Exp(-math.Abs(l)))) / n
		}
	} else {
		probs := softmax(logits)
		for c, p := range probs {
			dlogits[c] = p
		}
		dlogits[ex.label] -= 1
		loss = -math.Log(math.Max(probs[ex.label], 1e-12))
	}

	if g == nil {
		return loss
	}
	for c, d := range dlogits {
		d *= scale
		g.bias[c] += d
		for _, f := range ex.x {
			g.weights[c][f.index] += d * f.value
		}
	}
	return loss
}

// sgd applies param -= lr * (grad + weightDecay * param). The bias is not
// decayed.
type sgd struct {
	weightDecay float64
}

func (o sgd) step(m *Model, g *gradients, lr float64) {
	for c := range m.weights {
		if o.weightDecay > 0 {
			decay := 1 - lr*o.weightDecay
			for j := range m.weights[c] {
				m.weights[c][j] *= decay
			}
		}
		for j, grad := range g.weights[c] {
			m.weights[c][j] -= lr * grad
		}
		m.bias[c] -= lr * g.bias[c]
	}
}

// linearSchedule decays the learning rate from lr to 0 over maxSteps.
func linearSchedule(lr float64, step, maxSteps int) float64 {
	if maxSteps <= 0 {
		return lr
	}
	return lr * max(0, float64(maxSteps-step)/float64(maxSteps))
}
