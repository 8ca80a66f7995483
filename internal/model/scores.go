package model

import "math"

// ArgMax returns the index and value of the highest score.
func ArgMax(scores []float32) (int, float32) {
	maxIdx := 0
	maxVal := scores[0]
	for i, val := range scores {
		if val > maxVal {
			maxVal = val
			maxIdx = i
		}
	}
	return maxIdx, maxVal
}

// Softmax converts logits to probabilities. The input slice is not modified.
func Softmax(logits []float32) []float32 {
	_, maxVal := ArgMax(logits)

	out := make([]float32, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxVal))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

// Top1 maps raw model output onto the class list.
func Top1(output []float32, classes []string, softmax bool) Classification {
	scores := output[:len(classes)]
	if softmax {
		scores = Softmax(scores)
	}
	idx, val := ArgMax(scores)
	return Classification{Label: classes[idx], Confidence: val}
}
