package models

import "math"

// lossEpsilon clips probabilities away from 0 and 1 before taking logs.
const lossEpsilon = 1e-7

// binaryCrossEntropy returns -(y*log(p) + (1-y)*log(1-p)).
func binaryCrossEntropy(p, y float64) float64 {
	p = min(max(p, lossEpsilon), 1-lossEpsilon)
	return -(y*math.Log(p) + (1-y)*math.Log(1-p))
}

// predictedClass thresholds a probability at 0.5.
func predictedClass(p float64) float64 {
	if p > 0.5 {
		return 1
	}
	return 0
}
