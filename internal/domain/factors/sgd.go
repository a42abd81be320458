// Package factors maintains per-account and per-vehicle latent vectors
// trained online by stochastic gradient descent.
package factors

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// SGDStep applies one regularized update to x and y in place for error e.
// Each vector is updated with the other's value from before the step.
func SGDStep(x, y []float64, e, lr, reg float64) {
	for i := range x {
		xi := x[i]
		x[i] += lr * (e*y[i] - reg*xi)
		y[i] += lr * (e*xi - reg*y[i])
	}
}

// Dot returns the inner product of x and y.
func Dot(x, y []float64) float64 {
	return floats.Dot(x, y)
}

// gaussian draws n values from N(0, std).
func gaussian(n int, std float64) []float64 {
	dist := distuv.Normal{Mu: 0, Sigma: std}
	v := make([]float64, n)
	for i := range v {
		v[i] = dist.Rand()
	}
	return v
}
