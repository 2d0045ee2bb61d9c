package tuner

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// gpNoise is added to the kernel diagonal.
const gpNoise = 1e-4

// lengthScales is the grid searched by log marginal likelihood on every fit.
var lengthScales = []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5}

// gaussianProcess is a zero-mean GP regressor with a Matern 5/2 kernel over
// normalized targets.
type gaussianProcess struct {
	x           [][]float64
	alpha       *mat.VecDense
	chol        mat.Cholesky
	lengthScale float64
	yMean, yStd float64
}

// matern52 evaluates k(r) = (1 + √5r/l + 5r²/3l²)·exp(-√5r/l).
func matern52(a, b []float64, l float64) float64 {
	var d2 float64
	for i := range a {
		d := a[i] - b[i]
		d2 += d * d
	}
	s := math.Sqrt(5*d2) / l
	return (1 + s + s*s/3) * math.Exp(-s)
}

// fitGP fits a GP to (x, y), choosing the length scale with the highest log
// marginal likelihood.
func fitGP(x [][]float64, y []float64) (*gaussianProcess, error) {
	n := len(x)
	if n == 0 || n != len(y) {
		return nil, errors.New("gp: no observations")
	}

	mean, std := stat.MeanStdDev(y, nil)
	if n == 1 || std == 0 || math.IsNaN(std) {
		std = 1
	}
	norm := make([]float64, n)
	for i, v := range y {
		norm[i] = (v - mean) / std
	}
	yv := mat.NewVecDense(n, norm)

	var best *gaussianProcess
	bestLML := math.Inf(-1)
	for _, l := range lengthScales {
		k := mat.NewSymDense(n, nil)
		for i := range n {
			for j := i; j < n; j++ {
				v := matern52(x[i], x[j], l)
				if i == j {
					v += gpNoise
				}
				k.SetSym(i, j, v)
			}
		}

		gp := &gaussianProcess{x: x, lengthScale: l, yMean: mean, yStd: std}
		if ok := gp.chol.Factorize(k); !ok {
			continue
		}
		gp.alpha = mat.NewVecDense(n, nil)
		if err := gp.chol.SolveVecTo(gp.alpha, yv); err != nil {
			continue
		}

		lml := -0.5*mat.Dot(yv, gp.alpha) - 0.5*gp.chol.LogDet() - 0.5*float64(n)*math.Log(2*math.Pi)
		if lml > bestLML {
			best, bestLML = gp, lml
		}
	}
	if best == nil {
		return nil, errors.New("gp: kernel matrix is not positive definite for any length scale")
	}
	return best, nil
}

// predict returns the posterior mean and standard deviation at u in target
// units.
func (gp *gaussianProcess) predict(u []float64) (mu, sigma float64) {
	n := len(gp.x)
	ks := mat.NewVecDense(n, nil)
	for i, xi := range gp.x {
		ks.SetVec(i, matern52(u, xi, gp.lengthScale))
	}
	mu = mat.Dot(ks, gp.alpha)

	v := mat.NewVecDense(n, nil)
	variance := 1.0
	if err := gp.chol.SolveVecTo(v, ks); err == nil {
		variance -= mat.Dot(ks, v)
	}
	return mu*gp.yStd + gp.yMean, math.Sqrt(max(variance, 0)) * gp.yStd
}
