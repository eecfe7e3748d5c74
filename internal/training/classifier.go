package training

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Standardizer holds per-feature mean/scale computed on a training fold,
// applied identically to validation folds to avoid leakage.
type Standardizer struct {
	Mean  []float64
	Scale []float64
}

// FitStandardizer computes column means and population standard
// deviations over X (rows = samples, cols = features). A zero-variance
// column gets scale 1 so it becomes a constant-zero feature rather than
// a division by zero.
func FitStandardizer(x [][]float64) *Standardizer {
	if len(x) == 0 {
		return &Standardizer{}
	}
	nFeat := len(x[0])
	mean := make([]float64, nFeat)
	for _, row := range x {
		for j, v := range row {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(len(x))
	}

	scale := make([]float64, nFeat)
	for _, row := range x {
		for j, v := range row {
			d := v - mean[j]
			scale[j] += d * d
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / float64(len(x)))
		if scale[j] == 0 {
			scale[j] = 1
		}
	}
	return &Standardizer{Mean: mean, Scale: scale}
}

// Transform applies the fitted mean/scale to x, returning a new matrix.
func (s *Standardizer) Transform(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		r := make([]float64, len(row))
		for j, v := range row {
			r[j] = (v - s.Mean[j]) / s.Scale[j]
		}
		out[i] = r
	}
	return out
}

// LogisticModel is a fitted L2-regularized logistic regression
// classifier: weights over standardized features plus an intercept.
type LogisticModel struct {
	Weights      []float64 `json:"weights"`
	Intercept    float64   `json:"intercept"`
	FeatureOrder []string  `json:"feature_order"`
	Standardizer struct {
		Mean  []float64 `json:"mean"`
		Scale []float64 `json:"scale"`
	} `json:"standardizer"`
}

// FitLogisticRegression fits weights by minimizing L2-regularized
// negative log-likelihood with gonum/optimize's BFGS, mirroring
// training_service.py's sklearn LogisticRegression(penalty="l2") call.
func FitLogisticRegression(x [][]float64, y []int, l2 float64) (*LogisticModel, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("training: empty design matrix")
	}
	nSamples := len(x)
	nFeat := len(x[0])

	xm := mat.NewDense(nSamples, nFeat, nil)
	for i, row := range x {
		xm.SetRow(i, row)
	}
	yv := make([]float64, nSamples)
	for i, v := range y {
		yv[i] = float64(v)
	}

	negLogLik := func(params []float64) float64 {
		w := params[:nFeat]
		b := params[nFeat]
		var loss float64
		for i := 0; i < nSamples; i++ {
			z := b
			for j := 0; j < nFeat; j++ {
				z += w[j] * xm.At(i, j)
			}
			// log(1+exp(z)) - y*z, numerically stable form.
			logSumExp := math.Log1p(math.Exp(-math.Abs(z))) + math.Max(z, 0)
			loss += logSumExp - yv[i]*z
		}
		var reg float64
		for _, wj := range w {
			reg += wj * wj
		}
		return loss/float64(nSamples) + l2*reg
	}

	grad := func(grad, params []float64) {
		w := params[:nFeat]
		b := params[nFeat]
		gw := make([]float64, nFeat)
		var gb float64
		for i := 0; i < nSamples; i++ {
			z := b
			for j := 0; j < nFeat; j++ {
				z += w[j] * xm.At(i, j)
			}
			p := 1 / (1 + math.Exp(-z))
			diff := p - yv[i]
			for j := 0; j < nFeat; j++ {
				gw[j] += diff * xm.At(i, j)
			}
			gb += diff
		}
		for j := 0; j < nFeat; j++ {
			grad[j] = gw[j]/float64(nSamples) + 2*l2*w[j]
		}
		grad[nFeat] = gb / float64(nSamples)
	}

	problem := optimize.Problem{
		Func: negLogLik,
		Grad: grad,
	}

	init := make([]float64, nFeat+1)
	result, err := optimize.Minimize(problem, init, &optimize.Settings{MajorIterations: 200}, &optimize.BFGS{})
	if err != nil && result == nil {
		return nil, fmt.Errorf("training: optimize: %w", err)
	}

	m := &LogisticModel{
		Weights:   append([]float64{}, result.X[:nFeat]...),
		Intercept: result.X[nFeat],
	}
	return m, nil
}

// PredictProba returns P(y=1|x) for each row of x using standardized
// features (callers apply the Standardizer before calling this; it
// does not standardize internally).
func (m *LogisticModel) PredictProba(x [][]float64) []float64 {
	out := make([]float64, len(x))
	for i, row := range x {
		z := m.Intercept
		for j, v := range row {
			if j < len(m.Weights) {
				z += m.Weights[j] * v
			}
		}
		out[i] = 1 / (1 + math.Exp(-z))
	}
	return out
}
