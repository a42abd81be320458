// Package estimator computes win-rate confidence intervals for binomial samples.
package estimator

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/okian/blitzrec/internal/domain/model"
)

// Interval is a symmetric confidence interval around Mean.
type Interval struct {
	Mean   float64
	Margin float64
}

// Lower returns Mean - Margin.
func (i Interval) Lower() float64 { return i.Mean - i.Margin }

// Upper returns Mean + Margin.
func (i Interval) Upper() float64 { return i.Mean + i.Margin }

// Finite reports whether both Mean and Margin are finite numbers.
func (i Interval) Finite() bool {
	return !math.IsNaN(i.Mean) && !math.IsInf(i.Mean, 0) &&
		!math.IsNaN(i.Margin) && !math.IsInf(i.Margin, 0)
}

// WilsonScore returns the Wilson score interval for successes out of trials.
// Zero trials produce NaN for both fields.
func WilsonScore(trials, successes, z float64) Interval {
	return wilsonAt(successes/trials, trials, z)
}

// wilsonAt evaluates the Wilson interval for an observed proportion p over n trials.
func wilsonAt(p, n, z float64) Interval {
	a := z * z / n
	b := 1 / (1 + a)
	return Interval{
		Mean:   b * (p + a/2),
		Margin: z * b * math.Sqrt(p*(1-p)/n+a/(4*n)),
	}
}

// WilsonScoreCC returns the continuity-corrected Wilson interval. The lower
// bound is evaluated at p - c/n and the upper at p + c/n; both shifted
// proportions and the resulting bounds are clamped to [0,1]. With c == 0 it
// equals WilsonScore.
func WilsonScoreCC(trials, successes, z, c float64) Interval {
	if c == 0 {
		return WilsonScore(trials, successes, z)
	}
	p := successes / trials
	shift := c / trials

	lower := clamp01(wilsonAt(clamp01(p-shift), trials, z).Lower())
	upper := clamp01(wilsonAt(clamp01(p+shift), trials, z).Upper())

	return Interval{
		Mean:   (lower + upper) / 2,
		Margin: (upper - lower) / 2,
	}
}

// clamp01 keeps NaN so degenerate inputs stay detectable.
func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}

// ZFromConfidence converts a two-sided confidence level to a standard normal z.
func ZFromConfidence(level float64) (float64, error) {
	if !(level > 0 && level < 1) {
		return 0, fmt.Errorf("%w: %v", ErrConfidenceLevel, level)
	}
	return distuv.UnitNormal.Quantile(1 - (1-level)/2), nil
}

// Estimator turns samples into victory ratios at a fixed z and continuity correction.
type Estimator struct {
	Z          float64
	Correction float64
}

// New builds an Estimator. A positive z wins over the confidence level.
func New(level, z, correction float64) (Estimator, error) {
	if z <= 0 {
		var err error
		if z, err = ZFromConfidence(level); err != nil {
			return Estimator{}, err
		}
	}
	return Estimator{Z: z, Correction: correction}, nil
}

// Interval returns the corrected interval of s.
func (e Estimator) Interval(s model.Sample) Interval {
	return WilsonScoreCC(float64(s.NBattles), float64(s.NWins), e.Z, e.Correction)
}

// VictoryRatio returns the interval mean of s, or ErrDegenerate when it is not finite.
func (e Estimator) VictoryRatio(s model.Sample) (float64, error) {
	i := e.Interval(s)
	if !i.Finite() {
		return 0, fmt.Errorf("%w: %d/%d", ErrDegenerate, s.NWins, s.NBattles)
	}
	return i.Mean, nil
}

// Ordering is the result of comparing two intervals.
type Ordering int

const (
	Unordered Ordering = iota
	Less
	Greater
)

func (o Ordering) String() string {
	switch o {
	case Less:
		return "less"
	case Greater:
		return "greater"
	default:
		return "unordered"
	}
}

// Compare orders a and b only when they do not overlap.
func Compare(a, b Interval) Ordering {
	switch {
	case a.Upper() < b.Lower():
		return Less
	case a.Lower() > b.Upper():
		return Greater
	default:
		return Unordered
	}
}
