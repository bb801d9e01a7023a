package analyze

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// rClamp bounds |r| away from 1 so the t-statistic denominator never hits
// zero on perfectly collinear input.
const rClamp = 0.999999

// CorrelationResult holds the statistics for one feature pair. Pointer
// fields stay nil when the statistic could not be computed: n < 3 leaves
// everything but N empty, zero variance leaves the coefficients empty.
type CorrelationResult struct {
	N          int      `json:"n"`
	Pearson    *float64 `json:"pearson_r,omitempty"`
	Spearman   *float64 `json:"spearman_rho,omitempty"`
	PValue     *float64 `json:"p_value,omitempty"`
	Degenerate bool     `json:"degenerate,omitempty"`
}

// Correlate computes Pearson r, Spearman rho and a two-tailed p-value for a
// paired sample. Identical input always yields identical output.
func Correlate(x, y []float64) *CorrelationResult {
	n := len(x)
	res := &CorrelationResult{N: n}
	if n != len(y) || n < 3 {
		// Too small to report a stable statistic; the cell carries n only.
		return res
	}

	r := pearson(x, y)
	rho := pearson(averageRanks(x), averageRanks(y))
	if math.IsNaN(r) || math.IsNaN(rho) {
		// Zero variance on one side: null correlation, no p-value.
		res.Degenerate = true
		return res
	}

	res.Pearson = &r
	res.Spearman = &rho
	res.PValue = pearsonPValue(r, n)
	return res
}

// pearson returns the sample Pearson correlation, NaN when either side has
// zero variance.
func pearson(x, y []float64) float64 {
	n := float64(len(x))
	var sumX, sumY float64
	for i := range x {
		sumX += x[i]
		sumY += y[i]
	}
	meanX, meanY := sumX/n, sumY/n

	var cov, varX, varY float64
	for i := range x {
		dx, dy := x[i]-meanX, y[i]-meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return math.NaN()
	}
	return cov / math.Sqrt(varX*varY)
}

// averageRanks converts values to 1-based ranks, assigning tied values the
// mean of the ranks they span.
func averageRanks(values []float64) []float64 {
	n := len(values)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && values[idx[j+1]] == values[idx[i]] {
			j++
		}
		// Positions i..j share the same value; all get the average rank.
		avg := float64(i+j+2) / 2.0
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}
	return ranks
}

// pearsonPValue derives the two-tailed p-value of r from the t-statistic
// t = r * sqrt((n-2)/(1-r^2)) against Student's t with n-2 degrees of
// freedom.
func pearsonPValue(r float64, n int) *float64 {
	clamped := r
	if clamped > rClamp {
		clamped = rClamp
	} else if clamped < -rClamp {
		clamped = -rClamp
	}

	t := clamped * math.Sqrt(float64(n-2)/(1-clamped*clamped))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 2)}
	p := 2 * dist.CDF(-math.Abs(t))
	if p > 1 {
		p = 1
	}
	return &p
}
