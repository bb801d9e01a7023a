package analyze

import (
	"sort"

	"github.com/tracefield/tracefield/errors"
)

// Multiple-testing correction methods.
const (
	CorrectionNone       = "none"
	CorrectionBonferroni = "bonferroni"
	CorrectionBH         = "benjamini_hochberg"
)

// Corrected carries the per-test outcome of a correction pass, index-aligned
// with the input p-values.
type Corrected struct {
	// P is the adjusted p-value under Bonferroni, or the raw p-value for
	// Benjamini-Hochberg and none.
	P float64
	// Significant reports whether the test passes at the given alpha under
	// the chosen method.
	Significant bool
}

// ApplyCorrection adjusts a job's p-values. The scope is exactly the
// p-values produced by one job, nothing historical. The input order is
// preserved in the output.
func ApplyCorrection(method string, alpha float64, ps []float64) ([]Corrected, error) {
	if alpha <= 0 || alpha >= 1 {
		return nil, errors.NewConfigError("alpha must be in (0, 1), got %g", alpha)
	}

	out := make([]Corrected, len(ps))
	m := float64(len(ps))

	switch method {
	case CorrectionNone:
		for i, p := range ps {
			out[i] = Corrected{P: p, Significant: p <= alpha}
		}

	case CorrectionBonferroni:
		for i, p := range ps {
			adj := p * m
			if adj > 1 {
				adj = 1
			}
			out[i] = Corrected{P: adj, Significant: adj <= alpha}
		}

	case CorrectionBH:
		// Sort ascending, find the largest rank k with p_(k) <= (k/m)*alpha,
		// flag everything at rank <= k.
		idx := make([]int, len(ps))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool { return ps[idx[a]] < ps[idx[b]] })

		cutoff := -1
		for rank := len(ps); rank >= 1; rank-- {
			if ps[idx[rank-1]] <= (float64(rank)/m)*alpha {
				cutoff = rank
				break
			}
		}
		for rank, i := range idx {
			out[i] = Corrected{P: ps[i], Significant: rank+1 <= cutoff}
		}

	default:
		return nil, errors.NewConfigError("unknown correction method: %q", method)
	}

	return out, nil
}
