package analyze

import (
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// GroupStat summarizes one group in a comparison.
type GroupStat struct {
	Name string  `json:"name"`
	N    int     `json:"n"`
	Mean float64 `json:"mean"`
}

// ANOVAResult holds a one-way comparison of a scalar outcome across groups.
// When any group has fewer than 3 members the F statistic is still reported
// but the p-value is withheld and InsufficientSample is set, so small
// samples never look spuriously confident.
type ANOVAResult struct {
	N                  int         `json:"n"`
	Groups             []GroupStat `json:"groups"`
	F                  *float64    `json:"f_statistic,omitempty"`
	PValue             *float64    `json:"p_value,omitempty"`
	EtaSquared         *float64    `json:"eta_squared,omitempty"`
	InsufficientSample bool        `json:"insufficient_sample,omitempty"`
	Degenerate         bool        `json:"degenerate,omitempty"`
}

// OneWayANOVA compares the outcome values across named groups. Group order
// in the result is alphabetical for deterministic output.
func OneWayANOVA(groups map[string][]float64) *ANOVAResult {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	res := &ANOVAResult{}
	var grandSum float64
	for _, name := range names {
		vals := groups[name]
		var sum float64
		for _, v := range vals {
			sum += v
		}
		mean := 0.0
		if len(vals) > 0 {
			mean = sum / float64(len(vals))
		}
		res.Groups = append(res.Groups, GroupStat{Name: name, N: len(vals), Mean: mean})
		res.N += len(vals)
		grandSum += sum
		if len(vals) < 3 {
			res.InsufficientSample = true
		}
	}

	k := len(names)
	if k < 2 || res.N <= k {
		res.Degenerate = true
		return res
	}
	grandMean := grandSum / float64(res.N)

	var ssb, ssw float64
	for i, name := range names {
		g := res.Groups[i]
		d := g.Mean - grandMean
		ssb += float64(g.N) * d * d
		for _, v := range groups[name] {
			dv := v - g.Mean
			ssw += dv * dv
		}
	}

	sst := ssb + ssw
	if sst == 0 {
		// All values identical: no variance to explain.
		res.Degenerate = true
		return res
	}

	eta := ssb / sst
	res.EtaSquared = &eta

	if ssw == 0 {
		// Perfect separation; F is unbounded, report eta squared only.
		res.Degenerate = true
		return res
	}

	f := (ssb / float64(k-1)) / (ssw / float64(res.N-k))
	res.F = &f

	if res.InsufficientSample {
		return res
	}

	dist := distuv.F{D1: float64(k - 1), D2: float64(res.N - k)}
	p := dist.Survival(f)
	if p > 1 {
		p = 1
	}
	res.PValue = &p
	return res
}
