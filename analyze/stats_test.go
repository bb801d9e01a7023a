package analyze

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracefield/tracefield/errors"
)

func TestCorrelatePerfectPositive(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}
	y := []float64{2, 4, 6, 8, 10}

	res := Correlate(x, y)
	assert.Equal(t, 5, res.N)
	require.NotNil(t, res.Pearson)
	assert.InDelta(t, 1.0, *res.Pearson, 1e-12)
	require.NotNil(t, res.Spearman)
	assert.InDelta(t, 1.0, *res.Spearman, 1e-12)
	require.NotNil(t, res.PValue)
	assert.Less(t, *res.PValue, 0.01)
}

func TestCorrelateKnownValues(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}
	y := []float64{2, 1, 4, 3, 5}

	res := Correlate(x, y)
	require.NotNil(t, res.Pearson)
	assert.InDelta(t, 0.8, *res.Pearson, 1e-12)
	require.NotNil(t, res.Spearman)
	assert.InDelta(t, 0.8, *res.Spearman, 1e-12)
	require.NotNil(t, res.PValue)
	// t = 0.8 * sqrt(3 / 0.36) ≈ 2.309 on 3 degrees of freedom
	assert.InDelta(t, 0.104, *res.PValue, 0.005)
}

func TestCorrelateBounds(t *testing.T) {
	x := []float64{3, 1, 4, 1, 5, 9, 2, 6}
	y := []float64{2, 7, 1, 8, 2, 8, 1, 8}

	res := Correlate(x, y)
	require.NotNil(t, res.Pearson)
	assert.GreaterOrEqual(t, *res.Pearson, -1.0)
	assert.LessOrEqual(t, *res.Pearson, 1.0)
	require.NotNil(t, res.Spearman)
	assert.GreaterOrEqual(t, *res.Spearman, -1.0)
	assert.LessOrEqual(t, *res.Spearman, 1.0)
}

func TestCorrelateDeterministic(t *testing.T) {
	x := []float64{1.5, 2.25, 3.125, 4.0625, 5}
	y := []float64{2, 3, 5, 7, 11}

	a := Correlate(x, y)
	b := Correlate(x, y)
	assert.Equal(t, *a.Pearson, *b.Pearson)
	assert.Equal(t, *a.Spearman, *b.Spearman)
	assert.Equal(t, *a.PValue, *b.PValue)
}

func TestCorrelateSmallSample(t *testing.T) {
	res := Correlate([]float64{1, 2}, []float64{3, 4})
	assert.Equal(t, 2, res.N)
	assert.Nil(t, res.Pearson)
	assert.Nil(t, res.Spearman)
	assert.Nil(t, res.PValue)
}

func TestCorrelateZeroVariance(t *testing.T) {
	res := Correlate([]float64{5, 5, 5, 5}, []float64{1, 2, 3, 4})
	assert.True(t, res.Degenerate)
	assert.Nil(t, res.Pearson)
	assert.Nil(t, res.PValue)
}

func TestAverageRanksWithTies(t *testing.T) {
	ranks := averageRanks([]float64{10, 20, 20, 30})
	assert.Equal(t, []float64{1, 2.5, 2.5, 4}, ranks)
}

func TestOneWayANOVAKnownValues(t *testing.T) {
	groups := map[string][]float64{
		"a": {1, 2, 3},
		"b": {2, 3, 4},
		"c": {3, 4, 5},
	}

	res := OneWayANOVA(groups)
	assert.Equal(t, 9, res.N)
	assert.False(t, res.InsufficientSample)
	require.NotNil(t, res.F)
	assert.InDelta(t, 3.0, *res.F, 1e-12)
	require.NotNil(t, res.EtaSquared)
	assert.InDelta(t, 0.5, *res.EtaSquared, 1e-12)
	require.NotNil(t, res.PValue)
	// For F(2, 6) the survival at 3.0 is exactly (1 + 2*3/6)^(-3) = 1/8
	assert.InDelta(t, 0.125, *res.PValue, 1e-9)
}

func TestOneWayANOVAInsufficientSampleWithholdsP(t *testing.T) {
	// The scenario from the survey data: three entities, one group of two
	// and one singleton. A statistic is reported, a p-value is not.
	groups := map[string][]float64{
		"25-34": {85.5, 91.2},
		"35-44": {72.0},
	}

	res := OneWayANOVA(groups)
	assert.Equal(t, 3, res.N)
	assert.True(t, res.InsufficientSample)
	assert.NotNil(t, res.F)
	assert.NotNil(t, res.EtaSquared)
	assert.Nil(t, res.PValue, "small groups must not produce a confident p-value")
}

func TestOneWayANOVASingleGroup(t *testing.T) {
	res := OneWayANOVA(map[string][]float64{"only": {1, 2, 3}})
	assert.True(t, res.Degenerate)
	assert.Nil(t, res.F)
}

func TestOneWayANOVAGroupOrderIsSorted(t *testing.T) {
	res := OneWayANOVA(map[string][]float64{
		"zeta": {1, 2, 3}, "alpha": {4, 5, 6}, "mid": {7, 8, 9},
	})
	require.Len(t, res.Groups, 3)
	assert.Equal(t, "alpha", res.Groups[0].Name)
	assert.Equal(t, "mid", res.Groups[1].Name)
	assert.Equal(t, "zeta", res.Groups[2].Name)
}

func TestKMeansDeterministic(t *testing.T) {
	points := [][]float64{
		{0, 0}, {0.1, 0}, {0, 0.1},
		{10, 10}, {10.1, 10}, {10, 10.1},
	}

	a, err := KMeans(points, 2, 42, 100)
	require.NoError(t, err)
	b, err := KMeans(points, 2, 42, 100)
	require.NoError(t, err)

	assert.Equal(t, a.Assignments, b.Assignments)
	assert.Equal(t, a.Centroids, b.Centroids)

	// The two clumps must end up in different clusters.
	assert.Equal(t, a.Assignments[0], a.Assignments[1])
	assert.Equal(t, a.Assignments[0], a.Assignments[2])
	assert.Equal(t, a.Assignments[3], a.Assignments[4])
	assert.NotEqual(t, a.Assignments[0], a.Assignments[3])
}

func TestKMeansValidation(t *testing.T) {
	_, err := KMeans([][]float64{{1}, {2}}, 3, 42, 100)
	require.Error(t, err)
	assert.True(t, errors.IsDataError(err))

	_, err = KMeans([][]float64{{1}, {2}}, 0, 42, 100)
	require.Error(t, err)
	assert.True(t, errors.IsConfigError(err))

	_, err = KMeans([][]float64{{1}, {2, 3}}, 2, 42, 100)
	require.Error(t, err)
	assert.True(t, errors.IsDataError(err))
}

func TestBonferroniCorrection(t *testing.T) {
	out, err := ApplyCorrection(CorrectionBonferroni, 0.05, []float64{0.01, 0.02, 0.4})
	require.NoError(t, err)

	assert.InDelta(t, 0.03, out[0].P, 1e-12)
	assert.True(t, out[0].Significant)
	assert.InDelta(t, 0.06, out[1].P, 1e-12)
	assert.False(t, out[1].Significant)
	assert.InDelta(t, 1.0, out[2].P, 1e-12, "adjusted p is capped at 1")
	assert.False(t, out[2].Significant)
}

func TestBenjaminiHochbergCutoff(t *testing.T) {
	out, err := ApplyCorrection(CorrectionBH, 0.05, []float64{0.01, 0.04, 0.03, 0.5})
	require.NoError(t, err)

	// Thresholds are (k/4)*0.05: only rank 1 (p=0.01 <= 0.0125) passes.
	assert.True(t, out[0].Significant)
	assert.False(t, out[1].Significant)
	assert.False(t, out[2].Significant)
	assert.False(t, out[3].Significant)
}

func TestBenjaminiHochbergFlagsBelowCutoff(t *testing.T) {
	// Rank 4 passes (0.04 <= 0.05), which flags every smaller p too.
	out, err := ApplyCorrection(CorrectionBH, 0.05, []float64{0.01, 0.02, 0.03, 0.04})
	require.NoError(t, err)
	for i := range out {
		assert.True(t, out[i].Significant, "p at index %d", i)
	}
}

func TestBenjaminiHochbergMonotonic(t *testing.T) {
	ps := []float64{0.001, 0.008, 0.039, 0.041, 0.042, 0.06, 0.074, 0.205}
	out, err := ApplyCorrection(CorrectionBH, 0.05, ps)
	require.NoError(t, err)

	// A larger p is never significant when a smaller one is not.
	for i := range ps {
		for j := range ps {
			if ps[i] > ps[j] && !out[j].Significant {
				assert.False(t, out[i].Significant,
					"p=%g flagged while smaller p=%g is not", ps[i], ps[j])
			}
		}
	}
}

func TestCorrectionNoneUsesRawAlpha(t *testing.T) {
	out, err := ApplyCorrection(CorrectionNone, 0.05, []float64{0.04, 0.06})
	require.NoError(t, err)
	assert.Equal(t, 0.04, out[0].P)
	assert.True(t, out[0].Significant)
	assert.False(t, out[1].Significant)
}

func TestCorrectionRejectsUnknownMethod(t *testing.T) {
	_, err := ApplyCorrection("fdr_by", 0.05, []float64{0.01})
	require.Error(t, err)
	assert.True(t, errors.IsConfigError(err))
}

func TestConfigValidateVariants(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"unknown test", `{"test":"chi2"}`, false},
		{"correlation one feature", `{"test":"correlation","correlation":{"features":[{"name":"a"}]}}`, false},
		{"correlation ok", `{"test":"correlation","correlation":{"features":[{"name":"a"},{"name":"b"}]}}`, true},
		{"anova missing group", `{"test":"anova","anova":{"outcome":{"name":"score"}}}`, false},
		{"anova ok", `{"test":"anova","anova":{"outcome":{"name":"score"},"group_by":"age_group"}}`, true},
		{"clustering k too small", `{"test":"embedding_clustering","clustering":{"k":1,"model_name":"m","outcome":{"name":"score"}}}`, false},
		{"clustering ok", `{"test":"embedding_clustering","clustering":{"k":2,"model_name":"m","outcome":{"name":"score"}}}`, true},
		{"bad correction", `{"test":"anova","correction":"fancy","anova":{"outcome":{"name":"s"},"group_by":"g"}}`, false},
		{"empty feature window", `{"test":"correlation","correlation":{"features":[{"name":"a","window":{"from":"2024-06-01T00:00:00Z","to":"2024-03-01T00:00:00Z"}},{"name":"b"}]}}`, false},
		{"windowed feature ok", `{"test":"correlation","correlation":{"features":[{"name":"a","window":{"from":"2024-03-01T00:00:00Z","to":"2024-06-01T00:00:00Z"}},{"name":"b"}]}}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig(json.RawMessage(tt.raw))
			if tt.ok {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.True(t, errors.IsConfigError(err))
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig(json.RawMessage(`{"test":"anova","anova":{"outcome":{"name":"s"},"group_by":"g"}}`))
	require.NoError(t, err)
	assert.Equal(t, CorrectionNone, cfg.Correction)
	assert.Equal(t, defaultAlpha, cfg.Alpha)
}
