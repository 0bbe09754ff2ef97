package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimscope/analyzer/internal/models"
)

type staticSummary models.LearningSummary

func (s staticSummary) LearningSummary() models.LearningSummary {
	return models.LearningSummary(s)
}

// gather returns the metric values of one family keyed by the value of
// label, or "" for unlabelled metrics.
func gather(t *testing.T, reg *prometheus.Registry, name, label string) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	out := map[string]float64{}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			key := ""
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label {
					key = lp.GetValue()
				}
			}
			switch {
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			}
		}
	}
	return out
}

func TestLearningCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(&LearningCollector{provider: staticSummary{
		LearnedKeywords: map[models.Dimension]int{models.DimensionEfficacy: 4, models.DimensionDuration: 1},
		Blacklisted:     2,
		Stats:           models.LearningStats{AccuracyRate: 87.5},
	}})

	learned := gather(t, reg, "claims_learned_keywords", "dimension")
	assert.Equal(t, map[string]float64{"efficacy": 4, "type": 0, "duration": 1}, learned)
	assert.Equal(t, 2.0, gather(t, reg, "claims_blacklisted_keywords", "")[""])
	assert.Equal(t, 87.5, gather(t, reg, "claims_accuracy_rate", "")[""])
}

func TestRecordClassification(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(claimsClassified, learnedMatches)

	before := gather(t, reg, "claims_classified_total", "category")["face"]
	beforeLearned := gather(t, reg, "claims_learned_matches_total", "dimension")["type"]

	RecordClassification("face", []*models.AnalysisResult{
		{Matches: []models.Match{{Dimension: models.DimensionType, Origin: models.OriginLearned}}},
		{Matches: []models.Match{{Dimension: models.DimensionEfficacy, Origin: models.OriginBase}}},
	})

	assert.Equal(t, before+2, gather(t, reg, "claims_classified_total", "category")["face"])
	assert.Equal(t, beforeLearned+1, gather(t, reg, "claims_learned_matches_total", "dimension")["type"])
}
