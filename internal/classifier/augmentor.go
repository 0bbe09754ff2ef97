package classifier

import (
	"math"
	"strings"

	"github.com/claimscope/analyzer/internal/models"
)

const (
	// Learned literals at or below this score are ignored.
	activationThreshold = 0.3
	learnedConfBoost    = 0.1
	learnedConfCap      = 0.95
	learnedDurationConf = 0.9
)

// Augment applies the learned dictionary to a base result. The base result
// is not modified; a deep copy is returned.
func Augment(base *models.AnalysisResult, state *models.LearningState) *models.AnalysisResult {
	out := base.Clone()
	if state == nil {
		return out
	}
	lower := strings.ToLower(out.Text)
	admissible := admissibleSet(out.Category)

	for _, d := range models.Dimensions {
		buckets := state.NewKeywords[d]
		if len(buckets) == 0 {
			continue
		}
		labels := make([]string, 0, len(buckets))
		for label := range buckets {
			labels = append(labels, label)
		}
		for _, label := range CanonicalLabelOrder(d, labels) {
			if d == models.DimensionEfficacy && !admissible[label] {
				continue
			}
			key := models.BucketKey{Dimension: d, Label: label}
			for _, kw := range buckets[label] {
				if state.RemovedKeywords.Contains(key, kw) {
					continue
				}
				score := state.Score(kw)
				if score <= activationThreshold || !containsFold(lower, kw) {
					continue
				}
				applyLearnedMatch(out, d, label, kw, score)
			}
		}
	}
	return out
}

func applyLearnedMatch(r *models.AnalysisResult, d models.Dimension, label, kw string, score float64) {
	switch d {
	case models.DimensionEfficacy:
		r.Efficacy = dropSentinel(appendUnique(r.Efficacy, label), models.FallbackEfficacy)
	case models.DimensionType:
		r.Types = dropSentinel(appendUnique(r.Types, label), models.FallbackType)
	default:
		r.Duration = label
	}

	r.Matches = append(r.Matches, models.Match{
		Dimension: d,
		Keyword:   kw,
		Label:     label,
		Score:     score,
		Origin:    models.OriginLearned,
	})

	if d == models.DimensionDuration {
		r.Confidence.Duration = learnedDurationConf
		return
	}
	r.Confidence.Set(d, math.Min(learnedConfCap, r.Confidence.Get(d)+learnedConfBoost))
}

// dropSentinel removes the fallback label once another label is present.
func dropSentinel(labels []string, sentinel string) []string {
	if len(labels) <= 1 {
		return labels
	}
	out := labels[:0:0]
	for _, l := range labels {
		if l != sentinel {
			out = append(out, l)
		}
	}
	return out
}
