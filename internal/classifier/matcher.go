package classifier

import (
	"math"
	"strings"

	"github.com/claimscope/analyzer/internal/models"
)

const (
	baseMatchScore        = 1.0
	typeMatchedConfidence = 0.8
	typeFallbackConf      = 0.3
	durationMatchedConf   = 0.8
	efficacyFallbackConf  = 0.1
	efficacyMaxBaseConf   = 0.9
)

func containsFold(lowerText, keyword string) bool {
	return strings.Contains(lowerText, strings.ToLower(keyword))
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}

// MatchBase runs the fixed dictionary over text. Efficacy rules whose
// label is not admissible for the category are skipped.
func MatchBase(text, category string) *models.AnalysisResult {
	lower := strings.ToLower(text)
	admissible := admissibleSet(category)
	result := &models.AnalysisResult{
		Text:     text,
		Category: category,
	}

	for _, rule := range efficacyRules {
		if !admissible[rule.Label] {
			continue
		}
		for _, kw := range rule.Keywords {
			if !containsFold(lower, kw) {
				continue
			}
			result.Efficacy = appendUnique(result.Efficacy, rule.Label)
			result.Matches = append(result.Matches, models.Match{
				Dimension: models.DimensionEfficacy,
				Keyword:   kw,
				Label:     rule.Label,
				Score:     baseMatchScore,
				Origin:    models.OriginBase,
			})
		}
	}
	if len(result.Efficacy) == 0 {
		result.Efficacy = []string{models.FallbackEfficacy}
		result.Confidence.Efficacy = efficacyFallbackConf
	} else {
		result.Confidence.Efficacy = math.Min(efficacyMaxBaseConf, 0.5+0.2*float64(len(result.Efficacy)))
	}

	for _, rule := range typeRules {
		for _, kw := range rule.Keywords {
			if !containsFold(lower, kw) {
				continue
			}
			result.Types = appendUnique(result.Types, rule.Label)
			result.Matches = append(result.Matches, models.Match{
				Dimension: models.DimensionType,
				Keyword:   kw,
				Label:     rule.Label,
				Score:     baseMatchScore,
				Origin:    models.OriginBase,
			})
			break
		}
	}
	if len(result.Types) == 0 {
		result.Types = []string{models.FallbackType}
		result.Confidence.Type = typeFallbackConf
	} else {
		result.Confidence.Type = typeMatchedConfidence
	}

	result.Duration = models.DefaultDuration
scan:
	for _, rule := range durationRules {
		for _, kw := range rule.Keywords {
			if containsFold(lower, kw) {
				result.Duration = rule.Label
				result.Confidence.Duration = durationMatchedConf
				result.Matches = append(result.Matches, models.Match{
					Dimension: models.DimensionDuration,
					Keyword:   kw,
					Label:     rule.Label,
					Score:     baseMatchScore,
					Origin:    models.OriginBase,
				})
				break scan
			}
		}
	}

	return result
}
