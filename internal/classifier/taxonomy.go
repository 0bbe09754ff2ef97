package classifier

import (
	"sort"

	"github.com/claimscope/analyzer/internal/models"
)

// EfficacyLabels is the efficacy taxonomy in code order (01-26, then the
// catch-all).
var EfficacyLabels = []string{
	"染发", "烫发", "祛斑美白", "防晒", "防脱发", "祛痘", "滋养", "修护", "清洁",
	"卸妆", "保湿", "美容修饰", "芳香", "除臭", "抗皱", "紧致", "舒缓", "控油",
	"去角质", "爽身", "护发", "防断发", "去屑", "发色护理", "脱毛", "辅助剃须剃毛",
	models.FallbackEfficacy,
}

// TypeLabels is the claim-type taxonomy.
var TypeLabels = []string{
	"温和宣称", "敏感肌宣称", "原料功效", "量化指标", "喜好度", "质地", "使用感受", "使用后体验",
}

// DurationLabels is the persistence taxonomy.
var DurationLabels = []string{models.DefaultDuration, "持久"}

var productCategories = map[string][]string{
	"hair": {
		"染发", "烫发", "防脱发", "滋养", "修护", "清洁", "保湿", "防晒", "芳香", "舒缓",
		"护发", "防断发", "去屑", "发色护理", "控油", "去角质", "美容修饰", "其他",
	},
	"face": {
		"祛斑美白", "防晒", "祛痘", "滋养", "修护", "清洁", "卸妆", "保湿", "美容修饰",
		"抗皱", "紧致", "舒缓", "控油", "去角质", "芳香", "爽身", "辅助剃须剃毛", "其他",
	},
	"body": {
		"防晒", "滋养", "修护", "清洁", "保湿", "美容修饰", "芳香", "除臭", "舒缓", "控油",
		"去角质", "爽身", "脱毛", "辅助剃须剃毛", "抗皱", "紧致", "祛痘", "祛斑美白", "卸妆", "其他",
	},
	"oral": {"清洁", "芳香", "除臭", "舒缓", "其他"},
}

// Categories returns a copy of the product category table.
func Categories() map[string][]string {
	out := make(map[string][]string, len(productCategories))
	for k, v := range productCategories {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// AdmissibleEfficacies returns the efficacy labels that may be assigned for
// a product category. Empty or unknown categories admit every label.
func AdmissibleEfficacies(category string) []string {
	if labels, ok := productCategories[category]; ok {
		return append([]string(nil), labels...)
	}
	return append([]string(nil), EfficacyLabels...)
}

func admissibleSet(category string) map[string]bool {
	labels := AdmissibleEfficacies(category)
	set := make(map[string]bool, len(labels))
	for _, l := range labels {
		set[l] = true
	}
	return set
}

// TaxonomyFor returns the known labels of a dimension.
func TaxonomyFor(d models.Dimension) []string {
	switch d {
	case models.DimensionEfficacy:
		return EfficacyLabels
	case models.DimensionType:
		return TypeLabels
	default:
		return DurationLabels
	}
}

// IsKnownLabel reports whether label belongs to the taxonomy of d.
func IsKnownLabel(d models.Dimension, label string) bool {
	for _, l := range TaxonomyFor(d) {
		if l == label {
			return true
		}
	}
	return false
}

// CanonicalLabelOrder orders the given bucket labels: taxonomy labels in
// taxonomy order first, then any other labels sorted.
func CanonicalLabelOrder(d models.Dimension, labels []string) []string {
	present := make(map[string]bool, len(labels))
	for _, l := range labels {
		present[l] = true
	}
	out := make([]string, 0, len(labels))
	for _, l := range TaxonomyFor(d) {
		if present[l] {
			out = append(out, l)
			delete(present, l)
		}
	}
	var rest []string
	for l := range present {
		rest = append(rest, l)
	}
	sort.Strings(rest)
	return append(out, rest...)
}
