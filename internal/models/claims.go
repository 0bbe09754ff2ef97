package models

import (
	"fmt"
	"time"
)

// Dimension is one of the three independent classification axes.
type Dimension string

const (
	DimensionEfficacy Dimension = "efficacy"
	DimensionType     Dimension = "type"
	DimensionDuration Dimension = "duration"
)

// Dimensions lists the axes in their canonical order.
var Dimensions = []Dimension{DimensionEfficacy, DimensionType, DimensionDuration}

// Older data files key dimensions by their display names or by position.
var legacyDimensions = map[string]Dimension{
	"功效":         DimensionEfficacy,
	"dimension1": DimensionEfficacy,
	"类型":         DimensionType,
	"dimension2": DimensionType,
	"持续性":        DimensionDuration,
	"dimension3": DimensionDuration,
}

// ParseDimension accepts canonical and legacy dimension names.
func ParseDimension(s string) (Dimension, error) {
	switch d := Dimension(s); d {
	case DimensionEfficacy, DimensionType, DimensionDuration:
		return d, nil
	}
	if d, ok := legacyDimensions[s]; ok {
		return d, nil
	}
	return "", fmt.Errorf("unknown dimension %q", s)
}

func (d Dimension) Valid() bool {
	_, err := ParseDimension(string(d))
	return err == nil
}

// MultiValued reports whether results carry a label set (efficacy, type)
// rather than a single label (duration).
func (d Dimension) MultiValued() bool {
	return d != DimensionDuration
}

func (d Dimension) MarshalText() ([]byte, error) {
	return []byte(d), nil
}

func (d *Dimension) UnmarshalText(b []byte) error {
	parsed, err := ParseDimension(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Origin tells which matching phase produced a match.
type Origin string

const (
	OriginBase    Origin = "base"
	OriginLearned Origin = "learned"
)

// Sentinel labels used when a dimension has no real match.
const (
	FallbackEfficacy = "其他"
	FallbackType     = "使用感受"
	DefaultDuration  = "即时"
)

// Match is a single provenance entry: which literal produced which label.
type Match struct {
	Dimension Dimension `json:"dimension"`
	Keyword   string    `json:"keyword"`
	Label     string    `json:"label"`
	Score     float64   `json:"score"`
	Origin    Origin    `json:"origin"`
}

// Confidence holds the per-dimension confidence of a result, each in [0,1].
type Confidence struct {
	Efficacy float64 `json:"efficacy"`
	Type     float64 `json:"type"`
	Duration float64 `json:"duration"`
}

func (c Confidence) Get(d Dimension) float64 {
	switch d {
	case DimensionEfficacy:
		return c.Efficacy
	case DimensionType:
		return c.Type
	default:
		return c.Duration
	}
}

func (c *Confidence) Set(d Dimension, v float64) {
	switch d {
	case DimensionEfficacy:
		c.Efficacy = v
	case DimensionType:
		c.Type = v
	default:
		c.Duration = v
	}
}

// AnalysisResult is the classification of one claim line.
type AnalysisResult struct {
	ID          string     `json:"id"`
	Text        string     `json:"text"`
	Category    string     `json:"category,omitempty"`
	Efficacy    []string   `json:"efficacy"`
	Types       []string   `json:"types"`
	Duration    string     `json:"duration"`
	Confidence  Confidence `json:"confidence"`
	Matches     []Match    `json:"matches"`
	Confirmed   bool       `json:"confirmed"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Labels returns the current value of a dimension as a slice.
func (r *AnalysisResult) Labels(d Dimension) []string {
	switch d {
	case DimensionEfficacy:
		return append([]string(nil), r.Efficacy...)
	case DimensionType:
		return append([]string(nil), r.Types...)
	default:
		if r.Duration == "" {
			return nil
		}
		return []string{r.Duration}
	}
}

// Fallback is the label a dimension shows when it has no other value.
func (d Dimension) Fallback() string {
	switch d {
	case DimensionEfficacy:
		return FallbackEfficacy
	case DimensionType:
		return FallbackType
	default:
		return DefaultDuration
	}
}

// SetLabels replaces the value of a dimension. Empty label sets fall back
// to the dimension sentinel.
func (r *AnalysisResult) SetLabels(d Dimension, labels []string) {
	if len(labels) == 0 {
		labels = []string{d.Fallback()}
	}
	switch d {
	case DimensionEfficacy:
		r.Efficacy = append([]string(nil), labels...)
	case DimensionType:
		r.Types = append([]string(nil), labels...)
	default:
		r.Duration = labels[len(labels)-1]
	}
}

// MatchesFor returns the provenance entries recorded for one dimension.
func (r *AnalysisResult) MatchesFor(d Dimension) []Match {
	var out []Match
	for _, m := range r.Matches {
		if m.Dimension == d {
			out = append(out, m)
		}
	}
	return out
}

// Clone returns a deep copy.
func (r *AnalysisResult) Clone() *AnalysisResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Efficacy = append([]string(nil), r.Efficacy...)
	c.Types = append([]string(nil), r.Types...)
	c.Matches = append([]Match(nil), r.Matches...)
	if r.ConfirmedAt != nil {
		t := *r.ConfirmedAt
		c.ConfirmedAt = &t
	}
	return &c
}

// LabelStatistics is the label distribution of a set of results.
type LabelStatistics struct {
	Total    int            `json:"total"`
	Efficacy map[string]int `json:"efficacy"`
	Types    map[string]int `json:"types"`
	Duration map[string]int `json:"duration"`
}
