package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/claimscope/analyzer/internal/models"
)

var (
	claimsClassified = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claims_classified_total",
			Help: "Total claim lines classified by product category",
		},
		[]string{"category"},
	)
	learnedMatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claims_learned_matches_total",
			Help: "Total matches contributed by learned keywords by dimension",
		},
		[]string{"dimension"},
	)
	learningEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claims_learning_events_total",
			Help: "Total learning state mutations by kind",
		},
		[]string{"kind"},
	)
	storeSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claims_store_saves_total",
			Help: "Total learning state saves by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)
	storeSaveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "claims_store_save_duration_seconds",
			Help:    "Learning state save latency by backend",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	learnedKeywordsDesc = prometheus.NewDesc(
		"claims_learned_keywords",
		"Learned keywords currently held per dimension",
		[]string{"dimension"},
		nil,
	)
	blacklistedDesc = prometheus.NewDesc(
		"claims_blacklisted_keywords",
		"Keywords explicitly removed from learned buckets",
		nil,
		nil,
	)
	accuracyDesc = prometheus.NewDesc(
		"claims_accuracy_rate",
		"Share of feedback events that confirmed a result unmodified, in percent",
		nil,
		nil,
	)
)

// SummaryProvider exposes the current learning summary.
type SummaryProvider interface {
	LearningSummary() models.LearningSummary
}

// LearningCollector reads the learning summary on each scrape.
type LearningCollector struct {
	provider SummaryProvider
}

// Describe sends the metric descriptors to the channel.
func (c *LearningCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- learnedKeywordsDesc
	ch <- blacklistedDesc
	ch <- accuracyDesc
}

// Collect emits gauges for the current learning state.
func (c *LearningCollector) Collect(ch chan<- prometheus.Metric) {
	summary := c.provider.LearningSummary()
	for _, d := range models.Dimensions {
		ch <- prometheus.MustNewConstMetric(
			learnedKeywordsDesc,
			prometheus.GaugeValue,
			float64(summary.LearnedKeywords[d]),
			string(d),
		)
	}
	ch <- prometheus.MustNewConstMetric(blacklistedDesc, prometheus.GaugeValue, float64(summary.Blacklisted))
	ch <- prometheus.MustNewConstMetric(accuracyDesc, prometheus.GaugeValue, summary.Stats.AccuracyRate)
}

var initOnce sync.Once

// Init registers all collectors with the default registry. Must be called
// once at startup; later calls are ignored.
func Init(provider SummaryProvider) {
	initOnce.Do(func() {
		prometheus.MustRegister(claimsClassified, learnedMatches, learningEvents, storeSaves, storeSaveDuration)
		if provider != nil {
			prometheus.MustRegister(&LearningCollector{provider: provider})
		}
	})
}

// RecordClassification counts classified claims and their learned matches.
func RecordClassification(category string, results []*models.AnalysisResult) {
	if category == "" {
		category = "all"
	}
	claimsClassified.WithLabelValues(category).Add(float64(len(results)))
	for _, r := range results {
		for _, m := range r.Matches {
			if m.Origin == models.OriginLearned {
				learnedMatches.WithLabelValues(string(m.Dimension)).Inc()
			}
		}
	}
}

// RecordLearningEvent counts one learning state mutation.
func RecordLearningEvent(kind string) {
	learningEvents.WithLabelValues(kind).Inc()
}

// RecordSave counts one save attempt.
func RecordSave(backend, mode, outcome string, elapsed time.Duration) {
	storeSaves.WithLabelValues(mode, outcome).Inc()
	storeSaveDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
}
