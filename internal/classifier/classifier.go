package classifier

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/claimscope/analyzer/internal/models"
)

// Classifier runs the two matching phases over claim text.
type Classifier struct {
	logger *logrus.Logger
	now    func() time.Time
}

func New(logger *logrus.Logger) *Classifier {
	return &Classifier{
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Classify labels one claim. state may be nil, in which case only the
// fixed dictionary is applied.
func (c *Classifier) Classify(text, category string, state *models.LearningState) *models.AnalysisResult {
	base := MatchBase(text, category)
	result := Augment(base, state)
	result.ID = uuid.NewString()
	result.CreatedAt = c.now()

	c.logger.WithFields(logrus.Fields{
		"result_id": result.ID,
		"category":  category,
		"efficacy":  result.Efficacy,
		"types":     result.Types,
		"duration":  result.Duration,
		"matches":   len(result.Matches),
	}).Debug("Claim classified")

	return result
}

// ClassifyLines splits input on newlines and classifies every non-blank,
// trimmed line in order.
func (c *Classifier) ClassifyLines(input, category string, state *models.LearningState) []*models.AnalysisResult {
	lines := SplitLines(input)
	results := make([]*models.AnalysisResult, 0, len(lines))
	for _, line := range lines {
		results = append(results, c.Classify(line, category, state))
	}
	return results
}

// SplitLines returns the trimmed, non-blank lines of input.
func SplitLines(input string) []string {
	var lines []string
	for _, line := range strings.Split(input, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// LearnedMatchCount returns how many provenance entries came from the
// learned dictionary.
func LearnedMatchCount(r *models.AnalysisResult) int {
	n := 0
	for _, m := range r.Matches {
		if m.Origin == models.OriginLearned {
			n++
		}
	}
	return n
}
