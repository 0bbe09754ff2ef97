package learning

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/claimscope/analyzer/internal/classifier"
	"github.com/claimscope/analyzer/internal/models"
)

const (
	confirmBoost        = 0.1
	saveCorrectionBoost = 0.05
	keptLabelBoost      = 0.1
	deletedPenalty      = 0.2
	replacedPenalty     = 0.15
	taughtKeywordScore  = 0.8
)

// Learner applies feedback events to a single learning state.
// A Learner is NOT safe for concurrent use; callers serialize access.
type Learner struct {
	state  *models.LearningState
	logger *logrus.Logger
	now    func() time.Time
}

// New wraps state. A nil state starts from the empty initial state.
func New(state *models.LearningState, logger *logrus.Logger) *Learner {
	if state == nil {
		state = models.NewLearningState()
	}
	state.EnsureMaps()
	return &Learner{
		state:  state,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// State returns the live state. Callers must not mutate it.
func (l *Learner) State() *models.LearningState {
	return l.state
}

// Snapshot returns a deep copy suitable for persisting.
func (l *Learner) Snapshot() (*models.LearningState, error) {
	return l.state.Clone()
}

// Revision changes whenever the state is mutated or swapped.
func (l *Learner) Revision() uint64 {
	return l.state.Revision
}

// Replace swaps in a state loaded from a store.
func (l *Learner) Replace(state *models.LearningState) {
	if state == nil {
		state = models.NewLearningState()
	}
	state.EnsureMaps()
	state.Revision = l.state.Revision + 1
	l.state = state
}

// Reset restores the empty initial state.
func (l *Learner) Reset() {
	rev := l.state.Revision + 1
	l.state = models.NewLearningState()
	l.state.Revision = rev
	l.logger.Info("Learning state cleared")
}

func (l *Learner) adjust(keyword string, delta float64) {
	score := l.state.Score(keyword) + delta
	score = math.Max(models.MinKeywordScore, math.Min(models.MaxKeywordScore, score))
	l.state.KeywordScores[keyword] = score
}

func (l *Learner) touch() {
	l.state.LastUpdated = l.now()
	l.state.Revision++
}

func (l *Learner) refreshAccuracy() {
	stats := &l.state.LearningStats
	if stats.TotalCorrections > 0 {
		stats.AccuracyRate = math.Round(float64(stats.Confirmations)/float64(stats.TotalCorrections)*1000) / 10
	} else {
		stats.AccuracyRate = 100
	}
	stats.LastAccuracyUpdate = l.now()
}

// Confirm records that a result was accepted unmodified.
func (l *Learner) Confirm(r *models.AnalysisResult) {
	for _, m := range r.Matches {
		l.adjust(m.Keyword, confirmBoost)
	}
	l.state.LearningStats.TotalCorrections++
	l.state.LearningStats.Confirmations++
	l.refreshAccuracy()
	l.touch()

	markConfirmed(r, l.now())
	l.logger.WithFields(logrus.Fields{
		"result_id": r.ID,
		"matches":   len(r.Matches),
	}).Info("Result confirmed")
}

// SaveCorrection finalizes an editing session on r.
func (l *Learner) SaveCorrection(r *models.AnalysisResult) {
	for _, m := range r.Matches {
		l.adjust(m.Keyword, saveCorrectionBoost)
	}
	l.touch()
	markConfirmed(r, l.now())
	l.logger.WithField("result_id", r.ID).Info("Correction session saved")
}

func markConfirmed(r *models.AnalysisResult, at time.Time) {
	r.Confirmed = true
	r.ConfirmedAt = &at
}

// Correction describes one user edit of a result dimension.
type Correction struct {
	Dimension models.Dimension
	Kind      models.CorrectionKind
	Values    []string
	Keyword   string
}

func cleanValues(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = appendUnique(out, v)
		}
	}
	return out
}

func (c *Correction) normalize() error {
	d, err := models.ParseDimension(string(c.Dimension))
	if err != nil {
		return invalid("dimension", "%v", err)
	}
	c.Dimension = d
	if !c.Kind.Valid() {
		return invalid("kind", "unknown correction kind %q", c.Kind)
	}
	values := cleanValues(c.Values)
	for _, v := range values {
		if !classifier.IsKnownLabel(c.Dimension, v) {
			return invalid("values", "%q is not a %s label", v, c.Dimension)
		}
	}
	if c.Kind != models.CorrectionDelete && len(values) == 0 {
		return invalid("values", "%s requires at least one label", c.Kind)
	}
	if !c.Dimension.MultiValued() && len(values) > 1 {
		return invalid("values", "duration takes a single label")
	}
	return nil
}

// Correct applies a user correction to r in place and records it.
func (l *Learner) Correct(r *models.AnalysisResult, c Correction) (models.CorrectionRecord, error) {
	if err := c.normalize(); err != nil {
		return models.CorrectionRecord{}, err
	}
	values := cleanValues(c.Values)
	oldValue := r.Labels(c.Dimension)

	// Duration is single-valued, so an addition replaces it.
	kind := c.Kind
	if !c.Dimension.MultiValued() && kind == models.CorrectionAdd {
		kind = models.CorrectionReplace
	}

	// A deletion names the labels to keep, so it can only narrow the value.
	if kind == models.CorrectionDelete {
		current := make(map[string]bool, len(oldValue))
		for _, v := range oldValue {
			current[v] = true
		}
		for _, v := range values {
			if !current[v] {
				return models.CorrectionRecord{}, invalid("values", "%q is not a current %s label", v, c.Dimension)
			}
		}
	}

	var chosen []string
	switch kind {
	case models.CorrectionAdd:
		chosen = append([]string(nil), oldValue...)
		for _, v := range values {
			chosen = appendUnique(chosen, v)
		}
	default:
		chosen = values
	}
	final := chosen
	if len(final) == 0 {
		final = []string{c.Dimension.Fallback()}
	}

	record := models.CorrectionRecord{
		ID:             models.RecordID(uuid.NewString()),
		ResultID:       models.RecordID(r.ID),
		Text:           r.Text,
		Dimension:      c.Dimension,
		OldValue:       strings.Join(oldValue, ", "),
		NewValue:       strings.Join(final, ", "),
		UserKeyword:    strings.TrimSpace(c.Keyword),
		CorrectionType: c.Kind,
		Timestamp:      l.now(),
		Confidence:     r.Confidence.Get(c.Dimension),
	}
	l.state.UserCorrections = append(l.state.UserCorrections, record)
	l.state.LearningStats.TotalCorrections++
	l.refreshAccuracy()

	kept := make(map[string]bool, len(final))
	for _, v := range final {
		kept[v] = true
	}
	for _, m := range r.MatchesFor(c.Dimension) {
		switch {
		case kept[m.Label]:
			l.adjust(m.Keyword, keptLabelBoost)
		case kind == models.CorrectionDelete:
			l.adjust(m.Keyword, -deletedPenalty)
		case kind == models.CorrectionReplace:
			l.adjust(m.Keyword, -replacedPenalty)
		}
	}

	if record.UserKeyword != "" {
		for _, label := range chosen {
			l.teach(c.Dimension, label, record.UserKeyword, taughtKeywordScore)
		}
	}

	r.SetLabels(c.Dimension, final)
	l.touch()

	l.logger.WithFields(logrus.Fields{
		"result_id": r.ID,
		"dimension": c.Dimension,
		"kind":      c.Kind,
		"old":       record.OldValue,
		"new":       record.NewValue,
		"keyword":   record.UserKeyword,
	}).Info("Correction applied")

	return record, nil
}

// teach associates literal with a bucket, clearing its blacklist entry.
// It reports whether the literal was newly added.
func (l *Learner) teach(d models.Dimension, label, literal string, score float64) bool {
	l.unblacklist(models.BucketKey{Dimension: d, Label: label}, literal)
	bucket := l.state.NewKeywords[d][label]
	if contains(bucket, literal) {
		return false
	}
	l.state.NewKeywords[d][label] = append(bucket, literal)
	l.state.KeywordScores[literal] = score
	l.state.KeywordFrequency[literal]++
	return true
}

func (l *Learner) unblacklist(key models.BucketKey, literal string) {
	list, ok := l.state.RemovedKeywords[key]
	if !ok {
		return
	}
	list = remove(list, literal)
	if len(list) == 0 {
		delete(l.state.RemovedKeywords, key)
		return
	}
	l.state.RemovedKeywords[key] = list
}

func validateBucket(d models.Dimension, label, literal string) (models.Dimension, error) {
	parsed, err := models.ParseDimension(string(d))
	if err != nil {
		return "", invalid("dimension", "%v", err)
	}
	if strings.TrimSpace(label) == "" {
		return "", invalid("label", "label is required")
	}
	if !classifier.IsKnownLabel(parsed, label) {
		return "", invalid("label", "%q is not a %s label", label, parsed)
	}
	if strings.TrimSpace(literal) == "" {
		return "", invalid("keyword", "keyword is required")
	}
	return parsed, nil
}

// AddKeyword teaches literal for (d, label) at the default score. It
// returns false without changes when the literal is already present.
func (l *Learner) AddKeyword(d models.Dimension, label, literal string) (bool, error) {
	d, err := validateBucket(d, label, literal)
	if err != nil {
		return false, err
	}
	literal = strings.TrimSpace(literal)

	if contains(l.state.NewKeywords[d][label], literal) {
		l.logger.WithFields(logrus.Fields{
			"dimension": d,
			"label":     label,
			"keyword":   literal,
		}).Warn("Keyword already learned")
		return false, nil
	}

	l.teach(d, label, literal, models.DefaultKeywordScore)
	l.touch()
	l.logger.WithFields(logrus.Fields{
		"dimension": d,
		"label":     label,
		"keyword":   literal,
	}).Info("Keyword learned")
	return true, nil
}

// DeleteKeyword removes literal from its bucket and blacklists it there.
// The literal's score entry is discarded.
func (l *Learner) DeleteKeyword(d models.Dimension, label, literal string) (bool, error) {
	d, err := models.ParseDimension(string(d))
	if err != nil {
		return false, invalid("dimension", "%v", err)
	}
	bucket := l.state.NewKeywords[d][label]
	if !contains(bucket, literal) {
		return false, nil
	}

	bucket = remove(bucket, literal)
	if len(bucket) == 0 {
		delete(l.state.NewKeywords[d], label)
	} else {
		l.state.NewKeywords[d][label] = bucket
	}

	key := models.BucketKey{Dimension: d, Label: label}
	if !l.state.RemovedKeywords.Contains(key, literal) {
		l.state.RemovedKeywords[key] = append(l.state.RemovedKeywords[key], literal)
	}
	delete(l.state.KeywordScores, literal)
	l.touch()

	l.logger.WithFields(logrus.Fields{
		"dimension": d,
		"label":     label,
		"keyword":   literal,
	}).Info("Keyword deleted")
	return true, nil
}

// EditKeyword renames a literal in place, carrying its score over.
func (l *Learner) EditKeyword(d models.Dimension, label, oldLiteral, newLiteral string) (bool, error) {
	d, err := models.ParseDimension(string(d))
	if err != nil {
		return false, invalid("dimension", "%v", err)
	}
	newLiteral = strings.TrimSpace(newLiteral)
	if newLiteral == "" || newLiteral == oldLiteral {
		return false, nil
	}
	bucket := l.state.NewKeywords[d][label]
	idx := indexOf(bucket, oldLiteral)
	if idx < 0 || contains(bucket, newLiteral) {
		return false, nil
	}

	bucket[idx] = newLiteral
	if score, ok := l.state.KeywordScores[oldLiteral]; ok {
		l.state.KeywordScores[newLiteral] = score
		delete(l.state.KeywordScores, oldLiteral)
	}
	l.touch()

	l.logger.WithFields(logrus.Fields{
		"dimension": d,
		"label":     label,
		"old":       oldLiteral,
		"new":       newLiteral,
	}).Info("Keyword renamed")
	return true, nil
}

// ClearLabel removes every literal of one bucket. The blacklist is kept.
func (l *Learner) ClearLabel(d models.Dimension, label string) (int, error) {
	d, err := models.ParseDimension(string(d))
	if err != nil {
		return 0, invalid("dimension", "%v", err)
	}
	n := l.clearBucket(d, label)
	if n > 0 {
		l.touch()
	}
	return n, nil
}

// ClearDimension removes every learned literal of a dimension.
func (l *Learner) ClearDimension(d models.Dimension) (int, error) {
	d, err := models.ParseDimension(string(d))
	if err != nil {
		return 0, invalid("dimension", "%v", err)
	}
	n := 0
	for label := range l.state.NewKeywords[d] {
		n += l.clearBucket(d, label)
	}
	if n > 0 {
		l.touch()
	}
	l.logger.WithFields(logrus.Fields{
		"dimension": d,
		"removed":   n,
	}).Info("Learned dimension cleared")
	return n, nil
}

func (l *Learner) clearBucket(d models.Dimension, label string) int {
	bucket := l.state.NewKeywords[d][label]
	for _, kw := range bucket {
		delete(l.state.KeywordScores, kw)
	}
	delete(l.state.NewKeywords[d], label)
	return len(bucket)
}

// Summary reports aggregate counters of the current state.
func (l *Learner) Summary() models.LearningSummary {
	blacklisted := 0
	for _, kws := range l.state.RemovedKeywords {
		blacklisted += len(kws)
	}
	return models.LearningSummary{
		LearnedKeywords: l.state.LearnedCount(),
		Blacklisted:     blacklisted,
		Corrections:     len(l.state.UserCorrections),
		Stats:           l.state.LearningStats,
		Contributors:    len(l.state.Contributors),
		Version:         l.state.Version,
		LastUpdated:     l.state.LastUpdated.Format(time.RFC3339),
	}
}

func contains(list []string, v string) bool {
	return indexOf(list, v) >= 0
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}

func remove(list []string, v string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

func appendUnique(list []string, v string) []string {
	if contains(list, v) {
		return list
	}
	return append(list, v)
}
