package learning

import (
	"bytes"
	"encoding/json"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/claimscope/analyzer/internal/models"
)

// DecodeImport parses an import payload. Payloads without a newKeywords
// object are rejected.
func DecodeImport(data []byte) (*models.LearningState, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, invalid("payload", "not a JSON object: %v", err)
	}
	raw, ok := root["newKeywords"]
	if !ok || !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		return nil, invalid("newKeywords", "learned keyword object is missing")
	}

	var imported models.LearningState
	if err := json.Unmarshal(data, &imported); err != nil {
		return nil, invalid("payload", "%v", err)
	}
	imported.EnsureMaps()
	return &imported, nil
}

// Import merges a raw payload into the current state. The state is left
// untouched when the payload is rejected.
func (l *Learner) Import(data []byte) error {
	imported, err := DecodeImport(data)
	if err != nil {
		l.logger.WithError(err).Warn("Learning import rejected")
		return err
	}
	l.Merge(imported)
	return nil
}

// Merge folds imported into the current state without dropping existing
// entries. On key conflicts the imported side wins.
func (l *Learner) Merge(imported *models.LearningState) {
	rev := l.state.Revision + 1
	l.state = MergeStates(l.state, imported)
	l.state.LastUpdated = l.now()
	l.state.Revision = rev
	l.logger.WithFields(logrus.Fields{
		"corrections": len(l.state.UserCorrections),
		"learned":     l.state.LearnedCount(),
	}).Info("Learning data merged")
}

// MergeStates returns a new state combining current and imported.
func MergeStates(current, imported *models.LearningState) *models.LearningState {
	current.EnsureMaps()
	imported.EnsureMaps()
	merged := models.NewLearningState()

	for _, d := range models.Dimensions {
		for label, kws := range current.NewKeywords[d] {
			merged.NewKeywords[d][label] = append([]string(nil), kws...)
		}
		for label, kws := range imported.NewKeywords[d] {
			bucket := merged.NewKeywords[d][label]
			for _, kw := range kws {
				bucket = appendUnique(bucket, kw)
			}
			if len(bucket) > 0 {
				merged.NewKeywords[d][label] = bucket
			}
		}
	}

	merged.UserCorrections = append(append(merged.UserCorrections, current.UserCorrections...), imported.UserCorrections...)
	merged.Corrections = append(append(merged.Corrections, current.Corrections...), imported.Corrections...)
	merged.ConflictLog = append(append(merged.ConflictLog, current.ConflictLog...), imported.ConflictLog...)

	for _, src := range []*models.LearningState{current, imported} {
		for k, v := range src.KeywordScores {
			merged.KeywordScores[k] = v
		}
		for k, v := range src.RemovedKeywords {
			merged.RemovedKeywords[k] = append([]string(nil), v...)
		}
		for k, v := range src.UserFeedback {
			merged.UserFeedback[k] = v
		}
		for k, v := range src.Confidence {
			merged.Confidence[k] = v
		}
		for k, v := range src.KeywordFrequency {
			merged.KeywordFrequency[k] = v
		}
		for k, v := range src.Contributors {
			merged.Contributors[k] = v
		}
	}

	stats := &merged.LearningStats
	stats.TotalCorrections = current.LearningStats.TotalCorrections + imported.LearningStats.TotalCorrections
	stats.Confirmations = current.LearningStats.Confirmations + imported.LearningStats.Confirmations
	if stats.TotalCorrections > 0 {
		stats.AccuracyRate = math.Round(float64(stats.Confirmations)/float64(stats.TotalCorrections)*1000) / 10
	}

	merged.LastContributor = current.LastContributor
	merged.LastSyncTime = current.LastSyncTime
	merged.SyncSource = current.SyncSource
	return merged
}
