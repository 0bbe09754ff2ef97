package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SchemaVersion is stamped on every saved learning state.
const SchemaVersion = "2.5"

// DefaultKeywordScore is the trust score of a learned literal with no
// recorded score.
const DefaultKeywordScore = 0.7

// Score bounds for learned literals.
const (
	MinKeywordScore = 0.1
	MaxKeywordScore = 1.0
)

// KeywordBook maps dimension -> label -> ordered learned literals.
type KeywordBook map[Dimension]map[string][]string

// Bucket returns the literals learned for (dimension, label).
func (b KeywordBook) Bucket(d Dimension, label string) []string {
	if b == nil || b[d] == nil {
		return nil
	}
	return b[d][label]
}

// BucketKey addresses a (dimension, label) pair. Its text form is
// "<dimension>-<label>".
type BucketKey struct {
	Dimension Dimension
	Label     string
}

func (k BucketKey) String() string {
	return fmt.Sprintf("%s-%s", k.Dimension, k.Label)
}

func (k BucketKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *BucketKey) UnmarshalText(b []byte) error {
	dim, label, ok := strings.Cut(string(b), "-")
	if !ok || label == "" {
		return fmt.Errorf("malformed bucket key %q", string(b))
	}
	d, err := ParseDimension(dim)
	if err != nil {
		return err
	}
	k.Dimension = d
	k.Label = label
	return nil
}

// Blacklist holds literals explicitly removed from a bucket.
type Blacklist map[BucketKey][]string

// Contains reports whether literal is blacklisted for key.
func (b Blacklist) Contains(key BucketKey, literal string) bool {
	for _, kw := range b[key] {
		if kw == literal {
			return true
		}
	}
	return false
}

// CorrectionKind is how a correction combines with the existing value.
type CorrectionKind string

const (
	CorrectionDelete  CorrectionKind = "delete"
	CorrectionAdd     CorrectionKind = "add"
	CorrectionReplace CorrectionKind = "replace"
)

func (k CorrectionKind) Valid() bool {
	return k == CorrectionDelete || k == CorrectionAdd || k == CorrectionReplace
}

// RecordID is an identifier that older data files stored as a number.
type RecordID string

func (id *RecordID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = RecordID(s)
		return nil
	}
	if string(b) == "null" {
		*id = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid record id %s: %w", string(b), err)
	}
	*id = RecordID(n.String())
	return nil
}

// CorrectionRecord is an append-only entry describing one user correction.
type CorrectionRecord struct {
	ID             RecordID       `json:"id"`
	ResultID       RecordID       `json:"resultId"`
	Text           string         `json:"text"`
	Dimension      Dimension      `json:"dimension"`
	OldValue       string         `json:"oldValue"`
	NewValue       string         `json:"newValue"`
	UserKeyword    string         `json:"userKeyword,omitempty"`
	CorrectionType CorrectionKind `json:"correctionType"`
	Timestamp      time.Time      `json:"timestamp"`
	Confidence     float64        `json:"confidence"`
}

// LearningStats aggregates feedback counters.
type LearningStats struct {
	TotalCorrections   int       `json:"totalCorrections"`
	Confirmations      int       `json:"confirmations"`
	AccuracyRate       float64   `json:"accuracyRate"`
	LastAccuracyUpdate time.Time `json:"lastAccuracyUpdate"`
}

// Contributor tracks how often an instance has pushed the shared state.
type Contributor struct {
	LastContribution   time.Time `json:"lastContribution"`
	TotalContributions int       `json:"totalContributions"`
}

// LearningState is the persisted learning aggregate. Legacy log and map
// fields the analyzer never interprets are carried as raw JSON so that
// round trips stay lossless.
type LearningState struct {
	NewKeywords      KeywordBook                `json:"newKeywords"`
	KeywordScores    map[string]float64         `json:"keywordScores"`
	RemovedKeywords  Blacklist                  `json:"removedKeywords"`
	UserCorrections  []CorrectionRecord         `json:"userCorrections"`
	Corrections      []json.RawMessage          `json:"corrections"`
	ConflictLog      []json.RawMessage          `json:"conflictLog"`
	UserFeedback     map[string]json.RawMessage `json:"userFeedback"`
	Confidence       map[string]json.RawMessage `json:"confidence"`
	KeywordFrequency map[string]int             `json:"keywordFrequency"`
	LearningStats    LearningStats              `json:"learningStats"`
	Contributors     map[string]Contributor     `json:"contributors"`
	LastContributor  string                     `json:"lastContributor,omitempty"`
	LastSyncTime     *time.Time                 `json:"lastSyncTime,omitempty"`
	SyncSource       string                     `json:"syncSource,omitempty"`
	Version          string                     `json:"version"`
	LastUpdated      time.Time                  `json:"lastUpdated"`

	// Revision counts local mutations. It is never persisted.
	Revision uint64 `json:"-"`
}

// NewLearningState returns the empty initial state.
func NewLearningState() *LearningState {
	now := time.Now().UTC()
	s := &LearningState{
		Version:     SchemaVersion,
		LastUpdated: now,
		LearningStats: LearningStats{
			AccuracyRate:       100,
			LastAccuracyUpdate: now,
		},
	}
	s.EnsureMaps()
	return s
}

// EnsureMaps fills any nil collection so the state can be mutated safely.
func (s *LearningState) EnsureMaps() {
	if s.NewKeywords == nil {
		s.NewKeywords = KeywordBook{}
	}
	for _, d := range Dimensions {
		if s.NewKeywords[d] == nil {
			s.NewKeywords[d] = map[string][]string{}
		}
	}
	if s.KeywordScores == nil {
		s.KeywordScores = map[string]float64{}
	}
	if s.RemovedKeywords == nil {
		s.RemovedKeywords = Blacklist{}
	}
	if s.UserCorrections == nil {
		s.UserCorrections = []CorrectionRecord{}
	}
	if s.Corrections == nil {
		s.Corrections = []json.RawMessage{}
	}
	if s.ConflictLog == nil {
		s.ConflictLog = []json.RawMessage{}
	}
	if s.UserFeedback == nil {
		s.UserFeedback = map[string]json.RawMessage{}
	}
	if s.Confidence == nil {
		s.Confidence = map[string]json.RawMessage{}
	}
	if s.KeywordFrequency == nil {
		s.KeywordFrequency = map[string]int{}
	}
	if s.Contributors == nil {
		s.Contributors = map[string]Contributor{}
	}
}

// Score returns the trust score of literal, defaulting when absent.
func (s *LearningState) Score(literal string) float64 {
	if v, ok := s.KeywordScores[literal]; ok {
		return v
	}
	return DefaultKeywordScore
}

// Clone returns a deep copy via a JSON round trip.
func (s *LearningState) Clone() (*LearningState, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode learning state: %w", err)
	}
	var out LearningState
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode learning state: %w", err)
	}
	out.EnsureMaps()
	out.Revision = s.Revision
	return &out, nil
}

// LearnedCount returns the number of learned literals per dimension.
func (s *LearningState) LearnedCount() map[Dimension]int {
	out := make(map[Dimension]int, len(Dimensions))
	for _, d := range Dimensions {
		n := 0
		for _, kws := range s.NewKeywords[d] {
			n += len(kws)
		}
		out[d] = n
	}
	return out
}

// ExportPayload is the downloadable form of the learning state.
type ExportPayload struct {
	*LearningState
	ExportDate         time.Time                       `json:"exportDate"`
	BaseKeywordMapping map[Dimension]map[string]string `json:"baseKeywordMapping"`
}
