package models

// GORM models

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// StringArray for PostgreSQL array support
type StringArray []string

func (s StringArray) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "{}", nil
	}
	return fmt.Sprintf("{%s}", strings.Join(s, ",")), nil
}

func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = StringArray{}
		return nil
	}

	switch v := value.(type) {
	case string:
		if v == "{}" {
			*s = StringArray{}
			return nil
		}
		// Remove curly braces and split
		v = strings.Trim(v, "{}")
		if v == "" {
			*s = StringArray{}
			return nil
		}
		*s = StringArray(strings.Split(v, ","))
	case []byte:
		return s.Scan(string(v))
	default:
		return fmt.Errorf("cannot scan %T into StringArray", value)
	}
	return nil
}

// Base model with common fields
type BaseModel struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AnalysisRecord is the history entry of a confirmed classification.
type AnalysisRecord struct {
	BaseModel
	ResultID           string      `json:"result_id" gorm:"uniqueIndex;not null"`
	Text               string      `json:"text" gorm:"not null"`
	Category           string      `json:"category"`
	Efficacy           StringArray `json:"efficacy" gorm:"type:text[]"`
	Types              StringArray `json:"types" gorm:"type:text[]"`
	Duration           string      `json:"duration"`
	EfficacyConfidence float64     `json:"efficacy_confidence"`
	TypeConfidence     float64     `json:"type_confidence"`
	DurationConfidence float64     `json:"duration_confidence"`
	LearnedMatches     int         `json:"learned_matches" gorm:"default:0"`
	Contributor        string      `json:"contributor"`
	Source             string      `json:"source" gorm:"default:'manual'"`
	ConfirmedAt        time.Time   `json:"confirmed_at" gorm:"default:NOW()"`
}

// CorrectionLog mirrors CorrectionRecord for querying outside the JSON store.
type CorrectionLog struct {
	BaseModel
	CorrectionID string    `json:"correction_id" gorm:"uniqueIndex;not null"`
	ResultID     string    `json:"result_id" gorm:"index;not null"`
	Text         string    `json:"text"`
	Dimension    string    `json:"dimension" gorm:"not null"`
	Kind         string    `json:"kind" gorm:"not null;check:kind IN ('delete','add','replace')"`
	OldValue     string    `json:"old_value"`
	NewValue     string    `json:"new_value"`
	Keyword      string    `json:"keyword"`
	Confidence   float64   `json:"confidence"`
	Contributor  string    `json:"contributor"`
	CorrectedAt  time.Time `json:"corrected_at" gorm:"default:NOW()"`
}

// LabelCount is one row of a label distribution query.
type LabelCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// Database interfaces for repository pattern
type AnalysisRecordRepository interface {
	Create(record *AnalysisRecord) error
	GetByResultID(resultID string) (*AnalysisRecord, error)
	GetRecent(limit int) ([]AnalysisRecord, error)
	CountByEfficacy() ([]LabelCount, error)
}

type CorrectionLogRepository interface {
	Create(entry *CorrectionLog) error
	GetByResultID(resultID string) ([]CorrectionLog, error)
	GetRecent(limit int) ([]CorrectionLog, error)
}

// NewAnalysisRecord flattens a confirmed result into its history row.
func NewAnalysisRecord(r *AnalysisResult, contributor, source string) *AnalysisRecord {
	learned := 0
	for _, m := range r.Matches {
		if m.Origin == OriginLearned {
			learned++
		}
	}
	confirmedAt := time.Now().UTC()
	if r.ConfirmedAt != nil {
		confirmedAt = *r.ConfirmedAt
	}
	return &AnalysisRecord{
		ResultID:           r.ID,
		Text:               r.Text,
		Category:           r.Category,
		Efficacy:           StringArray(r.Efficacy),
		Types:              StringArray(r.Types),
		Duration:           r.Duration,
		EfficacyConfidence: r.Confidence.Efficacy,
		TypeConfidence:     r.Confidence.Type,
		DurationConfidence: r.Confidence.Duration,
		LearnedMatches:     learned,
		Contributor:        contributor,
		Source:             source,
		ConfirmedAt:        confirmedAt,
	}
}

// NewCorrectionLog converts a correction record into its history row.
func NewCorrectionLog(c CorrectionRecord, contributor string) *CorrectionLog {
	return &CorrectionLog{
		CorrectionID: string(c.ID),
		ResultID:     string(c.ResultID),
		Text:         c.Text,
		Dimension:    string(c.Dimension),
		Kind:         string(c.CorrectionType),
		OldValue:     c.OldValue,
		NewValue:     c.NewValue,
		Keyword:      c.UserKeyword,
		Confidence:   c.Confidence,
		Contributor:  contributor,
		CorrectedAt:  c.Timestamp,
	}
}

// TableName methods for custom table names
func (AnalysisRecord) TableName() string { return "analysis_records" }
func (CorrectionLog) TableName() string  { return "correction_logs" }

// Model validation methods
func (ar *AnalysisRecord) Validate() error {
	if ar.ResultID == "" {
		return fmt.Errorf("result ID is required")
	}
	if ar.Text == "" {
		return fmt.Errorf("text is required")
	}
	return nil
}

func (cl *CorrectionLog) Validate() error {
	if cl.ResultID == "" {
		return fmt.Errorf("result ID is required")
	}
	if !CorrectionKind(cl.Kind).Valid() {
		return fmt.Errorf("invalid correction kind: %s", cl.Kind)
	}
	return nil
}

// GORM hooks
func (ar *AnalysisRecord) BeforeCreate(tx *gorm.DB) error {
	return ar.Validate()
}

func (cl *CorrectionLog) BeforeCreate(tx *gorm.DB) error {
	return cl.Validate()
}
