package repository

import (
	"gorm.io/gorm"

	"github.com/claimscope/analyzer/internal/models"
)

// AnalysisRecordRepositoryImpl implements AnalysisRecordRepository
type AnalysisRecordRepositoryImpl struct {
	db *gorm.DB
}

func NewAnalysisRecordRepository(db *gorm.DB) models.AnalysisRecordRepository {
	return &AnalysisRecordRepositoryImpl{db: db}
}

func (r *AnalysisRecordRepositoryImpl) Create(record *models.AnalysisRecord) error {
	return r.db.Create(record).Error
}

func (r *AnalysisRecordRepositoryImpl) GetByResultID(resultID string) (*models.AnalysisRecord, error) {
	var record models.AnalysisRecord
	err := r.db.Where("result_id = ?", resultID).First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *AnalysisRecordRepositoryImpl) GetRecent(limit int) ([]models.AnalysisRecord, error) {
	var records []models.AnalysisRecord
	err := r.db.Order("confirmed_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (r *AnalysisRecordRepositoryImpl) CountByEfficacy() ([]models.LabelCount, error) {
	var counts []models.LabelCount
	err := r.db.Raw(`
		SELECT label, COUNT(*) AS count
		FROM analysis_records, unnest(efficacy) AS label
		GROUP BY label
		ORDER BY count DESC, label
	`).Scan(&counts).Error
	return counts, err
}

// CorrectionLogRepositoryImpl implements CorrectionLogRepository
type CorrectionLogRepositoryImpl struct {
	db *gorm.DB
}

func NewCorrectionLogRepository(db *gorm.DB) models.CorrectionLogRepository {
	return &CorrectionLogRepositoryImpl{db: db}
}

func (r *CorrectionLogRepositoryImpl) Create(entry *models.CorrectionLog) error {
	return r.db.Create(entry).Error
}

func (r *CorrectionLogRepositoryImpl) GetByResultID(resultID string) ([]models.CorrectionLog, error) {
	var entries []models.CorrectionLog
	err := r.db.Where("result_id = ?", resultID).
		Order("corrected_at").
		Find(&entries).Error
	return entries, err
}

func (r *CorrectionLogRepositoryImpl) GetRecent(limit int) ([]models.CorrectionLog, error) {
	var entries []models.CorrectionLog
	err := r.db.Order("corrected_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// RepositoryManager bundles all repositories
type RepositoryManager struct {
	AnalysisRecords models.AnalysisRecordRepository
	CorrectionLogs  models.CorrectionLogRepository
}

func NewRepositoryManager(db *gorm.DB) *RepositoryManager {
	return &RepositoryManager{
		AnalysisRecords: NewAnalysisRecordRepository(db),
		CorrectionLogs:  NewCorrectionLogRepository(db),
	}
}
