package models

type AnalyzeRequest struct {
	Text     string `json:"text" binding:"required"`
	Category string `json:"category"`
}

type AnalyzeURLRequest struct {
	URL      string `json:"url" binding:"required"`
	Selector string `json:"selector"`
	Category string `json:"category"`
}

type AnalyzeResponse struct {
	Results      []*AnalysisResult `json:"results"`
	Total        int               `json:"total"`
	ResponseTime int               `json:"response_time_ms"`
}

type CorrectionRequest struct {
	Dimension string   `json:"dimension" binding:"required"`
	Kind      string   `json:"kind" binding:"required"`
	Values    []string `json:"values"`
	Keyword   string   `json:"keyword"`
}

type KeywordRequest struct {
	Dimension string `json:"dimension" binding:"required"`
	Label     string `json:"label" binding:"required"`
	Keyword   string `json:"keyword" binding:"required"`
}

type EditKeywordRequest struct {
	Dimension  string `json:"dimension" binding:"required"`
	Label      string `json:"label" binding:"required"`
	OldKeyword string `json:"old_keyword" binding:"required"`
	NewKeyword string `json:"new_keyword" binding:"required"`
}

type LearningSummary struct {
	LearnedKeywords map[Dimension]int `json:"learned_keywords"`
	Blacklisted     int               `json:"blacklisted"`
	Corrections     int               `json:"corrections"`
	Stats           LearningStats     `json:"stats"`
	Contributors    int               `json:"contributors"`
	Version         string            `json:"version"`
	LastUpdated     string            `json:"last_updated"`
	Store           string            `json:"store"`
}

type TaxonomyResponse struct {
	Categories map[string][]string `json:"categories"`
	Efficacy   []string            `json:"efficacy"`
	Types      []string            `json:"types"`
	Durations  []string            `json:"durations"`
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}
