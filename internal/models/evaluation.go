package models

import (
	"time"

	"gorm.io/datatypes"
)

// Evaluation is one arbiter decision. Rows are never updated.
type Evaluation struct {
	ID              uint           `gorm:"primaryKey;autoIncrement"`
	ConsortiumID    string         `gorm:"size:64;not null;index:idx_evaluations_consortium"`
	RequestID       *string        `gorm:"size:64"`
	IterationID     int            `gorm:"not null;default:0"`
	Timestamp       time.Time      `gorm:"not null;index:idx_evaluations_timestamp"`
	PromptText      string         `gorm:"type:text"`
	ArbiterModel    string         `gorm:"size:128;not null"`
	EvaluatedModels datatypes.JSON `gorm:"not null"` // JSON array of model ids
	Decision        datatypes.JSON `gorm:"not null"` // JSON-encoded evaluation.Decision
	Confidence      float64        `gorm:"index:idx_evaluations_confidence"`
	RefinementAreas datatypes.JSON // JSON array of strings
	ChosenModel     string         `gorm:"size:128"`
	TokenUsage      datatypes.JSON `gorm:"not null"` // JSON object model -> tokens
	TotalTokens     int
	DurationMs      int64
	Error           *string        `gorm:"type:text"`
}

// ModelPerformance is the latest stored outcome for one model in one
// iteration of one run. It is overwritten, never appended.
type ModelPerformance struct {
	Model        string    `gorm:"primaryKey;size:128;autoIncrement:false;index:idx_model_performance_model"`
	ConsortiumID string    `gorm:"primaryKey;size:64;autoIncrement:false"`
	IterationID  int       `gorm:"primaryKey;autoIncrement:false"`
	Confidence   float64
	TokenUsage   int
	DurationMs   int64
	Timestamp    time.Time `gorm:"index:idx_model_performance_timestamp"`
	ChosenCount  int       `gorm:"not null;default:0"`
}

// TableName keeps the singular table name used by the query layer.
func (ModelPerformance) TableName() string { return "model_performance" }
