package models

import (
	"time"

	"gorm.io/datatypes"
)

// ConsortiumSession is one consortium run as seen by the session store.
// CompletedAt and FinalResult stay nil until the run completes.
type ConsortiumSession struct {
	ID          uint           `gorm:"primaryKey;autoIncrement"`
	SessionID   string         `gorm:"size:64;uniqueIndex;not null"`
	Prompt      string         `gorm:"type:text;not null"`
	Strategy    string         `gorm:"size:64;not null"`
	Models      datatypes.JSON `gorm:"not null"` // JSON array of model ids
	CreatedAt   time.Time      `gorm:"not null"`
	CompletedAt *time.Time
	FinalResult *string        `gorm:"type:text"`
	Metadata    datatypes.JSON `gorm:"column:metadata_json"` // JSON object

	Responses []ModelResponse `gorm:"foreignKey:SessionID;references:SessionID"`
}

// ModelResponse is one model's textual response within a session.
type ModelResponse struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	SessionID       string    `gorm:"size:64;not null;index:idx_session_id"`
	ModelID         string    `gorm:"size:128;not null"`
	ConversationID  string    `gorm:"size:64;not null;index:idx_conversation_id"`
	ResponseContent string    `gorm:"type:text;not null"`
	Confidence      *float64
	Reasoning       *string   `gorm:"type:text"`
	Iteration       int       `gorm:"not null;default:0"`
	Timestamp       time.Time `gorm:"not null;index:idx_timestamp"`
}
