package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Chat message roles as stored in the session history.
const (
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is one entry in a session's bounded history.
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatSession is the single conversation a user holds against one report.
// History is the full bounded transcript stored as jsonb; there is at most
// one session per (user, report) pair.
type ChatSession struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_chat_user_report" json:"user_id"`
	User     *User     `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	ReportID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_chat_user_report" json:"report_id"`
	Report   *Report   `gorm:"foreignKey:ReportID;constraint:OnDelete:CASCADE" json:"-"`

	History    datatypes.JSON `gorm:"type:jsonb" json:"history"`
	TurnCount  int            `gorm:"not null;default:0" json:"turn_count"`
	LastTurnAt *time.Time     `json:"last_turn_at,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ChatSession) TableName() string { return "chat_session" }
