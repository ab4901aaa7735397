package model

import (
	"time"

	"gorm.io/gorm"
)

// Roles a participant can hold inside a conversation.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// User exists so messages and participants have something to reference.
// Credential handling lives behind the auth provider, not here.
type User struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Username  string    `gorm:"uniqueIndex;type:varchar(64);not null" json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversation is the aggregate root for participants and messages.
// UpdatedAt is bumped in the same transaction as every message append so
// conversation lists sort by recency without an extra query.
type Conversation struct {
	ID         string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Title      string    `gorm:"type:varchar(255)" json:"title,omitempty"`
	IsGroup    bool      `gorm:"default:false" json:"is_group"`
	CreatorID  *string   `gorm:"type:varchar(36)" json:"creator_id,omitempty"`
	IsArchived bool      `gorm:"default:false" json:"is_archived"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Participant links a user to a conversation. Leaving flips IsActive
// instead of deleting the row so the read cursor survives.
type Participant struct {
	ConversationID    string    `gorm:"primaryKey;type:varchar(36)" json:"conversation_id"`
	UserID            string    `gorm:"primaryKey;type:varchar(36)" json:"user_id"`
	Role              string    `gorm:"type:varchar(16);default:'member'" json:"role"`
	IsActive          bool      `gorm:"default:true" json:"is_active"`
	LastSeenMessageID *string   `gorm:"type:varchar(36)" json:"last_seen_message_id,omitempty"`
	JoinedAt          time.Time `gorm:"autoCreateTime" json:"joined_at"`
}

// Message is append-only. CreatedAt is the sole ordering key; deletes are
// soft so the row stays around for audit.
type Message struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ConversationID string    `gorm:"type:varchar(36);index:idx_messages_conv_created,priority:1;not null" json:"conversation_id"`
	SenderID       string    `gorm:"type:varchar(36);not null" json:"sender_id"`
	Content        string    `gorm:"type:text" json:"content"`
	MessageType    string    `gorm:"type:varchar(16);default:'text'" json:"message_type"`
	MediaURL       *string   `gorm:"type:varchar(512)" json:"media_url,omitempty"`
	IsDeleted      bool      `gorm:"default:false" json:"is_deleted"`
	CreatedAt      time.Time `gorm:"index:idx_messages_conv_created,priority:2" json:"created_at"`
}

// Migrate creates or updates the schema for all chat tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&User{}, &Conversation{}, &Participant{}, &Message{})
}
