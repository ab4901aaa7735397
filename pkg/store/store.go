// Package store is the relational persistence layer. All chat state lives
// in MySQL (SQLite under test); every method is safe for concurrent use.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mahaj/chat-backbone/pkg/model"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// EnsureUser returns the user with the given username, creating it on first
// login. Credential verification is the auth provider's problem.
func (s *Store) EnsureUser(ctx context.Context, id, username string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	user = model.User{ID: id, Username: username, CreatedAt: time.Now().UTC()}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &user, nil
}

func (s *Store) Conversation(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup conversation: %w", err)
	}
	return &conv, nil
}

// CreateConversation inserts the conversation and its initial participants
// in one transaction.
func (s *Store) CreateConversation(ctx context.Context, conv *model.Conversation, participants []model.Participant) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
		if len(participants) == 0 {
			return nil
		}
		if err := tx.Create(&participants).Error; err != nil {
			return fmt.Errorf("create participants: %w", err)
		}
		return nil
	})
}

// ConversationsForUser returns conversations the user actively belongs to,
// newest activity first.
func (s *Store) ConversationsForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	var convs []model.Conversation
	err := s.db.WithContext(ctx).
		Joins("JOIN participants ON participants.conversation_id = conversations.id").
		Where("participants.user_id = ? AND participants.is_active = ?", userID, true).
		Order("conversations.updated_at DESC").
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

func (s *Store) Participant(ctx context.Context, conversationID, userID string) (*model.Participant, error) {
	var p model.Participant
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup participant: %w", err)
	}
	return &p, nil
}

// ParticipantIDs snapshots every member of the conversation, active or not.
// The broadcast path reads this before commit to avoid a post-commit round
// trip; a concurrent membership change may produce a stale delivery.
func (s *Store) ParticipantIDs(ctx context.Context, conversationID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&model.Participant{}).
		Where("conversation_id = ?", conversationID).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list participant ids: %w", err)
	}
	return ids, nil
}

func (s *Store) ActiveParticipations(ctx context.Context, userID string) ([]model.Participant, error) {
	var parts []model.Participant
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Find(&parts).Error
	if err != nil {
		return nil, fmt.Errorf("list participations: %w", err)
	}
	return parts, nil
}

func (s *Store) AddParticipants(ctx context.Context, participants []model.Participant) error {
	if len(participants) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&participants).Error; err != nil {
		return fmt.Errorf("add participants: %w", err)
	}
	return nil
}

// SetLastSeen stores the read cursor verbatim. No monotonic check: last
// write wins, backward moves included. Membership is validated by the
// caller; MySQL reports zero affected rows for a no-op rewrite, so row
// counts cannot double as an existence check here.
func (s *Store) SetLastSeen(ctx context.Context, conversationID, userID, messageID string) error {
	err := s.db.WithContext(ctx).Model(&model.Participant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Update("last_seen_message_id", messageID).Error
	if err != nil {
		return fmt.Errorf("set last seen: %w", err)
	}
	return nil
}

func (s *Store) SetParticipantActive(ctx context.Context, conversationID, userID string, active bool) error {
	err := s.db.WithContext(ctx).Model(&model.Participant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Update("is_active", active).Error
	if err != nil {
		return fmt.Errorf("set participant active: %w", err)
	}
	return nil
}

func (s *Store) Message(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup message: %w", err)
	}
	return &msg, nil
}

// AppendMessage inserts the message and bumps the conversation's updated_at
// to the message timestamp. Both writes commit atomically or not at all.
func (s *Store) AppendMessage(ctx context.Context, msg *model.Message) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		err := tx.Model(&model.Conversation{}).
			Where("id = ?", msg.ConversationID).
			Update("updated_at", msg.CreatedAt).Error
		if err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		return nil
	})
}

// MessagePage returns up to limit non-deleted messages newest first,
// restricted to rows strictly older than before when set.
func (s *Store) MessagePage(ctx context.Context, conversationID string, limit int, before *time.Time) ([]model.Message, error) {
	q := s.db.WithContext(ctx).
		Where("conversation_id = ? AND is_deleted = ?", conversationID, false).
		Order("created_at DESC").
		Limit(limit)
	if before != nil {
		q = q.Where("created_at < ?", *before)
	}
	var msgs []model.Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// SoftDeleteMessage flips is_deleted exactly once. The row stays behind for
// audit; a second delete reports ErrConflict.
func (s *Store) SoftDeleteMessage(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Update("is_deleted", true)
	if res.Error != nil {
		return fmt.Errorf("soft delete message: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&model.Message{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("soft delete message: %w", err)
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

// MessageTimes resolves message ids to their created_at timestamps in one
// IN query, so unread counts for a whole conversation list need a single
// lookup instead of one per cursor.
func (s *Store) MessageTimes(ctx context.Context, ids []string) (map[string]time.Time, error) {
	times := make(map[string]time.Time, len(ids))
	if len(ids) == 0 {
		return times, nil
	}
	var rows []model.Message
	err := s.db.WithContext(ctx).
		Select("id", "created_at").
		Where("id IN ?", ids).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("resolve message times: %w", err)
	}
	for _, row := range rows {
		times[row.ID] = row.CreatedAt
	}
	return times, nil
}

// UnreadCount counts non-deleted messages strictly newer than after. A nil
// cursor means the user has seen nothing: every non-deleted message counts.
func (s *Store) UnreadCount(ctx context.Context, conversationID string, after *time.Time) (int64, error) {
	q := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("conversation_id = ? AND is_deleted = ?", conversationID, false)
	if after != nil {
		q = q.Where("created_at > ?", *after)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}
