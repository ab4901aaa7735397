// Package service orchestrates message delivery: validation, persistence,
// read cursors, and the best-effort publish that follows every commit.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/mahaj/chat-backbone/pkg/bus"
	"github.com/mahaj/chat-backbone/pkg/model"
	"github.com/mahaj/chat-backbone/pkg/store"
)

// ConversationStore, ParticipantStore and MessageStore are the persistence
// collaborators. *store.Store satisfies all three; tests substitute fakes
// without touching the service.
type ConversationStore interface {
	Conversation(ctx context.Context, id string) (*model.Conversation, error)
	CreateConversation(ctx context.Context, conv *model.Conversation, participants []model.Participant) error
	ConversationsForUser(ctx context.Context, userID string) ([]model.Conversation, error)
}

type ParticipantStore interface {
	Participant(ctx context.Context, conversationID, userID string) (*model.Participant, error)
	ParticipantIDs(ctx context.Context, conversationID string) ([]string, error)
	ActiveParticipations(ctx context.Context, userID string) ([]model.Participant, error)
	AddParticipants(ctx context.Context, participants []model.Participant) error
	SetLastSeen(ctx context.Context, conversationID, userID, messageID string) error
	SetParticipantActive(ctx context.Context, conversationID, userID string, active bool) error
}

type MessageStore interface {
	Message(ctx context.Context, id string) (*model.Message, error)
	AppendMessage(ctx context.Context, msg *model.Message) error
	MessagePage(ctx context.Context, conversationID string, limit int, before *time.Time) ([]model.Message, error)
	SoftDeleteMessage(ctx context.Context, id string) error
	MessageTimes(ctx context.Context, ids []string) (map[string]time.Time, error)
	UnreadCount(ctx context.Context, conversationID string, after *time.Time) (int64, error)
}

type Stores struct {
	Conversations ConversationStore
	Participants  ParticipantStore
	Messages      MessageStore
}

type Service struct {
	stores Stores
	bus    bus.Bus

	clock func() time.Time
	newID func() string
}

func New(stores Stores, b bus.Bus) *Service {
	return &Service{
		stores: stores,
		bus:    b,
		clock:  func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// SendInput is the client-supplied part of a message.
type SendInput struct {
	Content     string  `json:"content"`
	MessageType string  `json:"message_type"`
	MediaURL    *string `json:"media_url,omitempty"`
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Send runs the full pipeline for one message: validate the conversation,
// validate the sender's membership, snapshot the recipient set, persist
// atomically, then publish. The publish never fails the request; by the
// time it runs the message is durable.
func (s *Service) Send(ctx context.Context, conversationID, senderID string, in SendInput) (*model.Message, error) {
	conv, err := s.stores.Conversations.Conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.IsArchived {
		return nil, fmt.Errorf("conversation is archived: %w", store.ErrForbidden)
	}

	p, err := s.stores.Participants.Participant(ctx, conversationID, senderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("not a participant: %w", store.ErrForbidden)
		}
		return nil, err
	}
	if !p.IsActive {
		return nil, fmt.Errorf("participant has left: %w", store.ErrForbidden)
	}

	// Snapshot recipients before commit. A membership change racing the
	// insert can yield one stale delivery; accepted trade-off for skipping
	// a post-commit read.
	recipientIDs, err := s.stores.Participants.ParticipantIDs(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	msgType := in.MessageType
	if msgType == "" {
		msgType = "text"
	}
	msg := &model.Message{
		ID:             s.newID(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        in.Content,
		MessageType:    msgType,
		MediaURL:       in.MediaURL,
		CreatedAt:      s.clock(),
	}
	if err := s.stores.Messages.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}

	s.publish(ctx, bus.EventNewMessage, conversationID, recipientIDs, newMessageFrame(msg))
	return msg, nil
}

// Page is one reverse-chronological slice of history.
type Page struct {
	Items      []model.Message `json:"items"`
	NextCursor *string         `json:"next_cursor,omitempty"`
}

// List returns messages newest first. Membership is required but an
// inactive participant may still read: leaving forfeits posting, not
// history. The cursor is the created_at of the oldest row of the previous
// page; anything unparsable is treated as absent.
func (s *Service) List(ctx context.Context, conversationID, userID string, limit int, cursor string) (*Page, error) {
	if _, err := s.stores.Participants.Participant(ctx, conversationID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("not a participant: %w", store.ErrForbidden)
		}
		return nil, err
	}

	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	var before *time.Time
	if cursor != "" {
		if t, err := time.Parse(time.RFC3339Nano, cursor); err == nil {
			before = &t
		}
	}

	items, err := s.stores.Messages.MessagePage(ctx, conversationID, limit, before)
	if err != nil {
		return nil, err
	}

	page := &Page{Items: items}
	// A full page signals more history may exist. An exact-length final
	// page costs one extra empty fetch; known trade-off.
	if len(items) == limit && limit > 0 {
		c := items[len(items)-1].CreatedAt.Format(time.RFC3339Nano)
		page.NextCursor = &c
	}
	return page, nil
}

// MarkRead stores the read cursor verbatim. The participant row must exist
// but may be inactive: reading history after leaving is allowed. Last write
// wins, backward moves included.
func (s *Service) MarkRead(ctx context.Context, conversationID, userID, lastSeenMessageID string) error {
	if _, err := s.stores.Participants.Participant(ctx, conversationID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("not a participant: %w", store.ErrForbidden)
		}
		return err
	}
	return s.stores.Participants.SetLastSeen(ctx, conversationID, userID, lastSeenMessageID)
}

// Delete soft-deletes a message. Sender-only, one-way. A message id that
// resolves into a different conversation reads as not found rather than
// leaking its existence.
func (s *Service) Delete(ctx context.Context, conversationID, userID, messageID string) error {
	msg, err := s.stores.Messages.Message(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.ConversationID != conversationID {
		return fmt.Errorf("message not in conversation: %w", store.ErrNotFound)
	}
	if msg.SenderID != userID {
		return fmt.Errorf("only the sender may delete: %w", store.ErrForbidden)
	}
	if msg.IsDeleted {
		return fmt.Errorf("message already deleted: %w", store.ErrConflict)
	}

	recipientIDs, err := s.stores.Participants.ParticipantIDs(ctx, conversationID)
	if err != nil {
		return err
	}
	if err := s.stores.Messages.SoftDeleteMessage(ctx, messageID); err != nil {
		return err
	}

	s.publish(ctx, bus.EventMessageDeleted, conversationID, recipientIDs, deletedFrame(conversationID, messageID))
	return nil
}

// publish is strictly best-effort. The commit already happened; a bus
// failure is logged and suppressed so it can never unwind the write.
func (s *Service) publish(ctx context.Context, event, conversationID string, participantIDs []string, frame []byte) {
	env := bus.Envelope{
		Type:           event,
		ConversationID: conversationID,
		ParticipantIDs: participantIDs,
		Data:           frame,
	}
	if err := s.bus.Publish(ctx, env); err != nil {
		log.Printf("service: publish %s failed: %v", event, err)
	}
}

func newMessageFrame(msg *model.Message) []byte {
	frame, _ := json.Marshal(map[string]any{
		"type":    bus.EventNewMessage,
		"message": msg,
	})
	return frame
}

func deletedFrame(conversationID, messageID string) []byte {
	frame, _ := json.Marshal(map[string]any{
		"type":            bus.EventMessageDeleted,
		"conversation_id": conversationID,
		"message_id":      messageID,
	})
	return frame
}
