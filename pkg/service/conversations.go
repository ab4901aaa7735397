package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mahaj/chat-backbone/pkg/model"
	"github.com/mahaj/chat-backbone/pkg/store"
)

// CreateConversation creates the conversation with the creator as admin and
// every other listed user as a member.
func (s *Service) CreateConversation(ctx context.Context, creatorID, title string, isGroup bool, participantIDs []string) (*model.Conversation, error) {
	now := s.clock()
	conv := &model.Conversation{
		ID:        s.newID(),
		Title:     title,
		IsGroup:   isGroup,
		CreatorID: &creatorID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	participants := []model.Participant{{
		ConversationID: conv.ID,
		UserID:         creatorID,
		Role:           model.RoleAdmin,
		IsActive:       true,
		JoinedAt:       now,
	}}
	seen := map[string]bool{creatorID: true}
	for _, id := range participantIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		participants = append(participants, model.Participant{
			ConversationID: conv.ID,
			UserID:         id,
			Role:           model.RoleMember,
			IsActive:       true,
			JoinedAt:       now,
		})
	}

	if err := s.stores.Conversations.CreateConversation(ctx, conv, participants); err != nil {
		return nil, err
	}
	return conv, nil
}

// AddParticipants lets the creator grow the membership. Already-present
// users are skipped silently.
func (s *Service) AddParticipants(ctx context.Context, conversationID, byUserID string, userIDs []string) error {
	conv, err := s.stores.Conversations.Conversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.CreatorID == nil || *conv.CreatorID != byUserID {
		return fmt.Errorf("only the creator may add participants: %w", store.ErrForbidden)
	}

	existing, err := s.stores.Participants.ParticipantIDs(ctx, conversationID)
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(existing))
	for _, id := range existing {
		present[id] = true
	}

	now := s.clock()
	var added []model.Participant
	for _, id := range userIDs {
		if present[id] {
			continue
		}
		present[id] = true
		added = append(added, model.Participant{
			ConversationID: conversationID,
			UserID:         id,
			Role:           model.RoleMember,
			IsActive:       true,
			JoinedAt:       now,
		})
	}
	return s.stores.Participants.AddParticipants(ctx, added)
}

// Leave deactivates the membership instead of deleting it, keeping the
// read cursor so history access survives.
func (s *Service) Leave(ctx context.Context, conversationID, userID string) error {
	if _, err := s.stores.Participants.Participant(ctx, conversationID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("not a participant: %w", store.ErrForbidden)
		}
		return err
	}
	return s.stores.Participants.SetParticipantActive(ctx, conversationID, userID, false)
}

// ConversationSummary pairs a conversation with the caller's unread count.
type ConversationSummary struct {
	model.Conversation
	UnreadCount int64 `json:"unread_count"`
}

// Summaries lists the user's active conversations, newest activity first,
// with unread counts. All read cursors are resolved to timestamps in one
// batched lookup before counting, so the cost stays flat in the number of
// conversations.
func (s *Service) Summaries(ctx context.Context, userID string) ([]ConversationSummary, error) {
	convs, err := s.stores.Conversations.ConversationsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	parts, err := s.stores.Participants.ActiveParticipations(ctx, userID)
	if err != nil {
		return nil, err
	}

	cursorByConv := make(map[string]*string, len(parts))
	var cursorIDs []string
	for i := range parts {
		cursorByConv[parts[i].ConversationID] = parts[i].LastSeenMessageID
		if parts[i].LastSeenMessageID != nil {
			cursorIDs = append(cursorIDs, *parts[i].LastSeenMessageID)
		}
	}
	times, err := s.stores.Messages.MessageTimes(ctx, cursorIDs)
	if err != nil {
		return nil, err
	}

	summaries := make([]ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		var after *time.Time
		if cursor, ok := cursorByConv[conv.ID]; ok && cursor != nil {
			if t, ok := times[*cursor]; ok {
				after = &t
			}
		}
		unread, err := s.stores.Messages.UnreadCount(ctx, conv.ID, after)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, ConversationSummary{Conversation: conv, UnreadCount: unread})
	}
	return summaries, nil
}
