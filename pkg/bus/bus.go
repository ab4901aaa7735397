// Package bus carries delivery envelopes between API processes. Every
// process publishes to one shared topic and runs one subscriber loop that
// hands envelopes to its local connection registry. Delivery is at-most-once
// per live connection; durability lives in the store, never here.
package bus

import (
	"context"
	"encoding/json"
)

const (
	EventNewMessage     = "new_message"
	EventMessageDeleted = "message_deleted"
)

// Envelope is the ephemeral event routed from a publish to live
// connections. It is built after commit, consumed, and discarded.
type Envelope struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id"`
	ParticipantIDs []string        `json:"participant_ids"`
	Data           json.RawMessage `json:"data"`
}

// Bus is the cross-process broadcast channel.
//
// Subscribe blocks until ctx is cancelled, invoking fn for every envelope
// received. A transient broker loss resumes listening after backoff; any
// envelopes published during the gap are lost by design.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context, fn func(Envelope)) error
	Close() error
}
