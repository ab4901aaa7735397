package realtime

import (
	"context"

	"github.com/mahaj/chat-backbone/pkg/bus"
	"github.com/mahaj/chat-backbone/pkg/registry"
)

// Dispatch runs this process's single subscriber loop: every envelope from
// the bus is fanned out to whichever of its participants hold a local
// connection. Users connected elsewhere are handled by their own process,
// which received the same envelope. Blocks until ctx is cancelled.
func Dispatch(ctx context.Context, b bus.Bus, reg *registry.Registry) error {
	return b.Subscribe(ctx, func(env bus.Envelope) {
		for _, userID := range env.ParticipantIDs {
			reg.Deliver(userID, env.Data)
		}
	})
}
