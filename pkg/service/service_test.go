package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mahaj/chat-backbone/pkg/bus"
	"github.com/mahaj/chat-backbone/pkg/model"
	"github.com/mahaj/chat-backbone/pkg/store"
)

// recordingBus captures published envelopes; fail simulates a broker loss.
type recordingBus struct {
	mu        sync.Mutex
	envelopes []bus.Envelope
	fail      bool
}

func (b *recordingBus) Publish(_ context.Context, env bus.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errors.New("broker unavailable")
	}
	b.envelopes = append(b.envelopes, env)
	return nil
}

func (b *recordingBus) Subscribe(ctx context.Context, _ func(bus.Envelope)) error {
	<-ctx.Done()
	return ctx.Err()
}

func (b *recordingBus) Close() error { return nil }

func (b *recordingBus) published() []bus.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]bus.Envelope, len(b.envelopes))
	copy(out, b.envelopes)
	return out
}

type fixture struct {
	svc   *Service
	store *store.Store
	bus   *recordingBus
	db    *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := model.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	st := store.New(db)
	b := &recordingBus{}
	svc := New(Stores{Conversations: st, Participants: st, Messages: st}, b)

	// Deterministic clock: every call advances one second so created_at
	// strictly orders messages.
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	var ticks int
	svc.clock = func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks) * time.Second)
	}

	return &fixture{svc: svc, store: st, bus: b, db: db}
}

func (f *fixture) conversation(t *testing.T, creator string, members ...string) *model.Conversation {
	t.Helper()
	ctx := context.Background()
	for _, id := range append([]string{creator}, members...) {
		if _, err := f.store.EnsureUser(ctx, id, "user-"+id); err != nil {
			t.Fatalf("ensure user: %v", err)
		}
	}
	conv, err := f.svc.CreateConversation(ctx, creator, "test", len(members) > 1, members)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return conv
}

func TestSendPersistsAndPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, "u1", "u2")

	msg, err := f.svc.Send(ctx, conv.ID, "u1", SendInput{Content: "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ID == "" || msg.MessageType != "text" || msg.IsDeleted {
		t.Fatalf("unexpected message: %+v", msg)
	}

	// The conversation's updated_at advances to the message timestamp.
	got, err := f.store.Conversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if !got.UpdatedAt.Equal(msg.CreatedAt) {
		t.Fatalf("expected updated_at %v, got %v", msg.CreatedAt, got.UpdatedAt)
	}

	// The message is the newest row in the listing.
	page, err := f.svc.List(ctx, conv.ID, "u2", 20, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != msg.ID {
		t.Fatalf("expected the sent message on top, got %d items", len(page.Items))
	}

	// One envelope, after commit, addressed to every participant.
	envs := f.bus.published()
	if len(envs) != 1 {
		t.Fatalf("expected 1 envelope, got %d", len(envs))
	}
	env := envs[0]
	if env.Type != bus.EventNewMessage || env.ConversationID != conv.ID {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if len(env.ParticipantIDs) != 2 {
		t.Fatalf("expected 2 participant ids, got %v", env.ParticipantIDs)
	}
	var frame struct {
		Type    string         `json:"type"`
		Message *model.Message `json:"message"`
	}
	if err := json.Unmarshal(env.Data, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if frame.Type != bus.EventNewMessage || frame.Message == nil || frame.Message.ID != msg.ID {
		t.Fatalf("unexpected frame: %s", env.Data)
	}
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, "u1", "u2")

	if _, err := f.svc.Send(ctx, "missing", "u1", SendInput{Content: "x"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing conversation, got %v", err)
	}
	if _, err := f.svc.Send(ctx, conv.ID, "stranger", SendInput{Content: "x"}); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-member, got %v", err)
	}

	// A member who left may read but not post.
	if err := f.svc.Leave(ctx, conv.ID, "u2"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if _, err := f.svc.Send(ctx, conv.ID, "u2", SendInput{Content: "x"}); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for departed member, got %v", err)
	}
	if _, err := f.svc.List(ctx, conv.ID, "u2", 20, ""); err != nil {
		t.Fatalf("departed member should still read history: %v", err)
	}

	// No envelope escaped any of the failed sends.
	if got := len(f.bus.published()); got != 0 {
		t.Fatalf("expected no envelopes, got %d", got)
	}
}

func TestSendToArchivedConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, "u1", "u2")

	// Archive directly; no service operation flips this flag.
	if err := f.db.Model(&model.Conversation{}).Where("id = ?", conv.ID).Update("is_archived", true).Error; err != nil {
		t.Fatalf("archive: %v", err)
	}

	if _, err := f.svc.Send(ctx, conv.ID, "u1", SendInput{Content: "x"}); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for archived conversation, got %v", err)
	}
}

func TestSendSurvivesPublishFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, "u1", "u2")

	f.bus.fail = true
	msg, err := f.svc.Send(ctx, conv.ID, "u1", SendInput{Content: "hi"})
	if err != nil {
		t.Fatalf("send must not fail on publish error: %v", err)
	}

	// The message committed regardless.
	if _, err := f.store.Message(ctx, msg.ID); err != nil {
		t.Fatalf("message not persisted: %v", err)
	}
}

func TestListPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, "u1", "u2")

	var sent []string
	for i := 0; i < 5; i++ {
		msg, err := f.svc.Send(ctx, conv.ID, "u1", SendInput{Content: fmt.Sprintf("m%d", i)})
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		sent = append(sent, msg.ID)
	}

	seen := map[string]bool{}
	cursor := ""
	total := 0
	for {
		page, err := f.svc.List(ctx, conv.ID, "u2", 2, cursor)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		for _, m := range page.Items {
			if seen[m.ID] {
				t.Fatalf("message %s repeated across pages", m.ID)
			}
			seen[m.ID] = true
		}
		total += len(page.Items)
		if page.NextCursor == nil {
			break
		}
		cursor = *page.NextCursor
	}
	if total != len(sent) {
		t.Fatalf("expected %d messages across pages, got %d", len(sent), total)
	}
}

func TestListIgnoresBadCursor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, "u1", "u2")

	if _, err := f.svc.Send(ctx, conv.ID, "u1", SendInput{Content: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	page, err := f.svc.List(ctx, conv.ID, "u1", 20, "not-a-timestamp")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("bad cursor must read as absent, got %d items", len(page.Items))
	}
}

func TestMarkReadIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, "u1", "u2")

	m1, err := f.svc.Send(ctx, conv.ID, "u1", SendInput{Content: "one"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := f.svc.Send(ctx, conv.ID, "u1", SendInput{Content: "two"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	unreadFor := func() int64 {
		t.Helper()
		summaries, err := f.svc.Summaries(ctx, "u2")
		if err != nil {
			t.Fatalf("summaries: %v", err)
		}
		if len(summaries) != 1 {
			t.Fatalf("expected 1 summary, got %d", len(summaries))
		}
		return summaries[0].UnreadCount
	}

	if got := unreadFor(); got != 2 {
		t.Fatalf("expected 2 unread before reading, got %d", got)
	}

	if err := f.svc.MarkRead(ctx, conv.ID, "u2", m1.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	first := unreadFor()
	if first != 1 {
		t.Fatalf("expected 1 unread after reading m1, got %d", first)
	}

	// Repeating with the same id changes nothing.
	if err := f.svc.MarkRead(ctx, conv.ID, "u2", m1.ID); err != nil {
		t.Fatalf("repeat mark read: %v", err)
	}
	if got := unreadFor(); got != first {
		t.Fatalf("mark read is not idempotent: %d then %d", first, got)
	}

	if err := f.svc.MarkRead(ctx, conv.ID, "stranger", m1.ID); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-member, got %v", err)
	}
}

func TestDeleteRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, "u1", "u2")
	other := f.conversation(t, "u1", "u3")

	msg, err := f.svc.Send(ctx, conv.ID, "u1", SendInput{Content: "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := f.svc.Delete(ctx, conv.ID, "u2", msg.ID); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-sender, got %v", err)
	}
	if err := f.svc.Delete(ctx, other.ID, "u1", msg.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for cross-conversation delete, got %v", err)
	}

	if err := f.svc.Delete(ctx, conv.ID, "u1", msg.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := f.svc.Delete(ctx, conv.ID, "u1", msg.ID); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict for second delete, got %v", err)
	}

	// The delete produced its own broadcast.
	envs := f.bus.published()
	last := envs[len(envs)-1]
	if last.Type != bus.EventMessageDeleted {
		t.Fatalf("expected message_deleted envelope, got %s", last.Type)
	}

	page, err := f.svc.List(ctx, conv.ID, "u2", 20, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 0 {
		t.Fatalf("deleted message still listed")
	}
}

func TestAddParticipantsCreatorOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, "u1", "u2")

	if err := f.svc.AddParticipants(ctx, conv.ID, "u2", []string{"u3"}); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-creator, got %v", err)
	}

	if _, err := f.store.EnsureUser(ctx, "u3", "user-u3"); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if err := f.svc.AddParticipants(ctx, conv.ID, "u1", []string{"u3", "u2"}); err != nil {
		t.Fatalf("add participants: %v", err)
	}

	ids, err := f.store.ParticipantIDs(ctx, conv.ID)
	if err != nil {
		t.Fatalf("participant ids: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 participants, got %v", ids)
	}
}
