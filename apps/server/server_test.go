package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mahaj/chat-backbone/pkg/auth"
	"github.com/mahaj/chat-backbone/pkg/bus"
	"github.com/mahaj/chat-backbone/pkg/model"
	"github.com/mahaj/chat-backbone/pkg/registry"
	"github.com/mahaj/chat-backbone/pkg/service"
	"github.com/mahaj/chat-backbone/pkg/store"
)

type testServer struct {
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

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
	svc := service.New(service.Stores{Conversations: st, Participants: st, Messages: st}, bus.NewMemoryBus())
	h := &handlers{
		svc:      svc,
		store:    st,
		provider: auth.NewJWTProvider("test-secret", time.Hour),
		registry: registry.New(),
	}
	return &testServer{router: h.router()}
}

// do runs one request and decodes the JSON response into out when non-nil.
func (s *testServer) do(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if out != nil {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s %s response (%d): %v: %s", method, path, w.Code, err, w.Body.String())
		}
	}
	return w.Code
}

func (s *testServer) login(t *testing.T, username string) (token, userID string) {
	t.Helper()
	var resp struct {
		Token  string `json:"token"`
		UserID string `json:"user_id"`
	}
	if code := s.do(t, http.MethodPost, "/login", "", map[string]string{"username": username}, &resp); code != http.StatusOK {
		t.Fatalf("login %s: status %d", username, code)
	}
	return resp.Token, resp.UserID
}

type messagePage struct {
	Items      []model.Message `json:"items"`
	NextCursor *string         `json:"next_cursor"`
}

// Full lifecycle of one message between two users: post, read, mark read,
// a delete attempt by the wrong user, the sender's delete, and the empty
// listing that follows.
func TestMessageLifecycle(t *testing.T) {
	s := newTestServer(t)

	aliceToken, aliceID := s.login(t, "alice")
	bobToken, bobID := s.login(t, "bob")

	var conv model.Conversation
	code := s.do(t, http.MethodPost, "/conversations", aliceToken,
		map[string]any{"title": "pair", "participant_ids": []string{bobID}}, &conv)
	if code != http.StatusCreated {
		t.Fatalf("create conversation: status %d", code)
	}

	var msg model.Message
	code = s.do(t, http.MethodPost, "/conversations/"+conv.ID+"/messages", aliceToken,
		map[string]string{"content": "hi"}, &msg)
	if code != http.StatusCreated {
		t.Fatalf("send: status %d", code)
	}
	if msg.SenderID != aliceID || msg.Content != "hi" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	var page messagePage
	code = s.do(t, http.MethodGet, "/conversations/"+conv.ID+"/messages", bobToken, nil, &page)
	if code != http.StatusOK {
		t.Fatalf("list: status %d", code)
	}
	if len(page.Items) != 1 || page.Items[0].ID != msg.ID {
		t.Fatalf("expected the single message, got %d items", len(page.Items))
	}
	if page.NextCursor != nil {
		t.Fatal("short page must not carry a cursor")
	}

	code = s.do(t, http.MethodPut, "/conversations/"+conv.ID+"/messages/read", bobToken,
		map[string]string{"last_seen_message_id": msg.ID}, nil)
	if code != http.StatusOK {
		t.Fatalf("mark read: status %d", code)
	}

	// Only the sender may delete.
	code = s.do(t, http.MethodDelete, "/conversations/"+conv.ID+"/messages/"+msg.ID, bobToken, nil, nil)
	if code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-sender delete, got %d", code)
	}
	code = s.do(t, http.MethodDelete, "/conversations/"+conv.ID+"/messages/"+msg.ID, aliceToken, nil, nil)
	if code != http.StatusOK {
		t.Fatalf("delete: status %d", code)
	}

	// A second delete is a conflict, surfaced as 400.
	code = s.do(t, http.MethodDelete, "/conversations/"+conv.ID+"/messages/"+msg.ID, aliceToken, nil, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for repeat delete, got %d", code)
	}

	code = s.do(t, http.MethodGet, "/conversations/"+conv.ID+"/messages", bobToken, nil, &page)
	if code != http.StatusOK {
		t.Fatalf("list after delete: status %d", code)
	}
	if len(page.Items) != 0 {
		t.Fatalf("expected empty history after delete, got %d items", len(page.Items))
	}
}

func TestConversationListingWithUnread(t *testing.T) {
	s := newTestServer(t)

	aliceToken, _ := s.login(t, "alice")
	bobToken, bobID := s.login(t, "bob")

	var conv model.Conversation
	if code := s.do(t, http.MethodPost, "/conversations", aliceToken,
		map[string]any{"title": "pair", "participant_ids": []string{bobID}}, &conv); code != http.StatusCreated {
		t.Fatalf("create conversation: status %d", code)
	}
	for _, content := range []string{"one", "two"} {
		if code := s.do(t, http.MethodPost, "/conversations/"+conv.ID+"/messages", aliceToken,
			map[string]string{"content": content}, nil); code != http.StatusCreated {
			t.Fatalf("send %s: status %d", content, code)
		}
	}

	var summaries []struct {
		ID          string `json:"id"`
		UnreadCount int64  `json:"unread_count"`
	}
	if code := s.do(t, http.MethodGet, "/conversations", bobToken, nil, &summaries); code != http.StatusOK {
		t.Fatalf("list conversations: status %d", code)
	}
	if len(summaries) != 1 || summaries[0].ID != conv.ID {
		t.Fatalf("expected one summary for the conversation, got %+v", summaries)
	}
	if summaries[0].UnreadCount != 2 {
		t.Fatalf("expected 2 unread, got %d", summaries[0].UnreadCount)
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	if code := s.do(t, http.MethodGet, "/conversations", "", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
	if code := s.do(t, http.MethodGet, "/conversations", "bogus-token", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", code)
	}
}

func TestOutsiderCannotReadOrPost(t *testing.T) {
	s := newTestServer(t)

	aliceToken, _ := s.login(t, "alice")
	_, bobID := s.login(t, "bob")
	eveToken, _ := s.login(t, "eve")

	var conv model.Conversation
	if code := s.do(t, http.MethodPost, "/conversations", aliceToken,
		map[string]any{"title": "pair", "participant_ids": []string{bobID}}, &conv); code != http.StatusCreated {
		t.Fatalf("create conversation: status %d", code)
	}

	if code := s.do(t, http.MethodPost, "/conversations/"+conv.ID+"/messages", eveToken,
		map[string]string{"content": "hi"}, nil); code != http.StatusForbidden {
		t.Fatalf("expected 403 for outsider post, got %d", code)
	}
	if code := s.do(t, http.MethodGet, "/conversations/"+conv.ID+"/messages", eveToken, nil, nil); code != http.StatusForbidden {
		t.Fatalf("expected 403 for outsider read, got %d", code)
	}
}

func TestUnknownConversationIs404(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.login(t, "alice")

	if code := s.do(t, http.MethodPost, "/conversations/no-such-id/messages", token,
		map[string]string{"content": "hi"}, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}
