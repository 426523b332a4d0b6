package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	hashiru "github.com/kunpai/AcadHASHIRU"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "test.db"))
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInitIdempotent(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "init.db"))
	defer s.Close()
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if err := s.Init(ctx); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}

func TestAppendAndGetMessages(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := hashiru.NowUnix()
	sess := Session{ID: hashiru.NewID(), Title: "test", CreatedAt: now, UpdatedAt: now}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	first := []hashiru.Message{
		hashiru.UserMessage("Hello"),
		hashiru.AssistantMessage("Hi!"),
	}
	if err := s.AppendMessages(ctx, sess.ID, first); err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}
	// Second batch continues the sequence.
	if err := s.AppendMessages(ctx, sess.ID, []hashiru.Message{hashiru.UserMessage("Bye")}); err != nil {
		t.Fatalf("AppendMessages second batch: %v", err)
	}

	got, err := s.GetMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	if got[0].Content != "Hello" || got[1].Content != "Hi!" || got[2].Content != "Bye" {
		t.Errorf("messages not in append order: %+v", got)
	}
	if got[0].Role != hashiru.RoleUser || got[1].Role != hashiru.RoleAssistant {
		t.Errorf("roles not preserved: %s, %s", got[0].Role, got[1].Role)
	}
}

func TestMessagesRoundTripStructure(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := hashiru.NowUnix()
	sess := Session{ID: hashiru.NewID(), CreatedAt: now, UpdatedAt: now}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	call := hashiru.FunctionCall{ID: "c1", Name: "GetBudget", Args: json.RawMessage(`{}`)}
	callMsg, err := hashiru.FunctionCallMessage(hashiru.ModelContent{
		Role:  hashiru.ContentRoleModel,
		Parts: []hashiru.Part{hashiru.CallPart(call)},
	})
	if err != nil {
		t.Fatalf("FunctionCallMessage: %v", err)
	}
	toolMsg, err := hashiru.ToolMessage([]hashiru.FunctionResponse{
		{Name: "GetBudget", Response: hashiru.SuccessResult("ok", nil)},
	})
	if err != nil {
		t.Fatalf("ToolMessage: %v", err)
	}
	msgs := []hashiru.Message{
		hashiru.UserMessage("budget?"),
		callMsg,
		toolMsg,
		hashiru.ThinkingMessage("Invoking `GetBudget`", "{}", hashiru.NewID(), hashiru.StatusDone),
	}
	if err := s.AppendMessages(ctx, sess.ID, msgs); err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}

	got, err := s.GetMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(got))
	}
	decoded, err := hashiru.DecodeContent(got[1].Content)
	if err != nil {
		t.Fatalf("DecodeContent after round trip: %v", err)
	}
	if len(decoded.Parts) != 1 || decoded.Parts[0].FunctionCall == nil {
		t.Fatalf("function call lost in round trip: %+v", decoded)
	}
	if decoded.Parts[0].FunctionCall.Name != "GetBudget" {
		t.Errorf("expected GetBudget, got %s", decoded.Parts[0].FunctionCall.Name)
	}
	if got[3].Metadata == nil || got[3].Metadata.Status != hashiru.StatusDone {
		t.Errorf("metadata lost in round trip: %+v", got[3].Metadata)
	}
}

func TestReplaceMessages(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := hashiru.NowUnix()
	sess := Session{ID: hashiru.NewID(), CreatedAt: now, UpdatedAt: now}
	s.CreateSession(ctx, sess)

	s.AppendMessages(ctx, sess.ID, []hashiru.Message{
		hashiru.UserMessage("old one"),
		hashiru.AssistantMessage("old two"),
	})

	replacement := []hashiru.Message{
		hashiru.UserMessage("new one"),
		hashiru.AssistantMessage("new two"),
		hashiru.UserMessage("new three"),
	}
	if err := s.ReplaceMessages(ctx, sess.ID, replacement); err != nil {
		t.Fatalf("ReplaceMessages: %v", err)
	}

	got, err := s.GetMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages after replace, got %d", len(got))
	}
	if got[0].Content != "new one" || got[2].Content != "new three" {
		t.Errorf("replace did not rewrite transcript: %+v", got)
	}
}

func TestSessionCRUD(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := hashiru.NowUnix()
	sess := Session{ID: hashiru.NewID(), Title: "First chat", CreatedAt: now, UpdatedAt: now}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Title != "First chat" {
		t.Errorf("unexpected session: %+v", got)
	}

	sessions, err := s.ListSessions(ctx, 10)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}

	if err := s.RenameSession(ctx, sess.ID, "Renamed"); err != nil {
		t.Fatalf("RenameSession: %v", err)
	}
	got, _ = s.GetSession(ctx, sess.ID)
	if got.Title != "Renamed" {
		t.Errorf("expected title 'Renamed', got %q", got.Title)
	}

	if err := s.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	sessions, _ = s.ListSessions(ctx, 10)
	if len(sessions) != 0 {
		t.Fatalf("expected 0 sessions after delete, got %d", len(sessions))
	}
}

func TestDeleteSessionRemovesMessages(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := hashiru.NowUnix()
	sess := Session{ID: hashiru.NewID(), CreatedAt: now, UpdatedAt: now}
	s.CreateSession(ctx, sess)
	s.AppendMessages(ctx, sess.ID, []hashiru.Message{hashiru.UserMessage("hi")})

	if err := s.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	got, err := s.GetMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected 0 messages after session delete, got %d", len(got))
	}
}

func TestConfig(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// Missing key returns empty string, no error.
	v, err := s.GetConfig(ctx, "missing")
	if err != nil {
		t.Fatalf("GetConfig missing: %v", err)
	}
	if v != "" {
		t.Errorf("expected empty, got %q", v)
	}

	if err := s.SetConfig(ctx, "manager_model", "gemini-2.0-flash"); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	if err := s.SetConfig(ctx, "manager_model", "gemini-1.5-flash"); err != nil {
		t.Fatalf("SetConfig overwrite: %v", err)
	}
	v, _ = s.GetConfig(ctx, "manager_model")
	if v != "gemini-1.5-flash" {
		t.Errorf("expected overwritten value, got %q", v)
	}
}

func TestConcurrentAppends(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := hashiru.NowUnix()
	sess := Session{ID: hashiru.NewID(), CreatedAt: now, UpdatedAt: now}
	s.CreateSession(ctx, sess)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			msg := hashiru.UserMessage(fmt.Sprintf("message %d", n))
			if err := s.AppendMessages(ctx, sess.ID, []hashiru.Message{msg}); err != nil {
				t.Errorf("concurrent append %d: %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	got, err := s.GetMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("expected 10 messages, got %d", len(got))
	}
}
