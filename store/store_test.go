package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"govchat/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError + 1,
	}))
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, testLogger()), mock
}

func encodeMessages(t *testing.T, messages []model.Message) []byte {
	t.Helper()
	data, err := json.Marshal(messages)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestInitCreatesTable(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS chats").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestListConversations(t *testing.T) {
	s, mock := newMockStore(t)

	messages := []model.Message{
		{Role: model.RoleUser, Content: "What is the weather?"},
		{Role: model.RoleAssistant, Content: "Sunny."},
	}
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "userEmail", "title", "scope", "messages", "created", "updated"}).
		AddRow(int64(7), "user@example.gov.uk", "What is the weather?", "all",
			encodeMessages(t, messages), now, now)

	mock.ExpectQuery("SELECT id, userEmail, title, scope, messages, created, updated").
		WithArgs("user@example.gov.uk").
		WillReturnRows(rows)

	conversations, err := s.ListConversations(context.Background(), "user@example.gov.uk")
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(conversations) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(conversations))
	}

	conv := conversations[0]
	if conv.ID != 7 || conv.OwnerEmail != "user@example.gov.uk" {
		t.Errorf("unexpected conversation: %+v", conv)
	}
	if len(conv.Messages) != 2 || conv.Messages[1].Content != "Sunny." {
		t.Errorf("messages did not round-trip: %+v", conv.Messages)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetConversationNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, userEmail, title, scope, messages, created, updated").
		WithArgs("user@example.gov.uk", int64(99)).
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetConversation(context.Background(), "user@example.gov.uk", 99)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveConversationInsertsWithTruncatedTitle(t *testing.T) {
	s, mock := newMockStore(t)

	messages := []model.Message{
		{Role: model.RoleUser, Content: "Please summarise the latest housing policy paper"},
	}

	tests := []struct {
		name string
		id   string
	}{
		{name: "new sentinel", id: "new"},
		{name: "legacy sentinel", id: "-1"},
		{name: "empty id", id: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock.ExpectQuery("INSERT INTO chats").
				WithArgs("user@example.gov.uk", "Please summarise the lat", sqlmock.AnyArg(), "all").
				WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
			id, err := s.SaveConversation(context.Background(), "user@example.gov.uk", tt.id, "all", messages)
			if err != nil {
				t.Fatalf("SaveConversation failed: %v", err)
			}
			if id != 42 {
				t.Errorf("expected assigned id 42, got %d", id)
			}
		})
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSaveConversationUpdatesExisting(t *testing.T) {
	s, mock := newMockStore(t)

	messages := []model.Message{{Role: model.RoleUser, Content: "hello again"}}

	mock.ExpectExec("UPDATE chats SET messages").
		WithArgs(sqlmock.AnyArg(), int64(7), "user@example.gov.uk").
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := s.SaveConversation(context.Background(), "user@example.gov.uk", "7", "all", messages)
	if err != nil {
		t.Fatalf("SaveConversation failed: %v", err)
	}
	if id != 7 {
		t.Errorf("expected id 7, got %d", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSaveConversationUpdateWrongOwner(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE chats SET messages").
		WithArgs(sqlmock.AnyArg(), int64(7), "intruder@example.gov.uk").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := s.SaveConversation(context.Background(), "intruder@example.gov.uk", "7", "all",
		[]model.Message{{Role: model.RoleUser, Content: "x"}})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for cross-owner update, got %v", err)
	}
}

func TestDeleteConversationIsOwnerScoped(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM chats").
		WithArgs(int64(7), "user@example.gov.uk").
		WillReturnResult(sqlmock.NewResult(0, 0))

	// Deleting a row that does not exist, or is someone else's, is a no-op.
	if err := s.DeleteConversation(context.Background(), "user@example.gov.uk", 7); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestIsNewConversation(t *testing.T) {
	for _, id := range []string{"", "new", "-1"} {
		if !IsNewConversation(id) {
			t.Errorf("expected %q to be a new-conversation sentinel", id)
		}
	}
	for _, id := range []string{"0", "7", "abc"} {
		if IsNewConversation(id) {
			t.Errorf("expected %q not to be a sentinel", id)
		}
	}
}
