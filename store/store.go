// Package store persists conversations in Postgres. Each row holds a full
// conversation transcript as JSONB; there is no per-message table. Writes
// are last-write-wins, which matches the single-browser-session usage
// pattern of the chat UI.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	_ "github.com/lib/pq"

	"govchat/model"
)

// ErrNotFound is returned when a conversation does not exist or belongs to
// a different user. Callers cannot distinguish the two cases.
var ErrNotFound = errors.New("conversation not found")

// titleLength is how much of the first message becomes the list title.
const titleLength = 24

const schema = `
CREATE TABLE IF NOT EXISTS chats (
	id            SERIAL            PRIMARY KEY,
	userEmail     TEXT              NOT NULL,
	title         TEXT              NOT NULL,
	scope         TEXT,
	messages      JSONB             NOT NULL,
	created       TIMESTAMPTZ       NOT NULL DEFAULT now(),
	updated       TIMESTAMPTZ       NOT NULL DEFAULT now()
);`

// Store is the conversation repository. Safe for concurrent use; all
// queries are scoped to the owning user's email.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open connects to Postgres and self-provisions the schema. The table is
// created if missing so deployments need no separate migration step.
func Open(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := New(db, logger)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing database handle. Used by Open and by tests.
func New(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Init creates the chats table if it does not exist.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create chats table: %w", err)
	}
	s.logger.Info("chats table ready")
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// IsNewConversation reports whether id is one of the sentinels a client
// sends to start a fresh conversation rather than update an existing one.
func IsNewConversation(id string) bool {
	return id == "" || id == "new" || id == "-1"
}

// ListConversations returns the user's conversations, most recently
// updated first.
func (s *Store) ListConversations(ctx context.Context, ownerEmail string) ([]model.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, userEmail, title, scope, messages, created, updated
		 FROM chats WHERE userEmail = $1 ORDER BY updated DESC`, ownerEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []model.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read conversations: %w", err)
	}
	return conversations, nil
}

// GetConversation fetches one conversation owned by the user.
func (s *Store) GetConversation(ctx context.Context, ownerEmail string, id int64) (model.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, userEmail, title, scope, messages, created, updated
		 FROM chats WHERE userEmail = $1 AND id = $2`, ownerEmail, id)

	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Conversation{}, ErrNotFound
	}
	return conv, err
}

// SaveConversation upserts a transcript. A sentinel id inserts a new row,
// titled from the opening message; otherwise the existing row's messages
// are replaced wholesale and its updated stamp advanced. Returns the
// conversation id.
func (s *Store) SaveConversation(ctx context.Context, ownerEmail, id, scope string, messages []model.Message) (int64, error) {
	encoded, err := json.Marshal(messages)
	if err != nil {
		return 0, fmt.Errorf("failed to encode messages: %w", err)
	}

	if IsNewConversation(id) {
		var newID int64
		err := s.db.QueryRowContext(ctx,
			`INSERT INTO chats (userEmail, title, messages, scope)
			 VALUES ($1, $2, $3, $4) RETURNING id`,
			ownerEmail, titleFor(messages), encoded, scope).Scan(&newID)
		if err != nil {
			return 0, fmt.Errorf("failed to insert conversation: %w", err)
		}
		return newID, nil
	}

	numericID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid conversation id %q: %w", id, err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE chats SET messages = $1, updated = now()
		 WHERE id = $2 AND userEmail = $3`, encoded, numericID, ownerEmail)
	if err != nil {
		return 0, fmt.Errorf("failed to update conversation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to update conversation: %w", err)
	}
	if affected == 0 {
		return 0, ErrNotFound
	}
	return numericID, nil
}

// DeleteConversation removes one conversation owned by the user. Deleting
// a conversation that does not exist is not an error.
func (s *Store) DeleteConversation(ctx context.Context, ownerEmail string, id int64) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM chats WHERE id = $1 AND userEmail = $2`, id, ownerEmail); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (model.Conversation, error) {
	var conv model.Conversation
	var scope sql.NullString
	var encoded []byte

	err := row.Scan(&conv.ID, &conv.OwnerEmail, &conv.Title, &scope, &encoded,
		&conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return model.Conversation{}, err
	}

	conv.Scope = scope.String
	if err := json.Unmarshal(encoded, &conv.Messages); err != nil {
		return model.Conversation{}, fmt.Errorf("failed to decode messages for conversation %d: %w", conv.ID, err)
	}
	return conv, nil
}

// titleFor derives the list title from the opening message, truncated on a
// rune boundary.
func titleFor(messages []model.Message) string {
	if len(messages) == 0 {
		return "New chat"
	}
	runes := []rune(messages[0].Content)
	if len(runes) > titleLength {
		runes = runes[:titleLength]
	}
	return string(runes)
}
