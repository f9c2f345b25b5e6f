package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/King-Eliah/mentorship-platform-sub001/internal/server/models"
)

var ErrNotFound = errors.New("storage: not found")

type Store struct {
	db *sql.DB
}

// Open connects to postgres and verifies the link.
func Open(url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            UUID PRIMARY KEY,
			username      TEXT UNIQUE NOT NULL,
			display_name  TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS conversations (
			id      UUID PRIMARY KEY,
			user_a  UUID NOT NULL REFERENCES users(id),
			user_b  UUID NOT NULL REFERENCES users(id),
			UNIQUE (user_a, user_b)
		);
		CREATE TABLE IF NOT EXISTS messages (
			id              UUID PRIMARY KEY,
			conversation_id UUID NOT NULL REFERENCES conversations(id),
			sender_id       UUID NOT NULL REFERENCES users(id),
			recipient_id    UUID NOT NULL REFERENCES users(id),
			content         TEXT NOT NULL,
			ts              BIGINT NOT NULL,
			is_read         BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE INDEX IF NOT EXISTS messages_conversation_ts
			ON messages (conversation_id, ts, id);
	`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Users

func (s *Store) CreateUser(username, displayName, passwordHash string) (*models.User, error) {
	u := models.User{
		ID:           uuid.NewString(),
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: passwordHash,
	}
	err := s.db.QueryRow(
		`INSERT INTO users (id, username, display_name, password_hash)
		 VALUES ($1, $2, $3, $4) RETURNING created_at`,
		u.ID, u.Username, u.DisplayName, u.PasswordHash,
	).Scan(&u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &u, nil
}

func (s *Store) GetUserByUsername(username string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRow(
		`SELECT id, username, display_name, password_hash, created_at
		 FROM users WHERE username = $1`,
		username,
	).Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", username, err)
	}
	return &u, nil
}

func (s *Store) GetUserByID(id string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRow(
		`SELECT id, username, display_name, created_at FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Username, &u.DisplayName, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return &u, nil
}

// Conversations

// EnsureConversation returns the thread between two users, creating it
// on first contact. The pair is stored in canonical order so both
// directions map to the same row.
func (s *Store) EnsureConversation(userA, userB string) (string, error) {
	if userB < userA {
		userA, userB = userB, userA
	}

	var id string
	err := s.db.QueryRow(
		`SELECT id FROM conversations WHERE user_a = $1 AND user_b = $2`,
		userA, userB,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("lookup conversation: %w", err)
	}

	id = uuid.NewString()
	_, err = s.db.Exec(
		`INSERT INTO conversations (id, user_a, user_b) VALUES ($1, $2, $3)
		 ON CONFLICT (user_a, user_b) DO NOTHING`,
		id, userA, userB,
	)
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}

	// A concurrent insert may have won; read back the canonical row.
	err = s.db.QueryRow(
		`SELECT id FROM conversations WHERE user_a = $1 AND user_b = $2`,
		userA, userB,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("reread conversation: %w", err)
	}
	return id, nil
}

// ListConversations returns the user's threads with unread counts and
// the latest message of each.
func (s *Store) ListConversations(userID string) ([]models.Conversation, error) {
	rows, err := s.db.Query(`
		SELECT
			c.id,
			u.id, u.display_name,
			(SELECT COUNT(*) FROM messages m
			 WHERE m.conversation_id = c.id
			   AND m.recipient_id = $1 AND NOT m.is_read) AS unread
		FROM conversations c
		JOIN users u ON u.id = CASE WHEN c.user_a = $1 THEN c.user_b ELSE c.user_a END
		WHERE c.user_a = $1 OR c.user_b = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.OtherUserID, &c.OtherUserName, &c.UnreadCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	for i := range convs {
		last, err := s.lastMessage(convs[i].ID)
		if err != nil {
			return nil, err
		}
		convs[i].LastMessage = last
	}
	return convs, nil
}

func (s *Store) lastMessage(conversationID string) (*models.Message, error) {
	var m models.Message
	err := s.db.QueryRow(`
		SELECT id, conversation_id, sender_id, recipient_id, content, ts, is_read
		FROM messages WHERE conversation_id = $1
		ORDER BY ts DESC, id DESC LIMIT 1
	`, conversationID).Scan(
		&m.ID, &m.ConversationID, &m.SenderID, &m.RecipientID, &m.Content, &m.Timestamp, &m.IsRead,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last message: %w", err)
	}
	return &m, nil
}

// Participants returns both user ids of a conversation.
func (s *Store) Participants(conversationID string) (string, string, error) {
	var a, b string
	err := s.db.QueryRow(
		`SELECT user_a, user_b FROM conversations WHERE id = $1`,
		conversationID,
	).Scan(&a, &b)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("participants: %w", err)
	}
	return a, b, nil
}

// Messages

// SaveMessage persists a message. Replayed ids are absorbed: the
// second insert is a no-op and inserted reports false.
func (s *Store) SaveMessage(m models.Message) (inserted bool, err error) {
	res, err := s.db.Exec(`
		INSERT INTO messages (id, conversation_id, sender_id, recipient_id, content, ts, is_read)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, m.ID, m.ConversationID, m.SenderID, m.RecipientID, m.Content, m.Timestamp, m.IsRead)
	if err != nil {
		return false, fmt.Errorf("save message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("save message: %w", err)
	}
	return n > 0, nil
}

// ListMessages returns the newest messages of a conversation in
// chronological order.
func (s *Store) ListMessages(conversationID string, limit int) ([]models.Message, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, sender_id, recipient_id, content, ts, is_read
		FROM messages WHERE conversation_id = $1
		ORDER BY ts DESC, id DESC LIMIT $2
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.RecipientID,
			&m.Content, &m.Timestamp, &m.IsRead); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	// Query returns newest first; flip to oldest first for rendering.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MarkRead flags everything addressed to the user in a conversation.
func (s *Store) MarkRead(conversationID, userID string) error {
	_, err := s.db.Exec(`
		UPDATE messages SET is_read = TRUE
		WHERE conversation_id = $1 AND recipient_id = $2 AND NOT is_read
	`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}
