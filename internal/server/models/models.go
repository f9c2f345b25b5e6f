package models

import "time"

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Message mirrors the wire message frame; Timestamp is unix
// milliseconds and IDs are client-assigned UUIDs.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	RecipientID    string `json:"recipient_id"`
	Content        string `json:"content"`
	Timestamp      int64  `json:"timestamp"`
	IsRead         bool   `json:"is_read"`
}

// Conversation is a 1:1 thread as seen by one of its participants.
type Conversation struct {
	ID            string   `json:"id"`
	OtherUserID   string   `json:"other_user_id"`
	OtherUserName string   `json:"other_user_name"`
	UnreadCount   int      `json:"unread_count"`
	LastMessage   *Message `json:"last_message,omitempty"`
}

// REST payloads.

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}
