package chat

import (
	"sort"
	"sync"
)

// Conversation is the list-view metadata for one 1:1 thread.
type Conversation struct {
	ID              string       `json:"id"`
	OtherUserID     string       `json:"other_user_id"`
	OtherUserName   string       `json:"other_user_name"`
	OtherUserAvatar string       `json:"other_user_avatar,omitempty"`
	LastMessage     *ChatMessage `json:"last_message,omitempty"`
	UnreadCount     int          `json:"unread_count"`
	IsOnline        bool         `json:"is_online"`
}

type conversationState struct {
	meta Conversation
	msgs []ChatMessage
	seen map[string]struct{}
}

// Store holds the ordered, deduplicated message list and metadata per
// conversation. Messages are kept sorted under the (timestamp, id) key
// so out-of-order delivery still renders correctly; applying the same
// message id twice is a no-op. External readers always get copies.
type Store struct {
	localUserID string

	mu     sync.RWMutex
	convs  map[string]*conversationState
	active string
}

func NewStore(localUserID string) *Store {
	return &Store{
		localUserID: localUserID,
		convs:       make(map[string]*conversationState),
	}
}

// Seed replaces all state with the snapshot fetched from the REST
// collaborator at view mount. Unread counts come from the snapshot;
// seeding history does not re-count them.
func (s *Store) Seed(convs []Conversation, history map[string][]ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.convs = make(map[string]*conversationState, len(convs))
	s.active = ""
	for _, c := range convs {
		if c.LastMessage != nil {
			last := *c.LastMessage
			c.LastMessage = &last
		}
		s.convs[c.ID] = &conversationState{meta: c, seen: make(map[string]struct{})}
	}
	for convID, msgs := range history {
		cs, ok := s.convs[convID]
		if !ok {
			continue
		}
		for _, m := range msgs {
			s.insert(cs, m)
		}
	}
}

// ApplyMessage inserts a message at its sorted position and reports
// whether it was new. Unread count grows only for inbound messages of
// non-active conversations.
func (s *Store) ApplyMessage(m ChatMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.convs[m.ConversationID]
	if !ok {
		// A new message may introduce a conversation the snapshot
		// predates: surface it in the list view.
		other := m.SenderID
		if other == s.localUserID {
			other = m.RecipientID
		}
		cs = &conversationState{
			meta: Conversation{ID: m.ConversationID, OtherUserID: other},
			seen: make(map[string]struct{}),
		}
		s.convs[m.ConversationID] = cs
	}

	if _, dup := cs.seen[m.ID]; dup {
		return false
	}

	inbound := m.SenderID != s.localUserID
	if inbound && s.active == m.ConversationID {
		// The reader has this thread open.
		m.IsRead = true
	}
	s.insert(cs, m)

	if inbound && s.active != m.ConversationID {
		cs.meta.UnreadCount++
	}
	return true
}

// insert places m at its (timestamp, id) position. Caller holds s.mu
// and has already rejected duplicates.
func (s *Store) insert(cs *conversationState, m ChatMessage) {
	if _, dup := cs.seen[m.ID]; dup {
		return
	}
	i := sort.Search(len(cs.msgs), func(i int) bool {
		return m.Before(cs.msgs[i])
	})
	cs.msgs = append(cs.msgs, ChatMessage{})
	copy(cs.msgs[i+1:], cs.msgs[i:])
	cs.msgs[i] = m
	cs.seen[m.ID] = struct{}{}

	if cs.meta.LastMessage == nil || cs.meta.LastMessage.Before(m) {
		last := m
		cs.meta.LastMessage = &last
	}
}

// MarkActive makes conversationID the single active conversation and
// resets its unread count. Inbound messages become read.
func (s *Store) MarkActive(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = conversationID
	cs, ok := s.convs[conversationID]
	if !ok {
		return
	}
	cs.meta.UnreadCount = 0
	for i := range cs.msgs {
		if cs.msgs[i].SenderID != s.localUserID {
			cs.msgs[i].IsRead = true
		}
	}
	if cs.meta.LastMessage != nil && cs.meta.LastMessage.SenderID != s.localUserID {
		cs.meta.LastMessage.IsRead = true
	}
}

// ClearActive leaves no conversation active.
func (s *Store) ClearActive() {
	s.mu.Lock()
	s.active = ""
	s.mu.Unlock()
}

// ActiveConversation returns the currently active conversation id, or
// empty when none is open.
func (s *Store) ActiveConversation() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// ApplyPresence flips IsOnline on every conversation with that partner.
// Idempotent.
func (s *Store) ApplyPresence(userID string, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cs := range s.convs {
		if cs.meta.OtherUserID == userID {
			cs.meta.IsOnline = online
		}
	}
}

// ResetPresence marks every conversation partner offline; used when the
// connection drops and stale presence must be treated as unknown.
func (s *Store) ResetPresence() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cs := range s.convs {
		cs.meta.IsOnline = false
	}
}

// Messages returns a copy of the ordered message list.
func (s *Store) Messages(conversationID string) []ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.convs[conversationID]
	if !ok {
		return nil
	}
	out := make([]ChatMessage, len(cs.msgs))
	copy(out, cs.msgs)
	return out
}

// Conversation returns a copy of one conversation's metadata.
func (s *Store) Conversation(conversationID string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.convs[conversationID]
	if !ok {
		return Conversation{}, false
	}
	return copyMeta(cs), true
}

// Conversations returns the list sorted by most recent activity.
func (s *Store) Conversations() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Conversation, 0, len(s.convs))
	for _, cs := range s.convs {
		out = append(out, copyMeta(cs))
	}
	sort.Slice(out, func(i, j int) bool {
		li, lj := out[i].LastMessage, out[j].LastMessage
		switch {
		case li == nil && lj == nil:
			return out[i].ID < out[j].ID
		case li == nil:
			return false
		case lj == nil:
			return true
		case li.Timestamp != lj.Timestamp:
			return li.Timestamp > lj.Timestamp
		default:
			return out[i].ID < out[j].ID
		}
	})
	return out
}

func copyMeta(cs *conversationState) Conversation {
	meta := cs.meta
	if meta.LastMessage != nil {
		last := *meta.LastMessage
		meta.LastMessage = &last
	}
	return meta
}
