package chat

import "sync"

// Presence tracks userID -> online as reported by inbound presence
// frames. It holds no persistence: Reset empties it on reconnect so
// stale presence reads as unknown rather than assumed online/offline.
type Presence struct {
	mu     sync.RWMutex
	online map[string]bool
}

func NewPresence() *Presence {
	return &Presence{online: make(map[string]bool)}
}

// Set records a presence update. Write path is the router only.
func (p *Presence) Set(userID string, online bool) {
	p.mu.Lock()
	p.online[userID] = online
	p.mu.Unlock()
}

// IsOnline reports the flag and whether anything is known for the user.
func (p *Presence) IsOnline(userID string) (online, known bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	online, known = p.online[userID]
	return online, known
}

// Reset drops all state; fresh presence frames repopulate it.
func (p *Presence) Reset() {
	p.mu.Lock()
	p.online = make(map[string]bool)
	p.mu.Unlock()
}
