package call

import "sync"

// Status is a user's presence status. A user with no entry in the
// directory is offline.
type Status string

const (
	StatusOnline Status = "online"
	StatusAway   Status = "away"
	StatusBusy   Status = "busy"
)

// ValidStatus reports whether s is a status a client may set.
func ValidStatus(s Status) bool {
	return s == StatusOnline || s == StatusAway || s == StatusBusy
}

// Sender delivers one server event to a connected client. Delivery is
// at-most-once and fire-and-forget: implementations drop the event when
// the connection's buffer is full or the connection is gone.
type Sender interface {
	Send(event string, payload any) error
}

// Entry is one user's presence record.
type Entry struct {
	UserID    string
	Extension string
	Name      string
	Status    Status
	Conn      Sender
}

// Presence is the directory of connected users: identity → connection
// handle and status. Registration replaces any previous entry for the
// same user, so a reconnecting client supersedes its stale connection.
type Presence struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewPresence creates an empty presence directory.
func NewPresence() *Presence {
	return &Presence{entries: make(map[string]*Entry)}
}

// Register adds or replaces the presence entry for a user. It returns
// the connection handle of the replaced entry, if any, so the caller
// can close the superseded connection.
func (p *Presence) Register(e Entry) (replaced Sender) {
	if e.Status == "" {
		e.Status = StatusOnline
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if prev, ok := p.entries[e.UserID]; ok {
		replaced = prev.Conn
	}
	p.entries[e.UserID] = &e
	return replaced
}

// Remove deletes a user's entry. Removing an absent user is a no-op.
// If conn is non-nil the entry is only removed when it still belongs to
// that connection, so a disconnect of a superseded connection does not
// tear down the replacement.
func (p *Presence) Remove(userID string, conn Sender) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[userID]
	if !ok {
		return false
	}
	if conn != nil && e.Conn != conn {
		return false
	}
	delete(p.entries, userID)
	return true
}

// SetStatus updates a connected user's status. Returns false when the
// user is offline or the status is not settable.
func (p *Presence) SetStatus(userID string, status Status) bool {
	if !ValidStatus(status) {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[userID]
	if !ok {
		return false
	}
	e.Status = status
	return true
}

// Get returns a user's presence entry.
func (p *Presence) Get(userID string) (Entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	e, ok := p.entries[userID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// IsOnline reports whether the user has a live connection.
func (p *Presence) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.entries[userID]
	return ok
}

// Snapshot returns a copy of all presence entries, for broadcasts and
// the admin API.
func (p *Presence) Snapshot() []Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Entry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, *e)
	}
	return out
}

// Count returns the number of connected users.
func (p *Presence) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}
