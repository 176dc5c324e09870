package call

import "sync"

// Store is the narrow persistence interface for active call sessions.
// The registry performs every mutation through it, which keeps the
// admission check free of check-then-act races and leaves room for a
// distributed backing store behind the same contract.
//
// All methods return copies; mutations go through Update so the store
// can apply them atomically.
type Store interface {
	// CompareAndInsert atomically verifies that neither participant of
	// sess already appears in a stored session and, if a guard is
	// given, that guard returns nil, then inserts sess. The guard runs
	// inside the store's critical section and must not block.
	// Returns ErrCallerBusy or ErrCalleeBusy when a participant is
	// already in a call, or the guard's error unchanged.
	CompareAndInsert(sess *Session, guard func() error) error

	// Get returns the session with the given call id.
	Get(id string) (*Session, bool)

	// GetByCarrierID returns the session with the given carrier call id.
	GetByCarrierID(carrierID string) (*Session, bool)

	// Update applies fn to the stored session under the store's lock.
	// If fn returns an error the session is left unchanged and the
	// error is returned. Returns ErrNotFound for an unknown id.
	Update(id string, fn func(*Session) error) (*Session, error)

	// Delete removes the session and returns it. ok is false when the
	// session was already gone; deleting twice is not an error.
	Delete(id string) (*Session, bool)

	// ActiveForUser returns the session in which userID is caller or
	// callee, if any.
	ActiveForUser(userID string) (*Session, bool)

	// Snapshot returns copies of all stored sessions.
	Snapshot() []*Session

	// Len returns the number of stored sessions.
	Len() int
}

// MemoryStore is the in-process Store implementation: a mutex-guarded
// map keyed by call id with secondary indexes for carrier call id and
// participant user id. The user index is what makes the busy check and
// the insert one atomic step.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*Session // call id → session
	byCarrier map[string]string   // carrier call id → call id
	byUser    map[string]string   // participant user id → call id
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]*Session),
		byCarrier: make(map[string]string),
		byUser:    make(map[string]string),
	}
}

func (m *MemoryStore) CompareAndInsert(sess *Session, guard func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[sess.ID]; exists {
		return ErrDuplicateID
	}
	if sess.Caller.UserID != "" {
		if _, busy := m.byUser[sess.Caller.UserID]; busy {
			return ErrCallerBusy
		}
	}
	if _, busy := m.byUser[sess.Callee.UserID]; busy {
		return ErrCalleeBusy
	}
	if guard != nil {
		if err := guard(); err != nil {
			return err
		}
	}

	stored := sess.clone()
	m.sessions[stored.ID] = stored
	if stored.CarrierCallID != "" {
		m.byCarrier[stored.CarrierCallID] = stored.ID
	}
	if stored.Caller.UserID != "" {
		m.byUser[stored.Caller.UserID] = stored.ID
	}
	m.byUser[stored.Callee.UserID] = stored.ID
	return nil
}

func (m *MemoryStore) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return sess.clone(), true
}

func (m *MemoryStore) GetByCarrierID(carrierID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byCarrier[carrierID]
	if !ok {
		return nil, false
	}
	sess, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return sess.clone(), true
}

func (m *MemoryStore) Update(id string, fn func(*Session) error) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}

	// Mutate a copy so a failing fn cannot leave partial changes.
	next := sess.clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	m.sessions[id] = next
	return next.clone(), nil
}

func (m *MemoryStore) Delete(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, false
	}

	delete(m.sessions, id)
	if sess.CarrierCallID != "" {
		delete(m.byCarrier, sess.CarrierCallID)
	}
	if sess.Caller.UserID != "" {
		delete(m.byUser, sess.Caller.UserID)
	}
	delete(m.byUser, sess.Callee.UserID)
	return sess, true
}

func (m *MemoryStore) ActiveForUser(userID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byUser[userID]
	if !ok {
		return nil, false
	}
	sess, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return sess.clone(), true
}

func (m *MemoryStore) Snapshot() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess.clone())
	}
	return out
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
