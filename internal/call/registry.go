package call

import (
	"log/slog"
	"time"
)

// Registry is the authoritative store of active call sessions. It
// applies admission control (callee online, neither party busy) as one
// atomic step with session insertion, and owns every state transition.
// Peer calls and carrier-bridged calls go through the same registry;
// only the Origin tag differs.
type Registry struct {
	store    Store
	presence *Presence
	logger   *slog.Logger
}

// NewRegistry creates a session registry over the given store. The
// presence directory is consulted inside the admission step so that a
// callee going offline and a session insert cannot interleave.
func NewRegistry(store Store, presence *Presence, logger *slog.Logger) *Registry {
	return &Registry{
		store:    store,
		presence: presence,
		logger:   logger.With("subsystem", "call"),
	}
}

// CreateCall admits and inserts a peer-originated session in state
// Dialing. Admission fails with ErrCalleeOffline, ErrCalleeBusy or
// ErrCallerBusy; on failure no session exists.
func (r *Registry) CreateCall(id string, caller, callee Party) (*Session, error) {
	sess := &Session{
		ID:        id,
		Origin:    OriginPeer,
		Caller:    caller,
		Callee:    callee,
		State:     StateDialing,
		CreatedAt: time.Now(),
	}
	if err := r.admit(sess); err != nil {
		return nil, err
	}

	r.logger.Info("call created",
		"call_id", sess.ID,
		"origin", sess.Origin,
		"caller", caller.Extension,
		"callee", callee.Extension,
	)
	return sess, nil
}

// CreatePSTNCall admits and inserts a carrier-originated session in
// state Dialing. The caller party carries the external number; the
// callee is the target browser client, admitted under the same policy
// as a peer call.
func (r *Registry) CreatePSTNCall(id, carrierCallID string, caller, callee Party) (*Session, error) {
	sess := &Session{
		ID:            id,
		Origin:        OriginPSTN,
		Caller:        caller,
		Callee:        callee,
		State:         StateDialing,
		CarrierCallID: carrierCallID,
		CreatedAt:     time.Now(),
	}
	if err := r.admit(sess); err != nil {
		return nil, err
	}

	r.logger.Info("pstn call created",
		"call_id", sess.ID,
		"carrier_call_id", carrierCallID,
		"from", caller.Extension,
		"callee", callee.Extension,
	)
	return sess, nil
}

// admit runs the busy checks and the online check atomically with the
// insert. The online guard executes inside the store's critical
// section, which closes the window where a disconnect could slip
// between a passed check and the insert: a disconnect removes presence
// before it looks up the user's active call, so the session is either
// rejected here or found and torn down there.
func (r *Registry) admit(sess *Session) error {
	return r.store.CompareAndInsert(sess, func() error {
		if !r.presence.IsOnline(sess.Callee.UserID) {
			return ErrCalleeOffline
		}
		return nil
	})
}

// Get returns the session for a call id.
func (r *Registry) Get(id string) (*Session, error) {
	sess, ok := r.store.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// GetByCarrierID returns the session for a carrier call id.
func (r *Registry) GetByCarrierID(carrierID string) (*Session, error) {
	sess, ok := r.store.GetByCarrierID(carrierID)
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// UpdateState moves a session to a new state, enforcing the fixed
// transition table. Reaching StateConnecting records the answer time.
// Returns the updated session, ErrNotFound, or ErrInvalidState.
func (r *Registry) UpdateState(id string, next State) (*Session, error) {
	sess, err := r.store.Update(id, func(s *Session) error {
		if !s.State.CanTransition(next) {
			return ErrInvalidState
		}
		s.State = next
		if next == StateConnecting && s.AnsweredAt == nil {
			now := time.Now()
			s.AnsweredAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug("call state changed", "call_id", id, "state", next)
	return sess, nil
}

// End moves the session to terminal and removes it from the store.
// state selects the terminal state (Ended, Rejected or Failed);
// anything else is coerced to Ended. Ending an unknown or already-ended
// call is a no-op with ok=false, so teardown paths can race safely.
func (r *Registry) End(id string, state State) (*Session, bool) {
	if !state.Terminal() {
		state = StateEnded
	}

	sess, ok := r.store.Delete(id)
	if !ok {
		return nil, false
	}

	now := time.Now()
	sess.State = state
	sess.EndedAt = &now

	r.logger.Info("call ended",
		"call_id", sess.ID,
		"origin", sess.Origin,
		"state", state,
		"duration_ms", sess.Duration().Milliseconds(),
		"talk_ms", sess.TalkDuration().Milliseconds(),
	)
	return sess, true
}

// IsUserInCall reports whether the user participates in any active
// session.
func (r *Registry) IsUserInCall(userID string) bool {
	_, ok := r.store.ActiveForUser(userID)
	return ok
}

// UserActiveCall returns the session the user currently participates
// in, if any.
func (r *Registry) UserActiveCall(userID string) (*Session, bool) {
	return r.store.ActiveForUser(userID)
}

// ActiveCount returns the number of active sessions, for metrics.
func (r *Registry) ActiveCount() int {
	return r.store.Len()
}

// ActiveCalls returns a snapshot of all active sessions, for the admin
// API.
func (r *Registry) ActiveCalls() []*Session {
	return r.store.Snapshot()
}
