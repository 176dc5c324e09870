package call

import (
	"time"

	"github.com/google/uuid"
)

// Origin identifies which path created a call session.
type Origin string

const (
	// OriginPeer is a call dialed by one browser client to another.
	OriginPeer Origin = "peer"

	// OriginPSTN is a call bridged in from the public telephone network
	// via a carrier webhook.
	OriginPSTN Origin = "pstn"
)

// State represents the lifecycle state of a call session.
type State string

const (
	// StateDialing is the initial state: the session exists but the
	// callee has not been notified yet.
	StateDialing State = "dialing"

	// StateRinging means the callee's client has been sent call:incoming.
	StateRinging State = "ringing"

	// StateConnecting means the callee answered and the peers are
	// exchanging SDP/ICE. The server does not track a separate
	// "connected" state; media establishment is inferred client-side.
	StateConnecting State = "connecting"

	// StateRejected means the callee declined the call.
	StateRejected State = "rejected"

	// StateFailed means the call could not be set up (callee offline,
	// busy, or unreachable).
	StateFailed State = "failed"

	// StateEnded means the call was torn down by a participant, a
	// disconnect, or a carrier status callback.
	StateEnded State = "ended"
)

// Terminal reports whether the state ends the session lifecycle.
func (s State) Terminal() bool {
	switch s {
	case StateRejected, StateFailed, StateEnded:
		return true
	}
	return false
}

// transitions is the fixed state machine for call sessions. Any
// transition not listed here (other than non-terminal → Ended, which is
// always allowed) is rejected with ErrInvalidState.
var transitions = map[State][]State{
	StateDialing: {StateRinging, StateFailed},
	StateRinging: {StateConnecting, StateRejected, StateFailed},
}

// CanTransition reports whether moving from s to next is a legal
// transition.
func (s State) CanTransition(next State) bool {
	if next == StateEnded {
		return !s.Terminal()
	}
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Party identifies one side of a call: a connected user and the
// extension they are reachable on. For PSTN callers UserID is empty and
// Extension holds the external number.
type Party struct {
	UserID    string
	Extension string
	Name      string
}

// Session is the logical record of one call attempt between two
// parties. Sessions are created by the signaling router (peer calls) or
// the PSTN bridge (carrier calls) and live only in the session store;
// completed calls are persisted separately as call history.
type Session struct {
	// ID uniquely identifies the call across both signaling and the
	// carrier webhook path.
	ID string

	// Origin tags which path created the session.
	Origin Origin

	// Caller is the originating party. For PSTN calls this is the
	// external number, not a connected user.
	Caller Party

	// Callee is the terminating party, always a connected user.
	Callee Party

	// State is the current lifecycle state.
	State State

	// CarrierCallID is the carrier's call identifier. Set only for
	// OriginPSTN sessions; used to correlate status callbacks.
	CarrierCallID string

	// CreatedAt is when the session was admitted.
	CreatedAt time.Time

	// AnsweredAt is when the callee answered, nil if never answered.
	AnsweredAt *time.Time

	// EndedAt is when the session reached a terminal state.
	EndedAt *time.Time
}

// NewID returns a fresh call session identifier.
func NewID() string {
	return uuid.NewString()
}

// HasParticipant reports whether userID is the caller or callee.
func (s *Session) HasParticipant(userID string) bool {
	return userID != "" && (s.Caller.UserID == userID || s.Callee.UserID == userID)
}

// Counterpart returns the other party of the session relative to
// userID. ok is false when userID is not a participant.
func (s *Session) Counterpart(userID string) (Party, bool) {
	switch userID {
	case s.Caller.UserID:
		return s.Callee, true
	case s.Callee.UserID:
		return s.Caller, true
	}
	return Party{}, false
}

// Duration returns the total session duration. Zero until the session
// has ended.
func (s *Session) Duration() time.Duration {
	if s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(s.CreatedAt)
}

// TalkDuration returns the answered-to-ended duration. Zero if the call
// was never answered or has not ended.
func (s *Session) TalkDuration() time.Duration {
	if s.AnsweredAt == nil || s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(*s.AnsweredAt)
}

// Disposition returns the call-history disposition for the session.
func (s *Session) Disposition() string {
	switch {
	case s.AnsweredAt != nil:
		return "answered"
	case s.State == StateRejected:
		return "rejected"
	case s.State == StateFailed:
		return "failed"
	default:
		return "missed"
	}
}

// clone returns a copy of the session safe to hand to callers outside
// the store's critical section.
func (s *Session) clone() *Session {
	c := *s
	if s.AnsweredAt != nil {
		t := *s.AnsweredAt
		c.AnsweredAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}
