package signaling

import "encoding/json"

// Client → server events.
const (
	EventRegister     = "register"
	EventStatus       = "presence:status"
	EventInitiate     = "call:initiate"
	EventAnswer       = "call:answer"
	EventReject       = "call:reject"
	EventEnd          = "call:end"
	EventOffer        = "webrtc:offer"
	EventSDPAnswer    = "webrtc:answer"
	EventICECandidate = "webrtc:ice-candidate"
)

// Server → client events.
const (
	EventRegistered     = "registered"
	EventRinging        = "call:ringing"
	EventIncoming       = "call:incoming"
	EventIncomingPSTN   = "call:incoming-pstn"
	EventAnswered       = "call:answered"
	EventRejected       = "call:rejected"
	EventEnded          = "call:ended"
	EventFailed         = "call:failed"
	EventPresenceUpdate = "presence:update"
	EventError          = "error"
)

// Error codes carried by the error event.
const (
	CodeBadRequest      = "bad_request"
	CodeAdmissionDenied = "admission_denied"
	CodeUnauthorized    = "unauthorized"
	CodeInvalidState    = "invalid_state"
	CodeNotFound        = "not_found"
	CodeInternal        = "internal"
)

// Envelope is the wire frame for every signaling message in both
// directions: an event name plus an event-specific JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RegisterPayload announces a client's identity, extension and initial
// status after connecting.
type RegisterPayload struct {
	UserID    string `json:"userId"`
	Extension string `json:"extension"`
	Name      string `json:"name,omitempty"`
	Status    string `json:"status,omitempty"`
}

// StatusPayload changes the sender's presence status.
type StatusPayload struct {
	Status string `json:"status"`
}

// InitiatePayload starts a peer call to another extension.
type InitiatePayload struct {
	CallID        string `json:"callId"`
	FromUserID    string `json:"fromUserId"`
	FromExtension string `json:"fromExtension"`
	ToExtension   string `json:"toExtension"`
}

// CallActionPayload covers answer and end, which carry only the call
// and the acting user.
type CallActionPayload struct {
	CallID     string `json:"callId"`
	FromUserID string `json:"fromUserId"`
}

// RejectPayload declines a ringing call with an optional reason.
type RejectPayload struct {
	CallID     string `json:"callId"`
	FromUserID string `json:"fromUserId"`
	Reason     string `json:"reason,omitempty"`
}

// SDPPayload relays a WebRTC session description. The SDP body is
// opaque to the server and forwarded verbatim.
type SDPPayload struct {
	CallID     string          `json:"callId"`
	FromUserID string          `json:"fromUserId"`
	SDP        json.RawMessage `json:"sdp"`
}

// ICEPayload relays a WebRTC ICE candidate verbatim.
type ICEPayload struct {
	CallID     string          `json:"callId"`
	FromUserID string          `json:"fromUserId"`
	Candidate  json.RawMessage `json:"candidate"`
}

// RegisteredPayload acknowledges a successful registration and carries
// the current roster so the client can render presence immediately.
type RegisteredPayload struct {
	UserID    string          `json:"userId"`
	Extension string          `json:"extension"`
	Roster    []PresenceEntry `json:"roster"`
}

// PresenceEntry is one user's presence as seen by other clients.
type PresenceEntry struct {
	UserID    string `json:"userId"`
	Extension string `json:"extension"`
	Name      string `json:"name,omitempty"`
	Status    string `json:"status"`
}

// RingingPayload acknowledges an initiate: the callee has been notified.
type RingingPayload struct {
	CallID      string `json:"callId"`
	ToExtension string `json:"toExtension"`
}

// IncomingPayload notifies the callee of a peer call.
type IncomingPayload struct {
	CallID        string `json:"callId"`
	FromUserID    string `json:"fromUserId"`
	FromName      string `json:"fromName,omitempty"`
	FromExtension string `json:"fromExtension"`
}

// IncomingPSTNPayload notifies the target of a carrier-bridged call.
type IncomingPSTNPayload struct {
	CallID     string `json:"callId"`
	FromNumber string `json:"fromNumber"`
	CallerName string `json:"callerName,omitempty"`
}

// AnsweredPayload tells both parties the callee answered.
type AnsweredPayload struct {
	CallID string `json:"callId"`
}

// RejectedPayload tells the caller the callee declined.
type RejectedPayload struct {
	CallID string `json:"callId"`
	Reason string `json:"reason,omitempty"`
}

// EndedPayload tells a participant the call is over.
type EndedPayload struct {
	CallID string `json:"callId"`
	Reason string `json:"reason,omitempty"`
}

// FailedPayload tells the caller the call could not be set up.
type FailedPayload struct {
	CallID string `json:"callId"`
	Reason string `json:"reason"`
}

// ErrorPayload reports a handler error to the originating connection.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
