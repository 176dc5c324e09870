package models

import "time"

// User represents a softphone user: a person who signs in from the
// browser client and is reachable on an extension. Admin-role users may
// also sign in to the management panel.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Name         string
	Email        string
	Extension    string
	Role         string // "admin" | "user"
	Enabled      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsAdmin reports whether the user may access the management panel.
func (u *User) IsAdmin() bool {
	return u.Role == "admin"
}

// PhoneNumber represents a provisioned carrier number that can receive
// inbound PSTN calls.
type PhoneNumber struct {
	ID        int64
	Number    string // E.164
	Name      string
	FlowID    *int64 // routing flow; nil means the number is unroutable
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CallFlow represents a routing flow graph built in the visual editor.
// FlowData holds the graph JSON; only published flows are evaluated for
// inbound calls.
type CallFlow struct {
	ID        int64
	Name      string
	FlowData  string // JSON graph (nodes + edges)
	EntryNode string
	Published bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CallRecord is one line of call history: a completed call attempt,
// peer-to-peer or carrier-bridged.
type CallRecord struct {
	ID            int64
	CallID        string
	CarrierCallID string // empty for peer calls
	Direction     string // "peer" | "pstn"
	CallerName    string
	CallerNumber  string // extension or external E.164 number
	CalleeNumber  string // extension
	StartTime     time.Time
	AnswerTime    *time.Time
	EndTime       *time.Time
	DurationSecs  int
	TalkSecs      int
	Disposition   string // "answered" | "rejected" | "failed" | "missed"
	HangupCause   string
	RecordingURL  string
}

// SystemConfig represents a key-value configuration entry.
type SystemConfig struct {
	ID        int64
	Key       string
	Value     string
	UpdatedAt time.Time
}
