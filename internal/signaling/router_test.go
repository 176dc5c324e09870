package signaling

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/johanake/voxera/internal/call"
	"github.com/johanake/voxera/internal/database/models"
)

// fakeHistory records call-history writes.
type fakeHistory struct {
	mu   sync.Mutex
	recs []models.CallRecord
}

func (f *fakeHistory) Create(ctx context.Context, rec *models.CallRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, *rec)
	return nil
}

func (f *fakeHistory) records() []models.CallRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.CallRecord(nil), f.recs...)
}

// fakeCarrier records remote termination requests.
type fakeCarrier struct {
	mu    sync.Mutex
	ended []string
}

func (f *fakeCarrier) EndCall(ctx context.Context, carrierCallID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, carrierCallID)
	return nil
}

type routerFixture struct {
	router  *Router
	history *fakeHistory
	carrier *fakeCarrier
}

func newFixture(t *testing.T) *routerFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	presence := call.NewPresence()
	registry := call.NewRegistry(call.NewMemoryStore(), presence, logger)
	extensions := call.NewExtensions()
	history := &fakeHistory{}
	carrier := &fakeCarrier{}
	return &routerFixture{
		router:  NewRouter(registry, presence, extensions, history, carrier, logger),
		history: history,
		carrier: carrier,
	}
}

// connect registers a test client (no real socket; events accumulate in
// the client's send queue).
func (f *routerFixture) connect(t *testing.T, userID, ext, name string) *Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := newClient(nil, "", logger)
	f.send(t, c, EventRegister, RegisterPayload{UserID: userID, Extension: ext, Name: name})
	if got := lastEvent(t, c, EventRegistered); got == "" {
		t.Fatalf("register of %s produced no registered ack", userID)
	}
	drain(c)
	return c
}

func (f *routerFixture) send(t *testing.T, c *Client, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", event, err)
	}
	f.router.dispatch(c, Envelope{Event: event, Data: data})
}

// drain empties the client's outbound queue and returns the envelopes.
func drain(c *Client) []Envelope {
	var out []Envelope
	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return out
			}
			var env Envelope
			if json.Unmarshal(frame, &env) == nil {
				out = append(out, env)
			}
		default:
			return out
		}
	}
}

// lastEvent drains the queue and returns the raw data of the last
// envelope matching event, or "" when absent.
func lastEvent(t *testing.T, c *Client, event string) string {
	t.Helper()
	var data string
	for _, env := range drain(c) {
		if env.Event == event {
			data = string(env.Data)
		}
	}
	return data
}

// eventCount counts envelopes of a kind in a drained slice.
func eventCount(envs []Envelope, event string) int {
	n := 0
	for _, env := range envs {
		if env.Event == event {
			n++
		}
	}
	return n
}

func decodeAs[T any](t *testing.T, raw string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("decoding payload %q: %v", raw, err)
	}
	return v
}

func TestRegisterRequiresIdentity(t *testing.T) {
	f := newFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := newClient(nil, "", logger)

	f.send(t, c, EventRegister, RegisterPayload{UserID: "", Extension: "101"})
	if raw := lastEvent(t, c, EventError); raw == "" {
		t.Fatal("register without userId produced no error event")
	}

	// Call operations before registration are rejected.
	f.send(t, c, EventInitiate, InitiatePayload{CallID: "c1", FromUserID: "alice", ToExtension: "102"})
	errPayload := decodeAs[ErrorPayload](t, lastEvent(t, c, EventError))
	if errPayload.Code != CodeUnauthorized {
		t.Errorf("pre-register initiate error code = %s, want %s", errPayload.Code, CodeUnauthorized)
	}
}

func TestRegisterTokenMismatch(t *testing.T) {
	f := newFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := newClient(nil, "alice", logger)

	f.send(t, c, EventRegister, RegisterPayload{UserID: "mallory", Extension: "666"})
	errPayload := decodeAs[ErrorPayload](t, lastEvent(t, c, EventError))
	if errPayload.Code != CodeUnauthorized {
		t.Errorf("error code = %s, want %s", errPayload.Code, CodeUnauthorized)
	}
	if f.router.extensions.Count() != 0 {
		t.Error("extension bound despite identity mismatch")
	}
}

func TestPeerCallFullScenario(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "alice", "101", "Alice")
	bob := f.connect(t, "bob", "102", "Bob")
	drain(alice) // bob's registration broadcast

	// A initiates to ext 102.
	f.send(t, alice, EventInitiate, InitiatePayload{CallID: "c1", FromUserID: "alice", FromExtension: "101", ToExtension: "102"})

	ringing := decodeAs[RingingPayload](t, lastEvent(t, alice, EventRinging))
	if ringing.CallID != "c1" {
		t.Fatalf("ringing callId = %s, want c1", ringing.CallID)
	}
	incoming := decodeAs[IncomingPayload](t, lastEvent(t, bob, EventIncoming))
	if incoming.FromExtension != "101" || incoming.FromUserID != "alice" {
		t.Fatalf("incoming = %+v, want from alice/101", incoming)
	}

	sess, err := f.router.registry.Get("c1")
	if err != nil || sess.State != call.StateRinging {
		t.Fatalf("session after initiate = %+v, %v; want ringing", sess, err)
	}

	// B answers: both sides get call:answered.
	f.send(t, bob, EventAnswer, CallActionPayload{CallID: "c1", FromUserID: "bob"})
	if lastEvent(t, alice, EventAnswered) == "" {
		t.Error("caller did not receive call:answered")
	}
	if lastEvent(t, bob, EventAnswered) == "" {
		t.Error("callee did not receive call:answered")
	}

	// A sends an offer: only B receives it.
	f.send(t, alice, EventOffer, SDPPayload{CallID: "c1", FromUserID: "alice", SDP: json.RawMessage(`"offer-sdp"`)})
	aliceEvents := drain(alice)
	if eventCount(aliceEvents, EventOffer) != 0 {
		t.Error("offer echoed back to the caller")
	}
	offer := decodeAs[SDPPayload](t, lastEvent(t, bob, EventOffer))
	if string(offer.SDP) != `"offer-sdp"` {
		t.Errorf("relayed sdp = %s", offer.SDP)
	}

	// B answers with SDP: only A receives it.
	f.send(t, bob, EventSDPAnswer, SDPPayload{CallID: "c1", FromUserID: "bob", SDP: json.RawMessage(`"answer-sdp"`)})
	if lastEvent(t, alice, EventSDPAnswer) == "" {
		t.Error("caller did not receive the sdp answer")
	}
	if eventCount(drain(bob), EventSDPAnswer) != 0 {
		t.Error("sdp answer echoed back to the callee")
	}

	// ICE flows both ways.
	f.send(t, alice, EventICECandidate, ICEPayload{CallID: "c1", FromUserID: "alice", Candidate: json.RawMessage(`{"c":1}`)})
	if lastEvent(t, bob, EventICECandidate) == "" {
		t.Error("callee did not receive caller's candidate")
	}
	f.send(t, bob, EventICECandidate, ICEPayload{CallID: "c1", FromUserID: "bob", Candidate: json.RawMessage(`{"c":2}`)})
	if lastEvent(t, alice, EventICECandidate) == "" {
		t.Error("caller did not receive callee's candidate")
	}

	// Either side ends: both get call:ended, session removed.
	f.send(t, alice, EventEnd, CallActionPayload{CallID: "c1", FromUserID: "alice"})
	if lastEvent(t, alice, EventEnded) == "" {
		t.Error("ender did not receive call:ended")
	}
	if lastEvent(t, bob, EventEnded) == "" {
		t.Error("counterpart did not receive call:ended")
	}
	if _, err := f.router.registry.Get("c1"); err == nil {
		t.Error("session still present after end")
	}

	recs := f.history.records()
	if len(recs) != 1 {
		t.Fatalf("history records = %d, want 1", len(recs))
	}
	if recs[0].Disposition != "answered" || recs[0].CallID != "c1" {
		t.Errorf("history record = %+v, want answered c1", recs[0])
	}
}

func TestInitiateToOfflineExtension(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "alice", "101", "Alice")

	f.send(t, alice, EventInitiate, InitiatePayload{CallID: "c1", FromUserID: "alice", ToExtension: "102"})
	failed := decodeAs[FailedPayload](t, lastEvent(t, alice, EventFailed))
	if failed.Reason != "unknown-extension" {
		t.Errorf("reason = %s, want unknown-extension", failed.Reason)
	}
	if f.router.registry.ActiveCount() != 0 {
		t.Error("session created for unknown extension")
	}
}

func TestInitiateToBusyCallee(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "alice", "101", "Alice")
	bob := f.connect(t, "bob", "102", "Bob")
	carol := f.connect(t, "carol", "103", "Carol")

	f.send(t, alice, EventInitiate, InitiatePayload{CallID: "c1", FromUserID: "alice", ToExtension: "102"})
	drain(alice)
	drain(bob)

	f.send(t, carol, EventInitiate, InitiatePayload{CallID: "c2", FromUserID: "carol", ToExtension: "102"})
	failed := decodeAs[FailedPayload](t, lastEvent(t, carol, EventFailed))
	if failed.Reason != "busy" {
		t.Errorf("reason = %s, want busy", failed.Reason)
	}
	if f.router.registry.ActiveCount() != 1 {
		t.Errorf("active sessions = %d, want 1", f.router.registry.ActiveCount())
	}
}

func TestInitiateIdentitySpoofRejected(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "alice", "101", "Alice")
	f.connect(t, "bob", "102", "Bob")

	f.send(t, alice, EventInitiate, InitiatePayload{CallID: "c1", FromUserID: "bob", ToExtension: "102"})
	errPayload := decodeAs[ErrorPayload](t, lastEvent(t, alice, EventError))
	if errPayload.Code != CodeUnauthorized {
		t.Errorf("error code = %s, want %s", errPayload.Code, CodeUnauthorized)
	}
	if f.router.registry.ActiveCount() != 0 {
		t.Error("session created for spoofed initiate")
	}
}

func TestAnswerAuthorization(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "alice", "101", "Alice")
	bob := f.connect(t, "bob", "102", "Bob")
	carol := f.connect(t, "carol", "103", "Carol")

	f.send(t, alice, EventInitiate, InitiatePayload{CallID: "c1", FromUserID: "alice", ToExtension: "102"})
	drain(alice)
	drain(bob)

	// Only the callee may answer.
	f.send(t, carol, EventAnswer, CallActionPayload{CallID: "c1", FromUserID: "carol"})
	errPayload := decodeAs[ErrorPayload](t, lastEvent(t, carol, EventError))
	if errPayload.Code != CodeUnauthorized {
		t.Errorf("outsider answer code = %s, want %s", errPayload.Code, CodeUnauthorized)
	}
	f.send(t, alice, EventAnswer, CallActionPayload{CallID: "c1", FromUserID: "alice"})
	errPayload = decodeAs[ErrorPayload](t, lastEvent(t, alice, EventError))
	if errPayload.Code != CodeUnauthorized {
		t.Errorf("caller answer code = %s, want %s", errPayload.Code, CodeUnauthorized)
	}

	sess, err := f.router.registry.Get("c1")
	if err != nil || sess.State != call.StateRinging {
		t.Fatalf("state after unauthorized answers = %+v, want unchanged ringing", sess)
	}

	// Double answer: second one is an invalid transition.
	f.send(t, bob, EventAnswer, CallActionPayload{CallID: "c1", FromUserID: "bob"})
	drain(bob)
	f.send(t, bob, EventAnswer, CallActionPayload{CallID: "c1", FromUserID: "bob"})
	errPayload = decodeAs[ErrorPayload](t, lastEvent(t, bob, EventError))
	if errPayload.Code != CodeInvalidState {
		t.Errorf("double answer code = %s, want %s", errPayload.Code, CodeInvalidState)
	}
}

func TestRejectNotifiesCallerWithReason(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "alice", "101", "Alice")
	bob := f.connect(t, "bob", "102", "Bob")

	f.send(t, alice, EventInitiate, InitiatePayload{CallID: "c1", FromUserID: "alice", ToExtension: "102"})
	drain(alice)
	drain(bob)

	f.send(t, bob, EventReject, RejectPayload{CallID: "c1", FromUserID: "bob", Reason: "in-a-meeting"})
	rejected := decodeAs[RejectedPayload](t, lastEvent(t, alice, EventRejected))
	if rejected.Reason != "in-a-meeting" {
		t.Errorf("reason = %s, want in-a-meeting", rejected.Reason)
	}
	if f.router.registry.ActiveCount() != 0 {
		t.Error("session survived reject")
	}

	recs := f.history.records()
	if len(recs) != 1 || recs[0].Disposition != "rejected" {
		t.Errorf("history = %+v, want one rejected record", recs)
	}
}

func TestRelayOfferUnauthorizedSender(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "alice", "101", "Alice")
	bob := f.connect(t, "bob", "102", "Bob")

	f.send(t, alice, EventInitiate, InitiatePayload{CallID: "c1", FromUserID: "alice", ToExtension: "102"})
	drain(alice)
	drain(bob)

	// Offers may only originate from the caller.
	f.send(t, bob, EventOffer, SDPPayload{CallID: "c1", FromUserID: "bob", SDP: json.RawMessage(`"x"`)})
	errPayload := decodeAs[ErrorPayload](t, lastEvent(t, bob, EventError))
	if errPayload.Code != CodeUnauthorized {
		t.Errorf("error code = %s, want %s", errPayload.Code, CodeUnauthorized)
	}
	if eventCount(drain(alice), EventOffer) != 0 {
		t.Error("unauthorized offer was forwarded")
	}
}

func TestEndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "alice", "101", "Alice")
	bob := f.connect(t, "bob", "102", "Bob")

	f.send(t, alice, EventInitiate, InitiatePayload{CallID: "c1", FromUserID: "alice", ToExtension: "102"})
	drain(alice)
	drain(bob)

	f.send(t, alice, EventEnd, CallActionPayload{CallID: "c1", FromUserID: "alice"})
	if n := eventCount(drain(bob), EventEnded); n != 1 {
		t.Errorf("counterpart received %d call:ended, want 1", n)
	}

	// Second end: no error, no duplicate notification.
	f.send(t, alice, EventEnd, CallActionPayload{CallID: "c1", FromUserID: "alice"})
	aliceEvents := drain(alice)
	if eventCount(aliceEvents, EventError) != 0 {
		t.Error("second end produced an error event")
	}
	if n := eventCount(drain(bob), EventEnded); n != 0 {
		t.Errorf("counterpart received %d extra call:ended after repeat end", n)
	}
	if len(f.history.records()) != 1 {
		t.Errorf("history records = %d, want 1", len(f.history.records()))
	}
}

func TestDisconnectMidCall(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "alice", "101", "Alice")
	bob := f.connect(t, "bob", "102", "Bob")

	f.send(t, alice, EventInitiate, InitiatePayload{CallID: "c1", FromUserID: "alice", ToExtension: "102"})
	f.send(t, bob, EventAnswer, CallActionPayload{CallID: "c1", FromUserID: "bob"})
	drain(alice)
	drain(bob)

	f.router.HandleDisconnect(bob)

	ended := decodeAs[EndedPayload](t, lastEvent(t, alice, EventEnded))
	if ended.CallID != "c1" || ended.Reason != "peer-disconnected" {
		t.Errorf("ended payload = %+v", ended)
	}
	if f.router.registry.ActiveCount() != 0 {
		t.Error("session survived disconnect")
	}
	if _, ok := f.router.extensions.Lookup("102"); ok {
		t.Error("extension binding survived disconnect")
	}
	if f.router.presence.IsOnline("bob") {
		t.Error("presence entry survived disconnect")
	}

	// Idempotent: a second disconnect changes nothing and notifies no one.
	f.router.HandleDisconnect(bob)
	if n := eventCount(drain(alice), EventEnded); n != 0 {
		t.Errorf("remaining participant notified %d extra times", n)
	}
}

func TestPSTNSessionEndTerminatesCarrierLeg(t *testing.T) {
	f := newFixture(t)
	bob := f.connect(t, "bob", "102", "Bob")

	sess, err := f.router.registry.CreatePSTNCall("p1", "CA42",
		call.Party{Extension: "+15551230000", Name: "Acme"},
		call.Party{UserID: "bob", Extension: "102"},
	)
	if err != nil {
		t.Fatalf("CreatePSTNCall() error: %v", err)
	}
	if err := f.router.NotifyIncomingPSTN(sess); err != nil {
		t.Fatalf("NotifyIncomingPSTN() error: %v", err)
	}

	incoming := decodeAs[IncomingPSTNPayload](t, lastEvent(t, bob, EventIncomingPSTN))
	if incoming.FromNumber != "+15551230000" {
		t.Errorf("fromNumber = %s", incoming.FromNumber)
	}

	f.send(t, bob, EventEnd, CallActionPayload{CallID: "p1", FromUserID: "bob"})

	f.carrier.mu.Lock()
	defer f.carrier.mu.Unlock()
	if len(f.carrier.ended) != 1 || f.carrier.ended[0] != "CA42" {
		t.Errorf("carrier terminations = %v, want [CA42]", f.carrier.ended)
	}
}

func TestStatusChangeBroadcast(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "alice", "101", "Alice")
	bob := f.connect(t, "bob", "102", "Bob")
	drain(alice)

	f.send(t, bob, EventStatus, StatusPayload{Status: "away"})
	update := decodeAs[PresenceEntry](t, lastEvent(t, alice, EventPresenceUpdate))
	if update.UserID != "bob" || update.Status != "away" {
		t.Errorf("presence update = %+v, want bob away", update)
	}
}
