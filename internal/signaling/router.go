package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/johanake/voxera/internal/call"
	"github.com/johanake/voxera/internal/database/models"
)

// historyTimeout bounds the persistence write that follows a call
// teardown. The write happens outside the registry's critical section.
const historyTimeout = 5 * time.Second

// CallHistory persists completed call attempts. Implemented by
// database.CallHistoryRepository.
type CallHistory interface {
	Create(ctx context.Context, rec *models.CallRecord) error
}

// CarrierControl terminates the carrier leg of a bridged call when the
// browser side ends it first. Implemented by carrier.Client.
type CarrierControl interface {
	EndCall(ctx context.Context, carrierCallID string) error
}

// Router translates inbound signaling events into session registry
// mutations and delivers outbound events to the correct counterpart
// connection. Delivery is at-most-once and fire-and-forget; a gone
// counterpart degrades the call rather than queueing anything.
type Router struct {
	registry   *call.Registry
	presence   *call.Presence
	extensions *call.Extensions
	history    CallHistory
	carrier    CarrierControl
	logger     *slog.Logger
}

// NewRouter creates a signaling router over the given registries.
// history and carrier may be nil in tests.
func NewRouter(
	registry *call.Registry,
	presence *call.Presence,
	extensions *call.Extensions,
	history CallHistory,
	carrier CarrierControl,
	logger *slog.Logger,
) *Router {
	return &Router{
		registry:   registry,
		presence:   presence,
		extensions: extensions,
		history:    history,
		carrier:    carrier,
		logger:     logger.With("subsystem", "signaling"),
	}
}

// dispatch routes one inbound envelope to its handler. Handler errors
// never propagate: they are reported to the originating connection as
// structured error events.
func (rt *Router) dispatch(c *Client, env Envelope) {
	if c.userID == "" && env.Event != EventRegister {
		c.sendError(CodeUnauthorized, "register first")
		return
	}

	switch env.Event {
	case EventRegister:
		rt.handleRegister(c, env.Data)
	case EventStatus:
		rt.handleStatus(c, env.Data)
	case EventInitiate:
		rt.handleInitiate(c, env.Data)
	case EventAnswer:
		rt.handleAnswer(c, env.Data)
	case EventReject:
		rt.handleReject(c, env.Data)
	case EventEnd:
		rt.handleEnd(c, env.Data)
	case EventOffer:
		rt.relaySDP(c, env.Data, EventOffer)
	case EventSDPAnswer:
		rt.relaySDP(c, env.Data, EventSDPAnswer)
	case EventICECandidate:
		rt.relayICE(c, env.Data)
	default:
		c.sendError(CodeBadRequest, "unknown event")
	}
}

// handleRegister binds the connection to a user identity, an extension
// and a presence entry, then acks with the current roster.
func (rt *Router) handleRegister(c *Client, data json.RawMessage) {
	var p RegisterPayload
	if err := json.Unmarshal(data, &p); err != nil || p.UserID == "" || p.Extension == "" {
		c.sendError(CodeBadRequest, "register requires userId and extension")
		return
	}

	// When connection tokens are enabled the claimed identity must
	// match the one proven at upgrade time.
	if c.authUserID != "" && c.authUserID != p.UserID {
		c.sendError(CodeUnauthorized, "identity does not match connection token")
		return
	}
	if c.userID != "" {
		c.sendError(CodeBadRequest, "connection already registered")
		return
	}

	if err := rt.extensions.Bind(p.UserID, p.Extension); err != nil {
		c.sendError(CodeAdmissionDenied, "extension already registered")
		return
	}

	c.userID = p.UserID
	c.extension = p.Extension
	c.name = p.Name

	status := call.Status(p.Status)
	if !call.ValidStatus(status) {
		status = call.StatusOnline
	}
	replaced := rt.presence.Register(call.Entry{
		UserID:    p.UserID,
		Extension: p.Extension,
		Name:      p.Name,
		Status:    status,
		Conn:      c,
	})
	if replaced != nil {
		// A reconnect supersedes the old connection; close it so its
		// read loop exits. Its disconnect cleanup is a no-op because
		// the presence entry no longer belongs to it.
		if old, ok := replaced.(*Client); ok {
			old.close()
		}
	}

	rt.logger.Info("client registered",
		"user_id", p.UserID,
		"extension", p.Extension,
		"status", status,
	)

	c.Send(EventRegistered, RegisteredPayload{ //nolint:errcheck
		UserID:    p.UserID,
		Extension: p.Extension,
		Roster:    rt.roster(),
	})
	rt.broadcastPresence(p.UserID, p.Extension, p.Name, string(status))
}

// handleStatus applies an explicit presence status change and
// broadcasts it.
func (rt *Router) handleStatus(c *Client, data json.RawMessage) {
	var p StatusPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.sendError(CodeBadRequest, "malformed status payload")
		return
	}
	if !rt.presence.SetStatus(c.userID, call.Status(p.Status)) {
		c.sendError(CodeBadRequest, "unknown status")
		return
	}
	rt.broadcastPresence(c.userID, c.extension, c.name, p.Status)
}

// handleInitiate runs admission and creates a peer session. The caller
// is acked with call:ringing only after the callee was notified; any
// admission failure is reported as call:failed with no session left
// behind.
func (rt *Router) handleInitiate(c *Client, data json.RawMessage) {
	var p InitiatePayload
	if err := json.Unmarshal(data, &p); err != nil || p.ToExtension == "" {
		c.sendError(CodeBadRequest, "malformed initiate payload")
		return
	}
	if p.FromUserID != c.userID {
		c.sendError(CodeUnauthorized, "initiate for another identity")
		return
	}

	callID := p.CallID
	if callID == "" {
		callID = call.NewID()
	}

	calleeID, ok := rt.extensions.Lookup(p.ToExtension)
	if !ok {
		c.Send(EventFailed, FailedPayload{CallID: callID, Reason: "unknown-extension"}) //nolint:errcheck
		return
	}
	if calleeID == c.userID {
		c.Send(EventFailed, FailedPayload{CallID: callID, Reason: "self-call"}) //nolint:errcheck
		return
	}
	calleeEntry, _ := rt.presence.Get(calleeID)

	sess, err := rt.registry.CreateCall(callID,
		call.Party{UserID: c.userID, Extension: c.extension, Name: c.name},
		call.Party{UserID: calleeID, Extension: p.ToExtension, Name: calleeEntry.Name},
	)
	if err != nil {
		c.Send(EventFailed, FailedPayload{CallID: callID, Reason: failReason(err)}) //nolint:errcheck
		return
	}

	// Notify the callee. A dead connection here means the call never
	// rings: tear the session down and fail the caller.
	err = rt.sendTo(calleeID, EventIncoming, IncomingPayload{
		CallID:        sess.ID,
		FromUserID:    c.userID,
		FromName:      c.name,
		FromExtension: c.extension,
	})
	if err != nil {
		rt.registry.End(sess.ID, call.StateFailed)
		c.Send(EventFailed, FailedPayload{CallID: sess.ID, Reason: "callee-unreachable"}) //nolint:errcheck
		return
	}

	if _, err := rt.registry.UpdateState(sess.ID, call.StateRinging); err != nil {
		// The session vanished between insert and notify (concurrent
		// disconnect teardown); the caller already gets call:ended from
		// that path, nothing more to do here.
		rt.logger.Debug("initiate lost session before ringing", "call_id", sess.ID, "error", err)
		return
	}

	rt.setBusy(c.userID, calleeID)
	c.Send(EventRinging, RingingPayload{CallID: sess.ID, ToExtension: p.ToExtension}) //nolint:errcheck
}

// handleAnswer accepts a ringing call. Only the session's callee may
// answer, and only while the call is ringing.
func (rt *Router) handleAnswer(c *Client, data json.RawMessage) {
	var p CallActionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.sendError(CodeBadRequest, "malformed answer payload")
		return
	}

	sess, err := rt.registry.Get(p.CallID)
	if err != nil {
		c.sendError(CodeNotFound, "unknown call")
		return
	}
	if sess.Callee.UserID != c.userID {
		c.sendError(CodeUnauthorized, "only the callee may answer")
		return
	}

	if _, err := rt.registry.UpdateState(p.CallID, call.StateConnecting); err != nil {
		c.sendError(errorCode(err), "call is not ringing")
		return
	}

	payload := AnsweredPayload{CallID: p.CallID}
	rt.sendTo(sess.Caller.UserID, EventAnswered, payload) //nolint:errcheck
	c.Send(EventAnswered, payload)                        //nolint:errcheck
}

// handleReject declines a ringing call. Only the callee may reject;
// the caller is notified with the optional reason.
func (rt *Router) handleReject(c *Client, data json.RawMessage) {
	var p RejectPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.sendError(CodeBadRequest, "malformed reject payload")
		return
	}

	sess, err := rt.registry.Get(p.CallID)
	if err != nil {
		c.sendError(CodeNotFound, "unknown call")
		return
	}
	if sess.Callee.UserID != c.userID {
		c.sendError(CodeUnauthorized, "only the callee may reject")
		return
	}

	ended, ok := rt.registry.End(p.CallID, call.StateRejected)
	if !ok {
		return
	}

	reason := p.Reason
	if reason == "" {
		reason = "rejected"
	}
	rt.sendTo(ended.Caller.UserID, EventRejected, RejectedPayload{CallID: p.CallID, Reason: reason}) //nolint:errcheck
	rt.finishCall(ended, reason)
}

// handleEnd tears down a call. Either participant may end; both sides
// receive call:ended. Ending an already-gone call is a silent no-op.
func (rt *Router) handleEnd(c *Client, data json.RawMessage) {
	var p CallActionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.sendError(CodeBadRequest, "malformed end payload")
		return
	}

	sess, err := rt.registry.Get(p.CallID)
	if err != nil {
		// Already removed: end is idempotent.
		return
	}
	if !sess.HasParticipant(c.userID) {
		c.sendError(CodeUnauthorized, "not a call participant")
		return
	}

	ended, ok := rt.registry.End(p.CallID, call.StateEnded)
	if !ok {
		return
	}

	payload := EndedPayload{CallID: p.CallID}
	if other, ok := ended.Counterpart(c.userID); ok && other.UserID != "" {
		rt.sendTo(other.UserID, EventEnded, payload) //nolint:errcheck
	}
	c.Send(EventEnded, payload) //nolint:errcheck
	rt.finishCall(ended, "hangup")
}

// relaySDP forwards an offer or answer to the counterpart. Offers may
// only originate from the caller, answers only from the callee.
func (rt *Router) relaySDP(c *Client, data json.RawMessage, event string) {
	var p SDPPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.sendError(CodeBadRequest, "malformed sdp payload")
		return
	}

	sess, err := rt.registry.Get(p.CallID)
	if err != nil {
		c.sendError(CodeNotFound, "unknown call")
		return
	}

	var allowed, target string
	if event == EventOffer {
		allowed, target = sess.Caller.UserID, sess.Callee.UserID
	} else {
		allowed, target = sess.Callee.UserID, sess.Caller.UserID
	}
	if c.userID != allowed {
		c.sendError(CodeUnauthorized, "not permitted to send this description")
		return
	}
	if target == "" {
		// Carrier leg: media negotiation happens through the carrier,
		// not this relay.
		return
	}

	rt.sendTo(target, event, SDPPayload{ //nolint:errcheck
		CallID:     p.CallID,
		FromUserID: c.userID,
		SDP:        p.SDP,
	})
}

// relayICE forwards an ICE candidate to the other participant. Either
// participant may send candidates, interleaved with offer/answer
// delivery; ordering across kinds is not guaranteed.
func (rt *Router) relayICE(c *Client, data json.RawMessage) {
	var p ICEPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.sendError(CodeBadRequest, "malformed candidate payload")
		return
	}

	sess, err := rt.registry.Get(p.CallID)
	if err != nil {
		c.sendError(CodeNotFound, "unknown call")
		return
	}
	if !sess.HasParticipant(c.userID) {
		c.sendError(CodeUnauthorized, "not a call participant")
		return
	}

	other, ok := sess.Counterpart(c.userID)
	if !ok || other.UserID == "" {
		return
	}
	rt.sendTo(other.UserID, EventICECandidate, ICEPayload{ //nolint:errcheck
		CallID:     p.CallID,
		FromUserID: c.userID,
		Candidate:  p.Candidate,
	})
}

// HandleDisconnect tears down everything the connection owned: its
// presence entry, its extension binding and its active call, notifying
// the remaining participant exactly once. Safe to call repeatedly.
func (rt *Router) HandleDisconnect(c *Client) {
	defer c.close()

	if c.userID == "" {
		return
	}

	// Remove presence first: admission's online guard runs inside the
	// session store's critical section, so once this returns, any
	// session involving the user either failed admission or is visible
	// to the lookup below.
	if !rt.presence.Remove(c.userID, c) {
		// Superseded by a reconnect or already cleaned up; the current
		// registration owns the bindings now.
		return
	}
	rt.extensions.Unbind(c.userID)

	if sess, ok := rt.registry.UserActiveCall(c.userID); ok {
		if ended, ok := rt.registry.End(sess.ID, call.StateEnded); ok {
			if other, ok := ended.Counterpart(c.userID); ok && other.UserID != "" {
				rt.sendTo(other.UserID, EventEnded, EndedPayload{ //nolint:errcheck
					CallID: ended.ID,
					Reason: "peer-disconnected",
				})
			}
			rt.finishCall(ended, "disconnect")
		}
	}

	rt.logger.Info("client disconnected", "user_id", c.userID, "extension", c.extension)
	rt.broadcastPresence(c.userID, c.extension, c.name, "offline")
}

// NotifyIncomingPSTN delivers the incoming-call event for a
// carrier-bridged session to its target client. Returns an error when
// the target's connection is gone so the bridge can fold to busy.
func (rt *Router) NotifyIncomingPSTN(sess *call.Session) error {
	err := rt.sendTo(sess.Callee.UserID, EventIncomingPSTN, IncomingPSTNPayload{
		CallID:     sess.ID,
		FromNumber: sess.Caller.Extension,
		CallerName: sess.Caller.Name,
	})
	if err != nil {
		return err
	}
	rt.setBusy(sess.Callee.UserID)
	return nil
}

// NotifyCallEnded delivers call:ended for a session torn down outside
// the signaling path (carrier status callbacks) and restores the
// target's presence.
func (rt *Router) NotifyCallEnded(sess *call.Session, reason string) {
	if sess.Callee.UserID != "" {
		rt.sendTo(sess.Callee.UserID, EventEnded, EndedPayload{CallID: sess.ID, Reason: reason}) //nolint:errcheck
	}
	rt.clearBusy(sess.Callee.UserID)
}

// sendTo delivers one event to a user's live connection, dropping it
// when the user is offline.
func (rt *Router) sendTo(userID, event string, payload any) error {
	entry, ok := rt.presence.Get(userID)
	if !ok {
		return ErrClientGone
	}
	return entry.Conn.Send(event, payload)
}

// finishCall restores participant presence, persists the history
// record and, for carrier-bridged calls, terminates the carrier leg.
// Runs strictly after the registry mutation.
func (rt *Router) finishCall(sess *call.Session, cause string) {
	rt.clearBusy(sess.Caller.UserID, sess.Callee.UserID)
	rt.recordHistory(sess, cause)

	if sess.Origin == call.OriginPSTN && sess.CarrierCallID != "" && rt.carrier != nil {
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		defer cancel()
		if err := rt.carrier.EndCall(ctx, sess.CarrierCallID); err != nil {
			rt.logger.Error("carrier leg termination failed",
				"call_id", sess.ID,
				"carrier_call_id", sess.CarrierCallID,
				"error", err,
			)
		}
	}
}

// recordHistory writes the call-history record for an ended session.
// Carrier-originated records are created by the PSTN bridge at
// admission and updated by its status callback instead.
func (rt *Router) recordHistory(sess *call.Session, cause string) {
	if rt.history == nil || sess.Origin != call.OriginPeer {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	rec := &models.CallRecord{
		CallID:       sess.ID,
		Direction:    string(sess.Origin),
		CallerName:   sess.Caller.Name,
		CallerNumber: sess.Caller.Extension,
		CalleeNumber: sess.Callee.Extension,
		StartTime:    sess.CreatedAt,
		AnswerTime:   sess.AnsweredAt,
		EndTime:      sess.EndedAt,
		DurationSecs: int(sess.Duration().Seconds()),
		TalkSecs:     int(sess.TalkDuration().Seconds()),
		Disposition:  sess.Disposition(),
		HangupCause:  cause,
	}
	if err := rt.history.Create(ctx, rec); err != nil {
		rt.logger.Error("call history write failed", "call_id", sess.ID, "error", err)
	}
}

// setBusy flips participants to busy and broadcasts the change.
func (rt *Router) setBusy(userIDs ...string) {
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		if rt.presence.SetStatus(id, call.StatusBusy) {
			if e, ok := rt.presence.Get(id); ok {
				rt.broadcastPresence(e.UserID, e.Extension, e.Name, string(call.StatusBusy))
			}
		}
	}
}

// clearBusy restores participants to online if they are still
// connected.
func (rt *Router) clearBusy(userIDs ...string) {
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		if rt.presence.SetStatus(id, call.StatusOnline) {
			if e, ok := rt.presence.Get(id); ok {
				rt.broadcastPresence(e.UserID, e.Extension, e.Name, string(call.StatusOnline))
			}
		}
	}
}

// broadcastPresence fans a presence change out to every connected
// client, the user's own connection included.
func (rt *Router) broadcastPresence(userID, extension, name, status string) {
	payload := PresenceEntry{
		UserID:    userID,
		Extension: extension,
		Name:      name,
		Status:    status,
	}
	for _, e := range rt.presence.Snapshot() {
		e.Conn.Send(EventPresenceUpdate, payload) //nolint:errcheck
	}
}

// roster returns the presence snapshot in wire form.
func (rt *Router) roster() []PresenceEntry {
	entries := rt.presence.Snapshot()
	out := make([]PresenceEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, PresenceEntry{
			UserID:    e.UserID,
			Extension: e.Extension,
			Name:      e.Name,
			Status:    string(e.Status),
		})
	}
	return out
}

// failReason maps an admission error to the wire reason string.
func failReason(err error) string {
	switch {
	case errors.Is(err, call.ErrCalleeOffline):
		return "offline"
	case errors.Is(err, call.ErrCalleeBusy):
		return "busy"
	case errors.Is(err, call.ErrCallerBusy):
		return "already-in-call"
	case errors.Is(err, call.ErrExtensionNotFound):
		return "unknown-extension"
	default:
		return "internal"
	}
}

// errorCode maps a registry error to the wire error code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, call.ErrAdmissionDenied):
		return CodeAdmissionDenied
	case errors.Is(err, call.ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, call.ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, call.ErrNotFound):
		return CodeNotFound
	default:
		return CodeInternal
	}
}
