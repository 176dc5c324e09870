package pstn

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/johanake/voxera/internal/call"
	"github.com/johanake/voxera/internal/carrier"
	"github.com/johanake/voxera/internal/database"
	"github.com/johanake/voxera/internal/database/models"
	"github.com/johanake/voxera/internal/routing"
)

// Notifier pushes carrier-bridged call events to the target's live
// connection. Implemented by signaling.Router.
type Notifier interface {
	NotifyIncomingPSTN(sess *call.Session) error
	NotifyCallEnded(sess *call.Session, reason string)
}

// SignatureValidator authenticates carrier webhooks. Implemented by
// carrier.Client; nil disables validation.
type SignatureValidator interface {
	ValidateSignature(requestURL string, form url.Values, signature string) bool
}

// Bridge handles inbound carrier webhooks: it resolves the dialed number
// through the routing evaluator, admits the call against live presence,
// and answers with carrier markup. Any failure folds to the same generic
// busy markup so the network never sees internal errors.
type Bridge struct {
	registry  *call.Registry
	evaluator routing.Evaluator
	numbers   database.PhoneNumberRepository
	history   database.CallHistoryRepository
	notifier  Notifier
	validator SignatureValidator
	publicURL string
	logger    *slog.Logger
}

// NewBridge creates a Bridge. publicURL is the externally visible base
// URL webhooks are signed against; validator may be nil.
func NewBridge(
	registry *call.Registry,
	evaluator routing.Evaluator,
	numbers database.PhoneNumberRepository,
	history database.CallHistoryRepository,
	notifier Notifier,
	validator SignatureValidator,
	publicURL string,
	logger *slog.Logger,
) *Bridge {
	return &Bridge{
		registry:  registry,
		evaluator: evaluator,
		numbers:   numbers,
		history:   history,
		notifier:  notifier,
		validator: validator,
		publicURL: publicURL,
		logger:    logger.With("subsystem", "pstn"),
	}
}

// Carrier statuses that terminate a call.
var terminalStatuses = map[string]bool{
	"completed": true,
	"busy":      true,
	"failed":    true,
	"no-answer": true,
	"canceled":  true,
}

// HandleInbound answers the carrier's inbound-call webhook with markup:
// dial-to-client when the call is admitted, busy for everything else.
func (b *Bridge) HandleInbound(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		b.respondBusy(w)
		return
	}
	if !b.authentic(r) {
		b.logger.Warn("inbound webhook failed signature validation", "remote", r.RemoteAddr)
		b.respondBusy(w)
		return
	}

	carrierCallID := r.PostForm.Get("CallSid")
	from := r.PostForm.Get("From")
	to := r.PostForm.Get("To")
	callerName := r.PostForm.Get("CallerName")

	if carrierCallID == "" || to == "" {
		b.respondBusy(w)
		return
	}

	num, err := b.numbers.GetByNumber(r.Context(), to)
	if err != nil || num == nil || !num.Enabled {
		b.logger.Info("inbound call to unroutable number", "to", to, "error", err)
		b.respondBusy(w)
		return
	}

	// Routing evaluation happens strictly before the registry mutation;
	// only the admission check itself runs inside the store.
	target, err := b.evaluator.Evaluate(r.Context(), num.ID, from)
	if err != nil {
		b.logger.Info("routing produced no target",
			"to", to,
			"number_id", num.ID,
			"error", err,
		)
		b.respondBusy(w)
		return
	}

	caller := call.Party{Extension: from, Name: callerName}
	callee := call.Party{UserID: target.UserID, Extension: target.Extension, Name: target.Name}

	sess, err := b.registry.CreatePSTNCall(call.NewID(), carrierCallID, caller, callee)
	if err != nil {
		if !errors.Is(err, call.ErrAdmissionDenied) {
			b.logger.Error("pstn session creation failed", "carrier_call_id", carrierCallID, "error", err)
		}
		b.respondBusy(w)
		return
	}

	if err := b.notifier.NotifyIncomingPSTN(sess); err != nil {
		// The target's connection went away between admission and
		// delivery; tear the session down and fold to busy.
		b.registry.End(sess.ID, call.StateFailed)
		b.respondBusy(w)
		return
	}

	b.createHistory(r.Context(), sess)

	b.logger.Info("inbound call bridged",
		"call_id", sess.ID,
		"carrier_call_id", carrierCallID,
		"from", from,
		"extension", target.Extension,
	)

	markup, err := carrier.DialClient(target.UserID, from)
	if err != nil {
		b.logger.Error("rendering dial markup failed", "error", err)
		b.respondBusy(w)
		return
	}
	writeMarkup(w, markup)
}

// HandleStatus processes the carrier's status callback for a bridged
// call. Terminal statuses end the session, notify the browser client and
// finalize the history record. Always answers 200.
func (b *Bridge) HandleStatus(w http.ResponseWriter, r *http.Request) {
	defer w.WriteHeader(http.StatusOK)

	if err := r.ParseForm(); err != nil {
		return
	}
	if !b.authentic(r) {
		b.logger.Warn("status webhook failed signature validation", "remote", r.RemoteAddr)
		return
	}

	carrierCallID := r.PostForm.Get("CallSid")
	status := r.PostForm.Get("CallStatus")
	if carrierCallID == "" || !terminalStatuses[status] {
		return
	}

	sess, err := b.registry.GetByCarrierID(carrierCallID)
	if err != nil {
		// Already torn down from the browser side, or unknown; the
		// history update below still applies when the record exists.
		b.finalizeHistory(r.Context(), carrierCallID, r.PostForm, "")
		return
	}

	endState := call.StateEnded
	if status != "completed" {
		endState = call.StateFailed
	}
	ended, ok := b.registry.End(sess.ID, endState)
	if !ok {
		return
	}

	b.notifier.NotifyCallEnded(ended, "carrier-"+status)
	b.finalizeHistory(r.Context(), carrierCallID, r.PostForm, ended.Disposition())

	b.logger.Info("carrier status ended call",
		"call_id", ended.ID,
		"carrier_call_id", carrierCallID,
		"status", status,
	)
}

// createHistory writes the initial record for an admitted carrier call.
// The status callback fills in the outcome.
func (b *Bridge) createHistory(ctx context.Context, sess *call.Session) {
	if b.history == nil {
		return
	}
	rec := &models.CallRecord{
		CallID:        sess.ID,
		CarrierCallID: sess.CarrierCallID,
		Direction:     string(sess.Origin),
		CallerName:    sess.Caller.Name,
		CallerNumber:  sess.Caller.Extension,
		CalleeNumber:  sess.Callee.Extension,
		StartTime:     sess.CreatedAt,
		Disposition:   "missed",
	}
	if err := b.history.Create(ctx, rec); err != nil {
		b.logger.Error("call history write failed", "call_id", sess.ID, "error", err)
	}
}

// finalizeHistory applies the status callback's outcome to the record.
func (b *Bridge) finalizeHistory(ctx context.Context, carrierCallID string, form url.Values, disposition string) {
	if b.history == nil {
		return
	}

	duration, _ := strconv.Atoi(form.Get("CallDuration"))
	now := time.Now()
	upd := database.CallEndUpdate{
		EndTime:      &now,
		DurationSecs: duration,
		Disposition:  disposition,
		HangupCause:  form.Get("CallStatus"),
		RecordingURL: form.Get("RecordingUrl"),
	}
	if err := b.history.UpdateByCarrierID(ctx, carrierCallID, upd); err != nil {
		b.logger.Warn("call history update failed", "carrier_call_id", carrierCallID, "error", err)
	}
}

// authentic validates the webhook signature when a validator is wired.
func (b *Bridge) authentic(r *http.Request) bool {
	if b.validator == nil {
		return true
	}
	sig := r.Header.Get(carrier.SignatureHeader)
	if sig == "" {
		return false
	}
	return b.validator.ValidateSignature(b.publicURL+r.URL.RequestURI(), r.PostForm, sig)
}

func (b *Bridge) respondBusy(w http.ResponseWriter) {
	markup, err := carrier.RejectBusy()
	if err != nil {
		// Still keep the contract of a well-formed XML body.
		markup = `<?xml version="1.0" encoding="UTF-8"?><Response><Reject reason="busy"></Reject></Response>`
	}
	writeMarkup(w, markup)
}

func writeMarkup(w http.ResponseWriter, markup string) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(markup)) //nolint:errcheck
}
