package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/johanake/voxera/internal/database"
)

// Walking a graph visits at most this many nodes before the evaluation is
// abandoned as cyclic.
const maxVisitedNodes = 64

// ErrNumberNotFound is returned when the dialed number is not provisioned.
var ErrNumberNotFound = errors.New("phone number not found")

// ErrNumberDisabled is returned when the dialed number exists but is disabled.
var ErrNumberDisabled = errors.New("phone number disabled")

// ErrNoFlow is returned when the number has no routing flow assigned.
var ErrNoFlow = errors.New("no flow assigned to number")

// ErrFlowNotPublished is returned when the assigned flow is not published.
var ErrFlowNotPublished = errors.New("flow not published")

// ErrEntryNodeNotFound is returned when the entry node is missing from the graph.
var ErrEntryNodeNotFound = errors.New("entry node not found in flow")

// ErrNoMatchingEdge is returned when no output edge matches after a node.
var ErrNoMatchingEdge = errors.New("no matching output edge")

// ErrNoTarget is returned when the flow terminates without reaching a
// user, including an explicit hangup node.
var ErrNoTarget = errors.New("flow produced no target")

// Target is the outcome of evaluating a flow: the user an inbound call
// should be offered to.
type Target struct {
	UserID    string
	Extension string
	Name      string
}

// Evaluator decides which user an inbound carrier call to a provisioned
// number should be routed to.
type Evaluator interface {
	Evaluate(ctx context.Context, numberID int64, callerNumber string) (*Target, error)
}

// FlowEvaluator walks the published call-flow graph assigned to a phone
// number until it resolves a user, hits a hangup node, or dead-ends.
type FlowEvaluator struct {
	numbers database.PhoneNumberRepository
	flows   database.CallFlowRepository
	users   database.UserRepository
	logger  *slog.Logger

	// now is swappable for schedule-node tests.
	now func() time.Time
}

// NewFlowEvaluator creates a FlowEvaluator.
func NewFlowEvaluator(
	numbers database.PhoneNumberRepository,
	flows database.CallFlowRepository,
	users database.UserRepository,
	logger *slog.Logger,
) *FlowEvaluator {
	return &FlowEvaluator{
		numbers: numbers,
		flows:   flows,
		users:   users,
		logger:  logger.With("subsystem", "routing"),
		now:     time.Now,
	}
}

// Evaluate loads the number's published flow and walks it from the entry
// node. Every failure mode maps to a sentinel error so the caller can
// decide how to answer the carrier.
func (e *FlowEvaluator) Evaluate(ctx context.Context, numberID int64, callerNumber string) (*Target, error) {
	num, err := e.numbers.GetByID(ctx, numberID)
	if err != nil {
		return nil, fmt.Errorf("loading number: %w", err)
	}
	if num == nil {
		return nil, ErrNumberNotFound
	}
	if !num.Enabled {
		return nil, ErrNumberDisabled
	}
	if num.FlowID == nil {
		return nil, ErrNoFlow
	}

	flow, err := e.flows.GetByID(ctx, *num.FlowID)
	if err != nil {
		return nil, fmt.Errorf("loading flow: %w", err)
	}
	if flow == nil {
		return nil, ErrNoFlow
	}
	if !flow.Published {
		return nil, ErrFlowNotPublished
	}

	graph, err := ParseGraph(flow.FlowData)
	if err != nil {
		return nil, err
	}

	nodes := graph.nodeByID()
	current, ok := nodes[flow.EntryNode]
	if !ok {
		return nil, ErrEntryNodeNotFound
	}

	e.logger.Debug("evaluating flow",
		"number", num.Number,
		"flow_id", flow.ID,
		"caller", callerNumber,
	)

	for visited := 0; visited < maxVisitedNodes; visited++ {
		target, outputEdge, err := e.executeNode(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("node %s (%s): %w", current.ID, current.Type, err)
		}
		if target != nil {
			e.logger.Info("flow resolved target",
				"number", num.Number,
				"flow_id", flow.ID,
				"node", current.ID,
				"extension", target.Extension,
			)
			return target, nil
		}
		if outputEdge == "" {
			return nil, ErrNoTarget
		}

		nextID, ok := graph.followEdge(current.ID, outputEdge)
		if !ok {
			return nil, fmt.Errorf("%w: source=%s handle=%s", ErrNoMatchingEdge, current.ID, outputEdge)
		}
		current, ok = nodes[nextID]
		if !ok {
			return nil, fmt.Errorf("target node %s not found in graph", nextID)
		}
	}

	return nil, fmt.Errorf("flow %d exceeded %d nodes, likely cyclic", flow.ID, maxVisitedNodes)
}

// executeNode evaluates one node. It returns either a resolved target, or
// the output edge handle to follow next. An empty handle with no target
// terminates the walk.
func (e *FlowEvaluator) executeNode(ctx context.Context, node Node) (*Target, string, error) {
	switch node.Type {
	case NodeTypeEntry:
		return nil, "next", nil

	case NodeTypeExtension:
		ext, _ := node.Data.Config["extension"].(string)
		if ext == "" {
			return nil, "", errors.New("extension node missing extension config")
		}
		user, err := e.users.GetByExtension(ctx, ext)
		if err != nil {
			return nil, "", fmt.Errorf("resolving extension %s: %w", ext, err)
		}
		if user == nil || !user.Enabled {
			// Fall through the "unavailable" handle when wired,
			// otherwise terminate.
			return nil, "unavailable", nil
		}
		return &Target{
			UserID:    strconv.FormatInt(user.ID, 10),
			Extension: user.Extension,
			Name:      user.Name,
		}, "", nil

	case NodeTypeUser:
		if node.Data.EntityID == nil {
			return nil, "", errors.New("user node missing entity id")
		}
		user, err := e.users.GetByID(ctx, *node.Data.EntityID)
		if err != nil {
			return nil, "", fmt.Errorf("resolving user %d: %w", *node.Data.EntityID, err)
		}
		if user == nil || !user.Enabled {
			return nil, "unavailable", nil
		}
		return &Target{
			UserID:    strconv.FormatInt(user.ID, 10),
			Extension: user.Extension,
			Name:      user.Name,
		}, "", nil

	case NodeTypeSchedule:
		if e.withinSchedule(node) {
			return nil, "open", nil
		}
		return nil, "closed", nil

	case NodeTypeHangup:
		return nil, "", nil

	default:
		return nil, "", fmt.Errorf("unknown node type %q", node.Type)
	}
}

// withinSchedule checks the current time against a schedule node's config:
//
//	{"days": [1,2,3,4,5], "start": "09:00", "end": "17:00", "timezone": "Europe/Stockholm"}
//
// Days use time.Weekday numbering (Sunday = 0). A malformed schedule is
// treated as closed.
func (e *FlowEvaluator) withinSchedule(node Node) bool {
	cfg := node.Data.Config
	if cfg == nil {
		return false
	}

	loc := time.UTC
	if tz, ok := cfg["timezone"].(string); ok && tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	now := e.now().In(loc)

	days, ok := cfg["days"].([]any)
	if !ok {
		return false
	}
	dayMatch := false
	for _, d := range days {
		if f, ok := d.(float64); ok && time.Weekday(int(f)) == now.Weekday() {
			dayMatch = true
			break
		}
	}
	if !dayMatch {
		return false
	}

	start, err1 := parseClock(cfg["start"])
	end, err2 := parseClock(cfg["end"])
	if err1 != nil || err2 != nil {
		return false
	}

	minutes := now.Hour()*60 + now.Minute()
	return minutes >= start && minutes < end
}

// parseClock parses an "HH:MM" config value into minutes since midnight.
func parseClock(v any) (int, error) {
	s, ok := v.(string)
	if !ok {
		return 0, errors.New("clock value is not a string")
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parsing clock %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
