package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type stubCalls int

func (s stubCalls) ActiveCount() int { return int(s) }

type stubCount int

func (s stubCount) Count() int { return int(s) }

type stubHistory struct{}

func (stubHistory) CountByDirection(ctx context.Context) (map[string]int64, error) {
	return map[string]int64{"peer": 12, "pstn": 3}, nil
}

func (stubHistory) CountByDisposition(ctx context.Context) (map[string]int64, error) {
	return map[string]int64{"answered": 10, "missed": 5}, nil
}

func TestCollector(t *testing.T) {
	c := NewCollector(stubCalls(2), stubCount(5), stubCount(4), stubHistory{}, time.Now())

	expected := `
		# HELP voxera_active_calls Number of currently active call sessions (dialing through connecting)
		# TYPE voxera_active_calls gauge
		voxera_active_calls 2
		# HELP voxera_bound_extensions Number of extensions currently bound to a connected user
		# TYPE voxera_bound_extensions gauge
		voxera_bound_extensions 4
		# HELP voxera_call_outcomes_total Total number of calls recorded, by disposition
		# TYPE voxera_call_outcomes_total counter
		voxera_call_outcomes_total{disposition="answered"} 10
		voxera_call_outcomes_total{disposition="failed"} 0
		voxera_call_outcomes_total{disposition="missed"} 5
		voxera_call_outcomes_total{disposition="rejected"} 0
		# HELP voxera_calls_total Total number of calls recorded, by direction
		# TYPE voxera_calls_total counter
		voxera_calls_total{direction="peer"} 12
		voxera_calls_total{direction="pstn"} 3
		# HELP voxera_connected_clients Number of softphone clients with a live signaling connection
		# TYPE voxera_connected_clients gauge
		voxera_connected_clients 5
	`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"voxera_active_calls",
		"voxera_bound_extensions",
		"voxera_call_outcomes_total",
		"voxera_calls_total",
		"voxera_connected_clients",
	)
	if err != nil {
		t.Errorf("CollectAndCompare() mismatch: %v", err)
	}
}

func TestCollectorNilProviders(t *testing.T) {
	c := NewCollector(nil, nil, nil, nil, time.Now())

	// Only the uptime gauge is emitted.
	if got := testutil.CollectAndCount(c); got != 1 {
		t.Errorf("CollectAndCount() = %d, want 1", got)
	}
}
