package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ActiveCallsProvider exposes the number of active call sessions.
type ActiveCallsProvider interface {
	ActiveCount() int
}

// ClientCounter exposes the number of connected softphone clients.
type ClientCounter interface {
	Count() int
}

// ExtensionCounter exposes the number of currently bound extensions.
type ExtensionCounter interface {
	Count() int
}

// HistoryCounter returns call-history counts grouped by a column.
type HistoryCounter interface {
	CountByDirection(ctx context.Context) (map[string]int64, error)
	CountByDisposition(ctx context.Context) (map[string]int64, error)
}

// Collector is a prometheus.Collector that gathers Voxera metrics at
// scrape time. Any provider may be nil if unavailable.
type Collector struct {
	calls      ActiveCallsProvider
	clients    ClientCounter
	extensions ExtensionCounter
	history    HistoryCounter
	startTime  time.Time

	activeCallsDesc      *prometheus.Desc
	connectedClientsDesc *prometheus.Desc
	boundExtensionsDesc  *prometheus.Desc
	callsTotalDesc       *prometheus.Desc
	callOutcomesDesc     *prometheus.Desc
	uptimeDesc           *prometheus.Desc
}

// NewCollector creates a metrics collector.
func NewCollector(
	calls ActiveCallsProvider,
	clients ClientCounter,
	extensions ExtensionCounter,
	history HistoryCounter,
	startTime time.Time,
) *Collector {
	return &Collector{
		calls:      calls,
		clients:    clients,
		extensions: extensions,
		history:    history,
		startTime:  startTime,

		activeCallsDesc: prometheus.NewDesc(
			"voxera_active_calls",
			"Number of currently active call sessions (dialing through connecting)",
			nil, nil,
		),
		connectedClientsDesc: prometheus.NewDesc(
			"voxera_connected_clients",
			"Number of softphone clients with a live signaling connection",
			nil, nil,
		),
		boundExtensionsDesc: prometheus.NewDesc(
			"voxera_bound_extensions",
			"Number of extensions currently bound to a connected user",
			nil, nil,
		),
		callsTotalDesc: prometheus.NewDesc(
			"voxera_calls_total",
			"Total number of calls recorded, by direction",
			[]string{"direction"}, nil,
		),
		callOutcomesDesc: prometheus.NewDesc(
			"voxera_call_outcomes_total",
			"Total number of calls recorded, by disposition",
			[]string{"disposition"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"voxera_uptime_seconds",
			"Seconds since the Voxera process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeCallsDesc
	ch <- c.connectedClientsDesc
	ch <- c.boundExtensionsDesc
	ch <- c.callsTotalDesc
	ch <- c.callOutcomesDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. Providers are queried at
// scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.calls != nil {
		ch <- prometheus.MustNewConstMetric(
			c.activeCallsDesc, prometheus.GaugeValue,
			float64(c.calls.ActiveCount()),
		)
	}

	if c.clients != nil {
		ch <- prometheus.MustNewConstMetric(
			c.connectedClientsDesc, prometheus.GaugeValue,
			float64(c.clients.Count()),
		)
	}

	if c.extensions != nil {
		ch <- prometheus.MustNewConstMetric(
			c.boundExtensionsDesc, prometheus.GaugeValue,
			float64(c.extensions.Count()),
		)
	}

	if c.history != nil {
		if counts, err := c.history.CountByDirection(ctx); err != nil {
			slog.Error("metrics: counting calls by direction", "error", err)
		} else {
			for _, dir := range []string{"peer", "pstn"} {
				ch <- prometheus.MustNewConstMetric(
					c.callsTotalDesc, prometheus.CounterValue,
					float64(counts[dir]), dir,
				)
			}
		}

		if counts, err := c.history.CountByDisposition(ctx); err != nil {
			slog.Error("metrics: counting calls by disposition", "error", err)
		} else {
			for _, d := range []string{"answered", "rejected", "failed", "missed"} {
				ch <- prometheus.MustNewConstMetric(
					c.callOutcomesDesc, prometheus.CounterValue,
					float64(counts[d]), d,
				)
			}
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
