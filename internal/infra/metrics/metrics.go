package metrics

import (
	"net/http"

	"session_broadcaster_bot/internal/app"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes Prometheus metrics for fan-out runs and bot commands.
type Collector struct {
	registry      *prometheus.Registry
	actionsTotal  *prometheus.CounterVec
	commandsTotal *prometheus.CounterVec
}

// NewCollector registers the fan-out counters and a gauge that reports
// sessions() on every scrape.
func NewCollector(sessions func() int) (*Collector, error) {
	registry := prometheus.NewRegistry()

	actionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "broadcaster",
		Subsystem: "fanout",
		Name:      "actions_total",
		Help:      "Fan-out outcomes per action.",
	}, []string{"action", "outcome"})

	commandsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "broadcaster",
		Subsystem: "bot",
		Name:      "commands_total",
		Help:      "Control bot commands received, by authorization result.",
	}, []string{"command", "authorized"})

	sessionsGauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "broadcaster",
		Name:      "sessions",
		Help:      "Number of live sessions in the pool.",
	}, func() float64 { return float64(sessions()) })

	for _, c := range []prometheus.Collector{actionsTotal, commandsTotal, sessionsGauge} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return &Collector{
		registry:      registry,
		actionsTotal:  actionsTotal,
		commandsTotal: commandsTotal,
	}, nil
}

// ObserveOutcome implements app.FanoutObserver.
func (c *Collector) ObserveOutcome(action app.Action, outcome app.Outcome) {
	c.actionsTotal.WithLabelValues(string(action), string(outcome)).Inc()
}

func (c *Collector) ObserveCommand(command string, authorized bool) {
	label := "false"
	if authorized {
		label = "true"
	}
	c.commandsTotal.WithLabelValues(command, label).Inc()
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
