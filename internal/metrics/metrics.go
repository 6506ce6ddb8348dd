// Package metrics exposes Prometheus collectors fed by committed engine
// events and by the HTTP layer.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"parlay-pool/internal/model"
)

type Collector struct {
	reg prometheus.Gatherer

	events     *prometheus.CounterVec
	stakes     prometheus.Counter
	legs       prometheus.Histogram
	multiplier prometheus.Histogram
	payouts    *prometheus.CounterVec
	requests   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// ReserveFunc reports the reserve's free balance and locked bonus.
type ReserveFunc func() (balance, locked int64)

func New(reg *prometheus.Registry, reserve ReserveFunc) *Collector {
	c := &Collector{
		reg: reg,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parlay_events_total",
			Help: "Committed engine events by type.",
		}, []string{"type"}),
		stakes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parlay_stake_units_total",
			Help: "Token units staked on accepted bets.",
		}),
		legs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "parlay_bet_legs",
			Help:    "Legs per accepted bet.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		multiplier: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "parlay_locked_multiplier",
			Help:    "Multiplier locked at placement, as a ratio.",
			Buckets: []float64{1, 1.1, 1.2, 1.3, 1.5, 1.9, 2.2, 2.5},
		}),
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parlay_payout_units_total",
			Help: "Token units paid out, by path.",
		}, []string{"path"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(c.events, c.stakes, c.legs, c.multiplier, c.payouts, c.requests, c.latency)
	if reserve != nil {
		reg.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "parlay_reserve_balance_units",
				Help: "Free protocol reserve balance.",
			}, func() float64 { b, _ := reserve(); return float64(b) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "parlay_reserve_locked_units",
				Help: "Reserve locked for parlay bonuses.",
			}, func() float64 { _, l := reserve(); return float64(l) }),
		)
	}
	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// ObserveRequest records one served HTTP request.
func (c *Collector) ObserveRequest(method, route string, status int, d time.Duration) {
	c.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.latency.WithLabelValues(method, route).Observe(d.Seconds())
}

func (c *Collector) Publish(_ context.Context, ev model.Event) {
	c.events.WithLabelValues(ev.Type).Inc()
	p, _ := ev.Payload.(map[string]any)
	switch ev.Type {
	case model.EvBetPlaced:
		c.stakes.Add(num(p, "stake"))
		c.legs.Observe(num(p, "legs"))
		c.multiplier.Observe(num(p, "locked_multiplier") / float64(model.OneX))
	case model.EvWinningsClaimed:
		c.payouts.WithLabelValues("claim").Add(num(p, "final_payout"))
	case model.EvBetSwept:
		c.payouts.WithLabelValues("sweep").Add(num(p, "payout"))
	}
}

func num(p map[string]any, key string) float64 {
	switch v := p[key].(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case model.Multiplier:
		return float64(v)
	case float64:
		return v
	}
	return 0
}
