package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	collector *Collector
	once      sync.Once
)

// Collector holds the marketplace metrics.
type Collector struct {
	OrdersTotal      *prometheus.CounterVec
	MatchesTotal     *prometheus.CounterVec
	SettlementsTotal *prometheus.CounterVec
	AnomaliesTotal   *prometheus.CounterVec

	RestingOrders *prometheus.GaugeVec
	SimClock      prometheus.Gauge
	SchedulerUp   prometheus.Gauge
	LockedTotal   prometheus.Gauge
	WSClients     prometheus.Gauge

	SubmitLatency *prometheus.HistogramVec
}

// Get returns the singleton collector, registering it on first use.
func Get() *Collector {
	once.Do(func() {
		collector = newCollector()
		collector.registerAll()
	})
	return collector
}

func newCollector() *Collector {
	c := &Collector{}

	c.OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "freightsim",
			Subsystem: "orders",
			Name:      "submitted_total",
			Help:      "Orders submitted, by book, side and admission result",
		},
		[]string{"book", "side", "result"},
	)
	c.MatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "freightsim",
			Subsystem: "matching",
			Name:      "matches_total",
			Help:      "Matches executed, by book and match type",
		},
		[]string{"book", "match_type"},
	)
	c.SettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "freightsim",
			Subsystem: "settlement",
			Name:      "executed_total",
			Help:      "Settlements executed, by mode (immediate or deferred)",
		},
		[]string{"mode"},
	)
	c.AnomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "freightsim",
			Subsystem: "anomalies",
			Name:      "recorded_total",
			Help:      "Invariant anomalies recorded, by kind",
		},
		[]string{"kind"},
	)

	c.RestingOrders = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "freightsim",
			Subsystem: "books",
			Name:      "resting_orders",
			Help:      "Resting orders per book and side",
		},
		[]string{"book", "side"},
	)
	c.SimClock = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "freightsim",
		Subsystem: "scheduler",
		Name:      "sim_clock_seconds",
		Help:      "Simulated clock position",
	})
	c.SchedulerUp = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "freightsim",
		Subsystem: "scheduler",
		Name:      "running",
		Help:      "1 while the scheduler worker is running",
	})
	c.LockedTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "freightsim",
		Subsystem: "ledger",
		Name:      "locked_total",
		Help:      "Sum of locked balances across all traders",
	})
	c.WSClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "freightsim",
		Subsystem: "stream",
		Name:      "clients_active",
		Help:      "Connected websocket clients",
	})

	c.SubmitLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "freightsim",
			Subsystem: "matching",
			Name:      "submit_duration_seconds",
			Help:      "End-to-end submission latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"book"},
	)

	return c
}

func (c *Collector) registerAll() {
	prometheus.MustRegister(c.OrdersTotal)
	prometheus.MustRegister(c.MatchesTotal)
	prometheus.MustRegister(c.SettlementsTotal)
	prometheus.MustRegister(c.AnomaliesTotal)
	prometheus.MustRegister(c.RestingOrders)
	prometheus.MustRegister(c.SimClock)
	prometheus.MustRegister(c.SchedulerUp)
	prometheus.MustRegister(c.LockedTotal)
	prometheus.MustRegister(c.WSClients)
	prometheus.MustRegister(c.SubmitLatency)
}

func (c *Collector) OrderSubmitted(book, side, result string) {
	c.OrdersTotal.WithLabelValues(book, side, result).Inc()
}

func (c *Collector) MatchExecuted(book, matchType string) {
	c.MatchesTotal.WithLabelValues(book, matchType).Inc()
}

func (c *Collector) SettlementExecuted(mode string) {
	c.SettlementsTotal.WithLabelValues(mode).Inc()
}

func (c *Collector) AnomalyRecorded(kind string) {
	c.AnomaliesTotal.WithLabelValues(kind).Inc()
}

func (c *Collector) SetRestingOrders(book, side string, n int) {
	c.RestingOrders.WithLabelValues(book, side).Set(float64(n))
}

func (c *Collector) SetSimClock(seconds int64) {
	c.SimClock.Set(float64(seconds))
}

func (c *Collector) SetSchedulerRunning(running bool) {
	if running {
		c.SchedulerUp.Set(1)
	} else {
		c.SchedulerUp.Set(0)
	}
}

func (c *Collector) SetLockedTotal(total float64) {
	c.LockedTotal.Set(total)
}

func (c *Collector) WSConnection(delta int) {
	c.WSClients.Add(float64(delta))
}

func (c *Collector) ObserveSubmitLatency(book string, seconds float64) {
	c.SubmitLatency.WithLabelValues(book).Observe(seconds)
}

// Package-level shortcuts for the scheduler gauges.

func SetSimClock(seconds int64) {
	Get().SetSimClock(seconds)
}

func SetSchedulerRunning(running bool) {
	Get().SetSchedulerRunning(running)
}

// Handler exposes the registry for the API server's /metrics route.
func Handler() http.Handler {
	Get()
	return promhttp.Handler()
}
