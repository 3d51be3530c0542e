package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Order flow metrics
	fillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sim_engine_fills_total",
			Help: "Total number of filled orders",
		},
		[]string{"symbol", "side"},
	)

	rejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sim_engine_rejections_total",
			Help: "Total number of rejected orders",
		},
		[]string{"symbol"},
	)

	closesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sim_engine_closes_total",
			Help: "Total number of position closes by reason",
		},
		[]string{"symbol", "reason"},
	)

	realizedPnL = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sim_engine_realized_pnl",
			Help:    "Distribution of realized PnL per closed position",
			Buckets: []float64{-1000, -500, -100, -50, -10, 0, 10, 50, 100, 500, 1000},
		},
		[]string{"symbol"},
	)

	// Account metrics
	accountEquity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sim_engine_account_equity",
			Help: "Account equity including unrealized PnL",
		},
		[]string{"account"},
	)

	frozenMargin = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sim_engine_frozen_margin",
			Help: "Margin currently reserved against open positions",
		},
		[]string{"account"},
	)

	openPositions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sim_engine_open_positions",
			Help: "Number of open positions",
		},
		[]string{"account"},
	)

	// Market data metrics
	markPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sim_engine_mark_price",
			Help: "Latest mark price per symbol",
		},
		[]string{"symbol"},
	)

	// Safety metrics
	breakerTripsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sim_engine_breaker_trips_total",
			Help: "Total number of circuit breaker activations",
		},
		[]string{"account"},
	)

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sim_engine_breaker_state",
			Help: "Circuit breaker state (0=ARMED, 1=TRIGGERED, 2=COOLDOWN)",
		},
		[]string{"account"},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sim_engine_errors_total",
			Help: "Total number of errors by category",
		},
		[]string{"category"},
	)
)

func init() {
	prometheus.MustRegister(fillsTotal)
	prometheus.MustRegister(rejectionsTotal)
	prometheus.MustRegister(closesTotal)
	prometheus.MustRegister(realizedPnL)
	prometheus.MustRegister(accountEquity)
	prometheus.MustRegister(frozenMargin)
	prometheus.MustRegister(openPositions)
	prometheus.MustRegister(markPrice)
	prometheus.MustRegister(breakerTripsTotal)
	prometheus.MustRegister(breakerState)
	prometheus.MustRegister(errorsTotal)
}

// MetricsHandler handles the Prometheus metrics endpoint
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// ServeHTTP serves the Prometheus metrics endpoint
func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// RecordFill records a filled order
func RecordFill(symbol, side string) {
	fillsTotal.WithLabelValues(symbol, side).Inc()
}

// RecordRejection records a rejected order
func RecordRejection(symbol string) {
	rejectionsTotal.WithLabelValues(symbol).Inc()
}

// RecordClose records a position close and its realized PnL
func RecordClose(symbol, reason string, pnl float64) {
	closesTotal.WithLabelValues(symbol, reason).Inc()
	realizedPnL.WithLabelValues(symbol).Observe(pnl)
}

// UpdateAccount updates the per-account gauges
func UpdateAccount(account string, equity, frozen float64, open int) {
	accountEquity.WithLabelValues(account).Set(equity)
	frozenMargin.WithLabelValues(account).Set(frozen)
	openPositions.WithLabelValues(account).Set(float64(open))
}

// UpdateMarkPrice updates the mark price gauge
func UpdateMarkPrice(symbol string, price float64) {
	markPrice.WithLabelValues(symbol).Set(price)
}

// RecordBreakerTrip records a circuit breaker activation
func RecordBreakerTrip(account string) {
	breakerTripsTotal.WithLabelValues(account).Inc()
}

// UpdateBreakerState updates the breaker state gauge
func UpdateBreakerState(account string, state int) {
	breakerState.WithLabelValues(account).Set(float64(state))
}

// RecordError records an error by category
func RecordError(category string) {
	errorsTotal.WithLabelValues(category).Inc()
}
