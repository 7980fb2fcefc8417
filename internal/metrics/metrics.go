// Package metrics exposes bot activity as Prometheus metrics fed from the event bus.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/dipbuyer/internal/domain"
)

const namespace = "dipbuyer"

// Metrics holds every collector registered by the bot.
type Metrics struct {
	Purchases     *prometheus.CounterVec
	Sells         *prometheus.CounterVec
	Errors        *prometheus.CounterVec
	Price         *prometheus.GaugeVec
	Drawdown      *prometheus.GaugeVec
	PurchaseCount *prometheus.GaugeVec
	CycleDuration prometheus.Histogram
	Running       prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Purchases: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchases_total",
			Help:      "Completed purchases per asset",
		}, []string{"asset"}),
		Sells: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sells_total",
			Help:      "Completed manual sells per asset",
		}, []string{"asset"}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracker_errors_total",
			Help:      "Failures reported by trackers, by error kind",
		}, []string{"asset", "kind"}),
		Price: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "asset_price",
			Help:      "Last quoted stablecoin price per asset",
		}, []string{"asset"}),
		Drawdown: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "asset_drawdown_bps",
			Help:      "Current drawdown from the all-time high in basis points",
		}, []string{"asset"}),
		PurchaseCount: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "purchase_count",
			Help:      "Purchases made so far per asset",
		}, []string{"asset"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a full check cycle",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		Running: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running",
			Help:      "1 while cycles are scheduled",
		}),
	}
}

// ObserveCycle records the duration of a check cycle.
func (m *Metrics) ObserveCycle(d time.Duration) {
	m.CycleDuration.Observe(d.Seconds())
}

// Handle updates collectors from a bus event.
func (m *Metrics) Handle(_ context.Context, e domain.Event) {
	switch e.Kind {
	case domain.EventPurchase:
		if e.Level == domain.LevelSuccess {
			m.Purchases.WithLabelValues(e.AssetID).Inc()
		}
	case domain.EventSell:
		if e.Level == domain.LevelSuccess {
			m.Sells.WithLabelValues(e.AssetID).Inc()
		}
	case domain.EventFailure:
		kind := e.ErrorKind
		if kind == "" {
			kind = "other"
		}
		m.Errors.WithLabelValues(e.AssetID, kind).Inc()
	case domain.EventStatus:
		if s, ok := e.Payload.(domain.Status); ok {
			m.Running.Set(boolGauge(s.Running))
		}
	case domain.EventState:
		if views, ok := e.Payload.([]domain.AssetView); ok {
			for _, v := range views {
				m.observeView(v)
			}
		}
		return
	}

	if v, ok := e.Payload.(domain.AssetView); ok {
		m.observeView(v)
	}
}

func (m *Metrics) observeView(v domain.AssetView) {
	m.PurchaseCount.WithLabelValues(v.ID).Set(float64(v.PurchaseCount))

	if price, err := decimal.NewFromString(v.CurrentPrice); err == nil {
		m.Price.WithLabelValues(v.ID).Set(price.InexactFloat64())
	}
	if pct, err := decimal.NewFromString(v.PriceChangeFromATH); err == nil {
		m.Drawdown.WithLabelValues(v.ID).Set(float64(domain.PercentToBps(pct)))
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
