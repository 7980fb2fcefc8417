package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/vadiminshakov/dipbuyer/internal/domain"
)

func TestHandle(t *testing.T) {
	m := New(prometheus.NewRegistry())
	ctx := context.Background()

	view := domain.AssetView{ID: "WBTC", CurrentPrice: "97900.0000", PriceChangeFromATH: "-2.10", PurchaseCount: 2}

	m.Handle(ctx, domain.NewEvent(domain.LevelSuccess, domain.EventPurchase, "WBTC", "bought").WithPayload(view))
	m.Handle(ctx, domain.NewEvent(domain.LevelInfo, domain.EventPurchase, "WBTC", "drop detected"))

	failure := domain.NewEvent(domain.LevelError, domain.EventFailure, "WETH", "purchase failed")
	failure.ErrorKind = "insufficient_funds"
	m.Handle(ctx, failure)
	m.Handle(ctx, domain.NewEvent(domain.LevelSuccess, domain.EventSell, "WBTC", "sold"))
	m.Handle(ctx, domain.NewEvent(domain.LevelInfo, domain.EventStatus, "", "").WithPayload(domain.Status{Running: true}))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Purchases.WithLabelValues("WBTC")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sells.WithLabelValues("WBTC")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("WETH", "insufficient_funds")))
	assert.Equal(t, 97900.0, testutil.ToFloat64(m.Price.WithLabelValues("WBTC")))
	assert.Equal(t, -210.0, testutil.ToFloat64(m.Drawdown.WithLabelValues("WBTC")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PurchaseCount.WithLabelValues("WBTC")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Running))
}

func TestHandle_StateEvent(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Handle(context.Background(), domain.NewEvent(domain.LevelInfo, domain.EventState, "", "").WithPayload([]domain.AssetView{
		{ID: "WBTC", PurchaseCount: 1},
		{ID: "WETH", PurchaseCount: 3, CurrentPrice: "4000.0000"},
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PurchaseCount.WithLabelValues("WBTC")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PurchaseCount.WithLabelValues("WETH")))
	assert.Equal(t, 4000.0, testutil.ToFloat64(m.Price.WithLabelValues("WETH")))
}

func TestObserveCycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveCycle(1500 * time.Millisecond)

	assert.Equal(t, 1, testutil.CollectAndCount(m.CycleDuration))
}
