package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShopMetricsExposed(t *testing.T) {
	reg := NewRegistry()
	m := New(reg)

	m.Purchases.WithLabelValues("single", "ok").Inc()
	m.UnitsSold.Add(3)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Purchases.WithLabelValues("single", "ok")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.UnitsSold))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sweetshop_units_sold_total 3")
}
