package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobalIsSingleton(t *testing.T) {
	assert.Same(t, Global(), Global())
}

func TestBookkeepingFailuresExposed(t *testing.T) {
	m := Global()
	before := testutil.ToFloat64(m.BookkeepingFailures.WithLabelValues("debit"))
	m.BookkeepingFailures.WithLabelValues("debit").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(m.BookkeepingFailures.WithLabelValues("debit")))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "halalchat_bookkeeping_failures_total")
}
