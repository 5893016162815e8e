package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNodesByStatusLabels(t *testing.T) {
	NodesByStatus.Reset()
	NodesByStatus.WithLabelValues("container", "1").Set(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(NodesByStatus.WithLabelValues("container", "1")))
}

func TestHandlerServesExposition(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "clustdock_nodes")
}
