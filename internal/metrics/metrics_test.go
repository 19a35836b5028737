package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveCartMutation(t *testing.T) {
	before := testutil.ToFloat64(CartMutationsTotal.WithLabelValues("add", OutcomeError))
	ObserveCartMutation("add", errors.New("boom"))
	ObserveCartMutation("add", nil)
	assert.Equal(t, before+1, testutil.ToFloat64(CartMutationsTotal.WithLabelValues("add", OutcomeError)))
}

func TestObserveHTTPRequest_GroupsStatus(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/cart", "4xx"))
	ObserveHTTPRequest("GET", "/api/v1/cart", 409, 10*time.Millisecond)
	ObserveHTTPRequest("GET", "/api/v1/cart", 404, 10*time.Millisecond)
	assert.Equal(t, before+2, testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/cart", "4xx")))
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "2xx", statusLabel(204))
	assert.Equal(t, "3xx", statusLabel(302))
	assert.Equal(t, "4xx", statusLabel(422))
	assert.Equal(t, "5xx", statusLabel(502))
}
