package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/v1/reports/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/reports/"+id, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues(http.MethodGet, "/v1/reports/{id}", "404")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.Requests.WithLabelValues(http.MethodPost, "/v1/export", "200").Inc()

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "mismobridge_http_requests_total"))
}
