package core

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// The processor delivery URL is configured once on the payment processor, so
// webhook routes mount at the root rather than inside the versioned group.
func TestMountRoutes_WebhooksMountAtRoot(t *testing.T) {
	s := newTestServer(t)
	s.WebhookRouteRegistrars = append(s.WebhookRouteRegistrars, func(r chi.Router) {
		r.Post("/webhooks/payments", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})
	s.PublicRouteRegistrars = append(s.PublicRouteRegistrars, func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})
	s.MountRoutes()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/payments", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/webhooks/payments", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMountRoutes_HealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.MountRoutes()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
