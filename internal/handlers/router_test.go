package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/formation-desk/api/internal/domain"
	"github.com/formation-desk/api/internal/services"
)

func TestNewRouterMounts(t *testing.T) {
	system := &stubSystemService{report: services.SystemHealthReport{Status: domain.HealthStatusOK}}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# HELP formation_up\n"))
	})
	catalogRoutes := func(r chi.Router) {
		r.Get("/catalog/pricing-tiers", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	}
	router := NewRouter(
		WithHealthHandlers(NewHealthHandlers(WithHealthSystemService(system))),
		WithMetricsHandler(metrics),
		WithCatalogRoutes(catalogRoutes),
	)

	cases := []struct {
		name      string
		method    string
		path      string
		wantCode  int
		wantError string
	}{
		{name: "liveness", method: http.MethodGet, path: "/healthz", wantCode: http.StatusOK},
		{name: "readiness", method: http.MethodGet, path: "/readyz", wantCode: http.StatusOK},
		{name: "metrics", method: http.MethodGet, path: "/metrics", wantCode: http.StatusOK},
		{name: "catalog registrar", method: http.MethodGet, path: "/api/v1/catalog/pricing-tiers", wantCode: http.StatusNoContent},
		{name: "checkout without registrar", method: http.MethodPost, path: "/api/v1/checkout/sessions", wantCode: http.StatusNotImplemented, wantError: "not_implemented"},
		{name: "unknown route", method: http.MethodGet, path: "/api/v2/anything", wantCode: http.StatusNotFound, wantError: "route_not_found"},
		{name: "wrong method", method: http.MethodPost, path: "/healthz", wantCode: http.StatusMethodNotAllowed, wantError: "method_not_allowed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
			if rr.Code != tc.wantCode {
				t.Fatalf("%s %s = %d, want %d (%s)", tc.method, tc.path, rr.Code, tc.wantCode, rr.Body.String())
			}
			if tc.wantError == "" {
				return
			}
			if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
				t.Fatalf("content-type = %q, want application/json", ct)
			}
			if body := decodeBody[map[string]any](t, rr); body["error"] != tc.wantError {
				t.Fatalf("error = %v, want %s", body["error"], tc.wantError)
			}
		})
	}
}

func TestNewRouterWithoutMetricsHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	NewRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestNewRouterRunsGlobalMiddleware(t *testing.T) {
	var seenRequestID string
	capture := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seenRequestID = r.Header.Get("X-Request-Id")
			w.Header().Set("X-Formation", "1")
			next.ServeHTTP(w, r)
		})
	}
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "req-42")

	rr := httptest.NewRecorder()
	NewRouter(WithMiddlewares(capture)).ServeHTTP(rr, req)

	if rr.Header().Get("X-Formation") != "1" {
		t.Fatalf("expected middleware header on response")
	}
	if seenRequestID != "req-42" {
		t.Fatalf("request id = %q, want req-42", seenRequestID)
	}
}
