package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/formation-desk/api/internal/platform/requestctx"
)

func TestParseCloudTraceContext(t *testing.T) {
	sc, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if sc.TraceID().String() != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace id %s", sc.TraceID())
	}
	if sc.SpanID().String() != "0000000000000001" || !sc.IsSampled() || !sc.IsRemote() {
		t.Fatalf("unexpected span context %+v", sc)
	}

	for _, header := range []string{"", "nope", "zz/1", "105445aa7843bc8bf206b12000100000/", "105445aa7843bc8bf206b12000100000/12345678901234567"} {
		if _, ok := parseCloudTraceContext(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestEventHookUsesRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx := requestctx.WithLogger(context.Background(), zap.New(core).With(zap.String("request_id", "r1")))

	hook := EventHook(zap.NewNop())
	hook(ctx, "checkout.reference_fetch_failed", map[string]any{"step": "jurisdiction", "error": errors.New("boom")})
	hook(ctx, "checkout.order_submitted", map[string]any{"orderId": "ord_1"})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zap.WarnLevel || entries[1].Level != zap.InfoLevel {
		t.Fatalf("unexpected levels %s %s", entries[0].Level, entries[1].Level)
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "r1" || fields["step"] != "jurisdiction" || fields["error"] != "boom" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestSessionContextMiddlewareAndMetrics(t *testing.T) {
	metrics := NewHTTPMetrics("formation_test")
	router := chi.NewRouter()
	router.Use(metrics.Middleware)
	router.With(SessionContextMiddleware("sessionId")).Get("/sessions/{sessionId}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(requestctx.SessionID(r.Context())))
	})
	router.Handle("/metrics", metrics.Handler())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/cs_abc", nil))
	if rec.Body.String() != "cs_abc" {
		t.Fatalf("expected session id in context, got %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `formation_test_http_requests_total{method="GET",route="/sessions/{sessionId}",status="200"} 1`) {
		t.Fatalf("expected route-labelled counter, got:\n%s", body)
	}
	if strings.Contains(body, "cs_abc") {
		t.Fatalf("session id leaked into metric labels")
	}
}

func TestRecoveryMiddlewareWritesJSON(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "internal_server_error") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}
