package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/formation-desk/api/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithSessionID(context.Background(), "cs_123")
	ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{TraceID: "abc"})
	rec := httptest.NewRecorder()

	err := NewError("step_incomplete", "choose a pricing\ntier", http.StatusUnprocessableEntity).
		WithDetails(map[string]any{"step": "pricing_tier", "status": 999})
	WriteError(ctx, rec, err)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "step_incomplete" || body["message"] != "choose a pricing tier" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["status"].(float64) != 422 {
		t.Fatalf("details must not override status, got %v", body["status"])
	}
	if body["step"] != "pricing_tier" || body["session_id"] != "cs_123" || body["trace_id"] != "abc" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestNewErrorDefaultsStatus(t *testing.T) {
	if got := NewError("x", "y", 0).Status; got != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", got)
	}
}
