package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/formation-desk/api/internal/domain"
	"github.com/formation-desk/api/internal/services"
)

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

var _ services.SystemService = (*stubSystemService)(nil)

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestHealthzReportsBuildAndUptime(t *testing.T) {
	booted := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	h := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{Version: "0.9.1", CommitSHA: "c0ffee", Environment: "dev", StartedAt: booted}),
		WithHealthClock(func() time.Time { return booted.Add(45 * time.Second) }),
	)

	rr := httptest.NewRecorder()
	h.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := decodeBody[healthzResponse](t, rr)
	want := healthzResponse{
		Status:      domain.HealthStatusOK,
		Version:     "0.9.1",
		CommitSHA:   "c0ffee",
		Environment: "dev",
		Uptime:      "45s",
		Timestamp:   "2025-06-01T12:00:45Z",
	}
	if body != want {
		t.Fatalf("healthz = %+v, want %+v", body, want)
	}
}

func TestReadyzStatusCodes(t *testing.T) {
	checkedAt := time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)
	cases := []struct {
		name        string
		report      services.SystemHealthReport
		wantCode    int
		wantStatus  string
		wantDetails []string
	}{
		{
			name: "all dependencies ok",
			report: services.SystemHealthReport{
				Status: domain.HealthStatusOK,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusOK, Latency: 8 * time.Millisecond, CheckedAt: checkedAt},
				},
			},
			wantCode:   http.StatusOK,
			wantStatus: domain.HealthStatusOK,
		},
		{
			name: "degraded backend stays in rotation",
			report: services.SystemHealthReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.SystemHealthCheck{
					"pubsub":    {Status: domain.HealthStatusDegraded, Error: "publish failed"},
					"firestore": {Status: domain.HealthStatusOK},
				},
			},
			wantCode:    http.StatusOK,
			wantStatus:  domain.HealthStatusDegraded,
			wantDetails: []string{"pubsub: publish failed"},
		},
		{
			name: "critical store down",
			report: services.SystemHealthReport{
				Status: domain.HealthStatusError,
				Checks: map[string]domain.SystemHealthCheck{
					"formationBackend": {Status: domain.HealthStatusDegraded, Error: "connection refused"},
					"firestore":        {Status: domain.HealthStatusError, Detail: "timeout"},
				},
			},
			wantCode:    http.StatusServiceUnavailable,
			wantStatus:  domain.HealthStatusError,
			wantDetails: []string{"firestore: error", "formationBackend: connection refused"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHealthHandlers(WithHealthSystemService(&stubSystemService{report: tc.report}))
			rr := httptest.NewRecorder()
			h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rr.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d", rr.Code, tc.wantCode)
			}
			body := decodeBody[readyzResponse](t, rr)
			if body.Status != tc.wantStatus {
				t.Fatalf("body status = %q, want %q", body.Status, tc.wantStatus)
			}
			if !reflect.DeepEqual(body.Details, tc.wantDetails) {
				t.Fatalf("details = %v, want %v", body.Details, tc.wantDetails)
			}
			if len(body.Checks) != len(tc.report.Checks) {
				t.Fatalf("checks = %v", body.Checks)
			}
		})
	}
}

func TestReadyzCheckLatencyInMilliseconds(t *testing.T) {
	h := NewHealthHandlers(WithHealthSystemService(&stubSystemService{report: services.SystemHealthReport{
		Status: domain.HealthStatusOK,
		Checks: map[string]domain.SystemHealthCheck{
			"firestore": {Status: domain.HealthStatusOK, Latency: 1500 * time.Microsecond},
		},
	}}))
	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	body := decodeBody[readyzResponse](t, rr)
	if got := body.Checks["firestore"].LatencyMS; got != 1.5 {
		t.Fatalf("latencyMs = %v, want 1.5", got)
	}
}

func TestReadyzReportFailure(t *testing.T) {
	h := NewHealthHandlers(WithHealthSystemService(&stubSystemService{err: context.DeadlineExceeded}))
	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	if body := decodeBody[map[string]any](t, rr); body["error"] != "health_unavailable" {
		t.Fatalf("error = %v, want health_unavailable", body["error"])
	}
}

func TestReadyzWithoutSystemService(t *testing.T) {
	rr := httptest.NewRecorder()
	NewHealthHandlers().Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if body := decodeBody[readyzResponse](t, rr); body.Status != domain.HealthStatusOK {
		t.Fatalf("status = %q, want ok", body.Status)
	}
}
