package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/formation-desk/api/internal/domain"
	"github.com/formation-desk/api/internal/repositories"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
	calls  int
}

var _ repositories.HealthRepository = (*stubHealthRepository)(nil)

func (s *stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	s.calls++
	return s.report, s.err
}

func checksOf(statuses map[string]string) map[string]domain.SystemHealthCheck {
	checks := make(map[string]domain.SystemHealthCheck, len(statuses))
	for name, status := range statuses {
		checks[name] = domain.SystemHealthCheck{Status: status}
	}
	return checks
}

func TestSystemServiceStampsBuildMetadata(t *testing.T) {
	booted := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	now := booted.Add(90 * time.Second)
	repo := &stubHealthRepository{report: domain.SystemHealthReport{
		Checks: checksOf(map[string]string{"firestore": domain.HealthStatusOK}),
	}}

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		Build:            BuildInfo{Version: "2.4.0", CommitSHA: "f00dbab", Environment: "staging", StartedAt: booted},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("status = %q, want ok", report.Status)
	}
	if report.Version != "2.4.0" || report.CommitSHA != "f00dbab" || report.Environment != "staging" {
		t.Fatalf("unexpected build metadata: %+v", report)
	}
	if report.Uptime != 90*time.Second {
		t.Fatalf("uptime = %s, want 1m30s", report.Uptime)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("generatedAt = %s, want %s", report.GeneratedAt, now)
	}
}

func TestSystemServiceKeepsRepositoryMetadata(t *testing.T) {
	repo := &stubHealthRepository{report: domain.SystemHealthReport{
		Version: "from-probe",
		Status:  domain.HealthStatusDegraded,
	}}
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo, Build: BuildInfo{Version: "from-build"}})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Version != "from-probe" {
		t.Fatalf("version = %q, want from-probe", report.Version)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("status = %q, want degraded", report.Status)
	}
	if report.Checks == nil {
		t.Fatalf("expected non-nil checks map")
	}
}

func TestSystemServiceRollsUpStatus(t *testing.T) {
	cases := []struct {
		name   string
		checks map[string]string
		want   string
	}{
		{name: "no checks", want: domain.HealthStatusOK},
		{name: "all ok", checks: map[string]string{"firestore": domain.HealthStatusOK, "pubsub": domain.HealthStatusOK}, want: domain.HealthStatusOK},
		{name: "one degraded", checks: map[string]string{"pubsub": domain.HealthStatusDegraded, "firestore": domain.HealthStatusOK}, want: domain.HealthStatusDegraded},
		{name: "unknown counts as degraded", checks: map[string]string{"formationBackend": "flaky"}, want: domain.HealthStatusDegraded},
		{name: "critical wins", checks: map[string]string{"formationBackend": domain.HealthStatusDegraded, "firestore": domain.HealthStatusError}, want: domain.HealthStatusError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &stubHealthRepository{report: domain.SystemHealthReport{Checks: checksOf(tc.checks)}}
			svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo})
			if err != nil {
				t.Fatalf("NewSystemService: %v", err)
			}
			report, err := svc.HealthReport(context.Background())
			if err != nil {
				t.Fatalf("HealthReport: %v", err)
			}
			if report.Status != tc.want {
				t.Fatalf("status = %q, want %q", report.Status, tc.want)
			}
			if repo.calls != 1 {
				t.Fatalf("collect calls = %d, want 1", repo.calls)
			}
		})
	}
}

func TestSystemServicePropagatesProbeFailure(t *testing.T) {
	boom := errors.New("probe collection failed")
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepository{err: boom}})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestNewSystemServiceRequiresHealthRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected error without health repository")
	}
}
