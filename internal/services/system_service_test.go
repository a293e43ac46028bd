package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/mwesox/menuvo-platform-sub005/internal/domain"
)

type fakeHealthRepo struct {
	report domain.SystemHealthReport
	err    error
}

func (f *fakeHealthRepo) Collect(context.Context) (domain.SystemHealthReport, error) {
	return f.report, f.err
}

func TestSystemServiceHealthReport(t *testing.T) {
	started := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	now := started.Add(45 * time.Minute)

	repo := &fakeHealthRepo{
		report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK},
				"pubsub":    {Status: domain.HealthStatusOK},
			},
		},
	}

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		Build:            BuildInfo{Version: "1.4.0", CommitSHA: "abc1234", Environment: "test", StartedAt: started},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok status, got %s", report.Status)
	}
	if report.Version != "1.4.0" || report.CommitSHA != "abc1234" || report.Environment != "test" {
		t.Fatalf("expected build info filled in, got %+v", report)
	}
	if report.Uptime != 45*time.Minute {
		t.Fatalf("expected uptime from start timestamp, got %s", report.Uptime)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("expected generated timestamp from clock, got %s", report.GeneratedAt)
	}
}

func TestSystemServiceDerivesStatusFromChecks(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]domain.SystemHealthCheck
		want   string
	}{
		{
			name:   "no checks defaults to ok",
			checks: nil,
			want:   domain.HealthStatusOK,
		},
		{
			name: "degraded dependency degrades the report",
			checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK},
				"pubsub":    {Status: domain.HealthStatusDegraded},
			},
			want: domain.HealthStatusDegraded,
		},
		{
			name: "failed dependency wins over degraded",
			checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusError},
				"pubsub":    {Status: domain.HealthStatusDegraded},
			},
			want: domain.HealthStatusError,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := &fakeHealthRepo{report: domain.SystemHealthReport{Checks: tc.checks}}
			svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo})
			if err != nil {
				t.Fatalf("NewSystemService: %v", err)
			}

			report, err := svc.HealthReport(context.Background())
			if err != nil {
				t.Fatalf("HealthReport: %v", err)
			}
			if report.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, report.Status)
			}
		})
	}
}

func TestSystemServiceRepositoryFailure(t *testing.T) {
	repo := &fakeHealthRepo{err: errors.New("probe failed")}
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	if _, err := svc.HealthReport(context.Background()); err == nil {
		t.Fatalf("expected collection error to propagate")
	}
}

func TestNewSystemServiceRequiresRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected error without health repository")
	}
}
