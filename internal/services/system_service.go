package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/simplecartfees/api/internal/domain"
	"github.com/simplecartfees/api/internal/repositories"
)

const feeConfigurationCheck = "fee_configuration"

// BuildInfo is the release metadata echoed by the health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators for NewSystemService. Fees is optional; when set the
// report includes the live fee revision and a fee_configuration check.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Fees             repositories.FeeConfigRepository
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	health repositories.HealthRepository
	fees   repositories.FeeConfigRepository
	now    func() time.Time
	build  BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService builds the service behind /readyz.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	svc := &systemService{
		health: deps.HealthRepository,
		fees:   deps.Fees,
		now:    func() time.Time { return clock().UTC() },
		build:  deps.Build,
	}
	if svc.build.StartedAt.IsZero() {
		svc.build.StartedAt = svc.now()
	}
	return svc, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}
	report, err := s.health.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	now := s.now()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	} else {
		report.GeneratedAt = report.GeneratedAt.UTC()
	}
	if strings.TrimSpace(report.Version) == "" {
		report.Version = s.build.Version
	}
	if strings.TrimSpace(report.CommitSHA) == "" {
		report.CommitSHA = s.build.CommitSHA
	}
	if strings.TrimSpace(report.Environment) == "" {
		report.Environment = s.build.Environment
	}
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}

	if s.fees != nil {
		report.Checks[feeConfigurationCheck] = s.feeConfigurationCheck(ctx, &report)
		// The repository's own status does not know about this check.
		report.Status = ""
	}
	if strings.TrimSpace(report.Status) == "" {
		report.Status = overallStatus(report.Checks)
	}
	return report, nil
}

// feeConfigurationCheck loads the live snapshot and records its revision and active fee count.
func (s *systemService) feeConfigurationCheck(ctx context.Context, report *SystemHealthReport) domain.SystemHealthCheck {
	start := s.now()
	cfg, err := s.fees.Load(ctx)
	end := s.now()
	check := domain.SystemHealthCheck{Latency: end.Sub(start), CheckedAt: end}
	if err != nil {
		check.Status = domain.HealthStatusError
		check.Detail = "fee configuration unavailable"
		check.Error = err.Error()
		return check
	}

	active := 0
	for _, fee := range cfg.Fees {
		if fee.Active {
			active++
		}
	}
	report.FeeRevision = cfg.Revision
	report.ActiveFees = active
	check.Status = domain.HealthStatusOK
	check.Detail = fmt.Sprintf("revision %d, %d of %d fees active", cfg.Revision, active, len(cfg.Fees))
	return check
}

// overallStatus is error if any check errored, degraded if any check is not ok, else ok.
func overallStatus(checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusError:
			return domain.HealthStatusError
		case domain.HealthStatusOK, "":
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
