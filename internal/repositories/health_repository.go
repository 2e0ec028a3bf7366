package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/simplecartfees/api/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// DependencyCheck probes one backend (fee store, selection store, tax source) during readiness checks.
type DependencyCheck struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// DependencyHealthOption customises NewDependencyHealthRepository.
type DependencyHealthOption func(*probeSet)

// WithDependencyTimeout applies to checks that carry no Timeout of their own.
func WithDependencyTimeout(timeout time.Duration) DependencyHealthOption {
	return func(p *probeSet) {
		if timeout > 0 {
			p.fallbackTimeout = timeout
		}
	}
}

func WithDependencyClock(clock func() time.Time) DependencyHealthOption {
	return func(p *probeSet) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// probeSet runs every dependency check in parallel and folds the results into one report.
type probeSet struct {
	checks          []DependencyCheck
	fallbackTimeout time.Duration
	clock           func() time.Time
}

var _ HealthRepository = (*probeSet)(nil)

// NewDependencyHealthRepository rejects empty, unnamed, nil and duplicate checks.
func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health repository: at least one dependency check is required")
	}
	p := &probeSet{fallbackTimeout: defaultProbeTimeout, clock: time.Now}
	names := make(map[string]bool, len(checks))
	for _, check := range checks {
		check.Name = strings.TrimSpace(check.Name)
		switch {
		case check.Name == "":
			return nil, errors.New("health repository: dependency check missing name")
		case check.Check == nil:
			return nil, fmt.Errorf("health repository: dependency %s missing check function", check.Name)
		case names[check.Name]:
			return nil, fmt.Errorf("health repository: duplicate dependency %s", check.Name)
		}
		names[check.Name] = true
		p.checks = append(p.checks, check)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

func (p *probeSet) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if ctx == nil {
		return domain.SystemHealthReport{}, errors.New("health repository: context is required")
	}

	report := domain.SystemHealthReport{
		Status: domain.HealthStatusOK,
		Checks: make(map[string]domain.SystemHealthCheck, len(p.checks)),
	}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, check := range p.checks {
		g.Go(func() error {
			result := p.run(ctx, check)
			mu.Lock()
			defer mu.Unlock()
			report.Checks[check.Name] = result
			if severity(result.Status) > severity(report.Status) {
				report.Status = result.Status
			}
			return nil
		})
	}
	_ = g.Wait()
	report.GeneratedAt = p.clock()
	return report, nil
}

func (p *probeSet) run(ctx context.Context, check DependencyCheck) domain.SystemHealthCheck {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = p.fallbackTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := p.clock()
	err := check.Check(probeCtx)
	finished := p.clock()
	if err == nil {
		err = probeCtx.Err()
	}

	result := domain.SystemHealthCheck{Latency: finished.Sub(started), CheckedAt: finished}
	result.Status, result.Detail = classifyProbe(err)
	if err != nil {
		result.Error = err.Error()
	}
	return result
}

// classifyProbe treats a probe that ran out of time as an outage and any other failure as a
// degraded dependency.
func classifyProbe(err error) (status, detail string) {
	switch {
	case err == nil:
		return domain.HealthStatusOK, "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return domain.HealthStatusError, "timeout"
	case errors.Is(err, context.Canceled):
		return domain.HealthStatusError, "cancelled"
	default:
		return domain.HealthStatusDegraded, err.Error()
	}
}

func severity(status string) int {
	switch status {
	case domain.HealthStatusError:
		return 2
	case domain.HealthStatusDegraded:
		return 1
	}
	return 0
}
