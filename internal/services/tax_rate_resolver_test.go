package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/simplecartfees/api/internal/domain"
)

func TestStaticTaxRateResolverSumsClassRates(t *testing.T) {
	resolver := StaticTaxRateResolver{Table: domain.TaxTable{
		Enabled: true,
		Classes: map[string][]domain.TaxRate{
			domain.StandardTaxClass: {{Name: "state", Rate: dec("6")}, {Name: "county", Rate: dec("1.5")}},
			"zero-rate":             {{Name: "zero", Rate: dec("0")}},
		},
	}}

	if got := resolver.AggregateRate(context.Background(), ""); !got.Equal(dec("7.5")) {
		t.Fatalf("expected 7.5 for standard class, got %s", got)
	}
	if got := resolver.AggregateRate(context.Background(), "Zero-Rate"); !got.IsZero() {
		t.Fatalf("expected 0 for zero-rate class, got %s", got)
	}
	if got := resolver.AggregateRate(context.Background(), "unknown"); !got.IsZero() {
		t.Fatalf("expected 0 for unknown class, got %s", got)
	}
}

func TestStaticTaxRateResolverDisabledTaxes(t *testing.T) {
	resolver := StaticTaxRateResolver{Table: domain.TaxTable{
		Enabled: false,
		Classes: map[string][]domain.TaxRate{domain.StandardTaxClass: {{Name: "vat", Rate: dec("21")}}},
	}}
	if got := resolver.AggregateRate(context.Background(), ""); !got.IsZero() {
		t.Fatalf("expected 0 when taxes are disabled, got %s", got)
	}
}

func TestValidateTaxTableRejectsOutOfRangeRates(t *testing.T) {
	table := domain.TaxTable{Enabled: true, Classes: map[string][]domain.TaxRate{
		"reduced": {{Name: "bad", Rate: dec("-150")}},
	}}
	if err := ValidateTaxTable(table); !errors.Is(err, ErrTaxRateOutOfRange) {
		t.Fatalf("expected ErrTaxRateOutOfRange, got %v", err)
	}
}

func TestTaxTableResolverCachesUntilTTL(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	source := &stubTaxTableSource{table: rateTable(map[string]string{"": "21"}).Table}
	resolver, err := NewTaxTableResolver(TaxTableResolverDeps{
		Source:   source,
		CacheTTL: time.Minute,
		Clock:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewTaxTableResolver: %v", err)
	}

	for i := 0; i < 3; i++ {
		if got := resolver.AggregateRate(context.Background(), ""); !got.Equal(dec("21")) {
			t.Fatalf("expected 21, got %s", got)
		}
	}
	if source.calls != 1 {
		t.Fatalf("expected one load, got %d", source.calls)
	}

	now = now.Add(2 * time.Minute)
	resolver.AggregateRate(context.Background(), "")
	if source.calls != 2 {
		t.Fatalf("expected reload after ttl, got %d loads", source.calls)
	}

	resolver.Invalidate()
	resolver.AggregateRate(context.Background(), "")
	if source.calls != 3 {
		t.Fatalf("expected reload after invalidate, got %d loads", source.calls)
	}
}

func TestTaxTableResolverFallsBack(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	source := &stubTaxTableSource{table: rateTable(map[string]string{"": "10"}).Table}
	var logged []string
	resolver, err := NewTaxTableResolver(TaxTableResolverDeps{
		Source:   source,
		CacheTTL: time.Minute,
		Clock:    func() time.Time { return now },
		Logger: func(_ context.Context, msg string, _ map[string]any) {
			logged = append(logged, msg)
		},
	})
	if err != nil {
		t.Fatalf("NewTaxTableResolver: %v", err)
	}
	if got := resolver.AggregateRate(context.Background(), ""); !got.Equal(dec("10")) {
		t.Fatalf("expected 10, got %s", got)
	}

	source.err = errors.New("backend down")
	now = now.Add(5 * time.Minute)
	if got := resolver.AggregateRate(context.Background(), ""); !got.Equal(dec("10")) {
		t.Fatalf("expected stale rate 10, got %s", got)
	}
	if len(logged) != 1 {
		t.Fatalf("expected load failure to be logged once, got %d", len(logged))
	}

	cold, err := NewTaxTableResolver(TaxTableResolverDeps{Source: &stubTaxTableSource{err: errors.New("backend down")}})
	if err != nil {
		t.Fatalf("NewTaxTableResolver: %v", err)
	}
	if got := cold.AggregateRate(context.Background(), ""); !got.IsZero() {
		t.Fatalf("expected 0 without a cached table, got %s", got)
	}
}

// alternatingTaxTableSource fails every second load.
type alternatingTaxTableSource struct {
	table domain.TaxTable
	calls atomic.Int64
}

func (s *alternatingTaxTableSource) LoadTaxTable(context.Context) (domain.TaxTable, error) {
	if s.calls.Add(1)%2 == 0 {
		return domain.TaxTable{}, errors.New("backend down")
	}
	return s.table, nil
}

func TestTaxTableResolverConcurrentReloads(t *testing.T) {
	source := &alternatingTaxTableSource{table: rateTable(map[string]string{"": "10"}).Table}
	var failures atomic.Int64
	resolver, err := NewTaxTableResolver(TaxTableResolverDeps{
		Source:   source,
		CacheTTL: time.Nanosecond,
		Logger: func(context.Context, string, map[string]any) {
			failures.Add(1)
		},
	})
	if err != nil {
		t.Fatalf("NewTaxTableResolver: %v", err)
	}
	if got := resolver.AggregateRate(context.Background(), ""); !got.Equal(dec("10")) {
		t.Fatalf("expected 10 on first load, got %s", got)
	}

	var wg sync.WaitGroup
	errs := make(chan string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if got := resolver.AggregateRate(context.Background(), ""); !got.Equal(dec("10")) {
					errs <- got.String()
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for got := range errs {
		t.Fatalf("expected cached or fresh rate 10, got %s", got)
	}
	if failures.Load() == 0 {
		t.Fatalf("expected some loads to fail and fall back to the cached table")
	}
}

func TestTaxTableResolverRejectsInvalidTable(t *testing.T) {
	source := &stubTaxTableSource{table: domain.TaxTable{Enabled: true, Classes: map[string][]domain.TaxRate{
		domain.StandardTaxClass: {{Name: "bad", Rate: dec("-101")}},
	}}}
	resolver, err := NewTaxTableResolver(TaxTableResolverDeps{Source: source})
	if err != nil {
		t.Fatalf("NewTaxTableResolver: %v", err)
	}
	if got := resolver.AggregateRate(context.Background(), ""); !got.IsZero() {
		t.Fatalf("expected 0 for invalid table, got %s", got)
	}
}

func TestNewTaxTableResolverRequiresSource(t *testing.T) {
	if _, err := NewTaxTableResolver(TaxTableResolverDeps{}); err == nil {
		t.Fatalf("expected error when source missing")
	}
}
