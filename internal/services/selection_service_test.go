package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	domain "github.com/simplecartfees/api/internal/domain"
	"github.com/simplecartfees/api/internal/repositories"
)

func newTestSelectionService(t *testing.T, fees []domain.FeeDefinition) (SelectionService, *stubSelectionRepository, *recordingMetrics) {
	t.Helper()
	selections := newStubSelectionRepository()
	metrics := &recordingMetrics{}
	svc, err := NewSelectionService(SelectionServiceDeps{
		Fees:       &stubFeeConfigRepository{cfg: domain.FeeConfiguration{Fees: fees, Revision: 1}},
		Selections: selections,
		Metrics:    metrics,
	})
	if err != nil {
		t.Fatalf("NewSelectionService: %v", err)
	}
	return svc, selections, metrics
}

func TestSelectionServiceToggleOnAndOff(t *testing.T) {
	svc, _, metrics := newTestSelectionService(t, []domain.FeeDefinition{optionalFee("fee_abc", "3")})
	ctx := context.Background()

	result, err := svc.Toggle(ctx, ToggleSelectionCommand{SessionID: "sess-1", FeeID: "fee_abc", Checked: true, Surface: SurfaceClassic})
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if !result.Applied || len(result.Selected) != 1 || result.Selected[0] != "fee_abc" {
		t.Fatalf("unexpected result %+v", result)
	}

	result, err = svc.Toggle(ctx, ToggleSelectionCommand{SessionID: "sess-1", FeeID: "fee_abc", Checked: true, Surface: SurfaceBlocks})
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if len(result.Selected) != 1 {
		t.Fatalf("expected toggling on twice to keep one entry, got %v", result.Selected)
	}

	result, err = svc.Toggle(ctx, ToggleSelectionCommand{SessionID: "sess-1", FeeID: "fee_abc", Checked: false, Surface: SurfaceBlocks})
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if !result.Applied || len(result.Selected) != 0 {
		t.Fatalf("expected selection cleared, got %+v", result)
	}
	if len(metrics.toggles) != 3 {
		t.Fatalf("expected three toggle observations, got %d", len(metrics.toggles))
	}
}

func TestSelectionServiceIgnoresIneligibleFees(t *testing.T) {
	inactive := optionalFee("fee_off", "1")
	inactive.Active = false
	svc, selections, metrics := newTestSelectionService(t, []domain.FeeDefinition{
		requiredFee("fee_req", "1"),
		inactive,
	})

	for _, id := range []string{"fee_req", "fee_off", "fee_unknown"} {
		result, err := svc.Toggle(context.Background(), ToggleSelectionCommand{SessionID: "sess-1", FeeID: id, Checked: true})
		if err != nil {
			t.Fatalf("Toggle(%s): %v", id, err)
		}
		if result.Applied || len(result.Selected) != 0 {
			t.Fatalf("expected %s to be ignored, got %+v", id, result)
		}
	}
	if selections.toggles != 0 {
		t.Fatalf("expected repository untouched, got %d toggles", selections.toggles)
	}
	for _, applied := range metrics.toggles {
		if applied {
			t.Fatalf("expected ignored toggles to be observed as not applied")
		}
	}
}

func TestSelectionServiceValidatesInput(t *testing.T) {
	svc, _, _ := newTestSelectionService(t, nil)

	if _, err := svc.Toggle(context.Background(), ToggleSelectionCommand{FeeID: "fee_abc"}); !errors.Is(err, ErrSelectionInvalidInput) {
		t.Fatalf("expected invalid input for missing session, got %v", err)
	}
	if _, err := svc.Toggle(context.Background(), ToggleSelectionCommand{SessionID: "sess-1", FeeID: "  "}); !errors.Is(err, ErrSelectionInvalidInput) {
		t.Fatalf("expected invalid input for missing fee id, got %v", err)
	}
}

func TestSelectionServiceRejectsPathLikeSessions(t *testing.T) {
	svc, selections, _ := newTestSelectionService(t, []domain.FeeDefinition{optionalFee("fee_a", "1")})
	ctx := context.Background()

	for _, session := range []string{"a/b", "/sess", "sess/", "sessions/x/selections"} {
		if _, err := svc.Toggle(ctx, ToggleSelectionCommand{SessionID: session, FeeID: "fee_a", Checked: true}); !errors.Is(err, ErrSelectionInvalidInput) {
			t.Fatalf("Toggle(%q): expected invalid input, got %v", session, err)
		}
		if _, err := svc.Selected(ctx, session); !errors.Is(err, ErrSelectionInvalidInput) {
			t.Fatalf("Selected(%q): expected invalid input, got %v", session, err)
		}
		if err := svc.Clear(ctx, session); !errors.Is(err, ErrSelectionInvalidInput) {
			t.Fatalf("Clear(%q): expected invalid input, got %v", session, err)
		}
	}
	if selections.toggles != 0 || len(selections.cleared) != 0 {
		t.Fatalf("expected the repository untouched, got %d toggles %v cleared", selections.toggles, selections.cleared)
	}
}

func TestSelectionServiceConcurrentTogglesKeepEveryFee(t *testing.T) {
	fees := []domain.FeeDefinition{optionalFee("fee_a", "1"), optionalFee("fee_b", "1"), optionalFee("fee_c", "1")}
	svc, _, _ := newTestSelectionService(t, fees)

	var wg sync.WaitGroup
	for _, fee := range fees {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := svc.Toggle(context.Background(), ToggleSelectionCommand{SessionID: "sess-1", FeeID: id, Checked: true}); err != nil {
				t.Errorf("Toggle(%s): %v", id, err)
			}
		}(fee.ID)
	}
	wg.Wait()

	selected, err := svc.Selected(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Selected: %v", err)
	}
	if len(selected) != 3 {
		t.Fatalf("expected all three fees selected, got %v", selected)
	}
}

func TestSelectionServiceClear(t *testing.T) {
	svc, selections, _ := newTestSelectionService(t, []domain.FeeDefinition{optionalFee("fee_a", "1")})
	ctx := context.Background()
	if _, err := svc.Toggle(ctx, ToggleSelectionCommand{SessionID: "sess-1", FeeID: "fee_a", Checked: true}); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if err := svc.Clear(ctx, "sess-1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	selected, err := svc.Selected(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Selected: %v", err)
	}
	if len(selected) != 0 || len(selections.cleared) != 1 {
		t.Fatalf("expected cleared selection, got %v", selected)
	}
}

func TestSelectionServiceMapsUnavailable(t *testing.T) {
	svc, selections, _ := newTestSelectionService(t, nil)
	selections.getErr = repositories.NewStoreError("selection.get", repositories.StoreErrorUnavailable, errors.New("redis down"))

	if _, err := svc.Selected(context.Background(), "sess-1"); !errors.Is(err, ErrSelectionUnavailable) {
		t.Fatalf("expected ErrSelectionUnavailable, got %v", err)
	}
}
