package jobs

import (
	"context"

	"github.com/simplecartfees/api/internal/services"
)

// LogFeePublisher records events through the service logger instead of a broker. Used when no event backend is configured.
type LogFeePublisher struct {
	logger func(context.Context, string, map[string]any)
}

var _ services.FeeEventPublisher = (*LogFeePublisher)(nil)

func NewLogFeePublisher(logger func(context.Context, string, map[string]any)) *LogFeePublisher {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &LogFeePublisher{logger: logger}
}

func (p *LogFeePublisher) PublishFeesApplied(ctx context.Context, event services.FeesAppliedEvent) (string, error) {
	p.logger(ctx, "fee events: "+FeesAppliedEventType, map[string]any{
		"eventId":  event.EventID,
		"orderId":  event.OrderID,
		"feeIds":   event.FeeIDs,
		"netTotal": event.NetTotal.String(),
	})
	return event.EventID, nil
}
