package port

import (
	"context"

	"arbscan/internal/domain/model"
)

// HistoryRepository is the append-only log of detected opportunities.
type HistoryRepository interface {
	Append(ctx context.Context, opp *model.Opportunity) error
	List(ctx context.Context, limit int) ([]*model.Opportunity, error)
	Close() error
}

// StatusPublisher pushes detection results to interested consumers (the web
// layer, alerting) without the supervisor knowing who they are.
type StatusPublisher interface {
	PublishOpportunity(ctx context.Context, opp *model.Opportunity) error
	PublishStatus(ctx context.Context, state string, payload []byte) error
	Close() error
}
