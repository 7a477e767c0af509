package supervisor

import (
	"context"

	"arbscan/internal/application/port"
	"arbscan/internal/domain/model"
)

// NoopHistory discards records. Used when no storage backend is configured.
type NoopHistory struct{}

func (NoopHistory) Append(context.Context, *model.Opportunity) error { return nil }

func (NoopHistory) List(context.Context, int) ([]*model.Opportunity, error) { return nil, nil }

func (NoopHistory) Close() error { return nil }

var _ port.HistoryRepository = NoopHistory{}
