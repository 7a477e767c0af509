package composite

import (
	"context"

	"arbscan/internal/application/port"
	"arbscan/internal/domain/model"
)

// Repo fans every history write out to all configured backends. Reads come
// from the first backend; the rest are write-only mirrors.
type Repo struct {
	repos []port.HistoryRepository
}

func New(repos ...port.HistoryRepository) *Repo {
	// nil repos are allowed; filter in constructor for safety
	out := make([]port.HistoryRepository, 0, len(repos))
	for _, r := range repos {
		if r != nil {
			out = append(out, r)
		}
	}
	return &Repo{repos: out}
}

func (r *Repo) Append(ctx context.Context, opp *model.Opportunity) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.Append(ctx, opp); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) List(ctx context.Context, limit int) ([]*model.Opportunity, error) {
	if len(r.repos) == 0 {
		return nil, nil
	}
	return r.repos[0].List(ctx, limit)
}

func (r *Repo) Close() error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ port.HistoryRepository = (*Repo)(nil)
