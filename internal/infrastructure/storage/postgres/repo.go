package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"arbscan/internal/application/port"
	"arbscan/internal/domain/model"
)

// Repo persists the opportunity history in Postgres, for deployments that
// want the history queryable outside the host running the detector.
type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS opportunities (
  id TEXT PRIMARY KEY,
  ts_ms BIGINT NOT NULL,
  walk JSONB NOT NULL,
  profit_factor DOUBLE PRECISION NOT NULL,
  outcome TEXT NOT NULL,
  sizing JSONB,
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_opportunities_ts ON opportunities(ts_ms);
`)
	return err
}

func (r *Repo) Append(ctx context.Context, opp *model.Opportunity) error {
	walk, err := json.Marshal(opp.Walk)
	if err != nil {
		return err
	}
	var sizing any
	if opp.Sizing != nil {
		b, err := json.Marshal(opp.Sizing)
		if err != nil {
			return err
		}
		sizing = string(b)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO opportunities(id, ts_ms, walk, profit_factor, outcome, sizing, created_at)
		VALUES($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT(id) DO NOTHING
	`, opp.ID, opp.Timestamp, string(walk), opp.ProfitFactor, opp.Outcome, sizing, time.Now().UnixMilli())
	return err
}

func (r *Repo) List(ctx context.Context, limit int) ([]*model.Opportunity, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, ts_ms, walk, profit_factor, outcome, sizing
		FROM opportunities ORDER BY ts_ms DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Opportunity
	for rows.Next() {
		var opp model.Opportunity
		var walk []byte
		var sizing sql.NullString
		if err := rows.Scan(&opp.ID, &opp.Timestamp, &walk, &opp.ProfitFactor, &opp.Outcome, &sizing); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(walk, &opp.Walk); err != nil {
			return nil, err
		}
		if sizing.Valid {
			var sr model.SizingResult
			if err := json.Unmarshal([]byte(sizing.String), &sr); err != nil {
				return nil, err
			}
			opp.Sizing = &sr
		}
		out = append(out, &opp)
	}
	return out, rows.Err()
}

var _ port.HistoryRepository = (*Repo)(nil)
