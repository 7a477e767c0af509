package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"arbscan/internal/application/port"
	"arbscan/internal/domain/model"
)

// Repo persists the opportunity history in a local SQLite file.
type Repo struct {
	db *sql.DB
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

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
  ts_ms INTEGER NOT NULL,
  walk TEXT NOT NULL,
  profit_factor REAL NOT NULL,
  outcome TEXT NOT NULL,
  sizing TEXT,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_opportunities_ts ON opportunities(ts_ms);
CREATE INDEX IF NOT EXISTS idx_opportunities_outcome ON opportunities(outcome);
`)
	return err
}

func (r *Repo) Append(ctx context.Context, opp *model.Opportunity) error {
	walk, err := json.Marshal(opp.Walk)
	if err != nil {
		return err
	}
	var sizing sql.NullString
	if opp.Sizing != nil {
		b, err := json.Marshal(opp.Sizing)
		if err != nil {
			return err
		}
		sizing = sql.NullString{String: string(b), Valid: true}
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO opportunities(id, ts_ms, walk, profit_factor, outcome, sizing, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
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
		FROM opportunities ORDER BY ts_ms DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Opportunity
	for rows.Next() {
		var opp model.Opportunity
		var walk string
		var sizing sql.NullString
		if err := rows.Scan(&opp.ID, &opp.Timestamp, &walk, &opp.ProfitFactor, &opp.Outcome, &sizing); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(walk), &opp.Walk); err != nil {
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
