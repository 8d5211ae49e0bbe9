package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"hotspare/internal/application/port"
	"hotspare/internal/domain/model"
)

// Journal persists role transitions to a local sqlite file. Suited to
// single-host deployments where the two processes each keep their own
// audit trail.
type Journal struct {
	db *sql.DB
}

func New(path string) (*Journal, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	j := &Journal{db: db}
	if err := j.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) Close() error { return j.db.Close() }

func (j *Journal) migrate(ctx context.Context) error {
	_, err := j.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS role_transitions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  bot TEXT NOT NULL,
  holder TEXT NOT NULL,
  from_role TEXT NOT NULL,
  to_role TEXT NOT NULL,
  reason TEXT NOT NULL,
  ts_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transitions_bot ON role_transitions(bot);
CREATE INDEX IF NOT EXISTS idx_transitions_ts ON role_transitions(ts_ms);
`)
	return err
}

func (j *Journal) RecordTransition(ctx context.Context, tr model.Transition) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO role_transitions(bot, holder, from_role, to_role, reason, ts_ms)
		VALUES(?, ?, ?, ?, ?, ?)
	`, tr.Bot, tr.Holder, string(tr.FromRole), string(tr.ToRole), tr.Reason, tr.TsMs)
	return err
}

func (j *Journal) Recent(ctx context.Context, botName string, limit int) ([]model.Transition, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT bot, holder, from_role, to_role, reason, ts_ms
		FROM role_transitions WHERE bot=? ORDER BY ts_ms DESC, id DESC LIMIT ?
	`, botName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Transition
	for rows.Next() {
		var tr model.Transition
		var from, to string
		if err := rows.Scan(&tr.Bot, &tr.Holder, &from, &to, &tr.Reason, &tr.TsMs); err != nil {
			return nil, err
		}
		tr.FromRole, tr.ToRole = model.Role(from), model.Role(to)
		out = append(out, tr)
	}
	return out, rows.Err()
}

var _ port.Journal = (*Journal)(nil)
