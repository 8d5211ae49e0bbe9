package postgres

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"hotspare/internal/application/port"
	"hotspare/internal/domain/model"
)

// Journal persists role transitions to Postgres, giving both processes
// one shared audit trail of who was primary when and why it changed.
type Journal struct {
	db *sql.DB
}

func New(dsn string) (*Journal, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

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
  id BIGSERIAL PRIMARY KEY,
  bot TEXT NOT NULL,
  holder TEXT NOT NULL,
  from_role TEXT NOT NULL,
  to_role TEXT NOT NULL,
  reason TEXT NOT NULL,
  ts_ms BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transitions_bot ON role_transitions(bot);
CREATE INDEX IF NOT EXISTS idx_transitions_ts ON role_transitions(ts_ms);
`)
	return err
}

func (j *Journal) RecordTransition(ctx context.Context, tr model.Transition) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO role_transitions(bot, holder, from_role, to_role, reason, ts_ms)
		VALUES($1, $2, $3, $4, $5, $6)
	`, tr.Bot, tr.Holder, string(tr.FromRole), string(tr.ToRole), tr.Reason, tr.TsMs)
	return err
}

func (j *Journal) Recent(ctx context.Context, botName string, limit int) ([]model.Transition, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT bot, holder, from_role, to_role, reason, ts_ms
		FROM role_transitions WHERE bot=$1 ORDER BY ts_ms DESC, id DESC LIMIT $2
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
