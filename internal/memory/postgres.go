package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/mohammad-safakhou/cortex/config"
	"github.com/mohammad-safakhou/cortex/internal/agent/core"
)

// Postgres stores step records in the step_records table created by the
// embedded migrations.
type Postgres struct {
	DB *sql.DB
}

// OpenPostgres opens and pings the configured database.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{DB: db} }

const insertStepRecord = `
INSERT INTO step_records (session_id, step_index, outcome, record, created_at)
VALUES ($1,$2,$3,$4,NOW());
`

const selectStepRecords = `
SELECT record FROM step_records
WHERE session_id = $1
ORDER BY id ASC;
`

const selectSessions = `
SELECT DISTINCT session_id FROM step_records ORDER BY session_id;
`

const deleteStepRecordsBefore = `
DELETE FROM step_records WHERE created_at < $1;
`

func (p *Postgres) Record(ctx context.Context, rec core.StepRecord) error {
	if err := validSessionID(rec.SessionID); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode step record: %w", err)
	}
	if _, err := p.DB.ExecContext(ctx, insertStepRecord, rec.SessionID, rec.Step, string(rec.Outcome), data); err != nil {
		return fmt.Errorf("insert step record: %w", err)
	}
	return nil
}

func (p *Postgres) Fetch(ctx context.Context, sessionID string) ([]core.StepRecord, error) {
	rows, err := p.DB.QueryContext(ctx, selectStepRecords, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query step records: %w", err)
	}
	defer rows.Close()
	var out []core.StepRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec core.StepRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode step record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) Sessions(ctx context.Context) ([]string, error) {
	rows, err := p.DB.QueryContext(ctx, selectSessions)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Prune deletes records older than before and reports how many went.
func (p *Postgres) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := p.DB.ExecContext(ctx, deleteStepRecordsBefore, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *Postgres) Close() error { return p.DB.Close() }
