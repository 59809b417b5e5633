package dagstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/dagucloud/dagu/internal/core"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLStore is the SQLite-backed Store alternative, schema-migrated with
// goose on open.
type SQLStore struct {
	DB *sql.DB
}

// OpenSQLStore opens (creating if necessary) a SQLite database at dsn and
// migrates it to the latest schema.
func OpenSQLStore(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite dag-state store %s: %w", dsn, err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite dag-state store %s: %w", dsn, err)
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return nil, fmt.Errorf("failed to migrate dag-state store: %w", err)
	}

	return &SQLStore{DB: db}, nil
}

func (s *SQLStore) WriteCheckpoint(ctx context.Context, dag *core.Dag) error {
	b, err := yaml.Marshal(dag)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint for %s: %w", dag.ID, err)
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO dag_checkpoints (dag_id, flow_group, flow_name, flow_execution_id, payload, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(dag_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
	`, dag.ID.String(), dag.ID.FlowGroup, dag.ID.FlowName, dag.ID.FlowExecutionId, string(b), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write checkpoint for %s: %w", dag.ID, err)
	}
	return nil
}

func (s *SQLStore) GetDag(ctx context.Context, id core.DagId) (*core.Dag, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT payload FROM dag_checkpoints WHERE dag_id = ?`, id.String())
	var payload string
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint for %s: %w", id, err)
	}
	var dag core.Dag
	if err := yaml.Unmarshal([]byte(payload), &dag); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint for %s: %w", id, err)
	}
	return &dag, nil
}

func (s *SQLStore) GetDags(ctx context.Context) ([]*core.Dag, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT payload FROM dag_checkpoints`)
	if err != nil {
		return nil, fmt.Errorf("failed to list dag checkpoints: %w", err)
	}
	defer rows.Close()

	var dags []*core.Dag
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan dag checkpoint: %w", err)
		}
		var dag core.Dag
		if err := yaml.Unmarshal([]byte(payload), &dag); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dag checkpoint: %w", err)
		}
		dags = append(dags, &dag)
	}
	return dags, rows.Err()
}

func (s *SQLStore) GetDagIds(ctx context.Context) ([]core.DagId, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT flow_group, flow_name, flow_execution_id FROM dag_checkpoints`)
	if err != nil {
		return nil, fmt.Errorf("failed to list dag ids: %w", err)
	}
	defer rows.Close()

	var ids []core.DagId
	for rows.Next() {
		var group, name string
		var execID int64
		if err := rows.Scan(&group, &name, &execID); err != nil {
			return nil, fmt.Errorf("failed to scan dag id: %w", err)
		}
		ids = append(ids, core.NewDagId(group, name, execID))
	}
	return ids, rows.Err()
}

func (s *SQLStore) CleanUp(ctx context.Context, id core.DagId) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM dag_checkpoints WHERE dag_id = ?`, id.String()); err != nil {
		return fmt.Errorf("failed to clean up checkpoint for %s: %w", id, err)
	}
	return nil
}
