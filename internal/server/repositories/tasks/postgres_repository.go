package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/taskvault/internal/common"
	"github.com/dmitrijs2005/taskvault/internal/dbx"
	"github.com/dmitrijs2005/taskvault/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetTask(ctx context.Context, taskID int64) (*models.Task, error) {
	query :=
		`SELECT id, project_id, info, gold_answers, calibration, state, exported, expiration
		 FROM task
		 WHERE id = $1
		 `

	var (
		task        models.Task
		info, gold  []byte
		calibration sql.NullInt64
		state       sql.NullString
		exported    sql.NullBool
		expiration  sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, query, taskID).Scan(
		&task.ID, &task.ProjectID, &info, &gold, &calibration, &state, &exported, &expiration)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	if len(info) > 0 {
		if err := json.Unmarshal(info, &task.Info); err != nil {
			return nil, fmt.Errorf("task %d info: %w", taskID, err)
		}
	}
	if len(gold) > 0 {
		if err := json.Unmarshal(gold, &task.GoldAnswers); err != nil {
			return nil, fmt.Errorf("task %d gold answers: %w", taskID, err)
		}
	}

	task.Calibration = int(calibration.Int64)
	task.State = state.String
	task.Exported = exported.Bool
	if expiration.Valid {
		t := expiration.Time
		task.Expiration = &t
	}

	return &task, nil
}

// UpdateGoldAnswers writes the gold-answer columns and the state changes
// that go with them.
func (r *PostgresRepository) UpdateGoldAnswers(ctx context.Context, task *models.Task) error {
	gold, err := json.Marshal(task.GoldAnswers)
	if err != nil {
		return fmt.Errorf("task %d gold answers: %w", task.ID, err)
	}

	query :=
		`UPDATE task
		 SET gold_answers = $2, calibration = $3, exported = $4, state = $5
		 WHERE id = $1
		 `

	res, err := r.db.ExecContext(ctx, query, task.ID, gold, task.Calibration, task.Exported, task.State)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}

	return nil
}
