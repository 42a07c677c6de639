package projects

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

// GetProjectData loads the columns needed for key selection and access
// checks. owners_ids is an integer array, read back as JSON.
func (r *PostgresRepository) GetProjectData(ctx context.Context, projectID int64) (*models.Project, error) {
	query :=
		`SELECT id, short_name, info, to_jsonb(owners_ids)
		 FROM project
		 WHERE id = $1
		 `

	var (
		p      models.Project
		info   []byte
		owners []byte
	)

	err := r.db.QueryRowContext(ctx, query, projectID).Scan(&p.ID, &p.ShortName, &info, &owners)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	if len(info) > 0 {
		if err := json.Unmarshal(info, &p.Info); err != nil {
			return nil, fmt.Errorf("project %d info: %w", projectID, err)
		}
	}
	if len(owners) > 0 {
		if err := json.Unmarshal(owners, &p.OwnersIDs); err != nil {
			return nil, fmt.Errorf("project %d owners: %w", projectID, err)
		}
	}

	return &p, nil
}
