package projects

import (
	"context"

	"github.com/dmitrijs2005/taskvault/internal/server/models"
)

type Repository interface {
	GetProjectData(ctx context.Context, projectID int64) (*models.Project, error)
}
