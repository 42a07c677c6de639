package tasks

import (
	"context"

	"github.com/dmitrijs2005/taskvault/internal/server/models"
)

type Repository interface {
	GetTask(ctx context.Context, taskID int64) (*models.Task, error)
	UpdateGoldAnswers(ctx context.Context, task *models.Task) error
}
