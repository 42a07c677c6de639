package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/taskvault/internal/dbx"
	"github.com/dmitrijs2005/taskvault/internal/server/repositories/projects"
	"github.com/dmitrijs2005/taskvault/internal/server/repositories/tasks"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Tasks(db dbx.DBTX) tasks.Repository
	Projects(db dbx.DBTX) projects.Repository
}
