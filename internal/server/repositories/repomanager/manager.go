package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/codetime/internal/dbx"
	"github.com/dmitrijs2005/codetime/internal/server/repositories/projects"
	"github.com/dmitrijs2005/codetime/internal/server/repositories/tokens"
	"github.com/dmitrijs2005/codetime/internal/server/repositories/usage"
	"github.com/dmitrijs2005/codetime/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Tokens(db dbx.DBTX) tokens.Repository
	Projects(db dbx.DBTX) projects.Repository
	Usage(db dbx.DBTX) usage.Repository
}
