// Package services contains server-side business logic on top of the
// Postgres repositories: credential management and the durable ledger.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/codetime/internal/common"
	"github.com/dmitrijs2005/codetime/internal/cryptox"
	"github.com/dmitrijs2005/codetime/internal/dbx"
	"github.com/dmitrijs2005/codetime/internal/logging"
	"github.com/dmitrijs2005/codetime/internal/server/config"
	"github.com/dmitrijs2005/codetime/internal/server/models"
	"github.com/dmitrijs2005/codetime/internal/server/repositories/repomanager"
)

const (
	maxLabelLen    = 100
	autoTokenLabel = "auto"
)

// TokenService issues, lists, revokes and resolves bearer credentials.
// Only sha256(token + pepper) is ever stored.
type TokenService struct {
	tx            dbx.Transactor
	repomanager   repomanager.RepositoryManager
	pepper        string
	autoProvision bool
	logger        logging.Logger
}

// NewTokenService constructs a TokenService using repositories and server config.
func NewTokenService(tx dbx.Transactor, m repomanager.RepositoryManager, cfg *config.Config, logger logging.Logger) *TokenService {
	return &TokenService{
		tx:            tx,
		repomanager:   m,
		pepper:        cfg.TokenPepper,
		autoProvision: cfg.DevTokenAuto,
		logger:        logger.With("module", "token_service"),
	}
}

// Resolve maps a credential to its user id. Unknown or revoked credentials
// are common.ErrorUnauthorized unless auto-provisioning is enabled.
func (s *TokenService) Resolve(ctx context.Context, credential string) (string, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", common.ErrorUnauthorized
	}
	digest := cryptox.DigestToken(credential, s.pepper)

	userID, err := s.lookup(ctx, digest)
	if err == nil {
		return userID, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return "", err
	}
	if !s.autoProvision {
		return "", common.ErrorUnauthorized
	}
	return s.provision(ctx, digest)
}

func (s *TokenService) lookup(ctx context.Context, digest string) (string, error) {
	t, err := s.repomanager.Tokens(s.tx.DB()).FindActive(ctx, digest)
	if err != nil {
		return "", err
	}
	return t.UserID, nil
}

// provision creates a throwaway user bound to digest. A concurrent
// provisioning of the same digest loses on the unique index; the winner's
// row is then read back.
func (s *TokenService) provision(ctx context.Context, digest string) (string, error) {
	userName := "user_" + digest[:8]

	userID, err := dbx.InTxValue(ctx, s.tx, func(ctx context.Context, tx dbx.DBTX) (string, error) {
		u, err := s.repomanager.Users(tx).GetOrCreate(ctx, userName)
		if err != nil {
			return "", err
		}
		if _, err := s.repomanager.Tokens(tx).Create(ctx, u.ID, digest, autoTokenLabel); err != nil {
			return "", err
		}
		return u.ID, nil
	})
	if err != nil {
		if id, lookupErr := s.lookup(ctx, digest); lookupErr == nil {
			return id, nil
		}
		return "", fmt.Errorf("auto-provision: %w", err)
	}

	s.logger.Warn(ctx, "auto-provisioned user for unknown credential", "user", userName)
	return userID, nil
}

// Rotate issues a new credential for userID. The clear token is returned
// once and never stored.
func (s *TokenService) Rotate(ctx context.Context, userID, label string) (string, *models.Token, error) {
	label = strings.TrimSpace(label)
	if len(label) > maxLabelLen {
		return "", nil, common.NewError(common.CodeValidation, "label too long")
	}

	token, err := cryptox.NewToken()
	if err != nil {
		return "", nil, common.ErrorInternal
	}

	t, err := s.repomanager.Tokens(s.tx.DB()).Create(ctx, userID, cryptox.DigestToken(token, s.pepper), label)
	if err != nil {
		return "", nil, fmt.Errorf("error creating token: %w", err)
	}
	return token, t, nil
}

func (s *TokenService) List(ctx context.Context, userID string) ([]models.Token, error) {
	return s.repomanager.Tokens(s.tx.DB()).ListByUser(ctx, userID)
}

func (s *TokenService) Revoke(ctx context.Context, userID, tokenID string) error {
	if strings.TrimSpace(tokenID) == "" {
		return common.NewError(common.CodeValidation, "id required")
	}
	err := s.repomanager.Tokens(s.tx.DB()).Revoke(ctx, userID, tokenID)
	if errors.Is(err, common.ErrorNotFound) {
		return common.NewError(common.CodeValidation, "token not found")
	}
	return err
}

// CreateUser registers a named user. Used by the admin CLI.
func (s *TokenService) CreateUser(ctx context.Context, userName string) (*models.User, error) {
	userName = strings.TrimSpace(userName)
	if userName == "" {
		return nil, common.NewError(common.CodeValidation, "username required")
	}
	return s.repomanager.Users(s.tx.DB()).GetOrCreate(ctx, userName)
}

func (s *TokenService) UserByName(ctx context.Context, userName string) (*models.User, error) {
	return s.repomanager.Users(s.tx.DB()).GetByUserName(ctx, userName)
}
