package vault

import (
	"context"
	"fmt"

	"github.com/nftsale/market-backend/internal/mesh"
	"github.com/nftsale/market-backend/pkg/db/models"
	"github.com/nftsale/market-backend/pkg/identity"
	"github.com/nftsale/market-backend/pkg/logger"
)

// Spawner brings up vault nodes for freshly provisioned accounts. Creating
// the vault record is part of the attempt: a unique violation means the
// account was provisioned before and the attempt fails.
type Spawner struct {
	repo Repository
	tx   txRunner
	log  *logger.Logger
}

func NewSpawner(repo Repository, tx txRunner, log *logger.Logger) *Spawner {
	return &Spawner{repo: repo, tx: tx, log: log}
}

func (s *Spawner) Spawn(ctx context.Context, account identity.AccountID) (mesh.Handler, error) {
	existing, err := s.repo.GetVault(ctx, string(account))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("vault %q already exists", account)
	}
	if err := s.repo.CreateVault(ctx, &models.Vault{Account: string(account)}); err != nil {
		return nil, err
	}
	return NewService(account, s.repo, s.tx, s.log)
}

// Recover re-registers nodes for every vault already on disk. Called once at
// boot, before the bus accepts external submissions.
func Recover(ctx context.Context, bus *mesh.Bus, repo Repository, tx txRunner, log *logger.Logger) error {
	records, err := repo.ListVaults(ctx)
	if err != nil {
		return err
	}
	for _, record := range records {
		svc, err := NewService(identity.AccountID(record.Account), repo, tx, log)
		if err != nil {
			return err
		}
		if err := bus.Register(svc.Account(), svc); err != nil {
			return err
		}
	}
	if len(records) > 0 {
		log.Info(log.WithField(ctx, "count", len(records)), "vault nodes recovered")
	}
	return nil
}
