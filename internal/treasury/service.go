package treasury

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/nftsale/market-backend/pkg/db/models"
	pkgerrors "github.com/nftsale/market-backend/pkg/errors"
	"github.com/nftsale/market-backend/pkg/identity"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service holds the escrow balances every asynchronous call settles against.
// Balances never go negative; a move that would overdraw the source fails and
// leaves both accounts untouched.
type Service interface {
	Credit(ctx context.Context, account identity.AccountID, amount decimal.Decimal) error
	Move(ctx context.Context, from, to identity.AccountID, amount decimal.Decimal) error
	Balance(ctx context.Context, account identity.AccountID) (decimal.Decimal, error)
}

type service struct {
	repo Repository
	tx   txRunner
}

// NewService wires a treasury service with the provided repository and
// transaction runner.
func NewService(repo Repository, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("treasury repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx}, nil
}

func (s *service) Credit(ctx context.Context, account identity.AccountID, amount decimal.Decimal) error {
	if account == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "account is required")
	}
	if !amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "credit amount must be positive")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		record, err := repo.GetForUpdate(ctx, account)
		if err != nil {
			return err
		}
		if record == nil {
			return repo.Create(ctx, &models.TreasuryAccount{
				Account: string(account),
				Balance: amount,
			})
		}
		record.Balance = record.Balance.Add(amount)
		return repo.Save(ctx, record)
	})
}

func (s *service) Move(ctx context.Context, from, to identity.AccountID, amount decimal.Decimal) error {
	if from == "" || to == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "both accounts are required")
	}
	if from == to {
		return nil
	}
	if amount.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "move amount must not be negative")
	}
	if amount.IsZero() {
		return nil
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		// Lock in a stable order so two opposing moves cannot deadlock.
		first, second := from, to
		if second < first {
			first, second = second, first
		}
		locked := make(map[identity.AccountID]*models.TreasuryAccount, 2)
		for _, account := range []identity.AccountID{first, second} {
			record, err := repo.GetForUpdate(ctx, account)
			if err != nil {
				return err
			}
			locked[account] = record
		}

		source := locked[from]
		if source == nil || source.Balance.LessThan(amount) {
			return pkgerrors.New(pkgerrors.CodePrecondition, fmt.Sprintf("insufficient balance on %q", from))
		}
		source.Balance = source.Balance.Sub(amount)
		if err := repo.Save(ctx, source); err != nil {
			return err
		}

		dest := locked[to]
		if dest == nil {
			return repo.Create(ctx, &models.TreasuryAccount{Account: string(to), Balance: amount})
		}
		dest.Balance = dest.Balance.Add(amount)
		return repo.Save(ctx, dest)
	})
}

func (s *service) Balance(ctx context.Context, account identity.AccountID) (decimal.Decimal, error) {
	if account == "" {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "account is required")
	}
	record, err := s.repo.Get(ctx, account)
	if err != nil {
		return decimal.Zero, err
	}
	if record == nil {
		return decimal.Zero, nil
	}
	return record.Balance, nil
}
