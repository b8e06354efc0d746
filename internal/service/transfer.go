package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dan9191/card-service/internal/models"
	"github.com/Dan9191/card-service/internal/repository"
	"github.com/shopspring/decimal"
)

// Transfer moves amount from one of p's cards to another. Both rows are
// locked in ascending id order before any precondition is evaluated, and
// both writes commit together or not at all.
func (s *Service) Transfer(ctx context.Context, p models.Principal, fromID, toID int64, amount decimal.Decimal) error {
	if err := s.authorize(ctx, p, fromID, ownerOnly); err != nil {
		return err
	}
	if toID != fromID {
		if err := s.authorize(ctx, p, toID, ownerOnly); err != nil {
			return err
		}
	}

	err := s.repo.WithinTx(ctx, func(tx repository.CardTx) error {
		return applyTransfer(ctx, tx, fromID, toID, amount)
	})

	var terr *models.TransferError
	switch {
	case err == nil:
		s.log.Infof("Transferred %s from card %d to card %d", amount.StringFixed(2), fromID, toID)
		return nil
	case errors.As(err, &terr):
		s.log.Warnf("Transfer rejected: %v", terr)
		return err
	case errors.Is(err, models.ErrConflict):
		s.log.Warnf("Transfer from card %d to card %d aborted by lock conflict: %v", fromID, toID, err)
		return &models.TransferError{FromID: fromID, ToID: toID, Reason: models.ReasonConflict, Retryable: true, Err: err}
	case errors.Is(err, models.ErrCardNotFound):
		return err
	default:
		s.log.Errorf("Transfer from card %d to card %d failed: %v", fromID, toID, err)
		return fmt.Errorf("failed to transfer: %w", err)
	}
}

// applyTransfer runs inside the transaction. Every check reads the locked
// rows, never a value read before the locks were taken.
func applyTransfer(ctx context.Context, tx repository.CardTx, fromID, toID int64, amount decimal.Decimal) error {
	cards := make(map[int64]*models.Card, 2)
	for _, id := range lockOrder(fromID, toID) {
		card, err := tx.LockCard(ctx, id)
		if err != nil {
			if errors.Is(err, models.ErrCardNotFound) {
				return fmt.Errorf("%w: card %d", models.ErrCardNotFound, id)
			}
			return err
		}
		cards[id] = card
	}

	reject := func(reason string) error {
		return &models.TransferError{FromID: fromID, ToID: toID, Reason: reason}
	}

	if fromID == toID {
		return reject(models.ReasonSameCard)
	}
	if !amount.IsPositive() {
		return reject(models.ReasonNonPositiveAmount)
	}
	if !amount.Equal(amount.Round(2)) {
		return reject(models.ReasonAmountScale)
	}

	from, to := cards[fromID], cards[toID]
	if from.Status != models.CardStatusActive || to.Status != models.CardStatusActive {
		return reject(models.ReasonCardNotActive)
	}
	if from.Balance.LessThan(amount) {
		return reject(models.ReasonInsufficientFunds)
	}
	if !withinBalanceLimit(to.Balance.Add(amount)) {
		return reject(models.ReasonBalanceLimit)
	}

	from.Balance = from.Balance.Sub(amount)
	to.Balance = to.Balance.Add(amount)

	if err := tx.UpdateCard(ctx, from); err != nil {
		return err
	}
	return tx.UpdateCard(ctx, to)
}

// lockOrder returns the distinct ids in ascending order. Every transaction
// that locks more than one card uses this order, so two transfers in
// opposite directions cannot deadlock.
func lockOrder(a, b int64) []int64 {
	switch {
	case a == b:
		return []int64{a}
	case a < b:
		return []int64{a, b}
	default:
		return []int64{b, a}
	}
}
