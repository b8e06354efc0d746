package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dan9191/card-service/internal/models"
	"github.com/Dan9191/card-service/internal/repository"
	"github.com/shopspring/decimal"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
	// Amounts are limited to NUMERIC(12,2)
	maxIntegerDigits = 10
)

var maxAmount = decimal.New(1, maxIntegerDigits)

// CreateCard issues a new active card with zero balance to ownerID
func (s *Service) CreateCard(ctx context.Context, ownerID int64) (*models.Card, error) {
	if _, err := s.repo.UserByID(ctx, ownerID); err != nil {
		return nil, err
	}

	generated, err := s.generator.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate card number: %w", err)
	}

	encrypted, err := s.cipher.Encrypt(generated.Number)
	if err != nil {
		cerr := models.NewCardCreationError(generated.Number, err)
		s.log.Errorf("Card creation failed for user %d: %v", ownerID, err)
		s.log.Debugf("Card creation failed for number %s", cerr.Plaintext())
		return nil, cerr
	}

	card := &models.Card{
		OwnerID:         ownerID,
		BIN:             generated.BIN,
		LastFour:        generated.LastFour,
		EncryptedNumber: encrypted,
		CVV:             generated.CVV,
		CreatedDate:     s.today(),
		ExpirationDate:  generated.ExpirationDate,
		Status:          models.CardStatusActive,
		Balance:         decimal.Zero,
	}
	if err := s.repo.CreateCard(ctx, card); err != nil {
		return nil, err
	}

	s.log.Infof("Card %d created for user %d", card.ID, ownerID)
	return card, nil
}

// GetCard returns a card by id
func (s *Service) GetCard(ctx context.Context, cardID int64) (*models.Card, error) {
	return s.repo.CardByID(ctx, cardID)
}

// Activate sets the card status to ACTIVE unconditionally
func (s *Service) Activate(ctx context.Context, cardID int64) error {
	return s.setStatus(ctx, cardID, models.CardStatusActive)
}

// Block sets the card status to BLOCKED unconditionally
func (s *Service) Block(ctx context.Context, cardID int64) error {
	return s.setStatus(ctx, cardID, models.CardStatusBlocked)
}

func (s *Service) setStatus(ctx context.Context, cardID int64, status models.CardStatus) error {
	err := s.mutateCard(ctx, cardID, func(card *models.Card) error {
		card.Status = status
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Infof("Card %d status set to %s", cardID, status)
	return nil
}

// RequestBlock moves an owned card to PENDING_BLOCK. A card that is already
// blocked or pending is rejected rather than silently accepted.
func (s *Service) RequestBlock(ctx context.Context, p models.Principal, cardID int64) error {
	if err := s.authorize(ctx, p, cardID, ownerOnly); err != nil {
		return err
	}

	var masked string
	err := s.mutateCard(ctx, cardID, func(card *models.Card) error {
		switch card.Status {
		case models.CardStatusBlocked:
			return fmt.Errorf("%w: card %d is already blocked", models.ErrCardBlockRequestRejected, cardID)
		case models.CardStatusPendingBlock:
			return fmt.Errorf("%w: card %d already has a pending block request", models.ErrCardBlockRequestRejected, cardID)
		}
		card.Status = models.CardStatusPendingBlock
		masked = card.MaskedNumber()
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrCardBlockRequestRejected) {
			s.log.Warnf("Block request for card %d rejected: %v", cardID, err)
		}
		return err
	}

	s.log.Infof("User %d requested block of card %d", p.UserID, cardID)
	if s.notifier != nil {
		go func() {
			if err := s.notifier.NotifyBlockRequested(cardID, p.UserID, masked); err != nil {
				s.log.Warnf("Block request notification for card %d failed: %v", cardID, err)
			}
		}()
	}
	return nil
}

// ApproveBlock moves a PENDING_BLOCK card to BLOCKED
func (s *Service) ApproveBlock(ctx context.Context, cardID int64) error {
	return s.resolveBlock(ctx, cardID, models.CardStatusBlocked)
}

// RejectBlock moves a PENDING_BLOCK card back to ACTIVE
func (s *Service) RejectBlock(ctx context.Context, cardID int64) error {
	return s.resolveBlock(ctx, cardID, models.CardStatusActive)
}

func (s *Service) resolveBlock(ctx context.Context, cardID int64, next models.CardStatus) error {
	err := s.mutateCard(ctx, cardID, func(card *models.Card) error {
		if card.Status != models.CardStatusPendingBlock {
			return fmt.Errorf("%w: card %d is %s, not %s", models.ErrCardBlockFailed, cardID, card.Status, models.CardStatusPendingBlock)
		}
		card.Status = next
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrCardBlockFailed) {
			s.log.Warnf("Block resolution for card %d failed: %v", cardID, err)
		}
		return err
	}
	s.log.Infof("Block request for card %d resolved, status %s", cardID, next)
	return nil
}

// Credit adds a positive amount with at most two fractional digits
func (s *Service) Credit(ctx context.Context, cardID int64, amount decimal.Decimal) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	err := s.mutateCard(ctx, cardID, func(card *models.Card) error {
		balance := card.Balance.Add(amount)
		if !withinBalanceLimit(balance) {
			return fmt.Errorf("%w: balance of card %d would exceed %d integer digits", models.ErrInvalidInput, cardID, maxIntegerDigits)
		}
		card.Balance = balance
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Infof("Card %d credited with %s", cardID, amount.StringFixed(2))
	return nil
}

// DeleteCard removes a card. The store locks the row first, so a delete
// waits for any transfer in flight on the same card.
func (s *Service) DeleteCard(ctx context.Context, cardID int64) error {
	if err := s.repo.DeleteCard(ctx, cardID); err != nil {
		return err
	}
	s.log.Infof("Card %d deleted", cardID)
	return nil
}

// Decrypt returns the plaintext card number to its owner or to an admin
func (s *Service) Decrypt(ctx context.Context, p models.Principal, cardID int64) (string, error) {
	if err := s.authorize(ctx, p, cardID, ownerOrAdmin); err != nil {
		return "", err
	}
	card, err := s.repo.CardByID(ctx, cardID)
	if err != nil {
		return "", err
	}
	number, err := s.cipher.Decrypt(card.EncryptedNumber)
	if err != nil {
		s.log.Errorf("Failed to decrypt card %d: %v", cardID, err)
		return "", fmt.Errorf("%w: card %d: %v", models.ErrDecryptionFailed, cardID, err)
	}
	s.log.Infof("Card %d number decrypted by user %d", cardID, p.UserID)
	return number, nil
}

// Balance returns the balance of a card visible to p
func (s *Service) Balance(ctx context.Context, p models.Principal, cardID int64) (decimal.Decimal, error) {
	if err := s.authorize(ctx, p, cardID, ownerOrAdmin); err != nil {
		return decimal.Zero, err
	}
	card, err := s.repo.CardByID(ctx, cardID)
	if err != nil {
		return decimal.Zero, err
	}
	return card.Balance, nil
}

// MaskedNumber returns the display form of a card visible to p
func (s *Service) MaskedNumber(ctx context.Context, p models.Principal, cardID int64) (string, error) {
	if err := s.authorize(ctx, p, cardID, ownerOrAdmin); err != nil {
		return "", err
	}
	card, err := s.repo.CardByID(ctx, cardID)
	if err != nil {
		return "", err
	}
	return card.MaskedNumber(), nil
}

// ListUserCards returns p's own cards, optionally filtered by status
func (s *Service) ListUserCards(ctx context.Context, p models.Principal, status models.CardStatus, page, size int) (*models.CardPage, error) {
	return s.listCards(ctx, models.CardFilter{OwnerID: p.UserID, Status: status, Page: page, Size: size})
}

// ListCards returns every card, optionally filtered by status
func (s *Service) ListCards(ctx context.Context, status models.CardStatus, page, size int) (*models.CardPage, error) {
	return s.listCards(ctx, models.CardFilter{Status: status, Page: page, Size: size})
}

// ListPendingBlock returns cards awaiting a block decision
func (s *Service) ListPendingBlock(ctx context.Context, page, size int) (*models.CardPage, error) {
	return s.listCards(ctx, models.CardFilter{Status: models.CardStatusPendingBlock, Page: page, Size: size})
}

func (s *Service) listCards(ctx context.Context, filter models.CardFilter) (*models.CardPage, error) {
	if filter.Page < 0 || filter.Size < 0 {
		return nil, fmt.Errorf("%w: page and size must not be negative", models.ErrInvalidInput)
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrInvalidInput, filter.Status)
	}
	if filter.Size == 0 {
		filter.Size = DefaultPageSize
	}
	if filter.Size > MaxPageSize {
		filter.Size = MaxPageSize
	}
	return s.repo.ListCards(ctx, filter)
}

// mutateCard applies fn to an exclusively locked card and persists the
// result in the same transaction
func (s *Service) mutateCard(ctx context.Context, cardID int64, fn func(card *models.Card) error) error {
	return s.repo.WithinTx(ctx, func(tx repository.CardTx) error {
		card, err := tx.LockCard(ctx, cardID)
		if err != nil {
			return err
		}
		if err := fn(card); err != nil {
			return err
		}
		return tx.UpdateCard(ctx, card)
	})
}

// withinBalanceLimit reports whether balance fits the balance column
func withinBalanceLimit(balance decimal.Decimal) bool {
	return balance.LessThan(maxAmount)
}

// ValidateAmount accepts strictly positive amounts with at most ten integer
// and two fractional digits
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", models.ErrInvalidInput)
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%w: amount has more than two fractional digits", models.ErrInvalidInput)
	}
	if amount.GreaterThanOrEqual(maxAmount) {
		return fmt.Errorf("%w: amount has more than %d integer digits", models.ErrInvalidInput, maxIntegerDigits)
	}
	return nil
}
