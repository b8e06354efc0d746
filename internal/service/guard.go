package service

import (
	"context"
	"fmt"

	"github.com/Dan9191/card-service/internal/models"
)

// access is the capability an operation requires on a card
type access int

const (
	// ownerOnly operations are user-scoped and always checked, even for admins
	ownerOnly access = iota
	// ownerOrAdmin operations are administrative for admins and owner-checked otherwise
	ownerOrAdmin
)

// Owns reports whether userID owns cardID. A missing card is
// ErrCardNotFound, never false.
func (s *Service) Owns(ctx context.Context, userID, cardID int64) (bool, error) {
	card, err := s.repo.CardByID(ctx, cardID)
	if err != nil {
		return false, err
	}
	return card.OwnerID == userID, nil
}

func (s *Service) authorize(ctx context.Context, p models.Principal, cardID int64, required access) error {
	if required == ownerOrAdmin && p.IsAdmin() {
		return nil
	}
	owns, err := s.Owns(ctx, p.UserID, cardID)
	if err != nil {
		return err
	}
	if !owns {
		s.log.Warnf("User %d does not own card %d", p.UserID, cardID)
		return fmt.Errorf("%w: user %d, card %d", models.ErrForbidden, p.UserID, cardID)
	}
	return nil
}
