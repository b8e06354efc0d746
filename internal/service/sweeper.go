package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dan9191/card-service/internal/models"
	"github.com/robfig/cron/v3"
)

// SweepExpired blocks every active card whose expiration date has passed.
// Cards awaiting block approval keep their status. The status is re-checked
// under the row lock, so a concurrent change wins.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	today := s.today()
	ids, err := s.repo.ExpiredCardIDs(ctx, today)
	if err != nil {
		return 0, err
	}

	blocked := 0
	for _, id := range ids {
		changed := false
		err := s.mutateCard(ctx, id, func(card *models.Card) error {
			if !card.Expired(today) || card.Status != models.CardStatusActive {
				return nil
			}
			card.Status = models.CardStatusBlocked
			changed = true
			return nil
		})
		if errors.Is(err, models.ErrCardNotFound) {
			continue
		}
		if err != nil {
			return blocked, fmt.Errorf("failed to block expired card %d: %w", id, err)
		}
		if changed {
			blocked++
		}
	}

	if blocked > 0 {
		s.log.Infof("Blocked %d expired cards", blocked)
	}
	return blocked, nil
}

// ScheduleSweeps registers SweepExpired on the given cron schedule
func (s *Service) ScheduleSweeps(c *cron.Cron, spec string) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() {
		if _, err := s.SweepExpired(context.Background()); err != nil {
			s.log.Errorf("Expired card sweep failed: %v", err)
		}
	})
	if err != nil {
		return 0, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return id, nil
}
