package service

import (
	"context"
	"time"

	"github.com/Dan9191/card-service/internal/config"
	"github.com/Dan9191/card-service/internal/models"
	"github.com/Dan9191/card-service/internal/repository"
	"github.com/Dan9191/card-service/internal/utils"
	"github.com/sirupsen/logrus"
)

// Store is the persistence the service depends on. Both
// repository.Repository and repository.Memory satisfy it.
type Store interface {
	CreateUser(ctx context.Context, user *models.User) error
	UserByID(ctx context.Context, id int64) (*models.User, error)
	UserByUsername(ctx context.Context, username string) (*models.User, error)
	UpdateUserRole(ctx context.Context, id int64, role models.Role) error
	DeleteUser(ctx context.Context, id int64) ([]int64, error)

	CreateCard(ctx context.Context, card *models.Card) error
	CardByID(ctx context.Context, id int64) (*models.Card, error)
	ListCards(ctx context.Context, filter models.CardFilter) (*models.CardPage, error)
	ExpiredCardIDs(ctx context.Context, today time.Time) ([]int64, error)
	DeleteCard(ctx context.Context, id int64) error

	WithinTx(ctx context.Context, fn func(tx repository.CardTx) error) error
}

type numberGenerator interface {
	Generate() (*utils.GeneratedCard, error)
}

type numberCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// BlockNotifier is told about new block requests; delivery is best effort
type BlockNotifier interface {
	NotifyBlockRequested(cardID, userID int64, maskedNumber string) error
}

// Service handles business logic
type Service struct {
	repo      Store
	generator numberGenerator
	cipher    numberCipher
	notifier  BlockNotifier
	log       *logrus.Logger
	config    *config.Config
	now       func() time.Time
}

// NewService initializes a new service. notifier may be nil.
func NewService(repo Store, generator numberGenerator, cipher numberCipher, notifier BlockNotifier, log *logrus.Logger, cfg *config.Config) *Service {
	return &Service{
		repo:      repo,
		generator: generator,
		cipher:    cipher,
		notifier:  notifier,
		log:       log,
		config:    cfg,
		now:       time.Now,
	}
}

func (s *Service) today() time.Time {
	y, m, d := s.now().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
