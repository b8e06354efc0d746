package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/card-service/internal/models"
	"github.com/lib/pq"
)

// CardTx is the view of the card table inside a transaction. Rows returned
// by LockCard stay exclusively locked until the transaction ends.
type CardTx interface {
	LockCard(ctx context.Context, id int64) (*models.Card, error)
	UpdateCard(ctx context.Context, card *models.Card) error
}

// Repository provides database operations
type Repository struct {
	db          *sql.DB
	lockTimeout time.Duration
}

// NewRepository initializes a new repository
func NewRepository(db *sql.DB, lockTimeout time.Duration) *Repository {
	return &Repository{db: db, lockTimeout: lockTimeout}
}

const cardColumns = `id, user_id, bin, last_four, encrypted_number, cvv, created_date, expiration_date, status, balance`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (*models.Card, error) {
	card := &models.Card{}
	var status string
	err := row.Scan(&card.ID, &card.OwnerID, &card.BIN, &card.LastFour, &card.EncryptedNumber,
		&card.CVV, &card.CreatedDate, &card.ExpirationDate, &status, &card.Balance)
	if err != nil {
		return nil, err
	}
	card.Status = models.CardStatus(status)
	return card, nil
}

// CreateUser creates a new user in the database
func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO bank.users (username, phone_number, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
		RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, user.Username, user.PhoneNumber, user.PasswordHash, string(user.Role)).
		Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if pqCode(err) == "23505" { // unique_violation
			return models.ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *Repository) findUser(ctx context.Context, where string, arg any) (*models.User, error) {
	user := &models.User{}
	var role string
	query := `
		SELECT id, username, phone_number, password_hash, role, created_at
		FROM bank.users
		WHERE ` + where + ` = $1`
	err := r.db.QueryRowContext(ctx, query, arg).
		Scan(&user.ID, &user.Username, &user.PhoneNumber, &user.PasswordHash, &role, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	user.Role = models.Role(role)
	return user, nil
}

// UserByID retrieves a user by id
func (r *Repository) UserByID(ctx context.Context, id int64) (*models.User, error) {
	return r.findUser(ctx, "id", id)
}

// UserByUsername retrieves a user by username
func (r *Repository) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.findUser(ctx, "username", username)
}

// UpdateUserRole changes a user's role
func (r *Repository) UpdateUserRole(ctx context.Context, id int64, role models.Role) error {
	res, err := r.db.ExecContext(ctx, `UPDATE bank.users SET role = $1 WHERE id = $2`, string(role), id)
	if err != nil {
		return fmt.Errorf("failed to update user role: %w", err)
	}
	return expectOneRow(res, models.ErrUserNotFound)
}

// DeleteUser removes a user and every card it owns. The cards are locked in
// ascending id order first, so the delete waits for in-flight transfers.
func (r *Repository) DeleteUser(ctx context.Context, id int64) ([]int64, error) {
	var cardIDs []int64
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var userID int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM bank.users WHERE id = $1 FOR UPDATE`, id).Scan(&userID)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock user: %w", err)
		}

		rows, err := tx.QueryContext(ctx, `SELECT id FROM bank.cards WHERE user_id = $1 ORDER BY id FOR UPDATE`, id)
		if err != nil {
			return fmt.Errorf("failed to lock user cards: %w", err)
		}
		cardIDs, err = scanIDs(rows)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM bank.cards WHERE user_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete user cards: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM bank.users WHERE id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cardIDs, nil
}

// CreateCard persists a new card
func (r *Repository) CreateCard(ctx context.Context, card *models.Card) error {
	query := `
		INSERT INTO bank.cards (user_id, bin, last_four, encrypted_number, cvv, created_date, expiration_date, status, balance)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	err := r.db.QueryRowContext(ctx, query, card.OwnerID, card.BIN, card.LastFour, card.EncryptedNumber,
		card.CVV, card.CreatedDate, card.ExpirationDate, string(card.Status), card.Balance).
		Scan(&card.ID)
	if err != nil {
		if pqCode(err) == "23503" { // foreign_key_violation
			return models.ErrUserNotFound
		}
		return fmt.Errorf("failed to create card: %w", err)
	}
	return nil
}

// CardByID retrieves a card without locking it
func (r *Repository) CardByID(ctx context.Context, id int64) (*models.Card, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM bank.cards WHERE id = $1`, id)
	card, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrCardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find card: %w", err)
	}
	return card, nil
}

// ListCards returns one page of cards matching the filter, newest first
func (r *Repository) ListCards(ctx context.Context, filter models.CardFilter) (*models.CardPage, error) {
	where := ` WHERE ($1::bigint = 0 OR user_id = $1::bigint) AND ($2::text = '' OR status = $2::text)`
	args := []any{filter.OwnerID, string(filter.Status)}

	page := &models.CardPage{Page: filter.Page, Size: filter.Size, Cards: []models.Card{}}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bank.cards`+where, args...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("failed to count cards: %w", err)
	}

	query := `SELECT ` + cardColumns + ` FROM bank.cards` + where + ` ORDER BY id DESC LIMIT $3 OFFSET $4`
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Size, filter.Page*filter.Size)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		page.Cards = append(page.Cards, *card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cards: %w", err)
	}
	return page, nil
}

// ExpiredCardIDs returns active cards past their expiration date.
// Pending block requests are left for an admin to resolve.
func (r *Repository) ExpiredCardIDs(ctx context.Context, today time.Time) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM bank.cards WHERE expiration_date < $1 AND status = $2 ORDER BY id`,
		today, string(models.CardStatusActive))
	if err != nil {
		return nil, fmt.Errorf("failed to find expired cards: %w", err)
	}
	return scanIDs(rows)
}

// DeleteCard locks and removes a single card
func (r *Repository) DeleteCard(ctx context.Context, id int64) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		var cardID int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM bank.cards WHERE id = $1 FOR UPDATE`, id).Scan(&cardID)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrCardNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock card: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM bank.cards WHERE id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete card: %w", err)
		}
		return nil
	})
}

// WithinTx runs fn in a read-committed transaction. The transaction commits
// when fn returns nil and rolls back on error or panic.
func (r *Repository) WithinTx(ctx context.Context, fn func(tx CardTx) error) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

func (r *Repository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify(fmt.Errorf("error starting transaction: %w", err))
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if r.lockTimeout > 0 {
		// SET does not accept bind parameters
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return classify(fmt.Errorf("error setting lock timeout: %w", err))
		}
	}

	if err = fn(tx); err != nil {
		return classify(err)
	}
	if err = tx.Commit(); err != nil {
		return classify(fmt.Errorf("error committing transaction: %w", err))
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LockCard(ctx context.Context, id int64) (*models.Card, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM bank.cards WHERE id = $1 FOR UPDATE`, id)
	card, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrCardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock card %d: %w", id, err)
	}
	return card, nil
}

func (t *pgTx) UpdateCard(ctx context.Context, card *models.Card) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE bank.cards SET status = $1, balance = $2 WHERE id = $3`,
		string(card.Status), card.Balance, card.ID)
	if err != nil {
		return fmt.Errorf("failed to update card %d: %w", card.ID, err)
	}
	return expectOneRow(res, models.ErrCardNotFound)
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ids: %w", err)
	}
	return ids, nil
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func pqCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

// classify marks lock contention failures as models.ErrConflict
func classify(err error) error {
	if err == nil || errors.Is(err, models.ErrConflict) {
		return err
	}
	if IsConflict(err) {
		return fmt.Errorf("%w: %v", models.ErrConflict, err)
	}
	return err
}

// IsConflict reports whether err is a Postgres deadlock, serialization
// failure or lock timeout
func IsConflict(err error) bool {
	switch pqCode(err) {
	case "40P01", "40001", "55P03":
		return true
	}
	return false
}
