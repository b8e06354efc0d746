package repository

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/Dan9191/card-service/internal/models"
	"github.com/shopspring/decimal"
)

// TEST_DB_CONN points at a disposable Postgres database. The bank schema
// is truncated before every test.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DB_CONN")
	if dsn == "" {
		t.Skip("TEST_DB_CONN not set")
	}
	ctx := context.Background()
	db, err := Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if _, err := db.ExecContext(ctx, `TRUNCATE bank.cards, bank.users RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return db
}

func pgUser(t *testing.T, r *Repository, name string) *models.User {
	t.Helper()
	u := &models.User{Username: name, PhoneNumber: "+7900" + name, PasswordHash: "hash", Role: models.RoleUser}
	if err := r.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser(%s): %v", name, err)
	}
	return u
}

func pgCard(t *testing.T, r *Repository, ownerID int64, status models.CardStatus, balance string, expires time.Time) *models.Card {
	t.Helper()
	c := &models.Card{
		OwnerID:         ownerID,
		BIN:             "453957",
		LastFour:        "1486",
		EncryptedNumber: "c2VjcmV0",
		CVV:             "123",
		CreatedDate:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ExpirationDate:  expires,
		Status:          status,
		Balance:         decimal.RequireFromString(balance),
	}
	if err := r.CreateCard(context.Background(), c); err != nil {
		t.Fatalf("CreateCard: %v", err)
	}
	return c
}

var farFuture = time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)

func TestPostgresUsersAndCards(t *testing.T) {
	ctx := context.Background()
	r := NewRepository(testDB(t), time.Second)
	alice := pgUser(t, r, "alice")

	if err := r.CreateUser(ctx, &models.User{Username: "alice", PhoneNumber: "other", PasswordHash: "x", Role: models.RoleUser}); !errors.Is(err, models.ErrUserExists) {
		t.Errorf("duplicate user err = %v", err)
	}
	if err := r.UpdateUserRole(ctx, alice.ID, models.RoleAdmin); err != nil {
		t.Fatal(err)
	}
	got, err := r.UserByUsername(ctx, "alice")
	if err != nil || got.Role != models.RoleAdmin {
		t.Fatalf("UserByUsername = %+v, %v", got, err)
	}

	c := pgCard(t, r, alice.ID, models.CardStatusActive, "12.34", farFuture)
	loaded, err := r.CardByID(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.OwnerID != alice.ID || !loaded.Balance.Equal(decimal.RequireFromString("12.34")) || loaded.Status != models.CardStatusActive {
		t.Errorf("CardByID = %+v", loaded)
	}
	if _, err := r.CardByID(ctx, c.ID+100); !errors.Is(err, models.ErrCardNotFound) {
		t.Errorf("missing card err = %v", err)
	}
	err = r.CreateCard(ctx, &models.Card{OwnerID: alice.ID + 100, BIN: "453957", LastFour: "0000", EncryptedNumber: "x", CVV: "000",
		CreatedDate: farFuture, ExpirationDate: farFuture, Status: models.CardStatusActive})
	if !errors.Is(err, models.ErrUserNotFound) {
		t.Errorf("card for missing owner err = %v", err)
	}
}

func TestPostgresListCards(t *testing.T) {
	ctx := context.Background()
	r := NewRepository(testDB(t), time.Second)
	alice := pgUser(t, r, "alice")
	bob := pgUser(t, r, "bob")
	a1 := pgCard(t, r, alice.ID, models.CardStatusActive, "0", farFuture)
	a2 := pgCard(t, r, alice.ID, models.CardStatusActive, "0", farFuture)
	a3 := pgCard(t, r, alice.ID, models.CardStatusActive, "0", farFuture)
	pgCard(t, r, bob.ID, models.CardStatusPendingBlock, "0", farFuture)

	tests := []struct {
		name   string
		filter models.CardFilter
		total  int
		ids    []int64
	}{
		{"owner first page", models.CardFilter{OwnerID: alice.ID, Size: 2}, 3, []int64{a3.ID, a2.ID}},
		{"owner second page", models.CardFilter{OwnerID: alice.ID, Page: 1, Size: 2}, 3, []int64{a1.ID}},
		{"status", models.CardFilter{Status: models.CardStatusPendingBlock, Size: 10}, 1, nil},
		{"all", models.CardFilter{Size: 10}, 4, nil},
		{"owner id beyond int4", models.CardFilter{OwnerID: 1 << 40, Size: 10}, 0, []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := r.ListCards(ctx, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if page.Total != tt.total {
				t.Errorf("Total = %d, want %d", page.Total, tt.total)
			}
			if tt.ids == nil {
				return
			}
			if len(page.Cards) != len(tt.ids) {
				t.Fatalf("got %d cards, want %d", len(page.Cards), len(tt.ids))
			}
			for i, id := range tt.ids {
				if page.Cards[i].ID != id {
					t.Errorf("card %d id = %d, want %d", i, page.Cards[i].ID, id)
				}
			}
		})
	}
}

func TestPostgresWithinTx(t *testing.T) {
	ctx := context.Background()
	r := NewRepository(testDB(t), time.Second)
	c := pgCard(t, r, pgUser(t, r, "alice").ID, models.CardStatusActive, "10", farFuture)

	errBoom := errors.New("boom")
	err := r.WithinTx(ctx, func(tx CardTx) error {
		card, err := tx.LockCard(ctx, c.ID)
		if err != nil {
			return err
		}
		card.Balance = decimal.NewFromInt(99)
		if err := tx.UpdateCard(ctx, card); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v", err)
	}
	if got, _ := r.CardByID(ctx, c.ID); !got.Balance.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("balance = %s after rollback", got.Balance)
	}

	err = r.WithinTx(ctx, func(tx CardTx) error {
		card, err := tx.LockCard(ctx, c.ID)
		if err != nil {
			return err
		}
		card.Status = models.CardStatusBlocked
		card.Balance = decimal.RequireFromString("7.5")
		return tx.UpdateCard(ctx, card)
	})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := r.CardByID(ctx, c.ID)
	if got.Status != models.CardStatusBlocked || !got.Balance.Equal(decimal.RequireFromString("7.5")) {
		t.Errorf("after commit = %+v", got)
	}

	err = r.WithinTx(ctx, func(tx CardTx) error {
		_, err := tx.LockCard(ctx, c.ID+100)
		return err
	})
	if !errors.Is(err, models.ErrCardNotFound) {
		t.Errorf("lock missing card err = %v", err)
	}
}

func TestPostgresLockTimeoutIsConflict(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	holder := NewRepository(db, 0)
	c := pgCard(t, holder, pgUser(t, holder, "alice").ID, models.CardStatusActive, "10", farFuture)

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- holder.WithinTx(ctx, func(tx CardTx) error {
			if _, err := tx.LockCard(ctx, c.ID); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	select {
	case <-locked:
	case err := <-done:
		t.Fatalf("holder: %v", err)
	}

	waiter := NewRepository(db, 50*time.Millisecond)
	err := waiter.WithinTx(ctx, func(tx CardTx) error {
		_, err := tx.LockCard(ctx, c.ID)
		return err
	})
	if !errors.Is(err, models.ErrConflict) || !IsConflict(err) {
		t.Errorf("waiter err = %v, want ErrConflict", err)
	}
	if err := waiter.DeleteCard(ctx, c.ID); !errors.Is(err, models.ErrConflict) {
		t.Errorf("DeleteCard on locked row err = %v, want ErrConflict", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("holder: %v", err)
	}
	if err := waiter.DeleteCard(ctx, c.ID); err != nil {
		t.Fatalf("DeleteCard after release: %v", err)
	}
}

func TestPostgresDeleteUserAndExpired(t *testing.T) {
	ctx := context.Background()
	r := NewRepository(testDB(t), time.Second)
	alice := pgUser(t, r, "alice")
	bob := pgUser(t, r, "bob")
	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	expired := pgCard(t, r, alice.ID, models.CardStatusActive, "0", past)
	pending := pgCard(t, r, alice.ID, models.CardStatusPendingBlock, "0", past)
	pgCard(t, r, alice.ID, models.CardStatusBlocked, "0", past)
	pgCard(t, r, bob.ID, models.CardStatusActive, "0", farFuture)

	ids, err := r.ExpiredCardIDs(ctx, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != expired.ID {
		t.Errorf("ExpiredCardIDs = %v, want [%d]", ids, expired.ID)
	}

	deleted, err := r.DeleteUser(ctx, alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(deleted) != 3 || deleted[0] != expired.ID || deleted[1] != pending.ID {
		t.Errorf("deleted cards = %v", deleted)
	}
	if _, err := r.UserByID(ctx, alice.ID); !errors.Is(err, models.ErrUserNotFound) {
		t.Errorf("UserByID after delete err = %v", err)
	}
	if _, err := r.DeleteUser(ctx, alice.ID); !errors.Is(err, models.ErrUserNotFound) {
		t.Errorf("second DeleteUser err = %v", err)
	}
	page, err := r.ListCards(ctx, models.CardFilter{Size: 10})
	if err != nil || page.Total != 1 {
		t.Errorf("remaining cards = %+v, %v", page, err)
	}
}
