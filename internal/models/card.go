package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CardStatus is the lifecycle state of a card
type CardStatus string

const (
	CardStatusActive       CardStatus = "ACTIVE"
	CardStatusBlocked      CardStatus = "BLOCKED"
	CardStatusPendingBlock CardStatus = "PENDING_BLOCK"
)

// Valid reports whether s is a known status
func (s CardStatus) Valid() bool {
	switch s {
	case CardStatusActive, CardStatusBlocked, CardStatusPendingBlock:
		return true
	}
	return false
}

// Card represents a bank card. The plaintext number is never stored.
type Card struct {
	ID              int64           `json:"id"`
	OwnerID         int64           `json:"owner_id"`
	BIN             string          `json:"bin"`
	LastFour        string          `json:"last_four"`
	EncryptedNumber string          `json:"-"` // Returned only through the decrypt path
	CVV             string          `json:"-"`
	CreatedDate     time.Time       `json:"created_date"`
	ExpirationDate  time.Time       `json:"expiration_date"`
	Status          CardStatus      `json:"status"`
	Balance         decimal.Decimal `json:"balance"`
}

// MaskedNumber returns the display form of the card number
func (c *Card) MaskedNumber() string {
	return "**** **** **** " + c.LastFour
}

// Expired reports whether the card expiration date is before the given day
func (c *Card) Expired(now time.Time) bool {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return c.ExpirationDate.Before(today)
}

// CardFilter selects a page of cards. Zero values mean "any".
type CardFilter struct {
	OwnerID int64
	Status  CardStatus
	Page    int
	Size    int
}

// CardPage is one page of a listing, ordered by id descending
type CardPage struct {
	Cards []Card `json:"cards"`
	Page  int    `json:"page"`
	Size  int    `json:"size"`
	Total int    `json:"total"`
}
