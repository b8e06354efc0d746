package models

import (
	"errors"
	"fmt"
)

var (
	ErrCardNotFound             = errors.New("card not found")
	ErrUserNotFound             = errors.New("user not found")
	ErrUserExists               = errors.New("user already exists")
	ErrInvalidCredentials       = errors.New("invalid credentials")
	ErrForbidden                = errors.New("user does not own this card")
	ErrInvalidInput             = errors.New("invalid input")
	ErrCardCreationFailed       = errors.New("card creation failed")
	ErrCardBlockRequestRejected = errors.New("card block request rejected")
	ErrCardBlockFailed          = errors.New("card block failed")
	ErrTransferFailed           = errors.New("transfer failed")
	ErrDecryptionFailed         = errors.New("card number decryption failed")
	// ErrConflict is returned by stores when a lock wait times out, a
	// deadlock is detected or a serialization failure aborts the transaction.
	ErrConflict = errors.New("concurrent update conflict")
)

// Transfer failure reasons
const (
	ReasonSameCard          = "same card"
	ReasonNonPositiveAmount = "non-positive amount"
	ReasonAmountScale       = "amount has more than two fractional digits"
	ReasonCardNotActive     = "card not active"
	ReasonInsufficientFunds = "insufficient funds"
	ReasonBalanceLimit      = "destination balance limit exceeded"
	ReasonConflict          = "concurrent update, retry"
)

// TransferError describes why a transfer was aborted. It matches
// ErrTransferFailed under errors.Is.
type TransferError struct {
	FromID    int64
	ToID      int64
	Reason    string
	Retryable bool
	Err       error
}

func (e *TransferError) Error() string {
	msg := fmt.Sprintf("transfer from card %d to card %d failed: %s", e.FromID, e.ToID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransferError) Is(target error) bool {
	return target == ErrTransferFailed
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// CardCreationError is returned when a freshly generated number cannot be
// encrypted. The plaintext is kept for diagnostics and is not part of Error().
type CardCreationError struct {
	plaintext string
	Err       error
}

// NewCardCreationError wraps an encryption failure for the given number
func NewCardCreationError(plaintext string, err error) *CardCreationError {
	return &CardCreationError{plaintext: plaintext, Err: err}
}

func (e *CardCreationError) Error() string {
	return fmt.Sprintf("%s: %v", ErrCardCreationFailed, e.Err)
}

func (e *CardCreationError) Is(target error) bool {
	return target == ErrCardCreationFailed
}

func (e *CardCreationError) Unwrap() error {
	return e.Err
}

// Plaintext returns the number that failed to encrypt, for log output only
func (e *CardCreationError) Plaintext() string {
	return e.plaintext
}
