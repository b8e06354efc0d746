package utils

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/theplant/luhn"
)

const (
	CardNumberLength = 16
	BINLength        = 6
	CVVLength        = 3
	// Cards are valid for 3 years from issue
	CardValidityYears = 3
)

// DefaultBINPrefixes is the issuer prefix allow-list used when none is configured
var DefaultBINPrefixes = []string{"4539", "4556", "4916", "4532", "4929", "4024", "4485", "4716"}

// GeneratedCard holds the output of a single generation
type GeneratedCard struct {
	Number         string
	BIN            string
	LastFour       string
	CVV            string
	ExpirationDate time.Time
}

// CardGenerator produces Luhn-valid card numbers under a fixed set of issuer prefixes
type CardGenerator struct {
	prefixes []string
	random   io.Reader
	now      func() time.Time
}

// NewCardGenerator validates the prefix allow-list and returns a generator
// backed by crypto/rand
func NewCardGenerator(prefixes []string) (*CardGenerator, error) {
	if len(prefixes) == 0 {
		prefixes = DefaultBINPrefixes
	}
	for _, p := range prefixes {
		if p == "" || len(p) > BINLength || !IsDigits(p) {
			return nil, fmt.Errorf("invalid issuer prefix %q", p)
		}
	}
	return &CardGenerator{prefixes: prefixes, random: rand.Reader, now: time.Now}, nil
}

// Prefixes returns the configured issuer prefixes
func (g *CardGenerator) Prefixes() []string {
	return append([]string(nil), g.prefixes...)
}

// Generate creates a card number, its BIN and last four digits, a CVV and an
// expiration date three years from today
func (g *CardGenerator) Generate() (*GeneratedCard, error) {
	number, err := g.GenerateCardNumber()
	if err != nil {
		return nil, err
	}
	cvv, err := g.GenerateCVV()
	if err != nil {
		return nil, err
	}
	return &GeneratedCard{
		Number:         number,
		BIN:            number[:BINLength],
		LastFour:       number[CardNumberLength-4:],
		CVV:            cvv,
		ExpirationDate: GenerateExpiryDate(g.now()),
	}, nil
}

// GenerateBIN picks an issuer prefix and pads it to six digits with random digits
func (g *CardGenerator) GenerateBIN() (string, error) {
	idx, err := g.randomInt(len(g.prefixes))
	if err != nil {
		return "", err
	}
	var builder strings.Builder
	builder.WriteString(g.prefixes[idx])
	if err := g.appendDigits(&builder, BINLength-builder.Len()); err != nil {
		return "", err
	}
	return builder.String(), nil
}

// GenerateCardNumber generates a 16 digit number that passes the Luhn check
func (g *CardGenerator) GenerateCardNumber() (string, error) {
	bin, err := g.GenerateBIN()
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	builder.WriteString(bin)
	if err := g.appendDigits(&builder, CardNumberLength-1-BINLength); err != nil {
		return "", err
	}

	body := builder.String()
	n, err := strconv.Atoi(body)
	if err != nil {
		return "", fmt.Errorf("failed to parse card number body: %w", err)
	}
	builder.WriteString(strconv.Itoa(luhn.CalculateLuhn(n)))

	cardNumber := builder.String()
	if len(cardNumber) != CardNumberLength {
		return "", fmt.Errorf("generated card number has incorrect length: got %d, want %d", len(cardNumber), CardNumberLength)
	}
	return cardNumber, nil
}

// GenerateCVV generates a zero-padded 3-digit CVV code
func (g *CardGenerator) GenerateCVV() (string, error) {
	n, err := g.randomInt(1000)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%03d", n), nil
}

// GenerateExpiryDate returns the calendar date CardValidityYears after now
func GenerateExpiryDate(now time.Time) time.Time {
	y, m, d := now.AddDate(CardValidityYears, 0, 0).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ValidCardNumber reports whether s is 16 digits and passes the Luhn check
func ValidCardNumber(s string) bool {
	if len(s) != CardNumberLength || !IsDigits(s) {
		return false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return false
	}
	return luhn.Valid(n)
}

// IsDigits reports whether s consists only of ASCII digits
func IsDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func (g *CardGenerator) appendDigits(builder *strings.Builder, count int) error {
	for i := 0; i < count; i++ {
		d, err := g.randomInt(10)
		if err != nil {
			return err
		}
		builder.WriteByte(byte('0' + d))
	}
	return nil
}

func (g *CardGenerator) randomInt(max int) (int, error) {
	n, err := rand.Int(g.random, big.NewInt(int64(max)))
	if err != nil {
		return 0, fmt.Errorf("failed to generate random digits: %w", err)
	}
	return int(n.Int64()), nil
}
