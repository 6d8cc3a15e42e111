package core

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	Income  Kind = "income"
	Expense Kind = "expense"
)

const (
	MaxTitleLength    = 200
	MaxCategoryLength = 80

	// MaxAmountCents is 999,999,999,999.99, the range of the NUMERIC(14, 2)
	// amount column.
	MaxAmountCents int64 = 99_999_999_999_999
)

type (
	// Kind tells whether a transaction adds to or draws from the balance.
	Kind string

	Money struct {
		Cents int64
	}

	// Transaction is a single income or expense record owned by one user.
	// Amount is never negative; direction lives in Kind.
	Transaction struct {
		ID         string
		UserID     string
		Title      string
		Amount     Money
		Category   string
		Kind       Kind
		OccurredAt time.Time
	}

	// Draft is the payload used to create or update a transaction.
	// OccurredAt is optional and only honoured on create.
	Draft struct {
		Title      string
		Amount     Money
		Category   string
		Kind       Kind
		OccurredAt time.Time
	}
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrAmountTooLarge  = errors.New("amount too large (max 999999999999.99)")
	ErrInvalidKind     = errors.New("type must be income or expense")
	ErrEmptyTitle      = errors.New("title is required")
	ErrEmptyCategory   = errors.New("category is required")
	ErrTitleTooLong    = errors.New("title too long (max 200 characters)")
	ErrCategoryTooLong = errors.New("category too long (max 80 characters)")
)

// ParseKind accepts "income" or "expense" in any case.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case Income:
		return Income, nil
	case Expense:
		return Expense, nil
	}
	return "", ErrInvalidKind
}

func (k Kind) Valid() bool {
	return k == Income || k == Expense
}

func (k Kind) String() string {
	return string(k)
}

func (m Money) Validate() error {
	if m.Cents < 0 {
		return ErrInvalidAmount
	}
	if m.Cents > MaxAmountCents {
		return ErrAmountTooLarge
	}
	return nil
}

// Normalize trims title and category. It returns a copy.
func (d Draft) Normalize() Draft {
	d.Title = strings.TrimSpace(d.Title)
	d.Category = strings.TrimSpace(d.Category)
	return d
}

func (d Draft) Validate() error {
	title := strings.TrimSpace(d.Title)
	if title == "" {
		return ErrEmptyTitle
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return ErrTitleTooLong
	}
	category := strings.TrimSpace(d.Category)
	if category == "" {
		return ErrEmptyCategory
	}
	if utf8.RuneCountInString(category) > MaxCategoryLength {
		return ErrCategoryTooLong
	}
	if !d.Kind.Valid() {
		return ErrInvalidKind
	}
	return d.Amount.Validate()
}

// IsValidationError reports whether err came from Draft.Validate or ParseKind.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrInvalidAmount, ErrAmountTooLarge, ErrInvalidKind, ErrEmptyTitle,
		ErrEmptyCategory, ErrTitleTooLong, ErrCategoryTooLong,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Apply returns tx with the draft's editable fields copied over.
// ID, owner and OccurredAt are kept.
func (tx Transaction) Apply(d Draft) Transaction {
	d = d.Normalize()
	tx.Title = d.Title
	tx.Amount = d.Amount
	tx.Category = d.Category
	tx.Kind = d.Kind
	return tx
}
