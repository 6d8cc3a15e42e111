package core

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseKind(t *testing.T) {
	cases := []struct {
		in   string
		want Kind
		ok   bool
	}{
		{"income", Income, true},
		{" Expense ", Expense, true},
		{"INCOME", Income, true},
		{"transfer", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseKind(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.want, got, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidKind) {
			t.Fatalf("%q expected ErrInvalidKind, got %v", tc.in, err)
		}
	}
}

func TestMoneyValidate(t *testing.T) {
	if err := (Money{Cents: 0}).Validate(); err != nil {
		t.Fatalf("expected zero to be valid, got %v", err)
	}
	if err := (Money{Cents: -1}).Validate(); err == nil {
		t.Fatalf("expected error for negative")
	}
	if err := (Money{Cents: MaxAmountCents}).Validate(); err != nil {
		t.Fatalf("expected the maximum to be valid, got %v", err)
	}
	if err := (Money{Cents: MaxAmountCents + 1}).Validate(); !errors.Is(err, ErrAmountTooLarge) {
		t.Fatalf("expected ErrAmountTooLarge, got %v", err)
	}
}

func TestDraftValidate(t *testing.T) {
	good := Draft{Title: "Salary", Amount: Money{Cents: 100}, Category: "Work", Kind: Income}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	// Limits count characters, not bytes.
	accented := Draft{Title: strings.Repeat("é", MaxTitleLength), Amount: Money{Cents: 100}, Category: strings.Repeat("ü", MaxCategoryLength), Kind: Expense}
	if err := accented.Validate(); err != nil {
		t.Fatalf("expected %d two-byte characters to fit, got %v", MaxTitleLength, err)
	}

	bads := []struct {
		d    Draft
		want error
	}{
		{Draft{Title: "  ", Amount: Money{Cents: 1}, Category: "c", Kind: Expense}, ErrEmptyTitle},
		{Draft{Title: "a", Amount: Money{Cents: 1}, Category: "\t", Kind: Expense}, ErrEmptyCategory},
		{Draft{Title: "a", Amount: Money{Cents: -1}, Category: "c", Kind: Expense}, ErrInvalidAmount},
		{Draft{Title: "Rent", Amount: Money{Cents: 5_000_000_000_000_000_000}, Category: "Housing", Kind: Expense}, ErrAmountTooLarge},
		{Draft{Title: "a", Amount: Money{Cents: 1}, Category: "c", Kind: "loan"}, ErrInvalidKind},
		{Draft{Title: strings.Repeat("x", 201), Amount: Money{Cents: 1}, Category: "c", Kind: Expense}, ErrTitleTooLong},
		{Draft{Title: "a", Amount: Money{Cents: 1}, Category: strings.Repeat("x", 81), Kind: Expense}, ErrCategoryTooLong},
		{Draft{Title: strings.Repeat("é", 201), Amount: Money{Cents: 1}, Category: "c", Kind: Expense}, ErrTitleTooLong},
	}
	for i, tc := range bads {
		err := tc.d.Validate()
		if !errors.Is(err, tc.want) {
			t.Fatalf("case %d expected %v, got %v", i, tc.want, err)
		}
		if !IsValidationError(err) {
			t.Fatalf("case %d expected a validation error", i)
		}
	}
}

func TestTransactionApplyKeepsIdentity(t *testing.T) {
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	tx := Transaction{ID: "t1", UserID: "u1", Title: "Old", Amount: Money{Cents: 1}, Category: "A", Kind: Expense, OccurredAt: at}
	got := tx.Apply(Draft{Title: " New ", Amount: Money{Cents: 500}, Category: " Food ", Kind: Income, OccurredAt: at.AddDate(1, 0, 0)})

	if got.ID != "t1" || got.UserID != "u1" || !got.OccurredAt.Equal(at) {
		t.Fatalf("identity fields changed: %+v", got)
	}
	if got.Title != "New" || got.Category != "Food" || got.Kind != Income || got.Amount.Cents != 500 {
		t.Fatalf("editable fields not applied: %+v", got)
	}
}

func TestMonthHelpers(t *testing.T) {
	jan31 := time.Date(2025, 1, 31, 23, 0, 0, 0, time.UTC)
	if got := MonthKey(jan31); got != "2025-01" {
		t.Fatalf("expected 2025-01, got %s", got)
	}
	if got := MonthKey(AddMonths(jan31, 1)); got != "2025-02" {
		t.Fatalf("expected 2025-02, got %s", got)
	}
	if got := MonthKey(AddMonths(jan31, -1)); got != "2024-12" {
		t.Fatalf("expected 2024-12, got %s", got)
	}
	if !SameMonth(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), jan31) {
		t.Fatalf("expected same month")
	}
	if SameMonth(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), jan31) {
		t.Fatalf("different years must not match")
	}
	if _, err := ParseMonthKey("2025-13"); err == nil {
		t.Fatalf("expected error for bad month")
	}
}
