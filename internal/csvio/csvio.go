// Package csvio reads and writes transactions as CSV.
//
// The layout is one header row followed by one transaction per row:
//
//	id,title,amount,category,type,occurred_at
//
// amount is a decimal in currency units and occurred_at is RFC 3339 or a
// plain YYYY-MM-DD date (midnight UTC). id may be empty on import.
package csvio

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"finsight/internal/core"
)

var Header = []string{"id", "title", "amount", "category", "type", "occurred_at"}

const dateOnly = "2006-01-02"

// ReadFile opens path and parses it with Read.
func ReadFile(path string) ([]core.Transaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transaction file %s: %w", path, err)
	}
	defer f.Close()

	txs, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return txs, nil
}

// Read parses transactions from r. Every row is validated as a draft.
func Read(r io.Reader) ([]core.Transaction, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = len(Header)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	cols, err := columns(header)
	if err != nil {
		return nil, err
	}

	var out []core.Transaction
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading record on line %d: %w", line, err)
		}
		tx, err := parseRecord(record, cols)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, tx)
	}
	return out, nil
}

// Write emits txs with a header row.
func Write(w io.Writer, txs []core.Transaction) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, tx := range txs {
		record := []string{
			tx.ID,
			tx.Title,
			tx.Amount.String(),
			tx.Category,
			string(tx.Kind),
			tx.OccurredAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write transaction %s: %w", tx.ID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// columns maps header names to indexes so files may order columns freely.
func columns(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, want := range Header {
		if _, ok := cols[want]; !ok {
			return nil, fmt.Errorf("missing column %q", want)
		}
	}
	return cols, nil
}

func parseRecord(record []string, cols map[string]int) (core.Transaction, error) {
	field := func(name string) string {
		return strings.TrimSpace(record[cols[name]])
	}

	cents, err := core.ParseDecimalToCents(field("amount"))
	if err != nil {
		return core.Transaction{}, fmt.Errorf("could not parse amount '%s': %w", field("amount"), err)
	}
	kind, err := core.ParseKind(field("type"))
	if err != nil {
		return core.Transaction{}, err
	}
	at, err := ParseTime(field("occurred_at"))
	if err != nil {
		return core.Transaction{}, err
	}

	d := core.Draft{
		Title:    field("title"),
		Amount:   core.Money{Cents: cents},
		Category: field("category"),
		Kind:     kind,
	}
	if err := d.Validate(); err != nil {
		return core.Transaction{}, err
	}
	return core.Transaction{
		ID:         field("id"),
		Title:      d.Title,
		Amount:     d.Amount,
		Category:   d.Category,
		Kind:       d.Kind,
		OccurredAt: at,
	}, nil
}

// ParseTime accepts RFC 3339 timestamps or YYYY-MM-DD dates.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("could not parse occurred_at '%s'", s)
	}
	return t, nil
}
