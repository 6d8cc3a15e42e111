package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"finsight/internal/analytics"
	"finsight/internal/core"
	"finsight/internal/csvio"
)

const (
	maxBodyBytes      = 1 << 20
	defaultTrendMonth = 6
	maxTrendMonths    = 24
)

// badRequest marks malformed input, as opposed to a well-formed draft that
// fails validation.
type badRequest struct {
	msg string
}

func (e *badRequest) Error() string { return e.msg }

func badRequestf(format string, args ...any) error {
	return &badRequest{msg: fmt.Sprintf(format, args...)}
}

// amountField accepts a JSON number or a string such as "12,34".
type amountField string

func (a *amountField) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	switch {
	case raw == "null":
		*a = ""
	case strings.HasPrefix(raw, `"`):
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return core.ErrInvalidAmount
		}
		*a = amountField(strings.TrimSpace(s))
	case raw != "" && (raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9')):
		*a = amountField(raw)
	default:
		return core.ErrInvalidAmount
	}
	return nil
}

// draftRequest is the create/update payload. Amount may be sent as a decimal
// number or string ("12.34", "12,34") or as integer cents.
type draftRequest struct {
	Title       string      `json:"title"`
	Amount      amountField `json:"amount"`
	AmountCents *int64      `json:"amount_cents"`
	Category    string      `json:"category"`
	Type        string      `json:"type"`
	OccurredAt  string      `json:"occurred_at"`
}

// decodeDraft reads a draft from a JSON or form-encoded body.
func decodeDraft(w http.ResponseWriter, r *http.Request) (core.Draft, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req draftRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseForm(); err != nil {
			return core.Draft{}, badRequestf("Invalid form body")
		}
		req = draftRequest{
			Title:      r.PostForm.Get("title"),
			Amount:     amountField(strings.TrimSpace(r.PostForm.Get("amount"))),
			Category:   r.PostForm.Get("category"),
			Type:       r.PostForm.Get("type"),
			OccurredAt: r.PostForm.Get("occurred_at"),
		}
		if c := strings.TrimSpace(r.PostForm.Get("amount_cents")); c != "" {
			cents, err := strconv.ParseInt(c, 10, 64)
			if err != nil {
				return core.Draft{}, core.ErrInvalidAmount
			}
			req.AmountCents = &cents
		}
	default:
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&req); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return core.Draft{}, badRequestf("Request body too large")
			}
			var numErr *json.UnmarshalTypeError
			if errors.Is(err, core.ErrInvalidAmount) || (errors.As(err, &numErr) && numErr.Field == "amount_cents") {
				return core.Draft{}, core.ErrInvalidAmount
			}
			return core.Draft{}, badRequestf("Invalid JSON body")
		}
	}
	return req.toDraft()
}

// toDraft converts the payload. Field problems surface in the same order as
// core.Draft.Validate reports them.
func (req draftRequest) toDraft() (core.Draft, error) {
	kind, err := core.ParseKind(req.Type)
	if err != nil {
		kind = core.Kind(req.Type)
	}

	var amount core.Money
	var amountErr error
	switch {
	case req.AmountCents != nil:
		amount = core.Money{Cents: *req.AmountCents}
	case req.Amount != "":
		amount.Cents, amountErr = core.ParseDecimalToCents(string(req.Amount))
	default:
		amountErr = core.ErrInvalidAmount
	}

	d := core.Draft{
		Title:    req.Title,
		Amount:   amount,
		Category: req.Category,
		Kind:     kind,
	}.Normalize()
	if err := d.Validate(); err != nil {
		return core.Draft{}, err
	}
	if amountErr != nil {
		return core.Draft{}, amountErr
	}

	if s := strings.TrimSpace(req.OccurredAt); s != "" {
		t, err := csvio.ParseTime(s)
		if err != nil {
			return core.Draft{}, badRequestf("occurred_at must be RFC3339 or YYYY-MM-DD")
		}
		d.OccurredAt = t
	}
	return d, nil
}

// parseAt returns the ?at= override or now.
func parseAt(r *http.Request, now time.Time) (time.Time, error) {
	s := strings.TrimSpace(r.URL.Query().Get("at"))
	if s == "" {
		return now, nil
	}
	t, err := csvio.ParseTime(s)
	if err != nil {
		return time.Time{}, badRequestf("at must be RFC3339 or YYYY-MM-DD")
	}
	return t, nil
}

// parseMonths reads ?months=, 1 to 24, default 6.
func parseMonths(r *http.Request) (int, error) {
	s := strings.TrimSpace(r.URL.Query().Get("months"))
	if s == "" {
		return defaultTrendMonth, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > maxTrendMonths {
		return 0, badRequestf("months must be between 1 and %d", maxTrendMonths)
	}
	return n, nil
}

// parseCriteria reads the list filters ?month=, ?type= and ?q=.
func parseCriteria(r *http.Request) (analytics.Criteria, error) {
	q := r.URL.Query()
	c := analytics.Criteria{
		Month:  strings.TrimSpace(q.Get("month")),
		Kind:   strings.ToLower(strings.TrimSpace(q.Get("type"))),
		Search: q.Get("q"),
	}
	if c.Month != "" && c.Month != analytics.All {
		if _, err := core.ParseMonthKey(c.Month); err != nil {
			return analytics.Criteria{}, badRequestf("month must be YYYY-MM or all")
		}
	}
	switch c.Kind {
	case "", analytics.All, string(core.Income), string(core.Expense):
	default:
		return analytics.Criteria{}, badRequestf("type must be income, expense or all")
	}
	return c, nil
}
