package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finsight/internal/cache"
	"finsight/internal/core"
	"finsight/internal/insight"
	"finsight/internal/ledger"
	"finsight/internal/ledger/memory"
	mock_ledger "finsight/internal/ledger/mocks"
	"finsight/internal/services"
	"finsight/internal/session"
)

var june = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func seed() []core.Transaction {
	return []core.Transaction{
		{ID: "1", Title: "Salary", Amount: core.Money{Cents: 300000}, Category: "Salary", Kind: core.Income, OccurredAt: june.AddDate(0, 0, -10)},
		{ID: "2", Title: "Rent", Amount: core.Money{Cents: 90000}, Category: "Housing", Kind: core.Expense, OccurredAt: june.AddDate(0, 0, -9)},
		{ID: "3", Title: "Groceries", Amount: core.Money{Cents: 30000}, Category: "Food", Kind: core.Expense, OccurredAt: june.AddDate(0, 0, -2)},
		{ID: "4", Title: "May salary", Amount: core.Money{Cents: 300000}, Category: "Salary", Kind: core.Income, OccurredAt: june.AddDate(0, -1, 0)},
	}
}

type testEnv struct {
	srv   *Server
	store *memory.Store
}

func newTestServer(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()
	store := memory.New().WithClock(func() time.Time { return june })
	store.Seed("alice", seed())

	insights := services.NewInsightService(store, cache.NewLRUCache[insight.Result](10, time.Minute))
	txs := services.NewTransactionService(store, nil, insights)

	deps := Deps{
		Transactions:   txs,
		Insights:       insights,
		Sessions:       session.HeaderResolver{},
		Pinger:         nil,
		RateLimitRPM:   100,
		MetricsEnabled: true,
		Now:            func() time.Time { return june },
	}
	if mutate != nil {
		mutate(&deps)
	}
	srv := NewServer(":0", deps)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testEnv{srv: srv, store: store}
}

func (e *testEnv) do(t *testing.T, method, target, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if user != "" {
		req.Header.Set(session.HeaderUserID, user)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestServer(t, nil)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := env.do(t, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := env.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "finsight_http_requests_total")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestMetricsDisabled(t *testing.T) {
	env := newTestServer(t, func(d *Deps) { d.MetricsEnabled = false })
	rec := env.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Not found"}`, rec.Body.String())
}

func TestReadyzPingFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	pinger := mock_ledger.NewMockPinger(ctrl)
	pinger.EXPECT().Ping(gomock.Any()).Return(errors.New("dial tcp: connection refused"))

	env := newTestServer(t, func(d *Deps) { d.Pinger = pinger })
	rec := env.do(t, http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, ledger.NetworkMessage, body["error"])
}

func TestAPIRequiresSession(t *testing.T) {
	env := newTestServer(t, nil)
	rec := env.do(t, http.MethodGet, "/api/transactions", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"No session"}`, rec.Body.String())
}

func TestBearerSession(t *testing.T) {
	verifier := session.NewVerifier(strings.Repeat("s", 32)).WithClock(func() time.Time { return june })
	env := newTestServer(t, func(d *Deps) { d.Sessions = session.BearerResolver{Verifier: verifier} })

	token, err := verifier.Issue("alice", "alice@example.com", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/transactions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.srv.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4, decode[listJSON](t, rec).Count)

	rec = env.do(t, http.MethodGet, "/api/transactions", "alice", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "header identity is ignored in jwt mode")
}

func TestListTransactions(t *testing.T) {
	env := newTestServer(t, nil)

	rec := env.do(t, http.MethodGet, "/api/transactions", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[listJSON](t, rec)
	assert.Equal(t, 4, list.Count)
	assert.Equal(t, []string{"2025-06", "2025-05"}, list.Months)
	assert.Equal(t, "Groceries", list.Transactions[0].Title, "newest first")

	rec = env.do(t, http.MethodGet, "/api/transactions?month=2025-06&type=expense&q=RENT", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list = decode[listJSON](t, rec)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, 900.0, list.Transactions[0].Amount)
	assert.Equal(t, int64(90000), list.Transactions[0].AmountCents)
	assert.Equal(t, []string{"2025-06", "2025-05"}, list.Months, "month options ignore filters")

	rec = env.do(t, http.MethodGet, "/api/transactions", "bob", "")
	assert.Equal(t, 0, decode[listJSON](t, rec).Count)

	for _, q := range []string{"?month=June", "?type=refund"} {
		rec = env.do(t, http.MethodGet, "/api/transactions"+q, "alice", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestTransactionCRUD(t *testing.T) {
	env := newTestServer(t, nil)

	rec := env.do(t, http.MethodPost, "/api/transactions", "alice",
		`{"title":" Dinner ","amount":"42,50","category":"Food","type":"Expense"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[transactionJSON](t, rec)
	assert.Equal(t, "Dinner", created.Title)
	assert.Equal(t, int64(4250), created.AmountCents)
	assert.Equal(t, "expense", created.Type)
	assert.Equal(t, "2025-06", created.Month)
	assert.Equal(t, "/api/transactions/"+created.ID, rec.Header().Get("Location"))

	rec = env.do(t, http.MethodGet, "/api/transactions/"+created.ID, "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/transactions/"+created.ID, "bob", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Transaction not found."}`, rec.Body.String())

	rec = env.do(t, http.MethodPut, "/api/transactions/"+created.ID, "alice",
		`{"title":"Dinner out","amount_cents":5000,"category":"Food","type":"expense","occurred_at":"2024-01-01"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[transactionJSON](t, rec)
	assert.Equal(t, int64(5000), updated.AmountCents)
	assert.Equal(t, created.OccurredAt, updated.OccurredAt, "update keeps the date")

	rec = env.do(t, http.MethodDelete, "/api/transactions/"+created.ID, "alice", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodDelete, "/api/transactions/"+created.ID, "alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateTransactionErrors(t *testing.T) {
	env := newTestServer(t, nil)

	tests := []struct {
		name   string
		body   string
		status int
		msg    string
	}{
		{"malformed json", `{"title":`, http.StatusBadRequest, "Invalid JSON body"},
		{"empty title", `{"title":"  ","amount":1,"category":"Food","type":"expense"}`, http.StatusUnprocessableEntity, core.ErrEmptyTitle.Error()},
		{"bad kind", `{"title":"x","amount":1,"category":"Food","type":"gift"}`, http.StatusUnprocessableEntity, core.ErrInvalidKind.Error()},
		{"negative", `{"title":"x","amount":-1,"category":"Food","type":"expense"}`, http.StatusUnprocessableEntity, core.ErrInvalidAmount.Error()},
		{"missing amount", `{"title":"x","category":"Food","type":"expense"}`, http.StatusUnprocessableEntity, core.ErrInvalidAmount.Error()},
		{"cents over limit", `{"title":"Rent","amount_cents":5000000000000000000,"category":"Housing","type":"expense"}`, http.StatusUnprocessableEntity, core.ErrAmountTooLarge.Error()},
		{"amount over limit", `{"title":"Rent","amount":"1000000000000","category":"Housing","type":"expense"}`, http.StatusUnprocessableEntity, core.ErrAmountTooLarge.Error()},
		{"bad date", `{"title":"x","amount":1,"category":"Food","type":"expense","occurred_at":"yesterday"}`, http.StatusBadRequest, "occurred_at must be RFC3339 or YYYY-MM-DD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/transactions", "alice", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.msg, decode[errorBody](t, rec).Error)
		})
	}
}

func TestCreateTransactionForm(t *testing.T) {
	env := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/transactions",
		strings.NewReader("title=Bus&amount=2.5&category=Transport&type=expense"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(session.HeaderUserID, "alice")
	rec := httptest.NewRecorder()
	env.srv.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, int64(250), decode[transactionJSON](t, rec).AmountCents)
}

func TestInsightsEndpoint(t *testing.T) {
	env := newTestServer(t, nil)

	rec := env.do(t, http.MethodGet, "/api/insights", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[insightJSON](t, rec)
	assert.Equal(t, 90, res.Score)
	assert.Equal(t, insight.SummaryStrong, res.Summary)
	assert.Equal(t, "2025-06", res.Aggregates.Month)
	assert.Equal(t, 3000.0, res.Aggregates.TotalIncome)
	assert.Equal(t, "Housing", res.Aggregates.TopCategory)
	assert.GreaterOrEqual(t, len(res.Insights), insight.MinInsights)
	assert.GreaterOrEqual(t, len(res.Recommendations), insight.MinRecommendations)

	rec = env.do(t, http.MethodGet, "/api/insights?at=2025-05-20", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	may := decode[insightJSON](t, rec)
	assert.Equal(t, "2025-05", may.Aggregates.Month)
	assert.Equal(t, 100, may.Score)

	rec = env.do(t, http.MethodGet, "/api/insights?at=soon", "alice", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInsightsRecomputedAfterWrite(t *testing.T) {
	env := newTestServer(t, nil)

	before := decode[insightJSON](t, env.do(t, http.MethodGet, "/api/insights", "alice", ""))
	rec := env.do(t, http.MethodPost, "/api/transactions", "alice",
		`{"title":"Car","amount":2500,"category":"Transport","type":"expense"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	after := decode[insightJSON](t, env.do(t, http.MethodGet, "/api/insights", "alice", ""))

	assert.Less(t, after.Score, before.Score)
	assert.Equal(t, 4, after.Aggregates.TransactionCount)
}

func TestDashboardAndAnalytics(t *testing.T) {
	env := newTestServer(t, nil)

	rec := env.do(t, http.MethodGet, "/api/dashboard", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	dash := decode[dashboardJSON](t, rec)
	assert.Equal(t, 3000.0, dash.Overview.Current.Income)
	assert.Equal(t, 1200.0, dash.Overview.Current.Expense)
	assert.Equal(t, 3000.0, dash.Overview.Previous.Income)
	assert.Equal(t, 90, dash.Insight.Score)

	rec = env.do(t, http.MethodGet, "/api/analytics?months=3", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	an := decode[analyticsJSON](t, rec)
	require.Len(t, an.Monthly, 3)
	assert.Equal(t, "2025-06", an.Monthly[len(an.Monthly)-1].Month)
	assert.Equal(t, "Housing", an.Categories[0].Name)
	assert.InDelta(t, 75.0, an.Categories[0].Percent, 0.01)

	for _, q := range []string{"?months=0", "?months=25", "?months=x"} {
		rec = env.do(t, http.MethodGet, "/api/analytics"+q, "alice", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestRepositoryErrorsMapToStatus(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mock_ledger.NewMockRepository(ctrl)
	txs := services.NewTransactionService(repo, nil, nil)

	env := newTestServer(t, func(d *Deps) { d.Transactions = txs })

	repo.EXPECT().List(gomock.Any(), "alice").Return(nil, &ledger.BackendError{Op: "list", Message: "permission denied for table transactions"})
	rec := env.do(t, http.MethodGet, "/api/transactions", "alice", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "permission denied for table transactions", decode[errorBody](t, rec).Error)

	repo.EXPECT().List(gomock.Any(), "alice").Return(nil, errors.New("dial tcp 10.0.0.1:5432: connect: connection refused"))
	rec = env.do(t, http.MethodGet, "/api/transactions", "alice", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, ledger.NetworkMessage, decode[errorBody](t, rec).Error)
}

func TestWritesAreRateLimited(t *testing.T) {
	env := newTestServer(t, func(d *Deps) { d.RateLimitRPM = 1 })

	body := `{"title":"Tea","amount":3,"category":"Food","type":"expense"}`
	assert.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/transactions", "alice", body).Code)
	rec := env.do(t, http.MethodPost, "/api/transactions", "alice", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/transactions", "bob", body).Code, "limits are per user")
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/transactions", "alice", "").Code, "reads are not limited")
}

func TestDefaultClockIsUTC(t *testing.T) {
	srv := NewServer(":0", Deps{})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	assert.Equal(t, time.UTC, srv.now().Location())
}
