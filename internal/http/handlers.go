package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"finsight/internal/analytics"
	"finsight/internal/session"
)

// userID returns the session user. Routes under /api always carry one.
func userID(r *http.Request) (string, error) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		return "", session.ErrNoSession
	}
	return sess.UserID, nil
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	criteria, err := parseCriteria(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	txs, err := s.txs.List(r.Context(), uid)
	if err != nil {
		writeError(w, r, err)
		return
	}

	filtered := analytics.Filter(txs, criteria)
	writeJSON(w, http.StatusOK, listJSON{
		Transactions: toTransactionsJSON(filtered),
		Count:        len(filtered),
		Months:       analytics.MonthOptions(txs),
	})
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	tx, err := s.txs.Get(r.Context(), uid, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionJSON(tx))
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	draft, err := decodeDraft(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	tx, err := s.txs.Create(r.Context(), uid, draft)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/transactions/"+tx.ID)
	writeJSON(w, http.StatusCreated, toTransactionJSON(tx))
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	draft, err := decodeDraft(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	tx, err := s.txs.Update(r.Context(), uid, chi.URLParam(r, "id"), draft)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionJSON(tx))
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.txs.Delete(r.Context(), uid, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	at, err := parseAt(r, s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.insights.Analyze(r.Context(), uid, at)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInsightJSON(res))
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	at, err := parseAt(r, s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	view, err := s.insights.Dashboard(r.Context(), uid, at)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDashboardJSON(view))
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	at, err := parseAt(r, s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	months, err := parseMonths(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	view, err := s.insights.Analytics(r.Context(), uid, at, months)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAnalyticsJSON(view))
}
