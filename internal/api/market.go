package api

import (
	"net/http"
	"strings"

	"github.com/snehendu098/rayfine/internal/agent"
	xerrors "github.com/snehendu098/rayfine/internal/errors"
)

func (s *Server) readerReady(w http.ResponseWriter) bool {
	if s.deps.Reader == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "查询服务未初始化"))
		return false
	}
	return true
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	if !s.readerReady(w) {
		return
	}
	tokens, err := s.deps.Reader.Tokens(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	if !s.readerReady(w) {
		return
	}
	balances, err := s.deps.Reader.Balances(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	if !s.readerReady(w) {
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, xerrors.New(xerrors.CodeValidation, "Price feed is required", xerrors.WithField("q", "Price feed is required")))
		return
	}
	price, err := s.deps.Reader.Price(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, price)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	if !s.readerReady(w) {
		return
	}
	var req agent.QuoteRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "请求体解析失败")
		return
	}
	quote, err := s.deps.Reader.Quote(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleLendSummary(w http.ResponseWriter, r *http.Request) {
	if !s.readerReady(w) {
		return
	}
	summary, err := s.deps.Reader.AccountSummary(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleLendPositions(w http.ResponseWriter, r *http.Request) {
	if !s.readerReady(w) {
		return
	}
	positions, err := s.deps.Reader.Positions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleStakePosition(w http.ResponseWriter, r *http.Request) {
	if !s.readerReady(w) {
		return
	}
	position, err := s.deps.Reader.StakePosition(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, position)
}
