package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"cfm-engine/internal/market"

	"github.com/go-chi/chi/v5"
)

type marketSummary struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Phase  market.Phase `json:"phase"`
	Winner string       `json:"winner,omitempty"`
}

type marketDetail struct {
	marketSummary
	Projects  []market.ProjectView `json:"projects"`
	Markers   []market.PhaseMarker `json:"markers"`
	Snapshots int                  `json:"snapshots"`
}

func summarize(m *market.Market) marketSummary {
	out := marketSummary{ID: m.ID(), Name: m.Name(), Phase: m.Phase()}
	out.Winner, _ = m.WinnerKey()
	return out
}

func (s *Server) lookupMarket(w http.ResponseWriter, r *http.Request) (*market.Market, bool) {
	m, err := s.exec.Registry().Get(chi.URLParam(r, "market"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return m, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid body")
		return false
	}
	return true
}

func clientID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(idempotencyHeader))
}

func (s *Server) listMarkets(w http.ResponseWriter, r *http.Request) {
	all := s.exec.Registry().All()
	out := make([]marketSummary, len(all))
	for i, m := range all {
		out[i] = summarize(m)
	}
	json200(w, out)
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookupMarket(w, r)
	if !ok {
		return
	}
	json200(w, marketDetail{
		marketSummary: summarize(m),
		Projects:      m.ListProjects(),
		Markers:       m.Markers(),
		Snapshots:     len(m.History()),
	})
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookupMarket(w, r)
	if !ok {
		return
	}
	from := 0
	if raw := r.URL.Query().Get("from"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			jsonErr(w, http.StatusBadRequest, "invalid from")
			return
		}
		from = n
	}
	snaps := m.HistorySince(from)
	if snaps == nil {
		snaps = []market.ImpactSnapshot{}
	}
	json200(w, map[string]any{"from": from, "snapshots": snaps})
}

func (s *Server) getPortfolio(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookupMarket(w, r)
	if !ok {
		return
	}
	p, err := m.Portfolio(accountFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	json200(w, p)
}

func (s *Server) getPrice(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookupMarket(w, r)
	if !ok {
		return
	}
	sc := market.Funded
	if raw := r.URL.Query().Get("scenario"); raw != "" {
		parsed, err := market.ParseScenario(raw)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, err.Error())
			return
		}
		sc = parsed
	}
	project := chi.URLParam(r, "project")
	price, err := m.CurrentPrice(project, sc)
	if err != nil {
		writeError(w, err)
		return
	}
	json200(w, map[string]any{"project": project, "scenario": sc.String(), "price": price})
}

func (s *Server) getImpact(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookupMarket(w, r)
	if !ok {
		return
	}
	project := chi.URLParam(r, "project")
	impact, err := m.CurrentImpact(project)
	if err != nil {
		writeError(w, err)
		return
	}
	json200(w, map[string]any{"project": project, "impact": impact})
}

func (s *Server) getQuote(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookupMarket(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	sc, err := market.ParseScenario(q.Get("scenario"))
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	side, err := market.ParseSide(q.Get("side"))
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	budget, err := strconv.ParseFloat(q.Get("budget"), 64)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid budget")
		return
	}
	preview, err := strconv.ParseFloat(q.Get("preview"), 64)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid preview")
		return
	}
	quote, err := m.Quote(q.Get("project"), sc, side, budget, preview)
	if err != nil {
		writeError(w, err)
		return
	}
	json200(w, quote)
}

type orderRequest struct {
	Project  string  `json:"project"`
	Scenario string  `json:"scenario"`
	Side     string  `json:"side"`
	Shares   float64 `json:"shares"`
	Budget   float64 `json:"budget"`
	Value    float64 `json:"value"`
}

func (s *Server) readOrder(w http.ResponseWriter, r *http.Request) (market.Order, orderRequest, bool) {
	var req orderRequest
	if !decodeBody(w, r, &req) {
		return market.Order{}, req, false
	}
	sc, err := market.ParseScenario(req.Scenario)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return market.Order{}, req, false
	}
	o := market.Order{Account: accountFrom(r), Project: req.Project, Scenario: sc}
	if req.Side != "" {
		side, err := market.ParseSide(req.Side)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, err.Error())
			return market.Order{}, req, false
		}
		o.Side = side
	}
	return o, req, true
}

func (s *Server) buy(w http.ResponseWriter, r *http.Request) {
	o, req, ok := s.readOrder(w, r)
	if !ok {
		return
	}
	fill, err := s.exec.Buy(r.Context(), clientID(r), chi.URLParam(r, "market"), o, req.Shares)
	respond(w, fill, err)
}

func (s *Server) sell(w http.ResponseWriter, r *http.Request) {
	o, req, ok := s.readOrder(w, r)
	if !ok {
		return
	}
	fill, err := s.exec.Sell(r.Context(), clientID(r), chi.URLParam(r, "market"), o, req.Shares)
	respond(w, fill, err)
}

func (s *Server) buyBudget(w http.ResponseWriter, r *http.Request) {
	o, req, ok := s.readOrder(w, r)
	if !ok {
		return
	}
	fill, err := s.exec.BuyWithBudget(r.Context(), clientID(r), chi.URLParam(r, "market"), o, req.Budget)
	respond(w, fill, err)
}

func (s *Server) target(w http.ResponseWriter, r *http.Request) {
	o, req, ok := s.readOrder(w, r)
	if !ok {
		return
	}
	fill, err := s.exec.MoveToTargetValue(r.Context(), clientID(r), chi.URLParam(r, "market"), o, req.Value)
	respond(w, fill, err)
}

type baseRequest struct {
	Project string   `json:"project"`
	Amount  *float64 `json:"amount"`
}

func (s *Server) mint(w http.ResponseWriter, r *http.Request) {
	var req baseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Amount == nil {
		writeError(w, market.ErrInvalidAmount)
		return
	}
	res, err := s.exec.Mint(r.Context(), clientID(r), chi.URLParam(r, "market"), accountFrom(r), req.Project, *req.Amount)
	respond(w, res, err)
}

func (s *Server) merge(w http.ResponseWriter, r *http.Request) {
	var req baseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.exec.Merge(r.Context(), clientID(r), chi.URLParam(r, "market"), accountFrom(r), req.Project, req.Amount)
	respond(w, res, err)
}

type decideRequest struct {
	SnapshotIndex *int `json:"snapshot_index"`
}

func (s *Server) decide(w http.ResponseWriter, r *http.Request) {
	var req decideRequest
	if !decodeBody(w, r, &req) {
		return
	}
	index := market.Latest
	if req.SnapshotIndex != nil {
		index = *req.SnapshotIndex
	}
	d, err := s.exec.Decide(r.Context(), clientID(r), chi.URLParam(r, "market"), accountFrom(r), index)
	respond(w, d, err)
}

type resolveRequest struct {
	Values map[string]market.FinalValue `json:"values"`
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.exec.Resolve(r.Context(), clientID(r), chi.URLParam(r, "market"), accountFrom(r), req.Values)
	respond(w, res, err)
}

func (s *Server) redeem(w http.ResponseWriter, r *http.Request) {
	payouts, err := s.exec.RedeemAll(r.Context(), clientID(r), chi.URLParam(r, "market"))
	respond(w, map[string]any{"payouts": payouts}, err)
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	phase, err := s.exec.Reset(r.Context(), clientID(r), chi.URLParam(r, "market"), accountFrom(r))
	respond(w, map[string]any{"phase": phase}, err)
}

type simulateRequest struct {
	Count int `json:"count"`
}

func (s *Server) simulate(w http.ResponseWriter, r *http.Request) {
	req := simulateRequest{Count: 10}
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.exec.Simulate(r.Context(), clientID(r), chi.URLParam(r, "market"), s.simulateOptions(req.Count))
	respond(w, res, err)
}

func respond(w http.ResponseWriter, data any, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	json200(w, data)
}
