package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"cfm-engine/internal/market"
)

type errorBody struct {
	Error    string  `json:"error"`
	Kind     string  `json:"kind"`
	Project  string  `json:"project,omitempty"`
	Scenario string  `json:"scenario,omitempty"`
	Side     string  `json:"side,omitempty"`
	Amount   float64 `json:"amount,omitempty"`
}

var errorKinds = []struct {
	err    error
	kind   string
	status int
}{
	{market.ErrInvalidAmount, "invalid_amount", http.StatusBadRequest},
	{market.ErrUnauthorized, "unauthorized", http.StatusForbidden},
	{market.ErrUnknownAccount, "unknown_account", http.StatusForbidden},
	{market.ErrUnknownMarket, "unknown_market", http.StatusNotFound},
	{market.ErrUnknownProject, "unknown_project", http.StatusNotFound},
	{market.ErrSnapshotNotFound, "snapshot_not_found", http.StatusNotFound},
	{market.ErrMarketFrozen, "market_frozen", http.StatusConflict},
	{market.ErrInvalidPhaseTransition, "invalid_phase_transition", http.StatusConflict},
	{market.ErrTradingClosed, "trading_closed", http.StatusConflict},
	{market.ErrInsufficientBalance, "insufficient_balance", http.StatusUnprocessableEntity},
	{market.ErrInsufficientShares, "insufficient_shares", http.StatusUnprocessableEntity},
}

func classify(err error) (string, int) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind, k.status
		}
	}
	return "internal", http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	kind, status := classify(err)
	body := errorBody{Error: err.Error(), Kind: kind}
	var opErr *market.OpError
	if errors.As(err, &opErr) {
		body.Project = opErr.Project
		body.Scenario = opErr.Scenario
		body.Side = opErr.Side
		body.Amount = opErr.Amount
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
