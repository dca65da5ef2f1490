package market

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrInsufficientShares     = errors.New("insufficient shares")
	ErrMarketFrozen           = errors.New("market frozen")
	ErrInvalidPhaseTransition = errors.New("invalid phase transition")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrInvalidAmount          = errors.New("invalid amount")

	ErrTradingClosed    = errors.New("trading closed")
	ErrUnknownProject   = errors.New("unknown project")
	ErrUnknownAccount   = errors.New("unknown account")
	ErrUnknownMarket    = errors.New("unknown market")
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// OpError is returned for every rejected command. It carries the context a
// caller needs to build a message and unwraps to one of the sentinels above.
type OpError struct {
	Op       string
	Market   string
	Account  string
	Project  string
	Scenario string
	Side     string
	Amount   float64
	Err      error
}

func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	target := make([]string, 0, 3)
	for _, part := range []string{e.Project, e.Scenario, e.Side} {
		if part != "" {
			target = append(target, part)
		}
	}
	if len(target) > 0 {
		b.WriteString(" ")
		b.WriteString(strings.Join(target, "/"))
	}
	if e.Amount != 0 {
		fmt.Fprintf(&b, " %g", e.Amount)
	}
	if e.Account != "" {
		fmt.Fprintf(&b, " (account %s)", e.Account)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *OpError) Unwrap() error {
	return e.Err
}
