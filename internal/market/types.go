package market

import (
	"fmt"
	"strings"
	"time"

	"cfm-engine/internal/lmsr"
)

type Side = lmsr.Side

const (
	Up   = lmsr.Up
	Down = lmsr.Down
)

var sides = [2]Side{Up, Down}

func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "UP":
		return Up, nil
	case "DOWN":
		return Down, nil
	}
	return Up, fmt.Errorf("unknown side %q", s)
}

type Scenario uint8

const (
	Funded Scenario = iota
	NotFunded
)

var scenarios = [2]Scenario{Funded, NotFunded}

func (s Scenario) String() string {
	if s == NotFunded {
		return "not_funded"
	}
	return "funded"
}

func ParseScenario(s string) (Scenario, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "funded":
		return Funded, nil
	case "not_funded", "notfunded", "not-funded":
		return NotFunded, nil
	}
	return Funded, fmt.Errorf("unknown scenario %q", s)
}

type Phase string

const (
	PhaseOpen     Phase = "open"
	PhaseDecided  Phase = "decided"
	PhaseResolved Phase = "resolved"
)

// ProjectID indexes the project arena of one market.
type ProjectID int

type Project struct {
	Key      string
	Name     string
	RangeMin float64
	RangeMax float64
	Markets  [2]lmsr.State
}

func (p *Project) PriceUp(sc Scenario) float64 {
	return p.Markets[sc].PriceUp()
}

func (p *Project) ImpliedValue(sc Scenario) float64 {
	return lmsr.ImpliedValue(p.PriceUp(sc), p.RangeMin, p.RangeMax)
}

// Impact is the funded/not-funded probability spread scaled to the range.
func (p *Project) Impact() float64 {
	return (p.PriceUp(Funded) - p.PriceUp(NotFunded)) * (p.RangeMax - p.RangeMin)
}

func (p *Project) Midpoint() float64 {
	return (p.RangeMin + p.RangeMax) / 2
}

// Holdings are share counts indexed by [scenario][side].
type Holdings [2][2]float64

// BasePair is the conserved if-funded / if-not-funded token pair, indexed by scenario.
type BasePair [2]float64

type Account struct {
	ID       string
	Name     string
	Balance  float64
	Admin    bool
	Holdings []Holdings
	Base     []BasePair
}

func (a *Account) clone() *Account {
	c := *a
	c.Holdings = append([]Holdings(nil), a.Holdings...)
	c.Base = append([]BasePair(nil), a.Base...)
	return &c
}

// ImpactSnapshot values are aligned with the market's project order.
type ImpactSnapshot struct {
	Time      time.Time `json:"time"`
	Impact    []float64 `json:"impact"`
	Funded    []float64 `json:"funded"`
	NotFunded []float64 `json:"not_funded"`
}

type PhaseMarker struct {
	Time  time.Time `json:"time"`
	Phase Phase     `json:"phase"`
}

// FinalValue holds the absolute outcomes entered at resolution. Only the
// winner's Funded and the non-winners' NotFunded are ever read.
type FinalValue struct {
	Funded    *float64 `json:"funded,omitempty"`
	NotFunded *float64 `json:"not_funded,omitempty"`
}

func (v FinalValue) get(sc Scenario) (float64, bool) {
	p := v.Funded
	if sc == NotFunded {
		p = v.NotFunded
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

type Resolution struct {
	Winner ProjectID
	Values []FinalValue
}

// Fill describes one accepted trade. Cost is positive for buys and negative
// for sells (the refund).
type Fill struct {
	ID          string    `json:"id"`
	Market      string    `json:"market"`
	Account     string    `json:"account"`
	Project     string    `json:"project"`
	Scenario    string    `json:"scenario"`
	Side        string    `json:"side"`
	Action      string    `json:"action"`
	Shares      float64   `json:"shares"`
	Cost        float64   `json:"cost"`
	PriceBefore float64   `json:"price_before"`
	PriceAfter  float64   `json:"price_after"`
	Balance     float64   `json:"balance"`
	Time        time.Time `json:"time"`
}

func (f Fill) Empty() bool {
	return f.Shares == 0
}

// Observer receives snapshots and fills while the market lock is held;
// implementations must not block.
type Observer interface {
	SnapshotRecorded(market string, index int, snap ImpactSnapshot)
	Filled(fill Fill)
}
