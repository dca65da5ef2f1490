// Package market holds the state of one conditional-funding market instance:
// its projects and their funded/not-funded LMSR markets, the trading ledger of
// every account, the phase state machine, the snapshot history and the final
// resolution. Every command on a Market runs under a single lock, so a trade
// reads and writes market and account state as one step.
package market

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"cfm-engine/internal/lmsr"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultLiquidity = 180.0
	minLiquidity     = 1e-9
)

type ProjectConfig struct {
	Key      string
	Name     string
	RangeMin float64
	RangeMax float64
}

type AccountConfig struct {
	ID      string
	Name    string
	Balance float64
	Admin   bool
}

type Config struct {
	ID            string
	Name          string
	Liquidity     float64
	Projects      []ProjectConfig
	Accounts      []AccountConfig
	RecordOnTrade bool
}

func (c Config) validate() error {
	if c.ID == "" {
		return errors.New("market id is required")
	}
	if len(c.Projects) == 0 {
		return fmt.Errorf("market %s: at least one project is required", c.ID)
	}
	if c.Liquidity < minLiquidity {
		return fmt.Errorf("market %s: liquidity must be > 0", c.ID)
	}
	seen := make(map[string]struct{}, len(c.Projects))
	for _, p := range c.Projects {
		if p.Key == "" {
			return fmt.Errorf("market %s: project key is required", c.ID)
		}
		if _, ok := seen[p.Key]; ok {
			return fmt.Errorf("market %s: duplicate project %s", c.ID, p.Key)
		}
		seen[p.Key] = struct{}{}
		if !(p.RangeMin < p.RangeMax) {
			return fmt.Errorf("market %s: project %s range_min must be < range_max", c.ID, p.Key)
		}
	}
	accounts := make(map[string]struct{}, len(c.Accounts))
	for _, a := range c.Accounts {
		if a.ID == "" {
			return fmt.Errorf("market %s: account id is required", c.ID)
		}
		if _, ok := accounts[a.ID]; ok {
			return fmt.Errorf("market %s: duplicate account %s", c.ID, a.ID)
		}
		accounts[a.ID] = struct{}{}
		if a.Balance < 0 {
			return fmt.Errorf("market %s: account %s balance must be >= 0", c.ID, a.ID)
		}
	}
	return nil
}

type Market struct {
	id            string
	name          string
	log           *zap.Logger
	now           func() time.Time
	newID         func() string
	recordOnTrade bool
	initial       Config

	mu               sync.Mutex
	observers        []Observer
	projects         []Project
	projectIndex     map[string]ProjectID
	accounts         []*Account
	accountIndex     map[string]int
	phase            *PhaseMachine
	frozenNotFunded  []bool
	frozenFundedZero []bool
	resolution       *Resolution
	history          []ImpactSnapshot
	markers          []PhaseMarker
}

func New(cfg Config, log *zap.Logger) (*Market, error) {
	if cfg.Liquidity == 0 {
		cfg.Liquidity = DefaultLiquidity
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	m := &Market{
		id:            cfg.ID,
		name:          cfg.Name,
		log:           log.With(zap.String("market", cfg.ID)),
		now:           func() time.Time { return time.Now().UTC() },
		newID:         uuid.NewString,
		recordOnTrade: cfg.RecordOnTrade,
		initial:       cfg,
	}
	m.resetLocked()
	return m, nil
}

// SetClock replaces the time source. Intended for tests and replays.
func (m *Market) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Market) AddObserver(o Observer) {
	if o == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

func (m *Market) ID() string   { return m.id }
func (m *Market) Name() string { return m.name }

// resetLocked rebuilds the initial state from the configuration.
func (m *Market) resetLocked() {
	cfg := m.initial
	m.projects = make([]Project, len(cfg.Projects))
	m.projectIndex = make(map[string]ProjectID, len(cfg.Projects))
	for i, p := range cfg.Projects {
		m.projects[i] = Project{
			Key:      p.Key,
			Name:     p.Name,
			RangeMin: p.RangeMin,
			RangeMax: p.RangeMax,
			Markets: [2]lmsr.State{
				{B: cfg.Liquidity},
				{B: cfg.Liquidity},
			},
		}
		m.projectIndex[p.Key] = ProjectID(i)
	}
	m.accounts = make([]*Account, len(cfg.Accounts))
	m.accountIndex = make(map[string]int, len(cfg.Accounts))
	for i, a := range cfg.Accounts {
		m.accounts[i] = &Account{
			ID:       a.ID,
			Name:     a.Name,
			Balance:  a.Balance,
			Admin:    a.Admin,
			Holdings: make([]Holdings, len(cfg.Projects)),
			Base:     make([]BasePair, len(cfg.Projects)),
		}
		m.accountIndex[a.ID] = i
	}
	m.phase = NewPhaseMachine()
	m.frozenNotFunded = make([]bool, len(cfg.Projects))
	m.frozenFundedZero = make([]bool, len(cfg.Projects))
	m.resolution = nil
	now := m.now()
	m.markers = []PhaseMarker{{Time: now, Phase: PhaseOpen}}
	m.history = nil
	m.appendSnapshotLocked(m.snapshotLocked(now))
}

func (m *Market) account(id string) (*Account, bool) {
	i, ok := m.accountIndex[id]
	if !ok {
		return nil, false
	}
	return m.accounts[i], true
}

func (m *Market) project(key string) (ProjectID, bool) {
	id, ok := m.projectIndex[key]
	return id, ok
}

func (m *Market) frozen(pid ProjectID, sc Scenario) bool {
	if sc == NotFunded {
		return m.frozenNotFunded[pid]
	}
	return m.frozenFundedZero[pid]
}

func (m *Market) requireAdmin(op, accountID string) (*Account, error) {
	acct, ok := m.account(accountID)
	if !ok {
		return nil, &OpError{Op: op, Market: m.id, Account: accountID, Err: ErrUnknownAccount}
	}
	if !acct.Admin {
		return nil, &OpError{Op: op, Market: m.id, Account: accountID, Err: ErrUnauthorized}
	}
	return acct, nil
}

func (m *Market) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase.Phase
}

func (m *Market) Markers() []PhaseMarker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PhaseMarker(nil), m.markers...)
}

type ProjectView struct {
	Key              string     `json:"key"`
	Name             string     `json:"name"`
	RangeMin         float64    `json:"range_min"`
	RangeMax         float64    `json:"range_max"`
	Funded           lmsr.State `json:"funded"`
	NotFunded        lmsr.State `json:"not_funded"`
	PriceFundedUp    float64    `json:"price_funded_up"`
	PriceNotFundedUp float64    `json:"price_not_funded_up"`
	FundedValue      float64    `json:"funded_value"`
	NotFundedValue   float64    `json:"not_funded_value"`
	Impact           float64    `json:"impact"`
	FrozenNotFunded  bool       `json:"frozen_not_funded"`
	FrozenFundedZero bool       `json:"frozen_funded_zero"`
	Status           string     `json:"status"`
}

func (m *Market) ListProjects() []ProjectView {
	m.mu.Lock()
	defer m.mu.Unlock()
	views := make([]ProjectView, len(m.projects))
	for i := range m.projects {
		p := &m.projects[i]
		status := "OPEN"
		switch {
		case m.frozenNotFunded[i]:
			status = "FUNDED"
		case m.frozenFundedZero[i]:
			status = "NOT FUNDED"
		}
		views[i] = ProjectView{
			Key:              p.Key,
			Name:             p.Name,
			RangeMin:         p.RangeMin,
			RangeMax:         p.RangeMax,
			Funded:           p.Markets[Funded],
			NotFunded:        p.Markets[NotFunded],
			PriceFundedUp:    p.PriceUp(Funded),
			PriceNotFundedUp: p.PriceUp(NotFunded),
			FundedValue:      p.ImpliedValue(Funded),
			NotFundedValue:   p.ImpliedValue(NotFunded),
			Impact:           p.Impact(),
			FrozenNotFunded:  m.frozenNotFunded[i],
			FrozenFundedZero: m.frozenFundedZero[i],
			Status:           status,
		}
	}
	return views
}

// CurrentPrice returns the UP probability of one scenario market.
func (m *Market) CurrentPrice(projectKey string, sc Scenario) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pid, ok := m.project(projectKey)
	if !ok {
		return 0, &OpError{Op: "price", Market: m.id, Project: projectKey, Err: ErrUnknownProject}
	}
	return m.projects[pid].PriceUp(sc), nil
}

func (m *Market) CurrentImpact(projectKey string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pid, ok := m.project(projectKey)
	if !ok {
		return 0, &OpError{Op: "impact", Market: m.id, Project: projectKey, Err: ErrUnknownProject}
	}
	return m.projects[pid].Impact(), nil
}

// Frozen reports the freeze flags of one project.
func (m *Market) Frozen(projectKey string) (notFunded, fundedZero bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pid, ok := m.project(projectKey)
	if !ok {
		return false, false, &OpError{Op: "frozen", Market: m.id, Project: projectKey, Err: ErrUnknownProject}
	}
	return m.frozenNotFunded[pid], m.frozenFundedZero[pid], nil
}

type Position struct {
	Project  string  `json:"project"`
	Scenario string  `json:"scenario"`
	Side     string  `json:"side"`
	Shares   float64 `json:"shares"`
	Price    float64 `json:"price"`
	Value    float64 `json:"value"`
}

type BasePosition struct {
	Project   string  `json:"project"`
	Funded    float64 `json:"funded"`
	NotFunded float64 `json:"not_funded"`
}

type Portfolio struct {
	Account   string         `json:"account"`
	Name      string         `json:"name"`
	Admin     bool           `json:"admin"`
	Balance   float64        `json:"balance"`
	Positions []Position     `json:"positions"`
	BasePairs []BasePosition `json:"base_pairs"`
	MarkValue float64        `json:"mark_value"`
}

// Portfolio values open positions at current prices.
func (m *Market) Portfolio(accountID string) (Portfolio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.account(accountID)
	if !ok {
		return Portfolio{}, &OpError{Op: "portfolio", Market: m.id, Account: accountID, Err: ErrUnknownAccount}
	}
	out := Portfolio{
		Account: acct.ID,
		Name:    acct.Name,
		Admin:   acct.Admin,
		Balance: acct.Balance,
	}
	for pid := range m.projects {
		p := &m.projects[pid]
		for _, sc := range scenarios {
			for _, side := range sides {
				shares := acct.Holdings[pid][sc][side]
				if shares <= 0 {
					continue
				}
				price := p.Markets[sc].Price(side)
				out.Positions = append(out.Positions, Position{
					Project:  p.Key,
					Scenario: sc.String(),
					Side:     side.String(),
					Shares:   shares,
					Price:    price,
					Value:    shares * price,
				})
				out.MarkValue += shares * price
			}
		}
		base := acct.Base[pid]
		if base[Funded] > 0 || base[NotFunded] > 0 {
			out.BasePairs = append(out.BasePairs, BasePosition{Project: p.Key, Funded: base[Funded], NotFunded: base[NotFunded]})
		}
	}
	return out, nil
}

// Accounts lists account ids in configuration order.
func (m *Market) Accounts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, len(m.accounts))
	for i, a := range m.accounts {
		ids[i] = a.ID
	}
	return ids
}

// Reset restores the configured initial state. Admin only.
func (m *Market) Reset(accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.requireAdmin("reset", accountID); err != nil {
		return err
	}
	m.resetLocked()
	m.log.Info("market reset", zap.String("account", accountID))
	return nil
}

func validAmount(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
