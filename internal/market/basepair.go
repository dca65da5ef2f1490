package market

import (
	"math"

	"go.uber.org/zap"
)

// Mint exchanges cash for an equal amount of both base tokens of a project.
func (m *Market) Mint(accountID, projectKey string, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, pid, err := m.checkBase("mint", accountID, projectKey, amount)
	if err != nil {
		return err
	}
	if acct.Balance < amount {
		return &OpError{Op: "mint", Market: m.id, Account: accountID, Project: projectKey, Amount: amount, Err: ErrInsufficientBalance}
	}
	acct.Balance -= amount
	acct.Base[pid][Funded] += amount
	acct.Base[pid][NotFunded] += amount
	m.log.Info("mint", zap.String("account", accountID), zap.String("project", projectKey), zap.Float64("amount", amount))
	return nil
}

// Merge burns amount of both base tokens back into cash, limited to the
// smaller of the two balances. It returns the merged amount.
func (m *Market) Merge(accountID, projectKey string, amount float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, pid, err := m.checkBase("merge", accountID, projectKey, amount)
	if err != nil {
		return 0, err
	}
	return m.mergeLocked(acct, pid, amount)
}

// MergeAll merges every matched pair the account holds for the project.
func (m *Market) MergeAll(accountID, projectKey string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, pid, err := m.checkBase("merge", accountID, projectKey, math.Inf(1))
	if err != nil {
		return 0, err
	}
	return m.mergeLocked(acct, pid, math.Inf(1))
}

func (m *Market) mergeLocked(acct *Account, pid ProjectID, amount float64) (float64, error) {
	base := &acct.Base[pid]
	n := math.Min(amount, math.Min(base[Funded], base[NotFunded]))
	if n <= 0 {
		return 0, &OpError{Op: "merge", Market: m.id, Account: acct.ID, Project: m.projects[pid].Key, Err: ErrInsufficientShares}
	}
	base[Funded] -= n
	base[NotFunded] -= n
	acct.Balance += n
	m.log.Info("merge", zap.String("account", acct.ID), zap.String("project", m.projects[pid].Key), zap.Float64("amount", n))
	return n, nil
}

func (m *Market) checkBase(op, accountID, projectKey string, amount float64) (*Account, ProjectID, error) {
	if !(amount > 0) || math.IsNaN(amount) {
		return nil, 0, &OpError{Op: op, Market: m.id, Account: accountID, Project: projectKey, Amount: amount, Err: ErrInvalidAmount}
	}
	acct, ok := m.account(accountID)
	if !ok {
		return nil, 0, &OpError{Op: op, Market: m.id, Account: accountID, Project: projectKey, Err: ErrUnknownAccount}
	}
	pid, ok := m.project(projectKey)
	if !ok {
		return nil, 0, &OpError{Op: op, Market: m.id, Account: accountID, Project: projectKey, Err: ErrUnknownProject}
	}
	if !m.phase.Tradable() {
		return nil, 0, &OpError{Op: op, Market: m.id, Account: accountID, Project: projectKey, Err: ErrTradingClosed}
	}
	return acct, pid, nil
}
