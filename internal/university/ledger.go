// Package university holds research accounts and serves every account
// operation researchers and the funding agency request.
package university

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"grantfed/internal/message"
	"grantfed/internal/metrics"
	"grantfed/internal/types"
)

// Ledger is the university's account book. Every identity, lead or
// member, maps to at most one account through the index, and every
// operation that could break that re-checks it under the lock.
type Ledger struct {
	mu       sync.Mutex
	accounts map[string]*Account
	index    map[string]string
}

func NewLedger() *Ledger {
	return &Ledger{
		accounts: make(map[string]*Account),
		index:    make(map[string]string),
	}
}

// CheckEligibility answers whether a proposal may lead to a new account.
// It never mutates.
func (l *Ledger) CheckEligibility(projectID, researcher string) *message.Response {
	l.mu.Lock()
	defer l.mu.Unlock()

	if resp := l.conflictLocked(projectID, researcher); resp != nil {
		resp.Status = message.StatusRejected
		return resp
	}
	resp := message.Reply(message.StatusApproved, "proposal is eligible")
	resp.Account = projectID
	return resp
}

func (l *Ledger) CreateAccount(projectID, title, description, lead string, budget int64, endDate types.Date) *message.Response {
	l.mu.Lock()
	defer l.mu.Unlock()

	if projectID == "" || lead == "" {
		return message.Failed("project id and lead researcher are required")
	}
	if budget < 0 {
		return message.Failed("invalid budget %d", budget)
	}
	if resp := l.conflictLocked(projectID, lead); resp != nil {
		return resp
	}

	l.accounts[projectID] = &Account{
		ProjectID:       projectID,
		Title:           title,
		Description:     description,
		Budget:          budget,
		Lead:            lead,
		NextTransaction: 1,
		EndDate:         endDate,
	}
	l.index[lead] = projectID
	metrics.UniversityAccounts.Set(float64(len(l.accounts)))

	resp := message.Reply(message.StatusSucceeded, fmt.Sprintf("account '%s' created", projectID))
	resp.Account = projectID
	return resp
}

func (l *Ledger) Withdraw(researcher string, amount int64, today types.Date) *message.Response {
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount <= 0 {
		return message.Failed("invalid amount %d", amount)
	}
	acc, resp := l.accountOfLocked(researcher)
	if resp != nil {
		return resp
	}
	if acc.expired(today) {
		return expiredResponse(acc)
	}
	if amount > acc.Budget {
		// the attempt is kept in the history, the budget is not touched
		acc.appendTransaction(researcher, amount, today, message.StatusRejected)
		resp := message.Failed("insufficient budget (requested %d, available %d)", amount, acc.Budget)
		resp.Account = acc.ProjectID
		return resp
	}

	acc.Budget -= amount
	acc.appendTransaction(researcher, amount, today, message.StatusSucceeded)

	resp = message.Reply(message.StatusSucceeded,
		fmt.Sprintf("withdrew %d from '%s', remaining budget %d", amount, acc.ProjectID, acc.Budget))
	resp.Account = acc.ProjectID
	return resp
}

// AddResearcher lets the lead of an account grant a researcher access.
func (l *Ledger) AddResearcher(lead, target string, today types.Date) *message.Response {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, resp := l.ledAccountLocked(lead)
	if resp != nil {
		return resp
	}
	if acc.expired(today) {
		return expiredResponse(acc)
	}
	if target == "" || target == lead {
		return message.Failed("cannot add '%s' to '%s'", target, acc.ProjectID)
	}
	if acc.isMember(target) {
		return message.Failed("%s is already a member of '%s'", target, acc.ProjectID)
	}
	if other, ok := l.index[target]; ok {
		return message.Failed("%s already has access to account '%s'", target, other)
	}

	acc.Members = append(acc.Members, target)
	l.index[target] = acc.ProjectID

	resp = message.Reply(message.StatusSucceeded, fmt.Sprintf("%s added to '%s'", target, acc.ProjectID))
	resp.Account = acc.ProjectID
	return resp
}

func (l *Ledger) RemoveResearcher(lead, target string, today types.Date) *message.Response {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, resp := l.ledAccountLocked(lead)
	if resp != nil {
		return resp
	}
	if acc.expired(today) {
		return expiredResponse(acc)
	}
	i := slices.Index(acc.Members, target)
	if i < 0 {
		return message.Failed("%s is not a member of '%s'", target, acc.ProjectID)
	}

	acc.Members = slices.Delete(acc.Members, i, i+1)
	delete(l.index, target)

	resp = message.Reply(message.StatusSucceeded, fmt.Sprintf("%s removed from '%s'", target, acc.ProjectID))
	resp.Account = acc.ProjectID
	return resp
}

func (l *Ledger) Details(researcher string) *message.Response {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, resp := l.accountOfLocked(researcher)
	if resp != nil {
		return resp
	}
	resp = message.Reply(message.StatusSucceeded, fmt.Sprintf("details of '%s'", acc.ProjectID))
	resp.Account = acc.ProjectID
	resp.Details = acc.view()
	return resp
}

func (l *Ledger) Transactions(researcher string) *message.Response {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, resp := l.accountOfLocked(researcher)
	if resp != nil {
		return resp
	}
	resp = message.Reply(message.StatusSucceeded, fmt.Sprintf("transactions of '%s'", acc.ProjectID))
	resp.Account = acc.ProjectID
	resp.Transactions = append([]message.Transaction{}, acc.Transactions...)
	return resp
}

// AccountOf returns the project a researcher has access to.
func (l *Ledger) AccountOf(researcher string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.index[researcher]
	return id, ok
}

// Account returns a copy of an account.
func (l *Ledger) Account(projectID string) (*Account, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[projectID]
	if !ok {
		return nil, false
	}
	return acc.clone(), true
}

func (l *Ledger) conflictLocked(projectID, researcher string) *message.Response {
	if _, ok := l.accounts[projectID]; ok {
		return message.Failed("project '%s' already exists", projectID)
	}
	if other, ok := l.index[researcher]; ok {
		return message.Failed("%s already has access to account '%s'", researcher, other)
	}
	return nil
}

func (l *Ledger) accountOfLocked(researcher string) (*Account, *message.Response) {
	projectID, ok := l.index[researcher]
	if !ok {
		return nil, message.Failed("%s has no research account", researcher)
	}
	acc, ok := l.accounts[projectID]
	if !ok || !acc.hasAccess(researcher) {
		return nil, message.Failed("%s has no access to account '%s'", researcher, projectID)
	}
	return acc, nil
}

func (l *Ledger) ledAccountLocked(lead string) (*Account, *message.Response) {
	acc, resp := l.accountOfLocked(lead)
	if resp != nil {
		return nil, resp
	}
	if acc.Lead != lead {
		resp := message.Failed("%s is not the lead researcher of '%s'", lead, acc.ProjectID)
		resp.Account = acc.ProjectID
		return nil, resp
	}
	return acc, nil
}

func expiredResponse(acc *Account) *message.Response {
	resp := message.Failed("account '%s' expired on %s", acc.ProjectID, acc.EndDate)
	resp.Account = acc.ProjectID
	return resp
}

// Snapshot returns copies of all accounts ordered by project id.
func (l *Ledger) Snapshot() []*Account {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*Account, 0, len(l.accounts))
	for _, acc := range l.accounts {
		out = append(out, acc.clone())
	}
	slices.SortFunc(out, func(a, b *Account) int {
		return strings.Compare(a.ProjectID, b.ProjectID)
	})
	return out
}

// Restore replaces the ledger contents and rebuilds the researcher index.
func (l *Ledger) Restore(accounts []*Account) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.accounts = make(map[string]*Account, len(accounts))
	l.index = make(map[string]string)
	for _, acc := range accounts {
		acc = acc.clone()
		l.accounts[acc.ProjectID] = acc
		l.index[acc.Lead] = acc.ProjectID
		for _, m := range acc.Members {
			l.index[m] = acc.ProjectID
		}
	}
	metrics.UniversityAccounts.Set(float64(len(l.accounts)))
}
