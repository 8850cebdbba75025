package university

import (
	"slices"

	"grantfed/internal/message"
	"grantfed/internal/types"
)

// Account is one research account. The lead is never listed in Members.
type Account struct {
	ProjectID       string                `cbor:"project_id"`
	Title           string                `cbor:"title"`
	Description     string                `cbor:"description"`
	Budget          int64                 `cbor:"budget"`
	Lead            string                `cbor:"lead"`
	Members         []string              `cbor:"members"`
	Transactions    []message.Transaction `cbor:"transactions"`
	NextTransaction uint64                `cbor:"next_transaction"`
	EndDate         types.Date            `cbor:"end_date"`
}

func (a *Account) isMember(researcher string) bool {
	return slices.Contains(a.Members, researcher)
}

func (a *Account) hasAccess(researcher string) bool {
	return a.Lead == researcher || a.isMember(researcher)
}

// expired reports whether the account's end date lies before today. The
// end date itself is still usable.
func (a *Account) expired(today types.Date) bool {
	return today.After(a.EndDate)
}

// appendTransaction records a withdrawal attempt with the budget left after
// it.
func (a *Account) appendTransaction(researcher string, amount int64, date types.Date, status message.Status) {
	a.Transactions = append(a.Transactions, message.Transaction{
		ID:         a.NextTransaction,
		Researcher: researcher,
		Amount:     amount,
		Date:       date,
		Status:     status,
		Balance:    a.Budget,
	})
	a.NextTransaction++
}

func (a *Account) view() *message.AccountView {
	return &message.AccountView{
		ProjectID:      a.ProjectID,
		Title:          a.Title,
		Description:    a.Description,
		LeadResearcher: a.Lead,
		Members:        slices.Clone(a.Members),
		Budget:         a.Budget,
		EndDate:        a.EndDate,
	}
}

func (a *Account) clone() *Account {
	c := *a
	c.Members = slices.Clone(a.Members)
	c.Transactions = slices.Clone(a.Transactions)
	return &c
}
