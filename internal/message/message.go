// Package message defines the envelopes exchanged between researchers, the
// funding agency and the university.
package message

import (
	"encoding/json"
	"fmt"

	"grantfed/internal/types"
)

type Kind string

const (
	KindResearchProposal      Kind = "research proposal"
	KindCheckEligibility      Kind = "check proposal eligibility"
	KindCreateAccount         Kind = "create account"
	KindWithdraw              Kind = "withdraw"
	KindAddResearcher         Kind = "add researcher"
	KindRemoveResearcher      Kind = "remove researcher"
	KindGetDetails            Kind = "get details"
	KindListTransactions      Kind = "list transactions"
	KindAddResearchAccount    Kind = "add research account"
	KindRemoveResearchAccount Kind = "remove research account"
	KindTime                  Kind = "time"
	KindExit                  Kind = "exit"
)

type Status string

const (
	StatusSucceeded Status = "Succeeded"
	StatusFailed    Status = "Failed"
	StatusApproved  Status = "Approved"
	StatusRejected  Status = "Rejected"
)

// Positive reports whether s is one of the success outcomes.
func (s Status) Positive() bool {
	return s == StatusSucceeded || s == StatusApproved
}

// Request is the envelope every service consumes. Only the fields that
// belong to Kind are set.
type Request struct {
	CorrelationID string     `json:"correlationId"`
	Kind          Kind       `json:"requestKind"`
	ReplyTo       string     `json:"replyTo,omitempty"`
	Timestamp     types.Date `json:"timestamp"`

	ResearcherID string `json:"researcherId,omitempty"`
	ProjectID    string `json:"projectId,omitempty"`
	Title        string `json:"title,omitempty"`
	Description  string `json:"description,omitempty"`
	Amount       int64  `json:"amount,omitempty"`

	Researcher       string `json:"researcher,omitempty"`
	TargetResearcher string `json:"targetResearcher,omitempty"`

	EndDate types.Date `json:"endDate"`
}

// Response is the uniform reply envelope.
type Response struct {
	Status    Status     `json:"status"`
	Message   string     `json:"message"`
	Timestamp types.Date `json:"timestamp"`
	Account   string     `json:"account,omitempty"`
	Action    Kind       `json:"action,omitempty"`

	Details      *AccountView  `json:"details,omitempty"`
	Transactions []Transaction `json:"transactions,omitempty"`
}

type AccountView struct {
	ProjectID      string     `json:"projectId"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	LeadResearcher string     `json:"leadResearcher"`
	Members        []string   `json:"members"`
	Budget         int64      `json:"budget"`
	EndDate        types.Date `json:"endDate"`
}

type Transaction struct {
	ID         uint64     `json:"id"`
	Researcher string     `json:"researcher"`
	Amount     int64      `json:"amount"`
	Date       types.Date `json:"date"`
	Status     Status     `json:"status"`
	Balance    int64      `json:"balance"`
}

// Command is what a researcher finds in its inbox: either an instruction
// from the console or a notification from the university.
type Command struct {
	Kind        Kind   `json:"command"`
	ProjectID   string `json:"projectId,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Amount      int64  `json:"amount,omitempty"`
	Researcher  string `json:"researcher,omitempty"`
	Account     string `json:"account,omitempty"`
}

func Reply(status Status, msg string) *Response {
	return &Response{Status: status, Message: msg}
}

func Failed(format string, args ...any) *Response {
	return Reply(StatusFailed, fmt.Sprintf(format, args...))
}

func Rejected(format string, args ...any) *Response {
	return Reply(StatusRejected, fmt.Sprintf(format, args...))
}

func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func DecodeCommand(data []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, err
	}
	return &cmd, nil
}
