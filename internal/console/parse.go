// Package console turns operator command lines into researcher inbox
// commands.
package console

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"grantfed/internal/message"
	"grantfed/internal/researcher"
)

var ErrInvalidCommand = errors.New("invalid command")

// Entry is one parsed command addressed to a researcher inbox.
type Entry struct {
	Target  string
	Command message.Command
}

var verbs = map[string]message.Kind{
	"proposal":     message.KindResearchProposal,
	"withdraw":     message.KindWithdraw,
	"add":          message.KindAddResearcher,
	"remove":       message.KindRemoveResearcher,
	"details":      message.KindGetDetails,
	"transactions": message.KindListTransactions,
	"time":         message.KindTime,
	"exit":         message.KindExit,
}

// arity is the number of ':' separated fields each verb takes, id and
// verb included.
var arity = map[string]int{
	"proposal": 6,
	"withdraw": 3,
	"add":      3,
	"remove":   3,
}

// Parse reads a line of '|' separated commands:
//
//	<n>:proposal:<projectId>:<title>:<description>:<amount>
//	<n>:withdraw:<amount>
//	<n>:add:<m>
//	<n>:remove:<m>
//	<n>:details | <n>:transactions | <n>:time | <n>:exit
//
// Either every command parses or none is returned.
func Parse(line string) ([]Entry, error) {
	var entries []Entry
	for _, part := range strings.Split(line, "|") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		e, err := parseOne(part)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: empty line", ErrInvalidCommand)
	}
	return entries, nil
}

func parseOne(s string) (Entry, error) {
	fields := strings.Split(s, ":")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	if len(fields) < 2 || fields[0] == "" {
		return Entry{}, fmt.Errorf("%w: %q", ErrInvalidCommand, s)
	}

	verb := fields[1]
	kind, ok := verbs[verb]
	if !ok {
		return Entry{}, fmt.Errorf("%w: unknown verb %q", ErrInvalidCommand, verb)
	}
	want, ok := arity[verb]
	if !ok {
		want = 2
	}
	if len(fields) != want {
		return Entry{}, fmt.Errorf("%w: %q takes %d fields, got %d", ErrInvalidCommand, verb, want, len(fields))
	}

	e := Entry{
		Target:  researcher.Name(fields[0]),
		Command: message.Command{Kind: kind},
	}

	switch kind {
	case message.KindResearchProposal:
		amount, err := parseAmount(fields[5])
		if err != nil {
			return Entry{}, err
		}
		if fields[2] == "" {
			return Entry{}, fmt.Errorf("%w: empty project id", ErrInvalidCommand)
		}
		e.Command.ProjectID = fields[2]
		e.Command.Title = fields[3]
		e.Command.Description = fields[4]
		e.Command.Amount = amount
	case message.KindWithdraw:
		amount, err := parseAmount(fields[2])
		if err != nil {
			return Entry{}, err
		}
		e.Command.Amount = amount
	case message.KindAddResearcher, message.KindRemoveResearcher:
		if fields[2] == "" {
			return Entry{}, fmt.Errorf("%w: missing researcher", ErrInvalidCommand)
		}
		e.Command.Researcher = researcher.Name(fields[2])
	}
	return e, nil
}

func parseAmount(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q is not a number", ErrInvalidCommand, s)
	}
	return v, nil
}
