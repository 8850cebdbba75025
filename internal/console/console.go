package console

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"grantfed/internal/broker"
	"grantfed/internal/logging"

	"github.com/google/uuid"
)

// Console publishes parsed commands to researcher inboxes.
type Console struct {
	channel broker.Channel
	log     *slog.Logger
}

func New(ch broker.Channel) *Console {
	return &Console{
		channel: ch,
		log:     logging.For("console"),
	}
}

// Send publishes every entry to its researcher's inbox. Each command gets
// its own correlation id, which the researcher reuses for the request it
// sends so a redelivered command is not executed twice.
func (c *Console) Send(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		body, err := json.Marshal(&e.Command)
		if err != nil {
			return fmt.Errorf("encode command: %w", err)
		}
		if _, err := c.channel.DeclareQueue(ctx, e.Target); err != nil {
			return fmt.Errorf("declare %s: %w", e.Target, err)
		}
		msg := broker.Message{CorrelationID: uuid.NewString(), Body: body}
		if err := c.channel.Publish(ctx, e.Target, msg); err != nil {
			return fmt.Errorf("publish to %s: %w", e.Target, err)
		}
		c.log.Info("command sent", "target", e.Target, "command", e.Command.Kind, "correlationId", msg.CorrelationID)
	}
	return nil
}

// Run reads command lines from r until EOF or ctx is done. A line that
// does not parse is reported and skipped; prompt, when set, is written to
// w before each line.
func (c *Console) Run(ctx context.Context, r io.Reader, w io.Writer, prompt string) error {
	scanner := bufio.NewScanner(r)
	for {
		if prompt != "" {
			fmt.Fprint(w, prompt)
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entries, err := Parse(line)
		if err != nil {
			fmt.Fprintln(w, err)
			continue
		}
		if err := c.Send(ctx, entries); err != nil {
			return err
		}
	}
}
