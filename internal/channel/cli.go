// Package channel holds the interactive terminal front end.
package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// QuitCommand ends the interactive loop, matched case-insensitively.
const QuitCommand = "quit"

// QueryProcessor answers one free-text query.
type QueryProcessor interface {
	ProcessQuery(ctx context.Context, query string) (string, error)
}

// CLI runs the read-query-print loop on a terminal.
type CLI struct {
	processor QueryProcessor
	logger    *slog.Logger
	in        io.Reader
	out       io.Writer
	spinner   bool

	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
	thinkDone chan struct{}
}

type CLIConfig struct {
	Processor QueryProcessor
	Logger    *slog.Logger
	In        io.Reader
	Out       io.Writer
	Spinner   bool // animate while a query runs; only useful on a terminal
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		processor: cfg.Processor,
		logger:    cfg.Logger,
		in:        cfg.In,
		out:       cfg.Out,
		spinner:   cfg.Spinner,
	}
}

// Run blocks until the user types quit, input ends, or ctx is cancelled.
// A failed query is reported and the loop continues.
func (c *CLI) Run(ctx context.Context) error {
	_, _ = fmt.Fprintln(c.out, "\nMCP Client Started!")
	_, _ = fmt.Fprintln(c.out, `Type your queries or "quit" to exit.`)

	scanner := bufio.NewScanner(c.in)
	for {
		if ctx.Err() != nil {
			return nil
		}
		_, _ = fmt.Fprint(c.out, "\nQuery: ")

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if strings.EqualFold(query, QuitCommand) {
			c.logger.Info("user requested quit")
			return nil
		}

		c.startThinking()
		answer, err := c.processor.ProcessQuery(ctx, query)
		c.stopThinking()
		if err != nil {
			c.logger.Error("query failed", "error", err)
			_, _ = fmt.Fprintf(c.out, "\nError processing query: %v\n", err)
			continue
		}
		_, _ = fmt.Fprintf(c.out, "\n%s\n", answer)
	}
}

func (c *CLI) startThinking() {
	if !c.spinner {
		return
	}
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	c.thinkDone = make(chan struct{})
	go func(stop, done chan struct{}) {
		defer close(done)
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				fmt.Fprint(c.out, "\r\033[K")
				return
			case <-ticker.C:
				fmt.Fprintf(c.out, "\r%s Thinking...", frames[i%len(frames)])
				i++
			}
		}
	}(c.thinkStop, c.thinkDone)
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
	<-c.thinkDone
}
