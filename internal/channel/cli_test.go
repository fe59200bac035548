package channel

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type echoProcessor struct {
	queries []string
	fail    map[string]error
}

func (p *echoProcessor) ProcessQuery(ctx context.Context, query string) (string, error) {
	p.queries = append(p.queries, query)
	if err := p.fail[query]; err != nil {
		return "", err
	}
	return "answer: " + query, nil
}

func runCLI(t *testing.T, input string, p QueryProcessor) string {
	t.Helper()
	var out bytes.Buffer
	cli := NewCLI(CLIConfig{Processor: p, Logger: testLogger(), In: strings.NewReader(input), Out: &out})
	if err := cli.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return out.String()
}

func TestCLI_AnswersUntilQuit(t *testing.T) {
	p := &echoProcessor{}
	out := runCLI(t, "北京天气怎么样\n\n   \nQUIT\nnever read\n", p)

	if len(p.queries) != 1 || p.queries[0] != "北京天气怎么样" {
		t.Fatalf("unexpected queries %v", p.queries)
	}
	if !strings.Contains(out, "MCP Client Started!") {
		t.Fatal("missing banner")
	}
	if !strings.Contains(out, "answer: 北京天气怎么样") {
		t.Fatalf("answer not printed: %q", out)
	}
	if !strings.Contains(out, "Query: ") {
		t.Fatal("missing prompt")
	}
}

func TestCLI_ErrorDoesNotStopLoop(t *testing.T) {
	p := &echoProcessor{fail: map[string]error{"bad": errors.New("provider down")}}
	out := runCLI(t, "bad\ngood\nquit\n", p)

	if !strings.Contains(out, "Error processing query: provider down") {
		t.Fatalf("error not reported: %q", out)
	}
	if !strings.Contains(out, "answer: good") {
		t.Fatal("loop must continue after a failed query")
	}
}

func TestCLI_EOFEndsLoop(t *testing.T) {
	p := &echoProcessor{}
	runCLI(t, "one\ntwo", p)
	if len(p.queries) != 2 {
		t.Fatalf("expected 2 queries before EOF, got %v", p.queries)
	}
}

func TestCLI_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &echoProcessor{}
	cli := NewCLI(CLIConfig{Processor: p, Logger: testLogger(), In: strings.NewReader("q\n"), Out: &bytes.Buffer{}})
	if err := cli.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if len(p.queries) != 0 {
		t.Fatal("no query should run after cancellation")
	}
}
