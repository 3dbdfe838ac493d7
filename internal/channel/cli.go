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

	"digitaltwin/internal/domain"
	"digitaltwin/internal/twin"
)

// CLI is an interactive terminal REPL. "/type <tag>" switches the interview
// type for the rest of the session.
type CLI struct {
	twin      Twin
	logger    *slog.Logger
	in        io.Reader
	out       io.Writer
	enhanced  bool
	spinner   bool
	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
	thinkDone chan struct{}

	interviewType string
}

type CLIConfig struct {
	Twin          Twin
	Logger        *slog.Logger
	In            io.Reader
	Out           io.Writer
	Enhanced      bool
	InterviewType string
	Spinner       bool // animate while waiting; keep off for non-terminals
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
		twin:          cfg.Twin,
		logger:        cfg.Logger,
		in:            cfg.In,
		out:           cfg.Out,
		enhanced:      cfg.Enhanced,
		spinner:       cfg.Spinner,
		interviewType: cfg.InterviewType,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the REPL and blocks until EOF, /quit or ctx is cancelled.
func (c *CLI) Start(ctx context.Context) error {
	_, _ = fmt.Fprintln(c.out, "Digital twin CLI. Ask a question and press Enter. /type <tag> sets the interview type, /quit exits.")
	c.prompt()

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit" || line == "/exit" || line == "/q":
			c.logger.Info("user requested quit")
			return nil
		case line == "/types":
			_, _ = fmt.Fprintln(c.out, "Interview types: "+strings.Join(c.twin.InterviewTypes(), ", "))
		case line == "/type" || strings.HasPrefix(line, "/type "):
			c.setType(strings.TrimSpace(strings.TrimPrefix(line, "/type")))
		case line == "/help":
			_, _ = fmt.Fprintln(c.out, "Commands: /type <tag>, /type none, /types, /quit")
		default:
			c.ask(ctx, line)
		}
		c.prompt()
	}
}

func (c *CLI) prompt() {
	label := "You"
	if c.interviewType != "" {
		label = "You [" + c.interviewType + "]"
	}
	_, _ = fmt.Fprint(c.out, label+"> ")
}

func (c *CLI) setType(tag string) {
	switch tag {
	case "":
		current := c.interviewType
		if current == "" {
			current = "general"
		}
		_, _ = fmt.Fprintln(c.out, "Current interview type: "+current)
		return
	case "none", "general":
		c.interviewType = ""
		_, _ = fmt.Fprintln(c.out, "Interview type cleared.")
		return
	}
	for _, t := range c.twin.InterviewTypes() {
		if t == tag {
			c.interviewType = tag
			_, _ = fmt.Fprintln(c.out, "Interview type set to "+tag+".")
			return
		}
	}
	_, _ = fmt.Fprintf(c.out, "Unknown interview type %q. Known: %s\n", tag, strings.Join(c.twin.InterviewTypes(), ", "))
}

func (c *CLI) ask(ctx context.Context, question string) {
	c.startThinking()
	resp, err := c.twin.Ask(ctx, domain.PipelineRequest{Question: question, Enhanced: c.enhanced, InterviewType: c.interviewType})
	c.stopThinking()

	if err != nil {
		c.logger.Debug("cli ask failed", "err", err)
		_, _ = fmt.Fprintln(c.out, twin.UnavailableAnswer)
		return
	}
	_, _ = fmt.Fprintln(c.out, "--- Twin ---")
	_, _ = fmt.Fprintln(c.out, resp.Answer)
	if len(resp.Sources) > 0 {
		_, _ = fmt.Fprintln(c.out, "Sources:")
		for _, s := range resp.Sources {
			_, _ = fmt.Fprintf(c.out, "  - %s (%s, %.2f)\n", s.Title, s.Type, s.Score)
		}
	}
	_, _ = fmt.Fprintf(c.out, "(%d ms)\n", resp.Metadata.Performance.Total.Milliseconds())
	_, _ = fmt.Fprintln(c.out, "------------")
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
