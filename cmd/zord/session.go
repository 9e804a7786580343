package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"zord/internal/client"
	"zord/internal/prompt"
	"zord/pkg/types"
)

const (
	maxTemperature = 2.0
	maxTokensCap   = 4096
	historyShown   = 10
	historyPreview = 100
)

type turn struct {
	Role    string
	Content string
}

// settings are the per-session generation knobs. Nil pointers leave the
// choice to the daemon.
type settings struct {
	Temperature *float64
	MaxTokens   *int
	Reasoning   bool
	Stream      bool
	Language    string
}

type session struct {
	c   *client.Client
	out io.Writer
	settings
	history []turn
	metrics sessionMetrics
	now     func() time.Time
}

func newSession(c *client.Client, out io.Writer, s settings) *session {
	if s.Language == "" {
		s.Language = "python"
	}
	return &session{c: c, out: out, settings: s, now: time.Now}
}

func (s *session) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(s.out, format, args...)
}

// run reads lines from in until EOF, exit, or ctx ends. The banner and the
// prompt are only shown when in is a terminal.
func (s *session) run(ctx context.Context, in io.Reader) error {
	interactive := isTerminal(in)
	if interactive {
		s.printf("Zord Coder v1 (%s). Type 'help' for commands, 'exit' to quit.\n", s.c.BaseURL())
	}
	sc := bufio.NewScanner(in)
	for {
		if interactive {
			s.printf("> ")
		}
		if !sc.Scan() {
			if interactive {
				s.printf("\n")
			}
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		handled, quit := s.handleCommand(ctx, line)
		if quit {
			s.printf("Goodbye! Happy coding!\n")
			return nil
		}
		if handled {
			continue
		}
		if err := s.ask(ctx, line); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.printf("error: %v\n", err)
		}
	}
}

// handleCommand runs a REPL command. handled is false for regular prompts.
func (s *session) handleCommand(ctx context.Context, line string) (handled, quit bool) {
	cmd, arg, _ := strings.Cut(line, " ")
	cmd = strings.ToLower(cmd)
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "exit", "quit", "q":
		return arg == "", arg == ""
	case "help", "?":
		if arg != "" {
			return false, false
		}
		s.showHelp()
	case "clear":
		if arg != "" {
			return false, false
		}
		s.history = nil
		s.printf("Conversation history cleared\n")
	case "reasoning":
		if arg != "" {
			return false, false
		}
		s.Reasoning = !s.Reasoning
		s.printf("Reasoning mode: %s\n", onOff(s.Reasoning))
	case "stream":
		if arg != "" {
			return false, false
		}
		s.Stream = !s.Stream
		s.printf("Streaming mode: %s\n", onOff(s.Stream))
	case "metrics":
		if arg != "" {
			return false, false
		}
		s.showMetrics()
	case "history":
		if arg != "" {
			return false, false
		}
		s.showHistory()
	case "usage":
		if arg != "" {
			return false, false
		}
		s.showUsage(ctx)
	case "info":
		if arg != "" {
			return false, false
		}
		s.showInfo(ctx)
	case "language":
		if arg == "" {
			s.printf("Preferred language: %s\n", s.Language)
			break
		}
		name := strings.ToLower(arg)
		if !prompt.KnownLanguage(name) {
			s.printf("Unknown language: %s\nAvailable: %s\n", arg, strings.Join(prompt.Languages(), ", "))
			break
		}
		s.Language = name
		s.printf("Preferred language set to: %s\n", name)
	case "temp":
		if arg == "" {
			return false, false
		}
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil || v < 0 || v > maxTemperature {
			s.printf("Invalid temperature value (0.0-%.1f)\n", maxTemperature)
			break
		}
		s.Temperature = &v
		s.printf("Temperature set to: %g\n", v)
	case "max":
		if arg == "" {
			return false, false
		}
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 || n > maxTokensCap {
			s.printf("Invalid max tokens value (1-%d)\n", maxTokensCap)
			break
		}
		s.MaxTokens = &n
		s.printf("Max tokens set to: %d\n", n)
	default:
		return false, false
	}
	return true, false
}

// ask sends one prompt and prints the answer.
func (s *session) ask(ctx context.Context, text string) error {
	req := types.GenerateRequest{
		Prompt:      text,
		Temperature: s.Temperature,
		MaxTokens:   s.MaxTokens,
		Reasoning:   s.Reasoning,
	}
	start := s.now()
	var (
		resp types.GenerateResponse
		err  error
	)
	if s.Stream {
		var sb strings.Builder
		resp, err = s.c.Stream(ctx, req, func(tok string) {
			sb.WriteString(tok)
			_, _ = io.WriteString(s.out, tok)
		})
		if sb.Len() > 0 {
			s.printf("\n")
		}
		if err == nil && resp.Response == "" {
			resp.Response = sb.String()
		}
	} else {
		resp, err = s.c.Generate(ctx, req)
		if err == nil {
			s.printf("%s\n", formatResponse(resp.Response, s.Language))
		}
	}
	if err != nil {
		if client.IsQuotaExceeded(err) {
			return fmt.Errorf("%s (see 'usage')", err.(*client.APIError).Message)
		}
		return err
	}
	elapsed := s.now().Sub(start)
	s.metrics.observe(resp.TokensGenerated, elapsed)
	s.history = append(s.history, turn{"user", text}, turn{"assistant", resp.Response})

	s.printf("[%d tokens, %.2fs", resp.TokensGenerated, elapsed.Seconds())
	if u := resp.Usage; u != nil {
		s.printf(", %d/%d messages today", u.MessageCount, u.DailyMessageLimit)
	}
	s.printf("]\n")
	if resp.Demo {
		s.printf("(demo response: no model loaded on the server)\n")
	}
	return nil
}

// formatResponse tags bare code fences with the preferred language.
func formatResponse(text, lang string) string {
	if lang == "" {
		lang = "text"
	}
	lines := strings.Split(text, "\n")
	inFence := false
	for i, l := range lines {
		t := strings.TrimSpace(l)
		if !strings.HasPrefix(t, "```") {
			continue
		}
		if !inFence && t == "```" {
			lines[i] = strings.Replace(l, "```", "```"+lang, 1)
		}
		inFence = !inFence
	}
	return strings.Join(lines, "\n")
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

func (s *session) showHelp() {
	s.printf(`Commands:
  help, ?          Show this help
  clear            Clear conversation history
  exit, quit       Exit
  reasoning        Toggle step-by-step reasoning
  stream           Toggle streaming output
  metrics          Show session performance
  usage            Show today's quota usage
  info             Show server and model information
  history          Show recent conversation
  language <name>  Set preferred language for code fences
  temp <value>     Set temperature (0.0-2.0)
  max <tokens>     Set max tokens (1-4096)
`)
}

func (s *session) showMetrics() {
	m := s.metrics
	s.printf("Total requests:    %d\n", m.Requests)
	s.printf("Total tokens:      %d\n", m.Tokens)
	s.printf("Avg tokens/sec:    %.2f\n", m.TokensPerSecond())
	s.printf("Avg response time: %.2fs\n", m.AvgResponseTime().Seconds())
}

func (s *session) showHistory() {
	if len(s.history) == 0 {
		s.printf("No conversation history\n")
		return
	}
	s.printf("Conversation history (%d messages):\n", len(s.history))
	from := 0
	if len(s.history) > historyShown {
		from = len(s.history) - historyShown
	}
	for _, t := range s.history[from:] {
		who := "You"
		if t.Role != "user" {
			who = "Zord"
		}
		content := t.Content
		if r := []rune(content); len(r) > historyPreview {
			content = string(r[:historyPreview]) + "..."
		}
		s.printf("  %s: %s\n", who, strings.ReplaceAll(content, "\n", " "))
	}
}

func (s *session) showUsage(ctx context.Context) {
	u, err := s.c.Usage(ctx)
	if err != nil {
		s.printf("error: %v\n", err)
		return
	}
	writeUsage(s.out, u)
}

func writeUsage(w io.Writer, u types.UsageSnapshot) {
	_, _ = fmt.Fprintf(w, "Messages: %d/%d\n", u.MessageCount, u.DailyMessageLimit)
	_, _ = fmt.Fprintf(w, "Tokens:   %d/%d\n", u.TokenCount, u.DailyTokenLimit)
	if u.ResetAt == 0 {
		_, _ = fmt.Fprintf(w, "Resets:   no active window\n")
		return
	}
	_, _ = fmt.Fprintf(w, "Resets:   %s\n", time.Unix(u.ResetAt, 0).Format(time.RFC3339))
}

func (s *session) showInfo(ctx context.Context) {
	info, err := s.c.Info(ctx)
	if err != nil {
		s.printf("error: %v\n", err)
		return
	}
	s.printf("Server:  %s\n", s.c.BaseURL())
	s.printf("Model:   %s\n", info.Model)
	s.printf("Loaded:  %t\n", info.ModelLoaded)
	if st, err := s.c.Status(ctx); err == nil {
		s.printf("State:   %s\n", st.State)
		s.printf("Backend: %s\n", st.Backend)
		if st.ModelPath != "" {
			s.printf("Path:    %s\n", st.ModelPath)
		}
	}
	s.printf("Client:  %s\n", s.c.ClientID())
}
