package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/shlex"

	"github.com/noraiz-anwar/code-response-assessment/internal/cli/command"
	httpclient "github.com/noraiz-anwar/code-response-assessment/internal/cli/http"
	"github.com/noraiz-anwar/code-response-assessment/internal/cli/state"
	pkgerrors "github.com/noraiz-anwar/code-response-assessment/pkg/errors"
)

const (
	mainPrompt = "grader> "

	defaultWatchInterval = 2 * time.Second
	defaultWatchWindow   = 2 * time.Minute
)

// Single-word shortcuts for the most common lookups.
var commandShortcuts = map[string]string{
	"health":    "health check",
	"languages": "lang list",
	"langs":     "lang list",
}

// Session holds REPL state.
type Session struct {
	client     *httpclient.Client
	commands   map[string]command.Command
	cliState   *state.State
	statePath  string
	prettyJSON bool
	rl         *readline.Instance
	out        io.Writer
}

func New(client *httpclient.Client, commands map[string]command.Command, cliState *state.State, statePath string, prettyJSON bool) (*Session, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          mainPrompt,
		HistoryFile:     filepath.Join(filepath.Dir(statePath), "grader_cli_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("init readline failed: %w", err)
	}
	return &Session{
		client:     client,
		commands:   commands,
		cliState:   cliState,
		statePath:  statePath,
		prettyJSON: prettyJSON,
		rl:         rl,
		out:        rl.Stdout(),
	}, nil
}

func (s *Session) Run(ctx context.Context) {
	defer func() { _ = s.rl.Close() }()
	for {
		line, err := s.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				return
			}
			continue
		}
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		handled, quit := s.handleSystemCommand(line)
		if quit {
			return
		}
		if handled {
			continue
		}
		if expanded, ok := commandShortcuts[line]; ok {
			line = expanded
		}

		if err := s.handleCommand(ctx, line); err != nil {
			s.printLine("error: %v", err)
		}
	}
}

func (s *Session) handleSystemCommand(line string) (handled, quit bool) {
	switch line {
	case "exit", "quit":
		s.printLine("bye")
		return true, true
	case "help":
		s.printHelp()
		return true, false
	}
	if strings.HasPrefix(line, "set ") {
		s.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "set ")))
		return true, false
	}
	if strings.HasPrefix(line, "show ") {
		s.handleShow(strings.TrimSpace(strings.TrimPrefix(line, "show ")))
		return true, false
	}
	return false, false
}

func (s *Session) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		s.printLine("usage: set base|token|user|timeout")
		return
	}
	switch parts[0] {
	case "base":
		if len(parts) < 2 {
			s.printLine("usage: set base http://127.0.0.1:8087")
			return
		}
		s.client.SetBaseURL(parts[1])
		s.cliState.BaseURL = parts[1]
		s.saveState()
		s.printLine("base set to %s", parts[1])
	case "timeout":
		if len(parts) < 2 {
			s.printLine("usage: set timeout 30s")
			return
		}
		dur, err := time.ParseDuration(parts[1])
		if err != nil {
			s.printLine("invalid duration: %v", err)
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	case "token":
		if len(parts) < 2 {
			s.printLine("usage: set token <access_token>")
			return
		}
		s.cliState.AccessToken = parts[1]
		s.saveState()
		s.printLine("token updated")
	case "user":
		if len(parts) < 2 {
			s.printLine("usage: set user <user_id>")
			return
		}
		s.cliState.UserID = parts[1]
		s.saveState()
		s.printLine("user set to %s", parts[1])
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) saveState() {
	if err := state.Save(s.statePath, *s.cliState); err != nil {
		s.printLine("save state failed: %v", err)
	}
}

func (s *Session) handleShow(args string) {
	switch args {
	case "token":
		if s.cliState.AccessToken == "" {
			s.printLine("token: <empty>")
			return
		}
		token := s.cliState.AccessToken
		if len(token) > 12 {
			token = token[:6] + "..." + token[len(token)-4:]
		}
		s.printLine("token: %s", token)
	case "config":
		s.printLine("baseURL: %s", s.client.BaseURL())
		s.printLine("user: %s", s.cliState.UserID)
		s.printLine("statePath: %s", s.statePath)
	default:
		s.printLine("usage: show token|config")
	}
}

func (s *Session) handleCommand(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) < 2 {
		return fmt.Errorf("invalid command, use: <service> <action> key=value ...")
	}
	service := tokens[0]
	action := tokens[1]
	key := fmt.Sprintf("%s %s", service, action)
	cmd, ok := s.commands[key]
	if !ok {
		return fmt.Errorf("unknown command: %s %s", service, action)
	}
	params := command.Params{}
	for _, token := range tokens[2:] {
		parts := strings.SplitN(token, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid param: %s", token)
		}
		params.Set(parts[0], parts[1])
	}
	params.Canonicalize(cmd.Fields)

	s.applyParamShortcuts(&cmd, params)
	if err := s.promptMissing(&cmd, params); err != nil {
		return err
	}
	if cmd.Service == "grade" && cmd.Action == "watch" {
		return s.runWatch(ctx, cmd, params)
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	return nil
}

func (s *Session) applyParamShortcuts(cmd *command.Command, params command.Params) {
	if cmd.Service == "grade" && (cmd.Action == "run" || cmd.Action == "submit") {
		if params.Get("source_file") != "" && params.Get("source") == "" {
			params.Set("source", "_file_")
		}
	}
}

func (s *Session) promptMissing(cmd *command.Command, params command.Params) error {
	for _, field := range cmd.Fields {
		if !field.Required {
			continue
		}
		if params.Get(field.Name) != "" {
			continue
		}
		value, err := s.promptValue(field.Prompt)
		if err != nil {
			return err
		}
		params.Set(field.Name, value)
	}
	return nil
}

func (s *Session) promptValue(prompt string) (string, error) {
	s.rl.SetPrompt(prompt + ": ")
	defer s.rl.SetPrompt(mainPrompt)
	line, err := s.rl.Readline()
	if err != nil {
		return "", fmt.Errorf("read input failed: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// runWatch polls the result endpoint until the grade reaches a terminal
// execution state or the wait window runs out.
func (s *Session) runWatch(ctx context.Context, cmd command.Command, params command.Params) error {
	interval := defaultWatchInterval
	if raw := params.Get("interval"); raw != "" {
		parsed, err := command.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid interval: %w", err)
		}
		interval = parsed
	}
	window := defaultWatchWindow
	if raw := params.Get("for"); raw != "" {
		parsed, err := command.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid wait window: %w", err)
		}
		window = parsed
	}

	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(window)
	for {
		resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
		if err != nil {
			return err
		}
		s.renderResponse(resp)
		if watchFinished(resp.Body) {
			return nil
		}
		if time.Now().After(deadline) {
			s.printLine("timed out waiting for a terminal result")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// watchFinished reports whether polling can stop: a non-Success envelope
// will not resolve on its own, and success/failure states are terminal.
func watchFinished(body []byte) bool {
	type pollData struct {
		ExecutionState string `json:"execution_state"`
	}
	type respEnvelope struct {
		Code int      `json:"code"`
		Data pollData `json:"data"`
	}
	var resp respEnvelope
	if err := json.Unmarshal(body, &resp); err != nil {
		return true
	}
	if resp.Code != int(pkgerrors.Success) {
		return true
	}
	return resp.Data.ExecutionState == "success" || resp.Data.ExecutionState == "failure"
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration)
	if len(resp.Body) == 0 {
		return
	}
	if s.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(resp.Body))
}

func (s *Session) printHelp() {
	s.printLine("usage: <service> <action> key=value ...")
	s.printLine("system: help | exit | set base|token|user|timeout | show token|config")
	s.printLine("examples:")
	s.printLine("  grade run problem=two-sum lang=python version=3.12 source_file=./solution.py")
	s.printLine("  grade submit context=course-v1:demo+block@1 problem=two-sum lang=python version=3.12 source=@./solution.py user=u-7")
	s.printLine("  grade watch context=course-v1:demo+block@1 user=u-7 interval=2s for=2m")
	s.printLine("  lang list")
	s.printLine("  health check")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}
