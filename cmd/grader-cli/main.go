package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/noraiz-anwar/code-response-assessment/internal/cli/command"
	"github.com/noraiz-anwar/code-response-assessment/internal/cli/config"
	httpclient "github.com/noraiz-anwar/code-response-assessment/internal/cli/http"
	"github.com/noraiz-anwar/code-response-assessment/internal/cli/repl"
	"github.com/noraiz-anwar/code-response-assessment/internal/cli/state"
)

const defaultConfigPath = "configs/grader_cli.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 30s)")
	token := flag.String("token", "", "Override access token")
	user := flag.String("user", "", "Override user id sent as X-User-Id")
	statePath := flag.String("state", "", "Override state file path")
	pretty := flag.Bool("pretty", false, "Pretty print JSON response")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *statePath != "" {
		cfg.StatePath = *statePath
	}
	if *pretty {
		trueValue := true
		cfg.PrettyJSON = &trueValue
	}

	cliState, err := state.Load(cfg.StatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load state failed: %v\n", err)
		return
	}
	// Base URL precedence: flag, then saved state, then config.
	if cliState.BaseURL != "" {
		cfg.BaseURL = cliState.BaseURL
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *token != "" {
		cliState.AccessToken = *token
	}
	if *user != "" {
		cliState.UserID = *user
	}

	client := httpclient.New(cfg.BaseURL, cfg.Timeout, func() string {
		return cliState.AccessToken
	}, func() string {
		return cliState.UserID
	})

	commands := command.Registry()
	session, err := repl.New(client, commands, &cliState, cfg.StatePath, cfg.PrettyJSON != nil && *cfg.PrettyJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start session failed: %v\n", err)
		return
	}
	session.Run(context.Background())
}
