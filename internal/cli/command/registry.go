package command

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "grade",
			Action:       "run",
			Method:       "POST",
			PathTemplate: "/api/v1/grade",
			Fields: []Field{
				{Name: "problem_id", Aliases: []string{"problem"}, Prompt: "problem_id", Type: FieldString, Required: true},
				{Name: "language", Aliases: []string{"lang"}, Prompt: "language", Type: FieldString, Required: true},
				{Name: "version", Prompt: "version", Type: FieldString, Required: true},
				{Name: "source", Prompt: "source (inline or @path)", Type: FieldString, Required: true},
				{Name: "source_file", Prompt: "source_file", Type: FieldFile, Required: false},
			},
		},
		{
			Service:      "grade",
			Action:       "submit",
			Method:       "POST",
			PathTemplate: "/api/v1/submissions",
			Fields: []Field{
				{Name: "context_key", Aliases: []string{"context"}, Prompt: "context_key", Type: FieldString, Required: true},
				{Name: "problem_id", Aliases: []string{"problem"}, Prompt: "problem_id", Type: FieldString, Required: true},
				{Name: "language", Aliases: []string{"lang"}, Prompt: "language", Type: FieldString, Required: true},
				{Name: "version", Prompt: "version", Type: FieldString, Required: true},
				{Name: "source", Prompt: "source (inline or @path)", Type: FieldString, Required: true},
				{Name: "source_file", Prompt: "source_file", Type: FieldFile, Required: false},
				{Name: "include_staff", Aliases: []string{"staff"}, Prompt: "include_staff", Type: FieldBool, Required: false},
				{Name: "user_id", Aliases: []string{"user"}, Prompt: "user_id", Type: FieldString, Required: false},
			},
		},
		{
			Service:      "grade",
			Action:       "result",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions/:context/result",
			Fields: []Field{
				{Name: "context", Aliases: []string{"context_key"}, Prompt: "context_key", Type: FieldString, Required: true},
				{Name: "user_id", Aliases: []string{"user"}, Prompt: "user_id", Type: FieldString, Required: false},
			},
		},
		{
			Service:      "grade",
			Action:       "watch",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions/:context/result",
			Fields: []Field{
				{Name: "context", Aliases: []string{"context_key"}, Prompt: "context_key", Type: FieldString, Required: true},
				{Name: "user_id", Aliases: []string{"user"}, Prompt: "user_id", Type: FieldString, Required: false},
				{Name: "interval", Prompt: "interval", Type: FieldDuration, Required: false},
				{Name: "for", Prompt: "max wait", Type: FieldDuration, Required: false},
			},
		},
		{
			Service:      "lang",
			Action:       "list",
			Method:       "GET",
			PathTemplate: "/api/v1/languages",
		},
		{
			Service:      "health",
			Action:       "check",
			Method:       "GET",
			PathTemplate: "/api/v1/health",
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		key := fmt.Sprintf("%s %s", cmd.Service, cmd.Action)
		result[key] = cmd
	}
	return result
}

// BuildRequest creates an HTTP request spec based on the command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}

	headers := map[string]string{}
	if userID := params.Get("user_id"); userID != "" {
		headers["X-User-Id"] = userID
	}

	var body []byte
	if cmd.Method != "GET" && cmd.Method != "DELETE" {
		payload, err := buildPayload(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if payload != nil {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
			}
		}
	}

	return RequestSpec{
		Method:  cmd.Method,
		Path:    path,
		Headers: headers,
		Body:    body,
	}, nil
}

func buildPath(template string, params Params) (string, error) {
	path := template
	for _, key := range []string{"context"} {
		placeholder := ":" + key
		if strings.Contains(path, placeholder) {
			value := params.Get(key)
			if value == "" {
				return "", fmt.Errorf("missing path parameter: %s", key)
			}
			// Context keys carry colons and plus signs.
			path = strings.ReplaceAll(path, placeholder, url.PathEscape(value))
		}
	}
	return path, nil
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	if cmd.Service != "grade" {
		return nil, nil
	}
	switch cmd.Action {
	case "run":
		source, err := ResolveSource(params)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"problem_id": params.Get("problem_id"),
			"language":   params.Get("language"),
			"version":    params.Get("version"),
			"source":     source,
		}, nil
	case "submit":
		source, err := ResolveSource(params)
		if err != nil {
			return nil, err
		}
		includeStaff, err := ParseBool(params.Get("include_staff"))
		if err != nil {
			return nil, fmt.Errorf("invalid include_staff: %w", err)
		}
		return map[string]interface{}{
			"context_key":   params.Get("context_key"),
			"problem_id":    params.Get("problem_id"),
			"language":      params.Get("language"),
			"version":       params.Get("version"),
			"source":        source,
			"include_staff": includeStaff,
		}, nil
	}
	return nil, nil
}
