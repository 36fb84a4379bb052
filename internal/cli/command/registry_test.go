package command_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/noraiz-anwar/code-response-assessment/internal/cli/command"
)

func mustCommand(t *testing.T, key string) command.Command {
	t.Helper()
	cmd, ok := command.Registry()[key]
	if !ok {
		t.Fatalf("command %q not registered", key)
	}
	return cmd
}

func decodeBody(t *testing.T, body []byte) map[string]interface{} {
	t.Helper()
	payload := map[string]interface{}{}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	return payload
}

func writeTempSource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "solution.py")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp source: %v", err)
	}
	return path
}

func TestBuildRequestGradeRun(t *testing.T) {
	cmd := mustCommand(t, "grade run")
	params := command.Params{}
	params.Set("problem", "two-sum")
	params.Set("lang", "python")
	params.Set("version", "3.12")
	params.Set("source", "print(1)")

	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if req.Method != "POST" || req.Path != "/api/v1/grade" {
		t.Fatalf("unexpected request line: %s %s", req.Method, req.Path)
	}
	if _, ok := req.Headers["X-User-Id"]; ok {
		t.Fatalf("grade run must not set X-User-Id")
	}
	payload := decodeBody(t, req.Body)
	if payload["problem_id"] != "two-sum" || payload["language"] != "python" {
		t.Fatalf("aliases not canonicalized: %v", payload)
	}
	if payload["version"] != "3.12" || payload["source"] != "print(1)" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestBuildRequestGradeRunFromFile(t *testing.T) {
	path := writeTempSource(t, "print('file')\n")

	cmd := mustCommand(t, "grade run")
	params := command.Params{}
	params.Set("problem_id", "two-sum")
	params.Set("language", "python")
	params.Set("version", "3.12")
	params.Set("source", "@"+path)

	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	payload := decodeBody(t, req.Body)
	if payload["source"] != "print('file')\n" {
		t.Fatalf("@path source not loaded: %q", payload["source"])
	}
}

func TestBuildRequestSubmit(t *testing.T) {
	path := writeTempSource(t, "print('submit')\n")

	cmd := mustCommand(t, "grade submit")
	params := command.Params{}
	params.Set("context", "course-v1:demo+block@1")
	params.Set("problem", "two-sum")
	params.Set("lang", "python")
	params.Set("version", "3.12")
	params.Set("source", "_file_")
	params.Set("source_file", path)
	params.Set("staff", "true")
	params.Set("user", "u-7")

	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if req.Path != "/api/v1/submissions" {
		t.Fatalf("unexpected path: %s", req.Path)
	}
	if req.Headers["X-User-Id"] != "u-7" {
		t.Fatalf("user alias not forwarded as header: %v", req.Headers)
	}
	payload := decodeBody(t, req.Body)
	if payload["context_key"] != "course-v1:demo+block@1" {
		t.Fatalf("context alias not canonicalized: %v", payload)
	}
	if payload["include_staff"] != true {
		t.Fatalf("include_staff not parsed: %v", payload["include_staff"])
	}
	if payload["source"] != "print('submit')\n" {
		t.Fatalf("source_file not resolved: %q", payload["source"])
	}
}

func TestBuildRequestResult(t *testing.T) {
	cmd := mustCommand(t, "grade result")
	params := command.Params{}
	params.Set("context_key", "course-v1:demo+block@1")
	params.Set("user_id", "u-7")

	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if req.Method != "GET" {
		t.Fatalf("unexpected method: %s", req.Method)
	}
	if req.Path != "/api/v1/submissions/course-v1:demo+block@1/result" {
		t.Fatalf("unexpected path: %s", req.Path)
	}
	if len(req.Body) != 0 {
		t.Fatalf("GET request must not carry a body")
	}
}

func TestBuildRequestResultMissingContext(t *testing.T) {
	cmd := mustCommand(t, "grade result")
	if _, err := command.BuildRequest(cmd, command.Params{}); err == nil {
		t.Fatalf("expected missing path parameter error")
	}
}

func TestResolveSource(t *testing.T) {
	path := writeTempSource(t, "inline wins\n")

	params := command.Params{}
	params.Set("source", "print(2)")
	params.Set("source_file", path)
	source, err := command.ResolveSource(params)
	if err != nil {
		t.Fatalf("ResolveSource: %v", err)
	}
	if source != "print(2)" {
		t.Fatalf("inline source must win over source_file, got %q", source)
	}

	params = command.Params{}
	params.Set("source_file", path)
	source, err = command.ResolveSource(params)
	if err != nil {
		t.Fatalf("ResolveSource: %v", err)
	}
	if source != "inline wins\n" {
		t.Fatalf("source_file not resolved: %q", source)
	}

	if _, err := command.ResolveSource(command.Params{}); err == nil {
		t.Fatalf("expected error when no source is given")
	}

	params = command.Params{}
	params.Set("source", "_file_")
	if _, err := command.ResolveSource(params); err == nil {
		t.Fatalf("expected error for _file_ without source_file")
	}
}

func TestParseBool(t *testing.T) {
	got, err := command.ParseBool("")
	if err != nil || got {
		t.Fatalf("empty value must parse as false, got %v err %v", got, err)
	}
	got, err = command.ParseBool("true")
	if err != nil || !got {
		t.Fatalf("true not parsed, got %v err %v", got, err)
	}
	if _, err := command.ParseBool("banana"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestRegistryCoversAllCommands(t *testing.T) {
	registry := command.Registry()
	for _, key := range []string{
		"grade run", "grade submit", "grade result", "grade watch",
		"lang list", "health check",
	} {
		if _, ok := registry[key]; !ok {
			t.Fatalf("missing command %q", key)
		}
	}
}
