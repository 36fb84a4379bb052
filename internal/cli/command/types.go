package command

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// FieldType describes input type.
type FieldType int

const (
	FieldString FieldType = iota
	FieldBool
	FieldDuration
	FieldFile
)

// Field defines a CLI input field.
type Field struct {
	Name     string
	Aliases  []string
	Prompt   string
	Type     FieldType
	Required bool
}

// Command defines a CLI command binding.
type Command struct {
	Service      string
	Action       string
	Method       string
	PathTemplate string
	Fields       []Field
}

// RequestSpec is the built HTTP request.
type RequestSpec struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

// Params holds parsed input params.
type Params map[string]string

func (p Params) Get(key string) string {
	return p[strings.ToLower(key)]
}

func (p Params) Set(key, value string) {
	p[strings.ToLower(key)] = value
}

func (p Params) Has(key string) bool {
	_, ok := p[strings.ToLower(key)]
	return ok
}

// Canonicalize folds alias keys into their field names.
func (p Params) Canonicalize(fields []Field) {
	for _, field := range fields {
		for _, alias := range field.Aliases {
			aliasKey := strings.ToLower(alias)
			if value, ok := p[aliasKey]; ok {
				p[strings.ToLower(field.Name)] = value
				delete(p, aliasKey)
			}
		}
	}
}

// ParseBool accepts the usual spellings; an empty value is false.
func ParseBool(value string) (bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return false, nil
	}
	return strconv.ParseBool(value)
}

// ParseDuration parses a Go duration string.
func ParseDuration(value string) (time.Duration, error) {
	return time.ParseDuration(strings.TrimSpace(value))
}

// ReadFile loads a parameter value from disk.
func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file failed: %w", err)
	}
	return string(data), nil
}

// ResolveSource returns the submission source: an inline value, an
// "@path" reference, or the source_file parameter.
func ResolveSource(params Params) (string, error) {
	source := params.Get("source")
	if strings.HasPrefix(source, "@") {
		return ReadFile(strings.TrimPrefix(source, "@"))
	}
	if source == "" || source == "_file_" {
		if path := params.Get("source_file"); path != "" {
			return ReadFile(path)
		}
		return "", fmt.Errorf("source is required (inline, @path, or source_file=)")
	}
	return source, nil
}
