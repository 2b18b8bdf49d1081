package tplengine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// ErrMissingKey is returned when a template references an absent context key.
var ErrMissingKey = errors.New("missing template key")

// TemplateEngine renders Go templates with sprig functions against a data map.
// Templates fail on missing keys instead of rendering "<no value>".
type TemplateEngine struct {
	funcs template.FuncMap
}

func NewEngine() *TemplateEngine {
	return &TemplateEngine{funcs: sprig.TxtFuncMap()}
}

// HasTemplate returns true if the string contains template markers
func HasTemplate(s string) bool {
	return strings.Contains(s, "{{")
}

// RenderString renders a template string
func (e *TemplateEngine) RenderString(templateStr string, data map[string]any) (string, error) {
	if !HasTemplate(templateStr) {
		return templateStr, nil
	}
	tmpl, err := template.New("inline").Option("missingkey=error").Funcs(e.funcs).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		if isMissingKeyErr(err) {
			return "", fmt.Errorf("%w: %v", ErrMissingKey, err)
		}
		return "", fmt.Errorf("template execution error: %w", err)
	}
	return buf.String(), nil
}

// ParseMap resolves templates inside value recursively. A string consisting of
// a single reference such as "{{ .trigger.user }}" yields the referenced value
// with its original type.
func (e *TemplateEngine) ParseMap(value any, data map[string]any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return e.parseStringValue(v, data)
	case map[string]any:
		result := make(map[string]any, len(v))
		for k, val := range v {
			parsed, err := e.ParseMap(val, data)
			if err != nil {
				return nil, fmt.Errorf("failed to parse template in map key %s: %w", k, err)
			}
			result[k] = parsed
		}
		return result, nil
	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			parsed, err := e.ParseMap(val, data)
			if err != nil {
				return nil, fmt.Errorf("failed to parse template in array index %d: %w", i, err)
			}
			result[i] = parsed
		}
		return result, nil
	default:
		return v, nil
	}
}

func (e *TemplateEngine) parseStringValue(v string, data map[string]any) (any, error) {
	if !HasTemplate(v) {
		return v, nil
	}
	if path, ok := simpleReference(v); ok {
		if obj, found := traversePath(data, path); found {
			return obj, nil
		}
	}
	rendered, err := e.RenderString(v, data)
	if err != nil {
		return nil, err
	}
	switch rendered {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	if strings.HasPrefix(rendered, "{") || strings.HasPrefix(rendered, "[") {
		var jsonObj any
		if json.Unmarshal([]byte(rendered), &jsonObj) == nil {
			return jsonObj, nil
		}
	}
	return rendered, nil
}

// simpleReference extracts "a.b" from "{{ .a.b }}".
func simpleReference(tpl string) ([]string, bool) {
	trimmed := strings.TrimSpace(tpl)
	if !strings.HasPrefix(trimmed, "{{") || !strings.HasSuffix(trimmed, "}}") ||
		strings.Count(trimmed, "{{") != 1 || strings.Count(trimmed, "}}") != 1 {
		return nil, false
	}
	content := strings.TrimSpace(trimmed[2 : len(trimmed)-2])
	if !strings.HasPrefix(content, ".") || strings.ContainsAny(content, " |()") {
		return nil, false
	}
	var parts []string
	for _, p := range strings.Split(content[1:], ".") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts, len(parts) > 0
}

func traversePath(data map[string]any, parts []string) (any, bool) {
	var current any = data
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func isMissingKeyErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "map has no entry for key") || strings.Contains(msg, "missingkey")
}
