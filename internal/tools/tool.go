// Package tools holds the capabilities the research agent can call.
package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Tool is a named capability taking one free-text input.
type Tool interface {
	Name() string
	Description() string
	Call(ctx context.Context, input string) (string, error)
}

// Registry keeps tools in registration order.
type Registry struct {
	order  []string
	byName map[string]Tool
}

// NewRegistry registers tools in order. Empty and duplicate names are rejected.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{byName: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if t == nil {
			return nil, errors.New("tools: nil tool")
		}
		name := strings.TrimSpace(t.Name())
		if name == "" {
			return nil, errors.New("tools: tool name must not be empty")
		}
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("tools: duplicate tool %q", name)
		}
		r.byName[name] = t
		r.order = append(r.order, name)
	}
	return r, nil
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.byName[strings.TrimSpace(name)]
	return t, ok
}

func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

func (r *Registry) Len() int {
	return len(r.order)
}

// Describe renders one "name: description" line per tool.
func (r *Registry) Describe() string {
	lines := make([]string, 0, len(r.order))
	for _, name := range r.order {
		lines = append(lines, name+": "+r.byName[name].Description())
	}
	return strings.Join(lines, "\n")
}

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
