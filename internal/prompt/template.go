// Package prompt holds the fixed prompt templates and fills them.
package prompt

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var promptsYAML []byte

// Template is a text/template with a declared, checked set of input variables.
type Template struct {
	name string
	vars []string
	tmpl *template.Template
}

// New parses text and checks that it references exactly the declared variables.
func New(name, text string, vars []string) (*Template, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("prompt: template name must not be empty")
	}
	if len(vars) == 0 {
		return nil, fmt.Errorf("prompt: %s: no input variables declared", name)
	}
	seen := make(map[string]bool, len(vars))
	for _, v := range vars {
		if strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("prompt: %s: empty input variable name", name)
		}
		if seen[v] {
			return nil, fmt.Errorf("prompt: %s: duplicate input variable %q", name, v)
		}
		seen[v] = true
	}

	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("prompt: %s: parse: %w", name, err)
	}

	t := &Template{name: name, vars: append([]string(nil), vars...), tmpl: tmpl}

	probe := make(map[string]string, len(vars))
	for _, v := range vars {
		probe[v] = "\x00" + v + "\x00"
	}
	out, err := t.execute(probe)
	if err != nil {
		return nil, fmt.Errorf("prompt: %s: references an undeclared variable: %w", name, err)
	}
	for _, v := range vars {
		if !strings.Contains(out, probe[v]) {
			return nil, fmt.Errorf("prompt: %s: declared variable %q is never used", name, v)
		}
	}
	return t, nil
}

func (t *Template) Name() string {
	return t.name
}

func (t *Template) InputVariables() []string {
	return append([]string(nil), t.vars...)
}

// Format fills every declared variable. A missing variable is an error; an
// empty value is substituted as-is.
func (t *Template) Format(values map[string]string) (string, error) {
	var missing []string
	for _, v := range t.vars {
		if _, ok := values[v]; !ok {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("prompt: %s: missing variables: %s", t.name, strings.Join(missing, ", "))
	}
	out, err := t.execute(values)
	if err != nil {
		return "", fmt.Errorf("prompt: %s: %w", t.name, err)
	}
	return out, nil
}

func (t *Template) execute(values map[string]string) (string, error) {
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, values); err != nil {
		return "", err
	}
	return buf.String(), nil
}

type promptEntry struct {
	Name           string   `yaml:"name"`
	InputVariables []string `yaml:"input_variables"`
	Template       string   `yaml:"template"`
}

type promptFile struct {
	Agent     promptEntry `yaml:"agent"`
	Synthesis promptEntry `yaml:"synthesis"`
}

// Set is the collection of prompts the application uses.
type Set struct {
	Agent     *Template
	Synthesis *Template
}

// Load parses the embedded prompt file.
func Load() (*Set, error) {
	return Parse(promptsYAML)
}

// Parse builds a Set from a YAML document shaped like prompts.yaml.
func Parse(data []byte) (*Set, error) {
	var file promptFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("prompt: decode prompts: %w", err)
	}
	agent, err := New(file.Agent.Name, file.Agent.Template, file.Agent.InputVariables)
	if err != nil {
		return nil, err
	}
	synthesis, err := New(file.Synthesis.Name, file.Synthesis.Template, file.Synthesis.InputVariables)
	if err != nil {
		return nil, err
	}
	return &Set{Agent: agent, Synthesis: synthesis}, nil
}
