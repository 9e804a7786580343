// Package prompt turns a user message into the exact text sent to the model.
//
// A Template owns the role delimiters and the stop sequences that end a
// turn. Nothing outside this package needs to know them.
package prompt

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ReasoningPrefix is prepended to the message when reasoning mode is on.
const ReasoningPrefix = "Let me think through this step by step:\n\n"

// ErrEmptyMessage is returned by Format for empty or whitespace-only input.
var ErrEmptyMessage = errors.New("message is required")

// DefaultSystemPrompt defines the assistant identity used by chat templates.
const DefaultSystemPrompt = `You are Zord Coder version 1, an advanced, lightweight, and blazing-fast AI coding assistant optimized for mobile devices.

Your core capabilities:
- Provide accurate, efficient code in Python, JavaScript, TypeScript, C++, Rust, Go, Java, Bash, and more
- Explain code concepts clearly and concisely
- Suggest best practices and modern patterns
- Help debug and optimize code
- Answer programming questions

When responding:
1. Provide direct, executable code solutions
2. Use proper syntax highlighting
3. Include brief explanations when helpful
4. Suggest optimizations and alternatives
5. Handle errors gracefully

You identify yourself as "Zord Coder v1" when asked.
`

// Template wraps a message into a model-specific prompt.
type Template struct {
	Name  string
	Wrap  func(system, message string) string
	Stops []string
}

var templates = map[string]Template{
	"raw": {
		Name: "raw",
		Wrap: func(_, message string) string { return message },
	},
	"llama3": {
		Name: "llama3",
		Wrap: func(system, message string) string {
			var b strings.Builder
			b.WriteString("<|begin_of_text|><|start_header_id|>system<|end_header_id|>\n\n")
			b.WriteString(system)
			b.WriteString("<|eot_id|>\n<|start_header_id|>user<|end_header_id|>\n\n")
			b.WriteString(message)
			b.WriteString("<|eot_id|>\n<|start_header_id|>assistant<|end_header_id|>\n\n")
			return b.String()
		},
		Stops: []string{"<|endoftext|>", "<|eot_id|>"},
	},
	"instruction": {
		Name: "instruction",
		Wrap: func(_, message string) string {
			return "### Instruction:\n" + message + "\n\n### Response:\n"
		},
		Stops: []string{"### Instruction:", "### End", "\n\n\n"},
	},
}

// Names lists the registered template names in sorted order.
func Names() []string {
	out := make([]string, 0, len(templates))
	for n := range templates {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the template registered under name.
func Lookup(name string) (Template, bool) {
	t, ok := templates[strings.ToLower(strings.TrimSpace(name))]
	return t, ok
}

// Formatter applies one template with a fixed system prompt.
type Formatter struct {
	tmpl   Template
	system string
}

// NewFormatter returns a formatter for the named template. An empty system
// prompt selects DefaultSystemPrompt.
func NewFormatter(name, system string) (*Formatter, error) {
	t, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown prompt template %q (have %s)", name, strings.Join(Names(), ", "))
	}
	if strings.TrimSpace(system) == "" {
		system = DefaultSystemPrompt
	}
	return &Formatter{tmpl: t, system: system}, nil
}

// Template reports the template name in use.
func (f *Formatter) Template() string { return f.tmpl.Name }

// Stops returns a copy of the stop sequences for the template.
func (f *Formatter) Stops() []string {
	return append([]string(nil), f.tmpl.Stops...)
}

// Format builds the model prompt for message. Reasoning mode prefixes the
// message before it is wrapped by the template.
func (f *Formatter) Format(message string, reasoning bool) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyMessage
	}
	if reasoning {
		message = ReasoningPrefix + message
	}
	return f.tmpl.Wrap(f.system, message), nil
}
