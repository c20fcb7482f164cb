package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// PlatformInfo describes the host the generated command must run on.
type PlatformInfo struct {
	OSFamily     string
	Distribution string
	Version      string
	Shell        string
}

// DefaultTemplate asks the model for one of the structured response shapes
// the extractor understands.
const DefaultTemplate = `You translate natural-language requests into a single command for the user's machine.

Platform:
- OS family: {{.OSFamily}}
- Distribution: {{.Distribution}}
- Version: {{.Version}}
- Shell: {{.Shell}}

Answer with exactly one fenced json block using one of these shapes:
{"command": "...", "explanation": "...", "alternatives": ["..."]}
{"file_operation": "<list|read|create|write|append|delete|copy|move|mkdir|find|search|permissions>", "params": {...}, "explanation": "..."}
{"info_type": "...", "response": "...", "related_command": "..."}
{"error": true, "error_message": "...", "suggested_approach": "...", "requires_implementation": false}

Request: {{.Request}}`

type templateData struct {
	Request      string
	OSFamily     string
	Distribution string
	Version      string
	Shell        string
}

// Formatter renders outbound prompts from a fixed template.
type Formatter struct {
	tmpl *template.Template
}

// NewFormatter parses raw as a text/template over Request, OSFamily,
// Distribution, Version and Shell.
func NewFormatter(raw string) (*Formatter, error) {
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt template: %w", err)
	}
	return &Formatter{tmpl: tmpl}, nil
}

var defaultFormatter = func() *Formatter {
	f, err := NewFormatter(DefaultTemplate)
	if err != nil {
		panic(err)
	}
	return f
}()

// Format fills the template. Empty platform fields render as "unknown".
func (f *Formatter) Format(request string, platform PlatformInfo) (string, error) {
	data := templateData{
		Request:      strings.TrimSpace(request),
		OSFamily:     orUnknown(platform.OSFamily),
		Distribution: orUnknown(platform.Distribution),
		Version:      orUnknown(platform.Version),
		Shell:        orUnknown(platform.Shell),
	}
	var buf bytes.Buffer
	if err := f.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return buf.String(), nil
}

// FormatPrompt renders request with the default template.
func FormatPrompt(request string, platform PlatformInfo) (string, error) {
	return defaultFormatter.Format(request, platform)
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
