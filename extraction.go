package dragonscale

import (
	"fmt"
	"slices"
)

// ResultKind tags which variant of an ExtractionResult is populated.
type ResultKind string

const (
	KindAction        ResultKind = "action"
	KindFileOperation ResultKind = "file_operation"
	KindInfo          ResultKind = "info"
	KindError         ResultKind = "error"
)

// FormatTag records which parser produced an ExtractionResult.
type FormatTag string

const (
	// FormatStructuredJSON is a fenced block explicitly tagged as JSON.
	FormatStructuredJSON FormatTag = "structured_json"
	// FormatStructuredFence is an untagged fenced block whose body is a JSON object.
	FormatStructuredFence FormatTag = "structured_json_fence"
	// FormatStructuredBare is a response that is nothing but a JSON object.
	FormatStructuredBare FormatTag = "structured_json_bare"
	// FormatStructuredEmbedded is the first balanced JSON object found inside prose.
	FormatStructuredEmbedded FormatTag = "structured_json_embedded"
	FormatCodeBlock          FormatTag = "code_block"
	FormatInlineCode         FormatTag = "inline_code"
	FormatNone               FormatTag = "none"
)

// StructuredVariant returns 1-4 for the structured JSON formats and 0 otherwise.
func (f FormatTag) StructuredVariant() int {
	switch f {
	case FormatStructuredJSON:
		return 1
	case FormatStructuredFence:
		return 2
	case FormatStructuredBare:
		return 3
	case FormatStructuredEmbedded:
		return 4
	default:
		return 0
	}
}

// IsStructured reports whether the tag names one of the structured JSON variants.
func (f FormatTag) IsStructured() bool {
	return f.StructuredVariant() != 0
}

// Action is a single command the model proposed.
type Action struct {
	Command      string   `json:"command"`
	Explanation  string   `json:"explanation,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
}

// FileOperation is a file-level intent. Command holds the shell rendering
// produced by the translation step, if one was available.
type FileOperation struct {
	Operation   string         `json:"operation"`
	Params      map[string]any `json:"params,omitempty"`
	Explanation string         `json:"explanation,omitempty"`
	Command     string         `json:"command,omitempty"`
}

// Info is an informational answer, optionally paired with a command.
type Info struct {
	Topic          string `json:"topic"`
	ResponseText   string `json:"response_text"`
	RelatedCommand string `json:"related_command,omitempty"`
}

// ExtractionError is the value-level failure of an extraction.
type ExtractionError struct {
	Message           string `json:"message"`
	RequiresFollowup  bool   `json:"requires_followup"`
	SuggestedApproach string `json:"suggested_approach,omitempty"`
}

// ExtractionResult is a tagged union: exactly one of Action, FileOperation,
// Info or Error is set, matching Kind. Build it with the New* constructors.
type ExtractionResult struct {
	Kind          ResultKind       `json:"kind"`
	Source        FormatTag        `json:"source"`
	Action        *Action          `json:"action,omitempty"`
	FileOperation *FileOperation   `json:"file_operation,omitempty"`
	Info          *Info            `json:"info,omitempty"`
	Error         *ExtractionError `json:"error,omitempty"`
}

func NewAction(source FormatTag, action Action) ExtractionResult {
	return ExtractionResult{Kind: KindAction, Source: source, Action: &action}
}

func NewFileOperation(source FormatTag, op FileOperation) ExtractionResult {
	return ExtractionResult{Kind: KindFileOperation, Source: source, FileOperation: &op}
}

func NewInfo(source FormatTag, info Info) ExtractionResult {
	return ExtractionResult{Kind: KindInfo, Source: source, Info: &info}
}

func NewExtractionError(source FormatTag, message string, requiresFollowup bool, suggestedApproach string) ExtractionResult {
	return ExtractionResult{
		Kind:   KindError,
		Source: source,
		Error: &ExtractionError{
			Message:           message,
			RequiresFollowup:  requiresFollowup,
			SuggestedApproach: suggestedApproach,
		},
	}
}

// Validate checks that exactly the variant named by Kind is populated.
func (r ExtractionResult) Validate() error {
	set := 0
	for _, populated := range []bool{r.Action != nil, r.FileOperation != nil, r.Info != nil, r.Error != nil} {
		if populated {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("extraction result must carry exactly one variant, found %d", set)
	}

	var ok bool
	switch r.Kind {
	case KindAction:
		ok = r.Action != nil
	case KindFileOperation:
		ok = r.FileOperation != nil
	case KindInfo:
		ok = r.Info != nil
	case KindError:
		ok = r.Error != nil
	default:
		return fmt.Errorf("unknown extraction result kind %q", r.Kind)
	}
	if !ok {
		return fmt.Errorf("extraction result kind %q does not match its populated variant", r.Kind)
	}
	return nil
}

// IsError reports whether the result is the Error variant.
func (r ExtractionResult) IsError() bool {
	return r.Kind == KindError
}

// Command returns the actionable command carried by the result, if any.
func (r ExtractionResult) Command() (string, bool) {
	switch r.Kind {
	case KindAction:
		if r.Action != nil && r.Action.Command != "" {
			return r.Action.Command, true
		}
	case KindFileOperation:
		if r.FileOperation != nil && r.FileOperation.Command != "" {
			return r.FileOperation.Command, true
		}
	case KindInfo:
		if r.Info != nil && r.Info.RelatedCommand != "" {
			return r.Info.RelatedCommand, true
		}
	}
	return "", false
}

// Summary is a one-line human readable description used in logs and history.
func (r ExtractionResult) Summary() string {
	switch r.Kind {
	case KindAction:
		if r.Action != nil {
			return r.Action.Command
		}
	case KindFileOperation:
		if r.FileOperation != nil {
			if r.FileOperation.Command != "" {
				return r.FileOperation.Command
			}
			return "file operation: " + r.FileOperation.Operation
		}
	case KindInfo:
		if r.Info != nil {
			return r.Info.ResponseText
		}
	case KindError:
		if r.Error != nil {
			return "error: " + r.Error.Message
		}
	}
	return ""
}

// Clone returns a deep copy, so the result can be shared without aliasing
// its variant, alternatives or params.
func (r ExtractionResult) Clone() ExtractionResult {
	out := ExtractionResult{Kind: r.Kind, Source: r.Source}
	if r.Action != nil {
		a := *r.Action
		a.Alternatives = slices.Clone(a.Alternatives)
		out.Action = &a
	}
	if r.FileOperation != nil {
		fo := *r.FileOperation
		if fo.Params != nil {
			fo.Params = cloneValue(fo.Params).(map[string]any)
		}
		out.FileOperation = &fo
	}
	if r.Info != nil {
		info := *r.Info
		out.Info = &info
	}
	if r.Error != nil {
		e := *r.Error
		out.Error = &e
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = cloneValue(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = cloneValue(val)
		}
		return s
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}
