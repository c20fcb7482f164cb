// Package extract turns raw language-model output into an ExtractionResult.
//
// Strategies are tried in a fixed order and the first match wins:
// structured JSON (json-tagged fence, untagged fence, bare object, object
// embedded in prose), then a shell code fence, then an inline code span.
// Anything else becomes an Error result. Extract never fails.
package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/ZanzyTHEbar/dragonscale-intent"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.uber.org/zap"
)

const (
	// NoCommandMessage is the fallback message when nothing matched.
	NoCommandMessage = "no command could be extracted"
	// ErrorPrefix marks a collaborator failure passed through as text.
	ErrorPrefix = "ERROR:"
)

// DefaultShellTags are the fence info strings treated as executable shell.
var DefaultShellTags = []string{
	"sh", "bash", "zsh", "shell", "console", "shell-session", "fish",
	"powershell", "pwsh", "ps1", "cmd", "bat",
}

var jsonTags = []string{"json", "jsonc", "json5"}

var promptPrefixes = []string{"$ ", "PS> "}

// Extractor implements dragonscale.Extractor.
type Extractor struct {
	translator FileOpTranslator
	shellTags  []string
	markdown   parser.Parser
	logger     *zap.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithTranslator replaces the FileOperation command builder.
func WithTranslator(t FileOpTranslator) Option {
	return func(e *Extractor) {
		e.translator = t
	}
}

// WithShellTags replaces the fence languages treated as shell.
func WithShellTags(tags ...string) Option {
	return func(e *Extractor) {
		e.shellTags = tags
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// New creates an Extractor. The default translator renders POSIX commands.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		translator: NewShellTranslator(false),
		shellTags:  DefaultShellTags,
		markdown:   goldmark.New().Parser(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

type fence struct {
	lang string
	body string
}

type document struct {
	fences []fence
	spans  []string
	// code holds the byte ranges of fence bodies and code spans.
	code []text.Segment
}

// prose returns source with every code range blanked out, so embedded JSON
// is only looked for in the surrounding text.
func (d document) prose(source []byte) string {
	out := bytes.Clone(source)
	for _, seg := range d.code {
		for i := seg.Start; i < seg.Stop && i < len(out); i++ {
			if out[i] != '\n' {
				out[i] = ' '
			}
		}
	}
	return string(out)
}

// Extract parses raw. It recovers from any internal panic and reports it as
// an Error result.
func (e *Extractor) Extract(raw string) (result dragonscale.ExtractionResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Extraction panicked", zap.Any("panic", r))
			result = dragonscale.NewExtractionError(dragonscale.FormatNone, fmt.Sprintf("extraction failed: %v", r), true, "")
		}
	}()

	trimmed := strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(trimmed, ErrorPrefix); ok {
		return dragonscale.NewExtractionError(dragonscale.FormatNone, strings.TrimSpace(rest), false, "")
	}

	source := []byte(raw)
	doc := e.scan(source)

	if r, ok := e.structured(trimmed, strings.TrimSpace(doc.prose(source)), doc); ok {
		e.logger.Debug("Extracted structured result", zap.String("source", string(r.Source)), zap.String("kind", string(r.Kind)))
		return r
	}
	if cmd, ok := e.fromFences(doc.fences); ok {
		e.logger.Debug("Extracted command from code block", zap.String("command", cmd))
		return dragonscale.NewAction(dragonscale.FormatCodeBlock, dragonscale.Action{Command: cmd})
	}
	for _, span := range doc.spans {
		if span = strings.TrimSpace(span); span != "" {
			e.logger.Debug("Extracted command from inline code", zap.String("command", span))
			return dragonscale.NewAction(dragonscale.FormatInlineCode, dragonscale.Action{Command: span})
		}
	}
	return dragonscale.NewExtractionError(dragonscale.FormatNone, NoCommandMessage, true, "")
}

// scan collects fenced code blocks and inline code spans in document order.
func (e *Extractor) scan(source []byte) document {
	var doc document
	root := e.markdown.Parse(text.NewReader(source))
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.FencedCodeBlock:
			var body bytes.Buffer
			lines := node.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				body.Write(seg.Value(source))
				doc.code = append(doc.code, seg)
			}
			doc.fences = append(doc.fences, fence{
				lang: strings.ToLower(string(node.Language(source))),
				body: body.String(),
			})
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock:
			lines := node.Lines()
			for i := 0; i < lines.Len(); i++ {
				doc.code = append(doc.code, lines.At(i))
			}
			return ast.WalkSkipChildren, nil
		case *ast.CodeSpan:
			doc.spans = append(doc.spans, codeSpanText(node, source))
			for c := node.FirstChild(); c != nil; c = c.NextSibling() {
				if t, ok := c.(*ast.Text); ok {
					doc.code = append(doc.code, t.Segment)
				}
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return doc
}

func codeSpanText(span *ast.CodeSpan, source []byte) string {
	var buf bytes.Buffer
	for c := span.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(source))
		case *ast.String:
			buf.Write(t.Value)
		}
	}
	return buf.String()
}

// structured tries the four JSON variants in priority order. Variant 4 only
// searches prose, never the inside of code.
func (e *Extractor) structured(trimmed, prose string, doc document) (dragonscale.ExtractionResult, bool) {
	for _, f := range doc.fences {
		if slices.Contains(jsonTags, f.lang) {
			if r, ok := e.classify(f.body, dragonscale.FormatStructuredJSON); ok {
				return r, true
			}
		}
	}
	for _, f := range doc.fences {
		if f.lang == "" && strings.HasPrefix(strings.TrimSpace(f.body), "{") {
			if r, ok := e.classify(f.body, dragonscale.FormatStructuredFence); ok {
				return r, true
			}
		}
	}
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		if r, ok := e.classify(trimmed, dragonscale.FormatStructuredBare); ok {
			return r, true
		}
	}
	for _, candidate := range embeddedObjects(prose) {
		if r, ok := e.classify(candidate, dragonscale.FormatStructuredEmbedded); ok {
			return r, true
		}
	}
	return dragonscale.ExtractionResult{}, false
}

// embeddedObjects returns every balanced top-level {...} span in s, in order.
// Braces inside JSON strings are ignored.
func embeddedObjects(s string) []string {
	var out []string
	for start := strings.IndexByte(s, '{'); start != -1; {
		end := matchBrace(s, start)
		if end == -1 {
			next := strings.IndexByte(s[start+1:], '{')
			if next == -1 {
				break
			}
			start += next + 1
			continue
		}
		out = append(out, s[start:end+1])
		next := strings.IndexByte(s[end+1:], '{')
		if next == -1 {
			break
		}
		start = end + 1 + next
	}
	return out
}

func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch ch {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// classify decodes body and maps a recognised field set to a result.
// Malformed JSON and unrecognised shapes report no match.
func (e *Extractor) classify(body string, source dragonscale.FormatTag) (dragonscale.ExtractionResult, bool) {
	var obj map[string]any
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(body)))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return dragonscale.ExtractionResult{}, false
	}

	if cmd, ok := obj["command"].(string); ok && strings.TrimSpace(cmd) != "" {
		return dragonscale.NewAction(source, dragonscale.Action{
			Command:      strings.TrimSpace(cmd),
			Explanation:  stringField(obj, "explanation"),
			Alternatives: stringList(obj["alternatives"]),
		}), true
	}

	if op, params, ok := fileOperation(obj); ok {
		fo := dragonscale.FileOperation{
			Operation:   op,
			Params:      params,
			Explanation: stringField(obj, "explanation"),
		}
		if e.translator != nil {
			cmd, err := e.translator.Translate(op, params)
			if err != nil {
				e.logger.Debug("File operation has no shell rendering", zap.String("operation", op), zap.Error(err))
			} else {
				fo.Command = cmd
			}
		}
		return dragonscale.NewFileOperation(source, fo), true
	}

	if isErr, ok := obj["error"].(bool); ok && isErr {
		followup, _ := obj["requires_implementation"].(bool)
		msg := stringField(obj, "error_message")
		if msg == "" {
			msg = stringField(obj, "message")
		}
		return dragonscale.NewExtractionError(source, msg, followup, stringField(obj, "suggested_approach")), true
	}

	if topic, ok := obj["info_type"].(string); ok {
		if response, ok := obj["response"].(string); ok {
			return dragonscale.NewInfo(source, dragonscale.Info{
				Topic:          topic,
				ResponseText:   response,
				RelatedCommand: strings.TrimSpace(stringField(obj, "related_command")),
			}), true
		}
	}

	return dragonscale.ExtractionResult{}, false
}

// fileOperation accepts both {"file_operation": "copy", "params": {...}}
// and {"file_operation": {"operation": "copy", "params": {...}}}.
func fileOperation(obj map[string]any) (string, map[string]any, bool) {
	switch v := obj["file_operation"].(type) {
	case string:
		if v == "" {
			return "", nil, false
		}
		params, _ := obj["params"].(map[string]any)
		return strings.ToLower(v), normalizeParams(params), true
	case map[string]any:
		op, _ := v["operation"].(string)
		if op == "" {
			op, _ = v["type"].(string)
		}
		if op == "" {
			return "", nil, false
		}
		params, _ := v["params"].(map[string]any)
		return strings.ToLower(op), normalizeParams(params), true
	}
	return "", nil, false
}

// normalizeParams converts json.Number values to int64 or float64.
func normalizeParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		return normalizeParams(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalizeValue(item)
		}
		return out
	}
	return v
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// fromFences returns the first command line of the first shell or untagged fence.
func (e *Extractor) fromFences(fences []fence) (string, bool) {
	for _, f := range fences {
		if f.lang != "" && !slices.Contains(e.shellTags, f.lang) {
			continue
		}
		if cmd, ok := firstCommandLine(f.body); ok {
			return cmd, true
		}
	}
	return "", false
}

func firstCommandLine(body string) (string, bool) {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") || strings.HasPrefix(line, "::") {
			continue
		}
		for _, p := range promptPrefixes {
			if rest, ok := strings.CutPrefix(line, p); ok {
				line = strings.TrimSpace(rest)
				break
			}
		}
		if line != "" {
			return line, true
		}
	}
	return "", false
}
