// Package tool runs a project's extraction tools: AI prompt tools backed by
// Gemini and built-in code tools implemented in Go.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Confidence levels reported when the model does not supply its own score.
const (
	ConfidenceLow    = 70
	ConfidenceMedium = 85
	ConfidenceHigh   = 95
)

// Model generates a single completion. Implemented by GeminiModel and by test
// fakes.
type Model interface {
	Generate(ctx context.Context, model, systemPrompt, userPrompt string) (string, error)
}

// Row is one extracted record produced by a tool invocation. Fields carries
// the extra outputs of multi-field values, in field order after ExtractedValue.
type Row struct {
	IdentifierID   string   `json:"identifierId,omitempty"`
	ExtractedValue string   `json:"extractedValue"`
	Fields         []string `json:"fields,omitempty"`
	Reasoning      string   `json:"reasoning,omitempty"`
	Confidence     int      `json:"confidence,omitempty"`
}

// Input is one resolved input passed to a tool. Identifier inputs carry the
// anchor row each value belongs to.
type Input struct {
	Name         string
	Value        string
	IdentifierID string
}

// Request describes a single tool invocation.
type Request struct {
	ToolID       string
	Kind         string // prompt or code
	Prompt       string
	CodeFunction string
	Model        string
	FieldName    string
	FieldHint    string
	Inputs       []Input
	DocumentText string
	MultiRow     bool
	Timeout      time.Duration
}

// Runner dispatches tool invocations to the AI model or the code registry.
type Runner struct {
	model        Model
	defaultModel string
	codeFuncs    map[string]CodeFunc
}

// CodeFunc is a built-in tool implemented in Go. It receives the resolved
// inputs and returns extracted rows.
type CodeFunc func(ctx context.Context, req Request) ([]Row, error)

func NewRunner(model Model, defaultModel string) *Runner {
	r := &Runner{
		model:        model,
		defaultModel: defaultModel,
		codeFuncs:    make(map[string]CodeFunc),
	}
	registerBuiltins(r)
	return r
}

// RegisterCode adds a named code tool.
func (r *Runner) RegisterCode(name string, fn CodeFunc) {
	r.codeFuncs[name] = fn
}

// Run executes one tool invocation and returns its extracted rows.
func (r *Runner) Run(ctx context.Context, req Request) ([]Row, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	switch req.Kind {
	case "code":
		fn, ok := r.codeFuncs[req.CodeFunction]
		if !ok {
			return nil, fmt.Errorf("unknown code function %q", req.CodeFunction)
		}
		return fn(ctx, req)
	case "prompt", "":
		return r.runPrompt(ctx, req)
	default:
		return nil, fmt.Errorf("unknown tool kind %q", req.Kind)
	}
}

func (r *Runner) runPrompt(ctx context.Context, req Request) ([]Row, error) {
	model := req.Model
	if model == "" {
		model = r.defaultModel
	}

	raw, err := r.model.Generate(ctx, model, systemPrompt(req), userPrompt(req))
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	rows, err := ParseRows(raw)
	if err != nil {
		return nil, fmt.Errorf("parse tool output: %w", err)
	}
	return rows, nil
}

func systemPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are a precise document data extraction engine. ")
	b.WriteString("Respond with a JSON array only, no prose and no markdown fences. ")
	b.WriteString(`Each element is an object: {"identifierId": string (optional), "extractedValue": string, "reasoning": string, "confidence": integer 0-100}. `)
	if req.MultiRow {
		b.WriteString("Return one element per record found. ")
	} else {
		b.WriteString("Return exactly one element. ")
	}
	b.WriteString(`If a value cannot be found, use "Not Found" as the extractedValue.`)
	return b.String()
}

func userPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", req.Prompt)
	if req.FieldName != "" {
		fmt.Fprintf(&b, "Target field: %s\n", req.FieldName)
	}
	if req.FieldHint != "" {
		fmt.Fprintf(&b, "Field description: %s\n", req.FieldHint)
	}
	if len(req.Inputs) > 0 {
		b.WriteString("\nInputs:\n")
		for _, in := range req.Inputs {
			if in.IdentifierID != "" {
				fmt.Fprintf(&b, "- %s (record %s): %s\n", in.Name, in.IdentifierID, in.Value)
			} else {
				fmt.Fprintf(&b, "- %s: %s\n", in.Name, in.Value)
			}
		}
	}
	if req.DocumentText != "" {
		b.WriteString("\nDocument:\n")
		b.WriteString(req.DocumentText)
	}
	return b.String()
}

// ParseRows decodes the model's JSON output, tolerating markdown fences and a
// single bare object instead of an array.
func ParseRows(raw string) ([]Row, error) {
	cleaned := stripFences(strings.TrimSpace(raw))
	if cleaned == "" {
		return nil, fmt.Errorf("empty model output")
	}

	var rows []Row
	if err := json.Unmarshal([]byte(cleaned), &rows); err == nil {
		return normalize(rows), nil
	}

	var one Row
	if err := json.Unmarshal([]byte(cleaned), &one); err == nil {
		return normalize([]Row{one}), nil
	}

	// Some models wrap the array in an envelope object.
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &envelope); err == nil {
		for _, v := range envelope {
			if json.Unmarshal(v, &rows) == nil && len(rows) > 0 {
				return normalize(rows), nil
			}
		}
	}

	return nil, fmt.Errorf("output is not a JSON array of rows")
}

func normalize(rows []Row) []Row {
	for i := range rows {
		rows[i].ExtractedValue = strings.TrimSpace(rows[i].ExtractedValue)
		if rows[i].Confidence == 0 {
			rows[i].Confidence = ConfidenceMedium
		}
	}
	return rows
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
