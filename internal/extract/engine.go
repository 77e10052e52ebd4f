package extract

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"extrapl/api/internal/store"
	"extrapl/api/internal/tool"
	"github.com/google/uuid"
)

// ErrNoTool is returned when the target step value has no tool bound.
var ErrNoTool = errors.New("step value has no tool configured")

// Store is the persistence surface the engine needs.
type Store interface {
	GetSession(ctx context.Context, sessionID string) (store.ExtractionSession, error)
	GetStep(ctx context.Context, stepID string) (store.WorkflowStep, error)
	GetStepValue(ctx context.Context, valueID string) (store.StepValue, error)
	ListSteps(ctx context.Context, projectID string) ([]store.WorkflowStep, error)
	ListStepValues(ctx context.Context, stepID string) ([]store.StepValue, error)
	ListProjectValues(ctx context.Context, projectID string) ([]store.StepValue, error)
	ListValidationsBySession(ctx context.Context, sessionID string) ([]store.FieldValidation, error)
	ListValidationsByValue(ctx context.Context, sessionID, valueID string) ([]store.FieldValidation, error)
	ListValidationsByStep(ctx context.Context, sessionID, stepID string) ([]store.FieldValidation, error)
	ListSessionDocuments(ctx context.Context, sessionID string) ([]store.SessionDocument, error)
	GetTool(ctx context.Context, toolID string) (store.Tool, error)
	ApplyValidationPlan(ctx context.Context, sessionID, valueID string, creates []store.FieldValidation, updates []store.ValidationUpdate, deleteIDs []string) error
}

// Runner invokes a configured tool. Satisfied by *tool.Runner.
type Runner interface {
	Run(ctx context.Context, req tool.Request) ([]tool.Row, error)
}

// Engine runs one column extraction end to end.
type Engine struct {
	store   Store
	runner  Runner
	timeout time.Duration
}

func NewEngine(s Store, r Runner, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Engine{store: s, runner: r, timeout: timeout}
}

// ColumnRequest asks for one column of one session to be (re-)extracted.
// PreviousData is optional; when absent for a dependent column it is rebuilt
// from the step's stored rows.
type ColumnRequest struct {
	SessionID    string
	ValueID      string
	PreviousData []PrevRecord
}

// ColumnResult summarizes the writes of one extraction call.
type ColumnResult struct {
	Created        int      `json:"created"`
	Updated        int      `json:"updated"`
	Deleted        int      `json:"deleted"`
	Skipped        int      `json:"skipped"`
	MissingAnchors []string `json:"missingAnchors,omitempty"`
	IdentifierIDs  []string `json:"identifierIds"`
}

// ExtractColumn resolves the value's inputs, invokes its tool, and reconciles
// the output into field validations. Tool failures leave the database
// untouched.
func (e *Engine) ExtractColumn(ctx context.Context, req ColumnRequest) (ColumnResult, error) {
	sess, err := e.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return ColumnResult{}, fmt.Errorf("load session: %w", err)
	}

	value, err := e.store.GetStepValue(ctx, req.ValueID)
	if err != nil {
		return ColumnResult{}, fmt.Errorf("load step value: %w", err)
	}
	if value.ToolID == nil || *value.ToolID == "" {
		return ColumnResult{}, ErrNoTool
	}

	step, err := e.store.GetStep(ctx, value.StepID)
	if err != nil {
		return ColumnResult{}, fmt.Errorf("load step: %w", err)
	}
	if step.ProjectID != sess.ProjectID {
		return ColumnResult{}, fmt.Errorf("step value does not belong to the session's project")
	}

	tl, err := e.store.GetTool(ctx, *value.ToolID)
	if err != nil {
		return ColumnResult{}, fmt.Errorf("load tool: %w", err)
	}

	stepValidations, err := e.store.ListValidationsByStep(ctx, sess.ID, step.ID)
	if err != nil {
		return ColumnResult{}, fmt.Errorf("load step validations: %w", err)
	}
	valueValidations := filterByValue(stepValidations, value.ID)

	// Previous data drives identity for dependent columns. Clients may send
	// the field as an empty array; that counts as absent, otherwise the
	// dependent rows would detach from their anchors.
	prev := req.PreviousData
	if len(prev) == 0 && !value.IsIdentifier {
		stepValues, err := e.store.ListStepValues(ctx, step.ID)
		if err != nil {
			return ColumnResult{}, fmt.Errorf("load step values: %w", err)
		}
		prev = BuildPreviousData(stepValues, stepValidations, value.ID)
	}

	missing, err := CheckAnchors(prev, stepValidations)
	if err != nil {
		return ColumnResult{MissingAnchors: missing}, err
	}

	toolReq, err := e.buildToolRequest(ctx, sess, step, value, tl, prev)
	if err != nil {
		return ColumnResult{}, err
	}

	rows, err := e.runner.Run(ctx, toolReq)
	if err != nil {
		return ColumnResult{}, fmt.Errorf("tool invocation: %w", err)
	}

	if value.IsIdentifier {
		rows = AssignIdentifierColumn(rows, valueValidations)
	} else {
		rows = AssignDependentColumn(rows, prev)
	}

	plan := BuildPlan(ReconcileArgs{
		SessionID:      sess.ID,
		StepID:         step.ID,
		Value:          value,
		OperationType:  tl.OperationType,
		Rows:           rows,
		Existing:       valueValidations,
		DocumentSource: documentSource(toolReq),
		NewID:          uuid.NewString,
	})

	// An identifier column re-extraction replaces the step's row set: rows of
	// identifiers that no longer exist are cleared across all columns.
	if value.IsIdentifier && len(req.PreviousData) == 0 && len(valueValidations) > 0 {
		keep := make(map[string]bool, len(rows))
		for _, row := range rows {
			keep[row.IdentifierID] = true
		}
		plan.DeleteIDs = append(plan.DeleteIDs, StaleIdentifierRows(stepValidations, keep)...)
	}

	if err := e.store.ApplyValidationPlan(ctx, sess.ID, value.ID, plan.Creates, plan.Updates, plan.DeleteIDs); err != nil {
		return ColumnResult{}, fmt.Errorf("apply validation plan: %w", err)
	}

	return ColumnResult{
		Created:        len(plan.Creates),
		Updated:        len(plan.Updates),
		Deleted:        len(plan.DeleteIDs),
		Skipped:        plan.Skipped,
		MissingAnchors: missing,
		IdentifierIDs:  rowIdentifiers(rows),
	}, nil
}

func (e *Engine) buildToolRequest(ctx context.Context, sess store.ExtractionSession, step store.WorkflowStep, value store.StepValue, tl store.Tool, prev []PrevRecord) (tool.Request, error) {
	specs, err := ParseInputValues(value.InputValues)
	if err != nil {
		return tool.Request{}, fmt.Errorf("parse input values: %w", err)
	}

	docs, err := e.store.ListSessionDocuments(ctx, sess.ID)
	if err != nil {
		return tool.Request{}, fmt.Errorf("load documents: %w", err)
	}

	steps, err := e.store.ListSteps(ctx, sess.ProjectID)
	if err != nil {
		return tool.Request{}, fmt.Errorf("load steps: %w", err)
	}
	values, err := e.store.ListProjectValues(ctx, sess.ProjectID)
	if err != nil {
		return tool.Request{}, fmt.Errorf("load values: %w", err)
	}
	validations, err := e.store.ListValidationsBySession(ctx, sess.ID)
	if err != nil {
		return tool.Request{}, fmt.Errorf("load validations: %w", err)
	}

	resolver := &Resolver{
		Steps:                 steps,
		Values:                values,
		Validations:           validations,
		UserDocumentText:      concatDocText(docs, "user"),
		ReferenceDocumentText: concatDocText(docs, "knowledge"),
	}

	req := tool.Request{
		ToolID:       tl.ID,
		Kind:         tl.Kind,
		Prompt:       tl.Prompt,
		CodeFunction: tl.CodeFunction,
		FieldName:    value.ValueName,
		FieldHint:    value.Description,
		MultiRow:     step.StepType == "list",
		Timeout:      e.timeout,
	}

	for _, spec := range specs {
		resolved := resolver.Resolve(spec)
		switch spec.Kind {
		case KindUserDocument:
			if req.DocumentText == "" {
				req.DocumentText = resolved.Text
			} else {
				req.DocumentText += "\n\n" + resolved.Text
			}
		case KindReferenceDocument, KindLiteral:
			// Reference-document substitution resolves to the concatenated
			// knowledge text and rides as a named input, separate from the
			// session documents in DocumentText.
			req.Inputs = append(req.Inputs, tool.Input{Name: spec.Name, Value: resolved.Text})
		case KindStepReference:
			for _, row := range resolved.Rows {
				req.Inputs = append(req.Inputs, tool.Input{
					Name:         spec.Name,
					Value:        row.Value,
					IdentifierID: row.IdentifierID,
				})
			}
		case KindValueIDReference:
			for _, rec := range resolved.Records {
				req.Inputs = append(req.Inputs, tool.Input{
					Name:         spec.Name,
					Value:        formatRecord(rec),
					IdentifierID: rec.IdentifierID,
				})
			}
		}
	}

	// Dependent columns always see the anchor rows, even when the
	// configuration references nothing explicitly.
	if !value.IsIdentifier && len(prev) > 0 {
		for _, rec := range prev {
			req.Inputs = append(req.Inputs, tool.Input{
				Name:         "previous_record",
				Value:        formatFields(rec.Fields),
				IdentifierID: rec.IdentifierID,
			})
		}
	}

	if req.DocumentText == "" && tl.Kind != "code" {
		req.DocumentText = resolver.UserDocumentText
	}

	return req, nil
}

func concatDocText(docs []store.SessionDocument, kind string) string {
	var parts []string
	for _, d := range docs {
		if d.Kind != kind || d.TextContent == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("--- %s ---\n%s", d.FileName, d.TextContent))
	}
	return strings.Join(parts, "\n\n")
}

func formatRecord(rec MergedRecord) string {
	return formatFields(rec.Fields)
}

func formatFields(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}
	return strings.Join(parts, "; ")
}

func documentSource(req tool.Request) string {
	if req.DocumentText == "" {
		return ""
	}
	return "session_documents"
}

func filterByValue(fvs []store.FieldValidation, valueID string) []store.FieldValidation {
	out := make([]store.FieldValidation, 0)
	for _, fv := range fvs {
		if fv.ValueID == valueID {
			out = append(out, fv)
		}
	}
	return out
}

func rowIdentifiers(rows []tool.Row) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, row := range rows {
		if row.IdentifierID == "" || seen[row.IdentifierID] {
			continue
		}
		seen[row.IdentifierID] = true
		ids = append(ids, row.IdentifierID)
	}
	return ids
}
