package app

import (
	"context"
	"errors"
	"net/http"
	"sort"

	"extrapl/api/internal/extract"
	"extrapl/api/internal/jobs"
)

// asyncRowThreshold is the session size beyond which a workflow test runs
// as a background job instead of inline.
const asyncRowThreshold = 500

type ExtractColumnInput struct {
	ValueID      string               `json:"valueId"`
	PreviousData []extract.PrevRecord `json:"previousData"`
}

// ExtractColumn runs the AI pipeline for one step value of one session.
func (s *Service) ExtractColumn(ctx context.Context, orgID, sessionID string, in ExtractColumnInput) (extract.ColumnResult, error) {
	if in.ValueID == "" {
		return extract.ColumnResult{}, validationError("valueId is required")
	}
	if _, _, err := s.sessionInOrg(ctx, orgID, sessionID); err != nil {
		return extract.ColumnResult{}, err
	}
	if s.engine == nil {
		return extract.ColumnResult{}, domainError(http.StatusServiceUnavailable, "AI_UNAVAILABLE", "AI model is not configured", nil)
	}

	result, err := s.engine.ExtractColumn(ctx, extract.ColumnRequest{
		SessionID:    sessionID,
		ValueID:      in.ValueID,
		PreviousData: in.PreviousData,
	})
	if err != nil {
		if errors.Is(err, extract.ErrMissingAnchors) {
			return extract.ColumnResult{}, domainError(http.StatusConflict, "MISSING_ANCHOR_RECORDS",
				"None of the supplied records exist anymore; reload and retry", result.MissingAnchors)
		}
		if errors.Is(err, extract.ErrNoTool) {
			return extract.ColumnResult{}, validationError("value has no tool configured")
		}
		return extract.ColumnResult{}, err
	}
	return result, nil
}

type WorkflowTestInput struct {
	SessionID string `json:"sessionId"`
}

// WorkflowTest runs every tool-bound value of the project, in step order
// with identifier columns first, against one session. Large sessions run
// as a background job.
func (s *Service) WorkflowTest(ctx context.Context, orgID, projectID string, in WorkflowTestInput) (map[string]any, error) {
	if in.SessionID == "" {
		return nil, validationError("sessionId is required")
	}
	if s.engine == nil {
		return nil, domainError(http.StatusServiceUnavailable, "AI_UNAVAILABLE", "AI model is not configured", nil)
	}
	if _, err := s.projectInOrg(ctx, orgID, projectID); err != nil {
		return nil, err
	}
	sess, _, err := s.sessionInOrg(ctx, orgID, in.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.ProjectID != projectID {
		return nil, validationError("session does not belong to this project")
	}

	existing, err := s.store.ListValidationsBySession(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}

	if len(existing) > asyncRowThreshold && s.jobs != nil {
		sessionID := in.SessionID
		jobID := s.jobs.Submit("workflow-test", func(jctx context.Context) (any, error) {
			return s.runWorkflowTest(jctx, projectID, sessionID)
		})
		return map[string]any{"jobId": jobID, "status": jobs.StatusQueued}, nil
	}

	result, err := s.runWorkflowTest(ctx, projectID, in.SessionID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": jobs.StatusCompleted, "result": result}, nil
}

type workflowColumnResult struct {
	ValueID   string `json:"valueId"`
	ValueName string `json:"valueName"`
	Created   int    `json:"created"`
	Updated   int    `json:"updated"`
	Deleted   int    `json:"deleted"`
	Skipped   int    `json:"skipped"`
	Error     string `json:"error,omitempty"`
}

func (s *Service) runWorkflowTest(ctx context.Context, projectID, sessionID string) (map[string]any, error) {
	steps, err := s.store.ListSteps(ctx, projectID)
	if err != nil {
		return nil, err
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].OrderIndex < steps[j].OrderIndex })

	var columns []workflowColumnResult
	failed := 0
	for _, step := range steps {
		values, err := s.store.ListStepValues(ctx, step.ID)
		if err != nil {
			return nil, err
		}
		// identifier columns must run before their dependents
		sort.SliceStable(values, func(i, j int) bool {
			if values[i].IsIdentifier != values[j].IsIdentifier {
				return values[i].IsIdentifier
			}
			return values[i].OrderIndex < values[j].OrderIndex
		})
		for _, value := range values {
			if value.ToolID == nil || *value.ToolID == "" {
				continue
			}
			col := workflowColumnResult{ValueID: value.ID, ValueName: value.ValueName}
			result, err := s.engine.ExtractColumn(ctx, extract.ColumnRequest{
				SessionID: sessionID,
				ValueID:   value.ID,
			})
			if err != nil {
				col.Error = err.Error()
				failed++
			} else {
				col.Created = result.Created
				col.Updated = result.Updated
				col.Deleted = result.Deleted
				col.Skipped = result.Skipped
			}
			columns = append(columns, col)
		}
	}

	// column failures are reported per column, not as a run failure
	return map[string]any{
		"sessionId": sessionID,
		"columns":   columns,
		"failed":    failed,
	}, nil
}

func (s *Service) GetJob(ctx context.Context, id string) (jobs.Job, error) {
	if s.jobs == nil {
		return jobs.Job{}, notFound("Job not found")
	}
	job, err := s.jobs.Get(id)
	if err != nil {
		return jobs.Job{}, notFound("Job not found")
	}
	return job, nil
}
