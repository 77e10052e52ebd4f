package app

import (
	"context"
	"encoding/json"
	"strings"

	"extrapl/api/internal/search"
	"extrapl/api/internal/store"
	"extrapl/api/internal/util"
)

func (s *Service) projectInOrg(ctx context.Context, orgID, projectID string) (store.Project, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, err
	}
	if project.OrgID != orgID {
		return store.Project{}, notFound("Project not found")
	}
	return project, nil
}

func (s *Service) ListProjects(ctx context.Context, orgID string) (map[string]any, error) {
	projects, err := s.store.ListProjects(ctx, orgID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(projects))
	for _, p := range projects {
		items = append(items, projectPayload(p))
	}
	return map[string]any{"projects": items}, nil
}

type CreateProjectInput struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	InboundEmail string `json:"inboundEmail"`
}

func (s *Service) CreateProject(ctx context.Context, orgID, userID string, in CreateProjectInput) (map[string]any, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, validationError("name is required")
	}
	project := store.Project{
		ID:           util.NewID("proj"),
		OrgID:        orgID,
		Name:         name,
		Description:  strings.TrimSpace(in.Description),
		InboundEmail: strings.ToLower(strings.TrimSpace(in.InboundEmail)),
		CreatedBy:    userID,
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		return nil, err
	}
	if s.searcher != nil {
		s.searcher.IndexProject(search.ProjectRecord{
			ID: project.ID, OrgID: orgID, Name: project.Name, Description: project.Description,
		})
	}
	return projectPayload(project), nil
}

func (s *Service) GetProjectDetail(ctx context.Context, orgID, projectID string) (map[string]any, error) {
	project, err := s.projectInOrg(ctx, orgID, projectID)
	if err != nil {
		return nil, err
	}
	fields, err := s.store.ListSchemaFields(ctx, projectID)
	if err != nil {
		return nil, err
	}
	collections, err := s.store.ListCollections(ctx, projectID)
	if err != nil {
		return nil, err
	}
	steps, err := s.store.ListSteps(ctx, projectID)
	if err != nil {
		return nil, err
	}

	payload := projectPayload(project)
	payload["schemaFields"] = schemaFieldPayloads(fields)
	payload["collections"] = collectionPayloads(collections)

	stepItems := make([]map[string]any, 0, len(steps))
	for _, st := range steps {
		values, err := s.store.ListStepValues(ctx, st.ID)
		if err != nil {
			return nil, err
		}
		stepItems = append(stepItems, stepPayload(st, values))
	}
	payload["steps"] = stepItems
	return payload, nil
}

func (s *Service) UpdateProject(ctx context.Context, orgID, projectID, name, description string) (map[string]any, error) {
	if _, err := s.projectInOrg(ctx, orgID, projectID); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("name is required")
	}
	if err := s.store.UpdateProject(ctx, projectID, name, strings.TrimSpace(description)); err != nil {
		return nil, err
	}
	if s.searcher != nil {
		s.searcher.IndexProject(search.ProjectRecord{
			ID: projectID, OrgID: orgID, Name: name, Description: description,
		})
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return projectPayload(project), nil
}

func (s *Service) DeleteProject(ctx context.Context, orgID, projectID string) error {
	if _, err := s.projectInOrg(ctx, orgID, projectID); err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	if s.searcher != nil {
		s.searcher.DeleteProject(projectID)
	}
	return nil
}

type SchemaFieldInput struct {
	FieldName   string `json:"fieldName"`
	FieldType   string `json:"fieldType"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

type CollectionPropertyInput struct {
	PropertyName string `json:"propertyName"`
	PropertyType string `json:"propertyType"`
	Description  string `json:"description"`
}

type CollectionInput struct {
	Name        string                    `json:"name"`
	Description string                    `json:"description"`
	Properties  []CollectionPropertyInput `json:"properties"`
}

type ReplaceSchemaInput struct {
	Fields      []SchemaFieldInput `json:"fields"`
	Collections []CollectionInput  `json:"collections"`
}

var allowedFieldTypes = map[string]struct{}{
	"text": {}, "number": {}, "date": {}, "boolean": {}, "email": {},
}

// ReplaceSchema swaps a project's extraction schema wholesale. Existing
// validations keep working because they reference step values, not schema
// fields.
func (s *Service) ReplaceSchema(ctx context.Context, orgID, projectID string, in ReplaceSchemaInput) (map[string]any, error) {
	if _, err := s.projectInOrg(ctx, orgID, projectID); err != nil {
		return nil, err
	}

	fields := make([]store.SchemaField, 0, len(in.Fields))
	for i, f := range in.Fields {
		name := strings.TrimSpace(f.FieldName)
		if name == "" {
			return nil, validationError("fieldName is required for every field")
		}
		fieldType := strings.ToLower(strings.TrimSpace(f.FieldType))
		if fieldType == "" {
			fieldType = "text"
		}
		if _, ok := allowedFieldTypes[fieldType]; !ok {
			return nil, validationError("unknown field type " + fieldType)
		}
		fields = append(fields, store.SchemaField{
			ID:          util.NewID("fld"),
			ProjectID:   projectID,
			FieldName:   name,
			FieldType:   fieldType,
			Description: strings.TrimSpace(f.Description),
			Required:    f.Required,
			OrderIndex:  i,
		})
	}

	collections := make([]store.Collection, 0, len(in.Collections))
	for i, c := range in.Collections {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, validationError("name is required for every collection")
		}
		collection := store.Collection{
			ID:          util.NewID("col"),
			ProjectID:   projectID,
			Name:        name,
			Description: strings.TrimSpace(c.Description),
			OrderIndex:  i,
		}
		for j, p := range c.Properties {
			propName := strings.TrimSpace(p.PropertyName)
			if propName == "" {
				return nil, validationError("propertyName is required for every property")
			}
			propType := strings.ToLower(strings.TrimSpace(p.PropertyType))
			if propType == "" {
				propType = "text"
			}
			if _, ok := allowedFieldTypes[propType]; !ok {
				return nil, validationError("unknown property type " + propType)
			}
			collection.Properties = append(collection.Properties, store.CollectionProperty{
				ID:           util.NewID("prop"),
				CollectionID: collection.ID,
				PropertyName: propName,
				PropertyType: propType,
				Description:  strings.TrimSpace(p.Description),
				OrderIndex:   j,
			})
		}
		collections = append(collections, collection)
	}

	if err := s.store.ReplaceSchema(ctx, projectID, fields, collections); err != nil {
		return nil, err
	}
	return map[string]any{
		"fields":      schemaFieldPayloads(fields),
		"collections": collectionPayloads(collections),
	}, nil
}

type CreateStepInput struct {
	StepName     string  `json:"stepName"`
	StepType     string  `json:"stepType"`
	CollectionID *string `json:"collectionId"`
	OrderIndex   int     `json:"orderIndex"`
}

var allowedStepTypes = map[string]struct{}{
	"info_page": {}, "list": {}, "kanban": {},
}

func (s *Service) ListSteps(ctx context.Context, orgID, projectID string) (map[string]any, error) {
	if _, err := s.projectInOrg(ctx, orgID, projectID); err != nil {
		return nil, err
	}
	steps, err := s.store.ListSteps(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(steps))
	for _, st := range steps {
		values, err := s.store.ListStepValues(ctx, st.ID)
		if err != nil {
			return nil, err
		}
		items = append(items, stepPayload(st, values))
	}
	return map[string]any{"steps": items}, nil
}

func (s *Service) CreateStep(ctx context.Context, orgID, projectID string, in CreateStepInput) (map[string]any, error) {
	if _, err := s.projectInOrg(ctx, orgID, projectID); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.StepName)
	if name == "" {
		return nil, validationError("stepName is required")
	}
	stepType := strings.TrimSpace(in.StepType)
	if stepType == "" {
		stepType = "info_page"
	}
	if _, ok := allowedStepTypes[stepType]; !ok {
		return nil, validationError("stepType must be info_page, list, or kanban")
	}
	step := store.WorkflowStep{
		ID:           util.NewID("step"),
		ProjectID:    projectID,
		StepName:     name,
		StepType:     stepType,
		CollectionID: in.CollectionID,
		OrderIndex:   in.OrderIndex,
	}
	if err := s.store.InsertStep(ctx, step); err != nil {
		return nil, err
	}
	return stepPayload(step, nil), nil
}

func (s *Service) stepInOrg(ctx context.Context, orgID, stepID string) (store.WorkflowStep, error) {
	step, err := s.store.GetStep(ctx, stepID)
	if err != nil {
		return store.WorkflowStep{}, err
	}
	if _, err := s.projectInOrg(ctx, orgID, step.ProjectID); err != nil {
		return store.WorkflowStep{}, notFound("Step not found")
	}
	return step, nil
}

func (s *Service) UpdateStep(ctx context.Context, orgID, stepID string, in CreateStepInput) (map[string]any, error) {
	step, err := s.stepInOrg(ctx, orgID, stepID)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.StepName)
	if name == "" {
		name = step.StepName
	}
	stepType := strings.TrimSpace(in.StepType)
	if stepType == "" {
		stepType = step.StepType
	}
	if _, ok := allowedStepTypes[stepType]; !ok {
		return nil, validationError("stepType must be info_page, list, or kanban")
	}
	if err := s.store.UpdateStep(ctx, stepID, name, stepType, in.OrderIndex); err != nil {
		return nil, err
	}
	updated, err := s.store.GetStep(ctx, stepID)
	if err != nil {
		return nil, err
	}
	return stepPayload(updated, nil), nil
}

func (s *Service) DeleteStep(ctx context.Context, orgID, stepID string) error {
	if _, err := s.stepInOrg(ctx, orgID, stepID); err != nil {
		return err
	}
	return s.store.DeleteStep(ctx, stepID)
}

type StepValueInput struct {
	ValueName    string          `json:"valueName"`
	ValueType    string          `json:"valueType"`
	Description  string          `json:"description"`
	ToolID       *string         `json:"toolId"`
	InputValues  json.RawMessage `json:"inputValues"`
	IsIdentifier bool            `json:"isIdentifier"`
	FieldCount   int             `json:"fieldCount"`
	OrderIndex   int             `json:"orderIndex"`
}

func (s *Service) CreateStepValue(ctx context.Context, orgID, stepID string, in StepValueInput) (map[string]any, error) {
	if _, err := s.stepInOrg(ctx, orgID, stepID); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.ValueName)
	if name == "" {
		return nil, validationError("valueName is required")
	}
	if in.FieldCount < 1 {
		in.FieldCount = 1
	}
	value := store.StepValue{
		ID:           util.NewID("val"),
		StepID:       stepID,
		ValueName:    name,
		ValueType:    strings.TrimSpace(in.ValueType),
		Description:  strings.TrimSpace(in.Description),
		ToolID:       in.ToolID,
		InputValues:  in.InputValues,
		IsIdentifier: in.IsIdentifier,
		FieldCount:   in.FieldCount,
		OrderIndex:   in.OrderIndex,
	}
	if err := s.store.InsertStepValue(ctx, value); err != nil {
		return nil, err
	}
	return valuePayload(value), nil
}

func (s *Service) valueInOrg(ctx context.Context, orgID, valueID string) (store.StepValue, error) {
	value, err := s.store.GetStepValue(ctx, valueID)
	if err != nil {
		return store.StepValue{}, err
	}
	if _, err := s.stepInOrg(ctx, orgID, value.StepID); err != nil {
		return store.StepValue{}, notFound("Value not found")
	}
	return value, nil
}

func (s *Service) UpdateStepValue(ctx context.Context, orgID, valueID string, in StepValueInput) (map[string]any, error) {
	value, err := s.valueInOrg(ctx, orgID, valueID)
	if err != nil {
		return nil, err
	}
	if name := strings.TrimSpace(in.ValueName); name != "" {
		value.ValueName = name
	}
	if vt := strings.TrimSpace(in.ValueType); vt != "" {
		value.ValueType = vt
	}
	value.Description = strings.TrimSpace(in.Description)
	value.ToolID = in.ToolID
	if in.InputValues != nil {
		value.InputValues = in.InputValues
	}
	value.IsIdentifier = in.IsIdentifier
	if in.FieldCount >= 1 {
		value.FieldCount = in.FieldCount
	}
	value.OrderIndex = in.OrderIndex
	if err := s.store.UpdateStepValue(ctx, value); err != nil {
		return nil, err
	}
	return valuePayload(value), nil
}

func (s *Service) DeleteStepValue(ctx context.Context, orgID, valueID string) error {
	if _, err := s.valueInOrg(ctx, orgID, valueID); err != nil {
		return err
	}
	return s.store.DeleteStepValue(ctx, valueID)
}

type CreateToolInput struct {
	Name          string `json:"name"`
	Kind          string `json:"kind"`
	Prompt        string `json:"prompt"`
	CodeFunction  string `json:"codeFunction"`
	OperationType string `json:"operationType"`
}

func (s *Service) ListTools(ctx context.Context, orgID string) (map[string]any, error) {
	tools, err := s.store.ListTools(ctx, orgID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(tools))
	for _, tl := range tools {
		items = append(items, toolPayload(tl))
	}
	return map[string]any{"tools": items}, nil
}

func (s *Service) CreateTool(ctx context.Context, orgID string, in CreateToolInput) (map[string]any, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, validationError("name is required")
	}
	kind := strings.TrimSpace(in.Kind)
	if kind != "prompt" && kind != "code" {
		return nil, validationError("kind must be prompt or code")
	}
	if kind == "prompt" && strings.TrimSpace(in.Prompt) == "" {
		return nil, validationError("prompt is required for prompt tools")
	}
	if kind == "code" && strings.TrimSpace(in.CodeFunction) == "" {
		return nil, validationError("codeFunction is required for code tools")
	}
	opType := strings.TrimSpace(in.OperationType)
	if opType == "" {
		opType = "extract"
	}
	if opType != "extract" && opType != "create" {
		return nil, validationError("operationType must be extract or create")
	}
	tl := store.Tool{
		ID:            util.NewID("tool"),
		OrgID:         orgID,
		Name:          name,
		Kind:          kind,
		Prompt:        in.Prompt,
		CodeFunction:  strings.TrimSpace(in.CodeFunction),
		OperationType: opType,
	}
	if err := s.store.InsertTool(ctx, tl); err != nil {
		return nil, err
	}
	return toolPayload(tl), nil
}

func projectPayload(p store.Project) map[string]any {
	return map[string]any{
		"id":           p.ID,
		"name":         p.Name,
		"description":  p.Description,
		"inboundEmail": p.InboundEmail,
		"createdAt":    p.CreatedAt,
		"updatedAt":    p.UpdatedAt,
	}
}

func schemaFieldPayloads(fields []store.SchemaField) []map[string]any {
	items := make([]map[string]any, 0, len(fields))
	for _, f := range fields {
		items = append(items, map[string]any{
			"id":          f.ID,
			"fieldName":   f.FieldName,
			"fieldType":   f.FieldType,
			"description": f.Description,
			"required":    f.Required,
			"orderIndex":  f.OrderIndex,
		})
	}
	return items
}

func collectionPayloads(collections []store.Collection) []map[string]any {
	items := make([]map[string]any, 0, len(collections))
	for _, c := range collections {
		props := make([]map[string]any, 0, len(c.Properties))
		for _, p := range c.Properties {
			props = append(props, map[string]any{
				"id":           p.ID,
				"propertyName": p.PropertyName,
				"propertyType": p.PropertyType,
				"description":  p.Description,
				"orderIndex":   p.OrderIndex,
			})
		}
		items = append(items, map[string]any{
			"id":          c.ID,
			"name":        c.Name,
			"description": c.Description,
			"orderIndex":  c.OrderIndex,
			"properties":  props,
		})
	}
	return items
}

func stepPayload(st store.WorkflowStep, values []store.StepValue) map[string]any {
	payload := map[string]any{
		"id":         st.ID,
		"projectId":  st.ProjectID,
		"stepName":   st.StepName,
		"stepType":   st.StepType,
		"orderIndex": st.OrderIndex,
	}
	if st.CollectionID != nil {
		payload["collectionId"] = *st.CollectionID
	}
	if values != nil {
		items := make([]map[string]any, 0, len(values))
		for _, v := range values {
			items = append(items, valuePayload(v))
		}
		payload["values"] = items
	}
	return payload
}

func valuePayload(v store.StepValue) map[string]any {
	payload := map[string]any{
		"id":           v.ID,
		"stepId":       v.StepID,
		"valueName":    v.ValueName,
		"valueType":    v.ValueType,
		"description":  v.Description,
		"isIdentifier": v.IsIdentifier,
		"fieldCount":   v.FieldCount,
		"orderIndex":   v.OrderIndex,
	}
	if v.ToolID != nil {
		payload["toolId"] = *v.ToolID
	}
	if v.InputValues != nil {
		payload["inputValues"] = v.InputValues
	}
	return payload
}

func toolPayload(tl store.Tool) map[string]any {
	return map[string]any{
		"id":            tl.ID,
		"name":          tl.Name,
		"kind":          tl.Kind,
		"prompt":        tl.Prompt,
		"codeFunction":  tl.CodeFunction,
		"operationType": tl.OperationType,
		"createdAt":     tl.CreatedAt,
	}
}
