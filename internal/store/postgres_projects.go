package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ── Projects ──

func (s *PostgresStore) ListProjects(ctx context.Context, orgID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, name, description, inbound_email, created_by, created_at, updated_at
		FROM projects
		WHERE org_id=$1
		ORDER BY created_at DESC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.OrgID, &p.Name, &p.Description, &p.InboundEmail, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var p Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, name, description, inbound_email, created_by, created_at, updated_at
		FROM projects
		WHERE id=$1
	`, projectID).Scan(&p.ID, &p.OrgID, &p.Name, &p.Description, &p.InboundEmail, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	return p, nil
}

func (s *PostgresStore) GetProjectByInboundEmail(ctx context.Context, address string) (Project, error) {
	var p Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, name, description, inbound_email, created_by, created_at, updated_at
		FROM projects
		WHERE LOWER(inbound_email)=LOWER($1)
	`, address).Scan(&p.ID, &p.OrgID, &p.Name, &p.Description, &p.InboundEmail, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	return p, nil
}

func (s *PostgresStore) InsertProject(ctx context.Context, p Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, org_id, name, description, inbound_email, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.OrgID, p.Name, p.Description, p.InboundEmail, p.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, projectID, name, description string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE projects SET name=$2, description=$3, updated_at=NOW() WHERE id=$1
	`, projectID, name, description)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}

// ── Schema fields and collections ──

func (s *PostgresStore) ListSchemaFields(ctx context.Context, projectID string) ([]SchemaField, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, field_name, field_type, description, required, order_index
		FROM schema_fields
		WHERE project_id=$1
		ORDER BY order_index ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list schema fields: %w", err)
	}
	defer rows.Close()

	items := make([]SchemaField, 0)
	for rows.Next() {
		var f SchemaField
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.FieldName, &f.FieldType, &f.Description, &f.Required, &f.OrderIndex); err != nil {
			return nil, fmt.Errorf("scan schema field: %w", err)
		}
		items = append(items, f)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ReplaceSchema(ctx context.Context, projectID string, fields []SchemaField, collections []Collection) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM schema_fields WHERE project_id=$1`, projectID); err != nil {
		return fmt.Errorf("clear schema fields: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE project_id=$1`, projectID); err != nil {
		return fmt.Errorf("clear collections: %w", err)
	}

	for _, f := range fields {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO schema_fields (id, project_id, field_name, field_type, description, required, order_index)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, f.ID, projectID, f.FieldName, f.FieldType, f.Description, f.Required, f.OrderIndex); err != nil {
			return fmt.Errorf("insert schema field: %w", err)
		}
	}
	for _, c := range collections {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO collections (id, project_id, name, description, order_index)
			VALUES ($1, $2, $3, $4, $5)
		`, c.ID, projectID, c.Name, c.Description, c.OrderIndex); err != nil {
			return fmt.Errorf("insert collection: %w", err)
		}
		for _, p := range c.Properties {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO collection_properties (id, collection_id, property_name, property_type, description, order_index)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, p.ID, c.ID, p.PropertyName, p.PropertyType, p.Description, p.OrderIndex); err != nil {
				return fmt.Errorf("insert collection property: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCollections(ctx context.Context, projectID string) ([]Collection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, description, order_index
		FROM collections
		WHERE project_id=$1
		ORDER BY order_index ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	items := make([]Collection, 0)
	for rows.Next() {
		var c Collection
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Name, &c.Description, &c.OrderIndex); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collections: %w", err)
	}

	for i := range items {
		props, err := s.listCollectionProperties(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
		items[i].Properties = props
	}
	return items, nil
}

func (s *PostgresStore) listCollectionProperties(ctx context.Context, collectionID string) ([]CollectionProperty, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, collection_id, property_name, property_type, description, order_index
		FROM collection_properties
		WHERE collection_id=$1
		ORDER BY order_index ASC
	`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list collection properties: %w", err)
	}
	defer rows.Close()

	items := make([]CollectionProperty, 0)
	for rows.Next() {
		var p CollectionProperty
		if err := rows.Scan(&p.ID, &p.CollectionID, &p.PropertyName, &p.PropertyType, &p.Description, &p.OrderIndex); err != nil {
			return nil, fmt.Errorf("scan collection property: %w", err)
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// ── Workflow steps and values ──

func (s *PostgresStore) ListSteps(ctx context.Context, projectID string) ([]WorkflowStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, step_name, step_type, collection_id, order_index
		FROM workflow_steps
		WHERE project_id=$1
		ORDER BY order_index ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	items := make([]WorkflowStep, 0)
	for rows.Next() {
		var st WorkflowStep
		if err := rows.Scan(&st.ID, &st.ProjectID, &st.StepName, &st.StepType, &st.CollectionID, &st.OrderIndex); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		items = append(items, st)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetStep(ctx context.Context, stepID string) (WorkflowStep, error) {
	var st WorkflowStep
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, step_name, step_type, collection_id, order_index
		FROM workflow_steps
		WHERE id=$1
	`, stepID).Scan(&st.ID, &st.ProjectID, &st.StepName, &st.StepType, &st.CollectionID, &st.OrderIndex)
	if err != nil {
		return WorkflowStep{}, err
	}
	return st, nil
}

func (s *PostgresStore) InsertStep(ctx context.Context, st WorkflowStep) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_steps (id, project_id, step_name, step_type, collection_id, order_index)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, st.ID, st.ProjectID, st.StepName, st.StepType, st.CollectionID, st.OrderIndex)
	if err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateStep(ctx context.Context, stepID, stepName, stepType string, orderIndex int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workflow_steps SET step_name=$2, step_type=$3, order_index=$4 WHERE id=$1
	`, stepID, stepName, stepType, orderIndex)
	if err != nil {
		return fmt.Errorf("update step: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteStep(ctx context.Context, stepID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workflow_steps WHERE id=$1`, stepID)
	if err != nil {
		return fmt.Errorf("delete step: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListStepValues(ctx context.Context, stepID string) ([]StepValue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, step_id, value_name, value_type, description, tool_id, input_values, is_identifier, field_count, order_index
		FROM step_values
		WHERE step_id=$1
		ORDER BY order_index ASC
	`, stepID)
	if err != nil {
		return nil, fmt.Errorf("list step values: %w", err)
	}
	defer rows.Close()
	return scanStepValues(rows)
}

func (s *PostgresStore) ListProjectValues(ctx context.Context, projectID string) ([]StepValue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sv.id, sv.step_id, sv.value_name, sv.value_type, sv.description, sv.tool_id, sv.input_values, sv.is_identifier, sv.field_count, sv.order_index
		FROM step_values sv
		JOIN workflow_steps ws ON ws.id = sv.step_id
		WHERE ws.project_id=$1
		ORDER BY ws.order_index ASC, sv.order_index ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project values: %w", err)
	}
	defer rows.Close()
	return scanStepValues(rows)
}

func scanStepValues(rows *sql.Rows) ([]StepValue, error) {
	items := make([]StepValue, 0)
	for rows.Next() {
		var v StepValue
		var inputValues sql.NullString
		if err := rows.Scan(&v.ID, &v.StepID, &v.ValueName, &v.ValueType, &v.Description, &v.ToolID, &inputValues, &v.IsIdentifier, &v.FieldCount, &v.OrderIndex); err != nil {
			return nil, fmt.Errorf("scan step value: %w", err)
		}
		if inputValues.Valid {
			v.InputValues = []byte(inputValues.String)
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetStepValue(ctx context.Context, valueID string) (StepValue, error) {
	var v StepValue
	var inputValues sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, step_id, value_name, value_type, description, tool_id, input_values, is_identifier, field_count, order_index
		FROM step_values
		WHERE id=$1
	`, valueID).Scan(&v.ID, &v.StepID, &v.ValueName, &v.ValueType, &v.Description, &v.ToolID, &inputValues, &v.IsIdentifier, &v.FieldCount, &v.OrderIndex)
	if err != nil {
		return StepValue{}, err
	}
	if inputValues.Valid {
		v.InputValues = []byte(inputValues.String)
	}
	return v, nil
}

func (s *PostgresStore) InsertStepValue(ctx context.Context, v StepValue) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO step_values (id, step_id, value_name, value_type, description, tool_id, input_values, is_identifier, field_count, order_index)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, v.ID, v.StepID, v.ValueName, v.ValueType, v.Description, v.ToolID, nullableJSON(v.InputValues), v.IsIdentifier, v.FieldCount, v.OrderIndex)
	if err != nil {
		return fmt.Errorf("insert step value: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateStepValue(ctx context.Context, v StepValue) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE step_values
		SET value_name=$2, value_type=$3, description=$4, tool_id=$5, input_values=$6, is_identifier=$7, field_count=$8, order_index=$9
		WHERE id=$1
	`, v.ID, v.ValueName, v.ValueType, v.Description, v.ToolID, nullableJSON(v.InputValues), v.IsIdentifier, v.FieldCount, v.OrderIndex)
	if err != nil {
		return fmt.Errorf("update step value: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteStepValue(ctx context.Context, valueID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM step_values WHERE id=$1`, valueID)
	if err != nil {
		return fmt.Errorf("delete step value: %w", err)
	}
	return nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// ── Tools ──

func (s *PostgresStore) ListTools(ctx context.Context, orgID string) ([]Tool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, name, kind, prompt, code_function, operation_type, created_at
		FROM tools
		WHERE org_id=$1
		ORDER BY created_at ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	defer rows.Close()

	items := make([]Tool, 0)
	for rows.Next() {
		var tl Tool
		if err := rows.Scan(&tl.ID, &tl.OrgID, &tl.Name, &tl.Kind, &tl.Prompt, &tl.CodeFunction, &tl.OperationType, &tl.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tool: %w", err)
		}
		items = append(items, tl)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetTool(ctx context.Context, toolID string) (Tool, error) {
	var tl Tool
	err := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, name, kind, prompt, code_function, operation_type, created_at
		FROM tools
		WHERE id=$1
	`, toolID).Scan(&tl.ID, &tl.OrgID, &tl.Name, &tl.Kind, &tl.Prompt, &tl.CodeFunction, &tl.OperationType, &tl.CreatedAt)
	if err != nil {
		return Tool{}, err
	}
	return tl, nil
}

func (s *PostgresStore) InsertTool(ctx context.Context, tl Tool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tools (id, org_id, name, kind, prompt, code_function, operation_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, tl.ID, tl.OrgID, tl.Name, tl.Kind, tl.Prompt, tl.CodeFunction, tl.OperationType)
	if err != nil {
		return fmt.Errorf("insert tool: %w", err)
	}
	return nil
}
