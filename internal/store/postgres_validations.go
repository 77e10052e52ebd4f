package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ValidationUpdate carries the mutable fields of one reconciled row.
type ValidationUpdate struct {
	ID               string
	ExtractedValue   string
	ValidationStatus string
	AIReasoning      string
	ConfidenceScore  int
	DocumentSource   string
	RecordIndex      int
}

func (s *PostgresStore) ListValidationsBySession(ctx context.Context, sessionID string) ([]FieldValidation, error) {
	return s.queryValidations(ctx, `
		SELECT id, session_id, step_id, value_id, field_id, identifier_id, record_index,
		       extracted_value, validation_status, ai_reasoning, confidence_score, document_source,
		       created_at, updated_at
		FROM field_validations
		WHERE session_id=$1
		ORDER BY record_index ASC, created_at ASC
	`, sessionID)
}

func (s *PostgresStore) ListValidationsByValue(ctx context.Context, sessionID, valueID string) ([]FieldValidation, error) {
	return s.queryValidations(ctx, `
		SELECT id, session_id, step_id, value_id, field_id, identifier_id, record_index,
		       extracted_value, validation_status, ai_reasoning, confidence_score, document_source,
		       created_at, updated_at
		FROM field_validations
		WHERE session_id=$1 AND value_id=$2
		ORDER BY record_index ASC
	`, sessionID, valueID)
}

func (s *PostgresStore) ListValidationsByStep(ctx context.Context, sessionID, stepID string) ([]FieldValidation, error) {
	return s.queryValidations(ctx, `
		SELECT id, session_id, step_id, value_id, field_id, identifier_id, record_index,
		       extracted_value, validation_status, ai_reasoning, confidence_score, document_source,
		       created_at, updated_at
		FROM field_validations
		WHERE session_id=$1 AND step_id=$2
		ORDER BY record_index ASC, created_at ASC
	`, sessionID, stepID)
}

func (s *PostgresStore) GetValidation(ctx context.Context, validationID string) (FieldValidation, error) {
	var v FieldValidation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, step_id, value_id, field_id, identifier_id, record_index,
		       extracted_value, validation_status, ai_reasoning, confidence_score, document_source,
		       created_at, updated_at
		FROM field_validations
		WHERE id=$1
	`, validationID).Scan(&v.ID, &v.SessionID, &v.StepID, &v.ValueID, &v.FieldID, &v.IdentifierID, &v.RecordIndex,
		&v.ExtractedValue, &v.ValidationStatus, &v.AIReasoning, &v.ConfidenceScore, &v.DocumentSource,
		&v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return FieldValidation{}, err
	}
	return v, nil
}

func (s *PostgresStore) queryValidations(ctx context.Context, q string, args ...any) ([]FieldValidation, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query validations: %w", err)
	}
	defer rows.Close()

	items := make([]FieldValidation, 0)
	for rows.Next() {
		var v FieldValidation
		if err := rows.Scan(&v.ID, &v.SessionID, &v.StepID, &v.ValueID, &v.FieldID, &v.IdentifierID, &v.RecordIndex,
			&v.ExtractedValue, &v.ValidationStatus, &v.AIReasoning, &v.ConfidenceScore, &v.DocumentSource,
			&v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan validation: %w", err)
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpdateValidationStatus(ctx context.Context, validationID, status, value string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE field_validations SET validation_status=$2, extracted_value=$3, updated_at=NOW() WHERE id=$1
	`, validationID, status, value)
	if err != nil {
		return fmt.Errorf("update validation status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ApplyValidationPlan commits one reconciliation pass atomically. Rows for the
// (session, value) pair are locked first so concurrent extractions of the same
// column serialize instead of clobbering each other's writes. Every statement
// additionally guards on validation_status: a row a reviewer confirmed while
// the tool was running keeps its confirmed value, since the plan was computed
// from a snapshot taken before the transaction.
func (s *PostgresStore) ApplyValidationPlan(ctx context.Context, sessionID, valueID string, creates []FieldValidation, updates []ValidationUpdate, deleteIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin validation plan: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		SELECT id FROM field_validations WHERE session_id=$1 AND value_id=$2 FOR UPDATE
	`, sessionID, valueID); err != nil {
		return fmt.Errorf("lock validations: %w", err)
	}

	for _, id := range deleteIDs {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM field_validations
			WHERE id=$1 AND validation_status NOT IN ('valid','verified')
		`, id); err != nil {
			return fmt.Errorf("delete validation %s: %w", id, err)
		}
	}
	for _, v := range creates {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO field_validations
				(id, session_id, step_id, value_id, field_id, identifier_id, record_index,
				 extracted_value, validation_status, ai_reasoning, confidence_score, document_source)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (session_id, value_id, field_id, identifier_id)
			DO UPDATE SET extracted_value=EXCLUDED.extracted_value,
			              validation_status=EXCLUDED.validation_status,
			              ai_reasoning=EXCLUDED.ai_reasoning,
			              confidence_score=EXCLUDED.confidence_score,
			              document_source=EXCLUDED.document_source,
			              record_index=EXCLUDED.record_index,
			              updated_at=NOW()
			WHERE field_validations.validation_status NOT IN ('valid','verified')
		`, v.ID, v.SessionID, v.StepID, v.ValueID, v.FieldID, v.IdentifierID, v.RecordIndex,
			v.ExtractedValue, v.ValidationStatus, v.AIReasoning, v.ConfidenceScore, v.DocumentSource); err != nil {
			return fmt.Errorf("insert validation: %w", err)
		}
	}
	for _, u := range updates {
		if _, err := tx.ExecContext(ctx, `
			UPDATE field_validations
			SET extracted_value=$2, validation_status=$3, ai_reasoning=$4,
			    confidence_score=$5, document_source=$6, record_index=$7, updated_at=NOW()
			WHERE id=$1 AND validation_status NOT IN ('valid','verified')
		`, u.ID, u.ExtractedValue, u.ValidationStatus, u.AIReasoning, u.ConfidenceScore, u.DocumentSource, u.RecordIndex); err != nil {
			return fmt.Errorf("update validation %s: %w", u.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit validation plan: %w", err)
	}
	return nil
}
