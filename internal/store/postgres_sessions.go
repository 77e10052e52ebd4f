package store

import (
	"context"
	"fmt"
)

// ── Extraction sessions ──

func (s *PostgresStore) ListSessions(ctx context.Context, projectID string) ([]ExtractionSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, status, source, email_thread_id, submitter_email, created_at, updated_at
		FROM extraction_sessions
		WHERE project_id=$1
		ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	items := make([]ExtractionSession, 0)
	for rows.Next() {
		var es ExtractionSession
		if err := rows.Scan(&es.ID, &es.ProjectID, &es.Name, &es.Status, &es.Source, &es.EmailThreadID, &es.SubmitterEmail, &es.CreatedAt, &es.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		items = append(items, es)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (ExtractionSession, error) {
	var es ExtractionSession
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, status, source, email_thread_id, submitter_email, created_at, updated_at
		FROM extraction_sessions
		WHERE id=$1
	`, sessionID).Scan(&es.ID, &es.ProjectID, &es.Name, &es.Status, &es.Source, &es.EmailThreadID, &es.SubmitterEmail, &es.CreatedAt, &es.UpdatedAt)
	if err != nil {
		return ExtractionSession{}, err
	}
	return es, nil
}

func (s *PostgresStore) GetSessionByThread(ctx context.Context, projectID, threadID string) (ExtractionSession, error) {
	var es ExtractionSession
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, status, source, email_thread_id, submitter_email, created_at, updated_at
		FROM extraction_sessions
		WHERE project_id=$1 AND email_thread_id=$2
	`, projectID, threadID).Scan(&es.ID, &es.ProjectID, &es.Name, &es.Status, &es.Source, &es.EmailThreadID, &es.SubmitterEmail, &es.CreatedAt, &es.UpdatedAt)
	if err != nil {
		return ExtractionSession{}, err
	}
	return es, nil
}

func (s *PostgresStore) InsertSession(ctx context.Context, es ExtractionSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO extraction_sessions (id, project_id, name, status, source, email_thread_id, submitter_email)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, es.ID, es.ProjectID, es.Name, es.Status, es.Source, es.EmailThreadID, es.SubmitterEmail)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateSessionStatus(ctx context.Context, sessionID, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE extraction_sessions SET status=$2, updated_at=NOW() WHERE id=$1
	`, sessionID, status)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM extraction_sessions WHERE id=$1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ── Session documents ──

func (s *PostgresStore) ListSessionDocuments(ctx context.Context, sessionID string) ([]SessionDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, file_name, content_type, storage_key, kind, text_content, page_count, created_at
		FROM session_documents
		WHERE session_id=$1
		ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session documents: %w", err)
	}
	defer rows.Close()

	items := make([]SessionDocument, 0)
	for rows.Next() {
		var d SessionDocument
		if err := rows.Scan(&d.ID, &d.SessionID, &d.FileName, &d.ContentType, &d.StorageKey, &d.Kind, &d.TextContent, &d.PageCount, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session document: %w", err)
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertSessionDocument(ctx context.Context, d SessionDocument) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_documents (id, session_id, file_name, content_type, storage_key, kind, text_content, page_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, d.ID, d.SessionID, d.FileName, d.ContentType, d.StorageKey, d.Kind, d.TextContent, d.PageCount)
	if err != nil {
		return fmt.Errorf("insert session document: %w", err)
	}
	return nil
}

// ── Inbound email idempotency ──

func (s *PostgresStore) HasInboundEmail(ctx context.Context, projectID, messageID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM inbound_emails WHERE project_id=$1 AND message_id=$2)
	`, projectID, messageID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check inbound email: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) InsertInboundEmail(ctx context.Context, m InboundEmail) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inbound_emails (id, project_id, session_id, message_id, thread_id, from_addr, subject, storage_key, accepted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (project_id, message_id) DO NOTHING
	`, m.ID, m.ProjectID, m.SessionID, m.MessageID, m.ThreadID, m.FromAddr, m.Subject, m.StorageKey, m.Accepted)
	if err != nil {
		return fmt.Errorf("insert inbound email: %w", err)
	}
	return nil
}

// ── Kanban ──

func (s *PostgresStore) ListKanbanCards(ctx context.Context, sessionID string) ([]KanbanCard, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, title, description, lane, ai_generated, order_index, created_by, created_at, updated_at
		FROM kanban_cards
		WHERE session_id=$1
		ORDER BY lane ASC, order_index ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list kanban cards: %w", err)
	}
	defer rows.Close()

	items := make([]KanbanCard, 0)
	for rows.Next() {
		var c KanbanCard
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Title, &c.Description, &c.Lane, &c.AIGenerated, &c.OrderIndex, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan kanban card: %w", err)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetKanbanCard(ctx context.Context, cardID string) (KanbanCard, error) {
	var c KanbanCard
	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, title, description, lane, ai_generated, order_index, created_by, created_at, updated_at
		FROM kanban_cards
		WHERE id=$1
	`, cardID).Scan(&c.ID, &c.SessionID, &c.Title, &c.Description, &c.Lane, &c.AIGenerated, &c.OrderIndex, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return KanbanCard{}, err
	}
	return c, nil
}

func (s *PostgresStore) InsertKanbanCard(ctx context.Context, c KanbanCard) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kanban_cards (id, session_id, title, description, lane, ai_generated, order_index, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.ID, c.SessionID, c.Title, c.Description, c.Lane, c.AIGenerated, c.OrderIndex, c.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert kanban card: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateKanbanCard(ctx context.Context, cardID, title, description, lane string, orderIndex int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE kanban_cards SET title=$2, description=$3, lane=$4, order_index=$5, updated_at=NOW() WHERE id=$1
	`, cardID, title, description, lane, orderIndex)
	if err != nil {
		return fmt.Errorf("update kanban card: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteKanbanCard(ctx context.Context, cardID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kanban_cards WHERE id=$1`, cardID)
	if err != nil {
		return fmt.Errorf("delete kanban card: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListChecklistItems(ctx context.Context, cardID string) ([]ChecklistItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, card_id, text, done, order_index
		FROM checklist_items
		WHERE card_id=$1
		ORDER BY order_index ASC
	`, cardID)
	if err != nil {
		return nil, fmt.Errorf("list checklist items: %w", err)
	}
	defer rows.Close()

	items := make([]ChecklistItem, 0)
	for rows.Next() {
		var it ChecklistItem
		if err := rows.Scan(&it.ID, &it.CardID, &it.Text, &it.Done, &it.OrderIndex); err != nil {
			return nil, fmt.Errorf("scan checklist item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertChecklistItem(ctx context.Context, it ChecklistItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checklist_items (id, card_id, text, done, order_index)
		VALUES ($1, $2, $3, $4, $5)
	`, it.ID, it.CardID, it.Text, it.Done, it.OrderIndex)
	if err != nil {
		return fmt.Errorf("insert checklist item: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateChecklistItem(ctx context.Context, itemID, text string, done bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE checklist_items SET text=$2, done=$3 WHERE id=$1
	`, itemID, text, done)
	if err != nil {
		return fmt.Errorf("update checklist item: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCardComments(ctx context.Context, cardID string) ([]CardComment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, card_id, author, body, created_at
		FROM card_comments
		WHERE card_id=$1
		ORDER BY created_at ASC
	`, cardID)
	if err != nil {
		return nil, fmt.Errorf("list card comments: %w", err)
	}
	defer rows.Close()

	items := make([]CardComment, 0)
	for rows.Next() {
		var cm CardComment
		if err := rows.Scan(&cm.ID, &cm.CardID, &cm.Author, &cm.Body, &cm.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan card comment: %w", err)
		}
		items = append(items, cm)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertCardComment(ctx context.Context, cm CardComment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO card_comments (id, card_id, author, body)
		VALUES ($1, $2, $3, $4)
	`, cm.ID, cm.CardID, cm.Author, cm.Body)
	if err != nil {
		return fmt.Errorf("insert card comment: %w", err)
	}
	return nil
}
