package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"extrapl/api/internal/blob"
	"extrapl/api/internal/search"
	"extrapl/api/internal/store"
	"extrapl/api/internal/util"
)

var allowedSessionStatus = map[string]struct{}{
	"open": {}, "in_review": {}, "completed": {}, "rejected": {},
}

var allowedValidationStatus = map[string]struct{}{
	"pending": {}, "valid": {}, "manual": {}, "verified": {}, "invalid": {},
}

func (s *Service) sessionInOrg(ctx context.Context, orgID, sessionID string) (store.ExtractionSession, store.Project, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return store.ExtractionSession{}, store.Project{}, err
	}
	project, err := s.projectInOrg(ctx, orgID, sess.ProjectID)
	if err != nil {
		return store.ExtractionSession{}, store.Project{}, notFound("Session not found")
	}
	return sess, project, nil
}

func (s *Service) ListSessions(ctx context.Context, orgID, projectID string) (map[string]any, error) {
	if _, err := s.projectInOrg(ctx, orgID, projectID); err != nil {
		return nil, err
	}
	sessions, err := s.store.ListSessions(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(sessions))
	for _, es := range sessions {
		items = append(items, sessionPayload(es))
	}
	return map[string]any{"sessions": items}, nil
}

type CreateSessionInput struct {
	Name string `json:"name"`
}

func (s *Service) CreateExtractionSession(ctx context.Context, orgID, projectID string, in CreateSessionInput) (map[string]any, error) {
	if _, err := s.projectInOrg(ctx, orgID, projectID); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = "Untitled session"
	}
	sess := store.ExtractionSession{
		ID:        util.NewID("sess"),
		ProjectID: projectID,
		Name:      name,
		Status:    "open",
		Source:    "upload",
	}
	if err := s.store.InsertSession(ctx, sess); err != nil {
		return nil, err
	}
	if s.searcher != nil {
		s.searcher.IndexSession(search.SessionRecord{
			ID: sess.ID, OrgID: orgID, ProjectID: projectID, Name: sess.Name, Status: sess.Status,
		})
	}
	return sessionPayload(sess), nil
}

func (s *Service) GetSessionDetail(ctx context.Context, orgID, sessionID string) (map[string]any, error) {
	sess, _, err := s.sessionInOrg(ctx, orgID, sessionID)
	if err != nil {
		return nil, err
	}
	docs, err := s.store.ListSessionDocuments(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	payload := sessionPayload(sess)
	docItems := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		docItems = append(docItems, documentPayload(d))
	}
	payload["documents"] = docItems
	return payload, nil
}

func (s *Service) UpdateSessionStatus(ctx context.Context, orgID, sessionID, status string) (map[string]any, error) {
	sess, project, err := s.sessionInOrg(ctx, orgID, sessionID)
	if err != nil {
		return nil, err
	}
	if _, ok := allowedSessionStatus[status]; !ok {
		return nil, validationError("status must be open, in_review, completed, or rejected")
	}
	if err := s.store.UpdateSessionStatus(ctx, sessionID, status); err != nil {
		return nil, err
	}
	sess.Status = status
	if s.searcher != nil {
		s.searcher.IndexSession(search.SessionRecord{
			ID: sess.ID, OrgID: project.OrgID, ProjectID: sess.ProjectID,
			Name: sess.Name, Status: status, SubmitterEmail: sess.SubmitterEmail,
		})
	}
	return sessionPayload(sess), nil
}

func (s *Service) DeleteExtractionSession(ctx context.Context, orgID, sessionID string) error {
	if _, _, err := s.sessionInOrg(ctx, orgID, sessionID); err != nil {
		return err
	}
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	if s.searcher != nil {
		s.searcher.DeleteSession(sessionID)
	}
	return nil
}

type UploadDocumentInput struct {
	FileName    string
	ContentType string
	Kind        string
	Data        []byte
}

// AddSessionDocument stores the raw bytes, extracts text, and records the
// document row. Extraction failures degrade to an empty transcript rather
// than failing the upload.
func (s *Service) AddSessionDocument(ctx context.Context, orgID, sessionID string, in UploadDocumentInput) (map[string]any, error) {
	if _, _, err := s.sessionInOrg(ctx, orgID, sessionID); err != nil {
		return nil, err
	}
	fileName := strings.TrimSpace(in.FileName)
	if fileName == "" {
		return nil, validationError("fileName is required")
	}
	if len(in.Data) == 0 {
		return nil, validationError("document is empty")
	}
	kind := in.Kind
	if kind != "knowledge" {
		kind = "user"
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	doc := store.SessionDocument{
		ID:          util.NewID("doc"),
		SessionID:   sessionID,
		FileName:    fileName,
		ContentType: contentType,
		Kind:        kind,
	}
	doc.StorageKey = blob.DocumentKey(sessionID, doc.ID, fileName)

	if s.blobs != nil {
		if err := s.blobs.Put(ctx, doc.StorageKey, contentType, in.Data); err != nil {
			return nil, fmt.Errorf("store document: %w", err)
		}
	}

	if s.docs != nil {
		result, err := s.docs.ExtractText(ctx, fileName, contentType, in.Data)
		if err != nil {
			log.Printf("document %s: text extraction failed: %v", doc.ID, err)
		} else {
			doc.TextContent = result.Text
			doc.PageCount = result.PageCount
		}
	}

	if err := s.store.InsertSessionDocument(ctx, doc); err != nil {
		return nil, err
	}
	return documentPayload(doc), nil
}

func (s *Service) ListDocuments(ctx context.Context, orgID, sessionID string) (map[string]any, error) {
	if _, _, err := s.sessionInOrg(ctx, orgID, sessionID); err != nil {
		return nil, err
	}
	docs, err := s.store.ListSessionDocuments(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		items = append(items, documentPayload(d))
	}
	return map[string]any{"documents": items}, nil
}

func (s *Service) ListValidations(ctx context.Context, orgID, sessionID string) (map[string]any, error) {
	if _, _, err := s.sessionInOrg(ctx, orgID, sessionID); err != nil {
		return nil, err
	}
	validations, err := s.store.ListValidationsBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(validations))
	for _, fv := range validations {
		items = append(items, validationPayload(fv))
	}
	return map[string]any{"validations": items}, nil
}

type UpdateValidationInput struct {
	Status string `json:"status"`
	Value  string `json:"value"`
}

// UpdateValidation is the human review action: confirm, reject, or override
// a single extracted value.
func (s *Service) UpdateValidation(ctx context.Context, orgID, validationID string, in UpdateValidationInput) (map[string]any, error) {
	status := strings.TrimSpace(in.Status)
	if _, ok := allowedValidationStatus[status]; !ok {
		return nil, validationError("status must be pending, valid, manual, verified, or invalid")
	}
	fv, err := s.store.GetValidation(ctx, validationID)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.sessionInOrg(ctx, orgID, fv.SessionID); err != nil {
		return nil, notFound("validation not found")
	}
	if err := s.store.UpdateValidationStatus(ctx, validationID, status, in.Value); err != nil {
		return nil, err
	}
	return map[string]any{"id": validationID, "status": status}, nil
}

func (s *Service) Search(ctx context.Context, orgID, text, filterType, projectID string, limit, offset int) (search.Response, error) {
	if s.searcher == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.searcher.Search(search.Query{
		Text:            text,
		OrgID:           orgID,
		FilterType:      search.ResultType(filterType),
		FilterProjectID: projectID,
		Limit:           limit,
		Offset:          offset,
	}), nil
}

// Chat answers a one-shot question grounded on the session's extracted data
// and document text.
func (s *Service) Chat(ctx context.Context, orgID, sessionID, question string) (map[string]any, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, validationError("message is required")
	}
	sess, _, err := s.sessionInOrg(ctx, orgID, sessionID)
	if err != nil {
		return nil, err
	}
	if s.model == nil {
		return nil, domainError(503, "AI_UNAVAILABLE", "AI model not configured", nil)
	}

	validations, err := s.store.ListValidationsBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	docs, err := s.store.ListSessionDocuments(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\n\nExtracted data:\n", sess.Name)
	for _, fv := range validations {
		fmt.Fprintf(&b, "- [%s] %s\n", fv.ValidationStatus, fv.ExtractedValue)
	}
	b.WriteString("\nDocuments:\n")
	for _, d := range docs {
		if d.TextContent != "" {
			fmt.Fprintf(&b, "--- %s ---\n%s\n", d.FileName, d.TextContent)
		}
	}
	b.WriteString("\nQuestion: " + question)

	sys := "You are an assistant answering questions about data extracted from business documents. " +
		"Answer only from the supplied session data and documents. If the answer is not present, say so."
	answer, err := s.model.Generate(ctx, s.cfg.GeminiModel, sys, b.String())
	if err != nil {
		return nil, fmt.Errorf("chat generation: %w", err)
	}
	return map[string]any{"answer": strings.TrimSpace(answer)}, nil
}

func sessionPayload(es store.ExtractionSession) map[string]any {
	return map[string]any{
		"id":             es.ID,
		"projectId":      es.ProjectID,
		"name":           es.Name,
		"status":         es.Status,
		"source":         es.Source,
		"emailThreadId":  es.EmailThreadID,
		"submitterEmail": es.SubmitterEmail,
		"createdAt":      es.CreatedAt,
		"updatedAt":      es.UpdatedAt,
	}
}

func documentPayload(d store.SessionDocument) map[string]any {
	return map[string]any{
		"id":          d.ID,
		"sessionId":   d.SessionID,
		"fileName":    d.FileName,
		"contentType": d.ContentType,
		"kind":        d.Kind,
		"pageCount":   d.PageCount,
		"hasText":     d.TextContent != "",
		"createdAt":   d.CreatedAt,
	}
}

func validationPayload(fv store.FieldValidation) map[string]any {
	return map[string]any{
		"id":               fv.ID,
		"sessionId":        fv.SessionID,
		"stepId":           fv.StepID,
		"valueId":          fv.ValueID,
		"fieldId":          fv.FieldID,
		"identifierId":     fv.IdentifierID,
		"recordIndex":      fv.RecordIndex,
		"extractedValue":   fv.ExtractedValue,
		"validationStatus": fv.ValidationStatus,
		"aiReasoning":      fv.AIReasoning,
		"confidenceScore":  fv.ConfidenceScore,
		"documentSource":   fv.DocumentSource,
		"updatedAt":        fv.UpdatedAt,
	}
}
