package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"extrapl/api/internal/blob"
	"extrapl/api/internal/mailin"
	"extrapl/api/internal/store"
	"extrapl/api/internal/util"
)

// HandleSESInbound processes an SES receipt notification: fetch the raw
// message from object storage, then run the shared inbound pipeline.
func (s *Service) HandleSESInbound(ctx context.Context, body []byte) (map[string]any, error) {
	ptr, err := mailin.ParseSESNotification(body)
	if err != nil {
		return nil, validationError(err.Error())
	}

	project, err := s.store.GetProjectByInboundEmail(ctx, ptr.Recipient)
	if err != nil {
		// not our address; acknowledge so SES does not retry forever
		log.Printf("mailin: no project for recipient %s", ptr.Recipient)
		return map[string]any{"accepted": false, "reason": "unknown recipient"}, nil
	}

	seen, err := s.store.HasInboundEmail(ctx, project.ID, ptr.MessageID)
	if err != nil {
		return nil, err
	}
	if seen {
		return map[string]any{"accepted": false, "reason": "duplicate"}, nil
	}

	if s.blobs == nil {
		return nil, fmt.Errorf("blob store not configured")
	}
	raw, err := s.blobs.Get(ctx, ptr.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("fetch raw email: %w", err)
	}
	msg, err := mailin.ParseRaw(raw)
	if err != nil {
		return nil, validationError(err.Error())
	}
	if msg.MessageID == "" {
		msg.MessageID = ptr.MessageID
	}
	if msg.ThreadID == "" {
		msg.ThreadID = ptr.MessageID
	}

	return s.ingestEmail(ctx, project, msg, ptr.ObjectKey)
}

// HandleEmailWebhook processes a legacy full-payload delivery.
func (s *Service) HandleEmailWebhook(ctx context.Context, body []byte) (map[string]any, error) {
	msg, err := mailin.ParseAgentMail(body)
	if err != nil {
		return nil, validationError(err.Error())
	}

	project, err := s.store.GetProjectByInboundEmail(ctx, msg.To)
	if err != nil {
		log.Printf("mailin: no project for recipient %s", msg.To)
		return map[string]any{"accepted": false, "reason": "unknown recipient"}, nil
	}

	seen, err := s.store.HasInboundEmail(ctx, project.ID, msg.MessageID)
	if err != nil {
		return nil, err
	}
	if seen {
		return map[string]any{"accepted": false, "reason": "duplicate"}, nil
	}

	storageKey := ""
	if s.blobs != nil {
		storageKey = blob.EmailKey(project.ID, msg.MessageID)
		if err := s.blobs.Put(ctx, storageKey, "application/json", body); err != nil {
			log.Printf("mailin: archive payload %s: %v", msg.MessageID, err)
			storageKey = ""
		}
	}

	return s.ingestEmail(ctx, project, msg, storageKey)
}

// ingestEmail is the shared pipeline behind both webhooks: validate the
// attachments against the project, create or continue the thread's session,
// extract document text, and send the auto-reply.
func (s *Service) ingestEmail(ctx context.Context, project store.Project, msg mailin.Message, storageKey string) (map[string]any, error) {
	fromAddr := strings.TrimSpace(msg.From)

	accepted, reason := s.screenSubmission(ctx, project, msg)

	record := store.InboundEmail{
		ID:         util.NewID("mail"),
		ProjectID:  project.ID,
		MessageID:  msg.MessageID,
		ThreadID:   msg.ThreadID,
		FromAddr:   fromAddr,
		Subject:    msg.Subject,
		StorageKey: storageKey,
		Accepted:   accepted,
	}

	if !accepted {
		if err := s.store.InsertInboundEmail(ctx, record); err != nil {
			return nil, err
		}
		if s.SMTPConfigured() && fromAddr != "" {
			if err := s.email.SendSubmissionRejected(fromAddr, project.Name, reason); err != nil {
				log.Printf("mailin: rejection reply to %s: %v", fromAddr, err)
			}
		}
		return map[string]any{"accepted": false, "reason": reason}, nil
	}

	sess, err := s.sessionForThread(ctx, project, msg, fromAddr)
	if err != nil {
		return nil, err
	}
	record.SessionID = sess.ID

	stored := 0
	for _, att := range msg.Attachments {
		doc := store.SessionDocument{
			ID:          util.NewID("doc"),
			SessionID:   sess.ID,
			FileName:    att.FileName,
			ContentType: att.ContentType,
			Kind:        "user",
		}
		doc.StorageKey = blob.DocumentKey(sess.ID, doc.ID, att.FileName)
		if s.blobs != nil {
			if err := s.blobs.Put(ctx, doc.StorageKey, att.ContentType, att.Data); err != nil {
				log.Printf("mailin: store attachment %s: %v", att.FileName, err)
				continue
			}
		}
		if s.docs != nil {
			if result, err := s.docs.ExtractText(ctx, att.FileName, att.ContentType, att.Data); err == nil {
				doc.TextContent = result.Text
				doc.PageCount = result.PageCount
			}
		}
		if err := s.store.InsertSessionDocument(ctx, doc); err != nil {
			return nil, err
		}
		stored++
	}

	if err := s.store.InsertInboundEmail(ctx, record); err != nil {
		return nil, err
	}

	if s.SMTPConfigured() && fromAddr != "" {
		if err := s.email.SendSubmissionAccepted(fromAddr, project.Name, sess.Name, stored); err != nil {
			log.Printf("mailin: acceptance reply to %s: %v", fromAddr, err)
		}
	}

	return map[string]any{
		"accepted":  true,
		"sessionId": sess.ID,
		"documents": stored,
	}, nil
}

// screenSubmission decides whether the email belongs to this project. With
// an AI model configured it classifies the attachments against the project
// description; without one, any email with attachments is accepted.
func (s *Service) screenSubmission(ctx context.Context, project store.Project, msg mailin.Message) (bool, string) {
	if len(msg.Attachments) == 0 {
		return false, "no documents attached"
	}
	if s.model == nil {
		return true, ""
	}

	var names []string
	for _, att := range msg.Attachments {
		names = append(names, fmt.Sprintf("%s (%s)", att.FileName, att.ContentType))
	}
	sys := "You validate inbound document submissions. Respond with JSON only: " +
		`{"accept": true|false, "reason": "short explanation"}`
	usr := fmt.Sprintf("Project: %s\nProject description: %s\nEmail subject: %s\nEmail body: %s\nAttachments: %s\n\nShould this submission be accepted for the project?",
		project.Name, project.Description, msg.Subject, msg.TextBody, strings.Join(names, ", "))

	raw, err := s.model.Generate(ctx, s.cfg.GeminiFlash, sys, usr)
	if err != nil {
		log.Printf("mailin: screening failed, accepting: %v", err)
		return true, ""
	}
	var verdict struct {
		Accept bool   `json:"accept"`
		Reason string `json:"reason"`
	}
	cleaned := strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), "`"))
	cleaned = strings.TrimPrefix(cleaned, "json")
	if err := json.Unmarshal([]byte(strings.TrimSpace(cleaned)), &verdict); err != nil {
		log.Printf("mailin: unparseable screening verdict, accepting: %v", err)
		return true, ""
	}
	if !verdict.Accept && verdict.Reason == "" {
		verdict.Reason = "submission did not match the project"
	}
	return verdict.Accept, verdict.Reason
}

// sessionForThread continues an existing session when the email replies to
// a known thread, otherwise opens a fresh one.
func (s *Service) sessionForThread(ctx context.Context, project store.Project, msg mailin.Message, fromAddr string) (store.ExtractionSession, error) {
	if msg.ThreadID != "" {
		if sess, err := s.store.GetSessionByThread(ctx, project.ID, msg.ThreadID); err == nil {
			return sess, nil
		}
	}

	name := strings.TrimSpace(msg.Subject)
	if name == "" {
		name = "Email submission"
	}
	sess := store.ExtractionSession{
		ID:             util.NewID("sess"),
		ProjectID:      project.ID,
		Name:           name,
		Status:         "open",
		Source:         "email",
		EmailThreadID:  msg.ThreadID,
		SubmitterEmail: fromAddr,
	}
	if err := s.store.InsertSession(ctx, sess); err != nil {
		return store.ExtractionSession{}, err
	}
	return sess, nil
}
