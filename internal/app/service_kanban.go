package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"extrapl/api/internal/store"
	"extrapl/api/internal/util"
)

var allowedLanes = map[string]bool{"todo": true, "doing": true, "done": true}

// cardInOrg resolves a card and checks that its session belongs to the org.
func (s *Service) cardInOrg(ctx context.Context, orgID, cardID string) (store.KanbanCard, error) {
	card, err := s.store.GetKanbanCard(ctx, cardID)
	if err != nil {
		return store.KanbanCard{}, err
	}
	if _, _, err := s.sessionInOrg(ctx, orgID, card.SessionID); err != nil {
		return store.KanbanCard{}, notFound("card not found")
	}
	return card, nil
}

func (s *Service) ListKanbanCards(ctx context.Context, orgID, sessionID string) ([]map[string]any, error) {
	if _, _, err := s.sessionInOrg(ctx, orgID, sessionID); err != nil {
		return nil, err
	}
	cards, err := s.store.ListKanbanCards(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(cards))
	for _, c := range cards {
		items, err := s.store.ListChecklistItems(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, cardPayload(c, items))
	}
	return out, nil
}

type CardInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Lane        string `json:"lane"`
	OrderIndex  int    `json:"orderIndex"`
}

func (s *Service) CreateKanbanCard(ctx context.Context, orgID, sessionID, userID string, in CardInput) (map[string]any, error) {
	if _, _, err := s.sessionInOrg(ctx, orgID, sessionID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, validationError("title is required")
	}
	if in.Lane == "" {
		in.Lane = "todo"
	}
	if !allowedLanes[in.Lane] {
		return nil, validationError("lane must be one of: todo, doing, done")
	}
	card := store.KanbanCard{
		ID:          util.NewID("card"),
		SessionID:   sessionID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Lane:        in.Lane,
		OrderIndex:  in.OrderIndex,
		CreatedBy:   userID,
	}
	if err := s.store.InsertKanbanCard(ctx, card); err != nil {
		return nil, err
	}
	return cardPayload(card, nil), nil
}

func (s *Service) UpdateKanbanCard(ctx context.Context, orgID, cardID string, in CardInput) (map[string]any, error) {
	card, err := s.cardInOrg(ctx, orgID, cardID)
	if err != nil {
		return nil, err
	}
	if in.Title == "" {
		in.Title = card.Title
	}
	if in.Lane == "" {
		in.Lane = card.Lane
	}
	if !allowedLanes[in.Lane] {
		return nil, validationError("lane must be one of: todo, doing, done")
	}
	if err := s.store.UpdateKanbanCard(ctx, cardID, in.Title, in.Description, in.Lane, in.OrderIndex); err != nil {
		return nil, err
	}
	card, err = s.store.GetKanbanCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListChecklistItems(ctx, cardID)
	if err != nil {
		return nil, err
	}
	return cardPayload(card, items), nil
}

func (s *Service) DeleteKanbanCard(ctx context.Context, orgID, cardID string) error {
	if _, err := s.cardInOrg(ctx, orgID, cardID); err != nil {
		return err
	}
	return s.store.DeleteKanbanCard(ctx, cardID)
}

type ChecklistItemInput struct {
	Text       string `json:"text"`
	Done       *bool  `json:"done"`
	OrderIndex int    `json:"orderIndex"`
}

func (s *Service) AddChecklistItem(ctx context.Context, orgID, cardID string, in ChecklistItemInput) (map[string]any, error) {
	if _, err := s.cardInOrg(ctx, orgID, cardID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Text) == "" {
		return nil, validationError("text is required")
	}
	item := store.ChecklistItem{
		ID:         util.NewID("chk"),
		CardID:     cardID,
		Text:       strings.TrimSpace(in.Text),
		OrderIndex: in.OrderIndex,
	}
	if in.Done != nil {
		item.Done = *in.Done
	}
	if err := s.store.InsertChecklistItem(ctx, item); err != nil {
		return nil, err
	}
	return checklistPayload(item), nil
}

func (s *Service) UpdateChecklistItem(ctx context.Context, orgID, cardID, itemID string, in ChecklistItemInput) error {
	if _, err := s.cardInOrg(ctx, orgID, cardID); err != nil {
		return err
	}
	items, err := s.store.ListChecklistItems(ctx, cardID)
	if err != nil {
		return err
	}
	for _, it := range items {
		if it.ID != itemID {
			continue
		}
		text := in.Text
		if text == "" {
			text = it.Text
		}
		done := it.Done
		if in.Done != nil {
			done = *in.Done
		}
		return s.store.UpdateChecklistItem(ctx, itemID, text, done)
	}
	return notFound("checklist item not found")
}

func (s *Service) ListCardComments(ctx context.Context, orgID, cardID string) ([]map[string]any, error) {
	if _, err := s.cardInOrg(ctx, orgID, cardID); err != nil {
		return nil, err
	}
	comments, err := s.store.ListCardComments(ctx, cardID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(comments))
	for _, cm := range comments {
		out = append(out, commentPayload(cm))
	}
	return out, nil
}

func (s *Service) AddCardComment(ctx context.Context, orgID, cardID, author, body string) (map[string]any, error) {
	if _, err := s.cardInOrg(ctx, orgID, cardID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(body) == "" {
		return nil, validationError("body is required")
	}
	cm := store.CardComment{
		ID:     util.NewID("cmt"),
		CardID: cardID,
		Author: author,
		Body:   strings.TrimSpace(body),
	}
	if err := s.store.InsertCardComment(ctx, cm); err != nil {
		return nil, err
	}
	return commentPayload(cm), nil
}

// GenerateKanbanCards asks the model to turn a session's extracted data into
// actionable review tasks and persists them in the todo lane.
func (s *Service) GenerateKanbanCards(ctx context.Context, orgID, sessionID, userID string) ([]map[string]any, error) {
	sess, project, err := s.sessionInOrg(ctx, orgID, sessionID)
	if err != nil {
		return nil, err
	}
	if s.model == nil {
		return nil, domainError(503, "AI_UNAVAILABLE", "AI model is not configured", nil)
	}

	validations, err := s.store.ListValidationsBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var summary strings.Builder
	for _, v := range validations {
		fmt.Fprintf(&summary, "- %s = %q (status %s)\n", v.ValueID, v.ExtractedValue, v.ValidationStatus)
	}

	sys := "You turn extracted document data into review tasks. Respond with JSON only: " +
		`{"cards": [{"title": "...", "description": "...", "checklist": ["...", "..."]}]}. At most 6 cards.`
	usr := fmt.Sprintf("Project: %s\nSession: %s\nExtracted values:\n%s\nPropose review tasks for this session.",
		project.Name, sess.Name, summary.String())

	raw, err := s.model.Generate(ctx, s.cfg.GeminiModel, sys, usr)
	if err != nil {
		return nil, domainError(502, "AI_ERROR", "card generation failed", nil)
	}
	var resp struct {
		Cards []struct {
			Title       string   `json:"title"`
			Description string   `json:"description"`
			Checklist   []string `json:"checklist"`
		} `json:"cards"`
	}
	cleaned := strings.TrimSpace(strings.TrimPrefix(strings.Trim(strings.TrimSpace(raw), "`"), "json"))
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		log.Printf("kanban: unparseable generation output for session %s: %v", sessionID, err)
		return nil, domainError(502, "AI_ERROR", "card generation returned malformed output", nil)
	}

	out := make([]map[string]any, 0, len(resp.Cards))
	for i, c := range resp.Cards {
		if strings.TrimSpace(c.Title) == "" {
			continue
		}
		card := store.KanbanCard{
			ID:          util.NewID("card"),
			SessionID:   sessionID,
			Title:       strings.TrimSpace(c.Title),
			Description: c.Description,
			Lane:        "todo",
			AIGenerated: true,
			OrderIndex:  i,
			CreatedBy:   userID,
		}
		if err := s.store.InsertKanbanCard(ctx, card); err != nil {
			return nil, err
		}
		var items []store.ChecklistItem
		for j, text := range c.Checklist {
			if strings.TrimSpace(text) == "" {
				continue
			}
			item := store.ChecklistItem{
				ID:         util.NewID("chk"),
				CardID:     card.ID,
				Text:       strings.TrimSpace(text),
				OrderIndex: j,
			}
			if err := s.store.InsertChecklistItem(ctx, item); err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		out = append(out, cardPayload(card, items))
	}
	return out, nil
}

func cardPayload(c store.KanbanCard, items []store.ChecklistItem) map[string]any {
	checklist := make([]map[string]any, 0, len(items))
	for _, it := range items {
		checklist = append(checklist, checklistPayload(it))
	}
	return map[string]any{
		"id":          c.ID,
		"sessionId":   c.SessionID,
		"title":       c.Title,
		"description": c.Description,
		"lane":        c.Lane,
		"aiGenerated": c.AIGenerated,
		"orderIndex":  c.OrderIndex,
		"createdBy":   c.CreatedBy,
		"createdAt":   c.CreatedAt,
		"updatedAt":   c.UpdatedAt,
		"checklist":   checklist,
	}
}

func checklistPayload(it store.ChecklistItem) map[string]any {
	return map[string]any{
		"id":         it.ID,
		"text":       it.Text,
		"done":       it.Done,
		"orderIndex": it.OrderIndex,
	}
}

func commentPayload(cm store.CardComment) map[string]any {
	return map[string]any{
		"id":        cm.ID,
		"cardId":    cm.CardID,
		"author":    cm.Author,
		"body":      cm.Body,
		"createdAt": cm.CreatedAt,
	}
}
