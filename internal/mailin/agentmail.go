package mailin

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// AgentMailPayload is the legacy full-content webhook body: the provider
// delivers the message inline instead of pointing into object storage.
type AgentMailPayload struct {
	MessageID   string `json:"message_id"`
	ThreadID    string `json:"thread_id"`
	From        string `json:"from"`
	To          string `json:"to"`
	Subject     string `json:"subject"`
	Text        string `json:"text"`
	Attachments []struct {
		FileName    string `json:"filename"`
		ContentType string `json:"content_type"`
		Content     string `json:"content"` // base64
	} `json:"attachments"`
}

// ParseAgentMail converts a legacy webhook body into a Message.
func ParseAgentMail(body []byte) (Message, error) {
	var p AgentMailPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Message{}, fmt.Errorf("parse agentmail payload: %w", err)
	}
	if p.MessageID == "" {
		return Message{}, fmt.Errorf("agentmail payload missing message id")
	}

	msg := Message{
		MessageID: p.MessageID,
		ThreadID:  p.ThreadID,
		From:      p.From,
		To:        strings.ToLower(strings.TrimSpace(p.To)),
		Subject:   p.Subject,
		TextBody:  p.Text,
	}
	if msg.ThreadID == "" {
		msg.ThreadID = p.MessageID
	}

	for _, a := range p.Attachments {
		data, err := base64.StdEncoding.DecodeString(a.Content)
		if err != nil {
			return Message{}, fmt.Errorf("decode attachment %s: %w", a.FileName, err)
		}
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		msg.Attachments = append(msg.Attachments, Attachment{
			FileName:    a.FileName,
			ContentType: ct,
			Data:        data,
		})
	}
	return msg, nil
}
