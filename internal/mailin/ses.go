package mailin

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SESNotification is the body SES posts for a received email with the S3
// receipt action: metadata plus a pointer to the raw message in the bucket.
type SESNotification struct {
	NotificationType string `json:"notificationType"`
	Mail             struct {
		MessageID     string   `json:"messageId"`
		Source        string   `json:"source"`
		Destination   []string `json:"destination"`
		CommonHeaders struct {
			Subject   string `json:"subject"`
			MessageID string `json:"messageId"`
		} `json:"commonHeaders"`
	} `json:"mail"`
	Receipt struct {
		Action struct {
			Type       string `json:"type"`
			BucketName string `json:"bucketName"`
			ObjectKey  string `json:"objectKey"`
		} `json:"action"`
	} `json:"receipt"`
}

// SESPointer is what the webhook handler needs from a notification: enough
// to de-duplicate and to fetch the raw message from the blob store.
type SESPointer struct {
	MessageID string
	Recipient string
	Subject   string
	Bucket    string
	ObjectKey string
}

// ParseSESNotification validates and flattens an SES inbound notification.
func ParseSESNotification(body []byte) (SESPointer, error) {
	var n SESNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return SESPointer{}, fmt.Errorf("parse ses notification: %w", err)
	}
	if n.NotificationType != "Received" {
		return SESPointer{}, fmt.Errorf("unexpected notification type %q", n.NotificationType)
	}
	if n.Mail.MessageID == "" {
		return SESPointer{}, fmt.Errorf("ses notification missing message id")
	}
	if n.Receipt.Action.Type != "S3" || n.Receipt.Action.ObjectKey == "" {
		return SESPointer{}, fmt.Errorf("ses notification missing s3 pointer")
	}

	recipient := ""
	if len(n.Mail.Destination) > 0 {
		recipient = strings.ToLower(strings.TrimSpace(n.Mail.Destination[0]))
	}

	return SESPointer{
		MessageID: n.Mail.MessageID,
		Recipient: recipient,
		Subject:   n.Mail.CommonHeaders.Subject,
		Bucket:    n.Receipt.Action.BucketName,
		ObjectKey: n.Receipt.Action.ObjectKey,
	}, nil
}
