package mailin

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
)

// Attachment is one decoded file pulled out of an inbound email.
type Attachment struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Message is the normalized form of an inbound email, whichever webhook
// delivered it.
type Message struct {
	MessageID   string
	ThreadID    string
	From        string
	To          string
	Subject     string
	TextBody    string
	Attachments []Attachment
}

// ParseRaw parses a raw RFC 5322 message (the bytes SES wrote to S3)
// into a Message, decoding nested multipart bodies and attachments.
func ParseRaw(raw []byte) (Message, error) {
	m, err := mail.ReadMessage(strings.NewReader(string(raw)))
	if err != nil {
		return Message{}, fmt.Errorf("parse message: %w", err)
	}

	msg := Message{
		MessageID: strings.Trim(m.Header.Get("Message-ID"), "<>"),
		ThreadID:  threadID(m.Header),
		From:      m.Header.Get("From"),
		To:        m.Header.Get("To"),
		Subject:   decodeHeader(m.Header.Get("Subject")),
	}

	contentType := m.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}
	if err := walkPart(&msg, contentType, m.Header.Get("Content-Transfer-Encoding"), "", m.Body); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// threadID prefers In-Reply-To, then the first References entry, then the
// message's own id. Replies in the same conversation all land on the id of
// the first message.
func threadID(h mail.Header) string {
	if v := strings.Trim(h.Get("In-Reply-To"), "<> "); v != "" {
		return v
	}
	if refs := strings.Fields(h.Get("References")); len(refs) > 0 {
		return strings.Trim(refs[0], "<>")
	}
	return strings.Trim(h.Get("Message-ID"), "<>")
}

func decodeHeader(s string) string {
	dec := new(mime.WordDecoder)
	out, err := dec.DecodeHeader(s)
	if err != nil {
		return s
	}
	return out
}

func walkPart(msg *Message, contentType, transferEncoding, fileName string, body io.Reader) error {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return fmt.Errorf("multipart without boundary")
		}
		mr := multipart.NewReader(body, boundary)
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read part: %w", err)
			}
			name := part.FileName()
			if err := walkPart(msg, part.Header.Get("Content-Type"), part.Header.Get("Content-Transfer-Encoding"), name, part); err != nil {
				return err
			}
		}
	}

	data, err := decodeBody(body, transferEncoding)
	if err != nil {
		return err
	}

	if fileName != "" {
		msg.Attachments = append(msg.Attachments, Attachment{
			FileName:    fileName,
			ContentType: mediaType,
			Data:        data,
		})
		return nil
	}

	if mediaType == "text/plain" && msg.TextBody == "" {
		msg.TextBody = strings.TrimSpace(string(data))
	}
	return nil
}

func decodeBody(r io.Reader, transferEncoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(transferEncoding)) {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, newLineStripper(r))
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return data, nil
}

// lineStripper drops CR/LF so base64 bodies wrapped at 76 columns decode.
type lineStripper struct {
	r io.Reader
}

func newLineStripper(r io.Reader) io.Reader { return &lineStripper{r: r} }

func (l *lineStripper) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	w := 0
	for i := 0; i < n; i++ {
		if p[i] == '\r' || p[i] == '\n' {
			continue
		}
		p[w] = p[i]
		w++
	}
	if w == 0 && err == nil {
		return l.Read(p)
	}
	return w, err
}
