package model

import "time"

// Attachment 邮件附件
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
}

// InboundMessage 入站邮件
type InboundMessage struct {
	ID          string       `json:"id"`
	From        string       `json:"from"`
	Subject     string       `json:"subject"`
	MessageID   string       `json:"messageId,omitempty"`
	References  []string     `json:"references,omitempty"`
	ReceivedAt  time.Time    `json:"receivedAt"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// FirstAttachment 第一个附件
func (m InboundMessage) FirstAttachment() (Attachment, bool) {
	if len(m.Attachments) == 0 {
		return Attachment{}, false
	}
	return m.Attachments[0], true
}

// OutboundMessage 出站邮件
type OutboundMessage struct {
	To         string      `json:"to"`
	Cc         []string    `json:"cc,omitempty"`
	Subject    string      `json:"subject"`
	Body       string      `json:"body"`
	Attachment *Attachment `json:"attachment,omitempty"`
	InReplyTo  string      `json:"inReplyTo,omitempty"`
	References []string    `json:"references,omitempty"`
}
