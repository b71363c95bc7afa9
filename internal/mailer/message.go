package mailer

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"path/filepath"
	"strings"
	"time"

	"magpipeline/internal/model"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	base64LineLen   = 76
)

// Envelope 组装好的一封邮件
type Envelope struct {
	From       string
	Recipients []string // To + Cc
	MessageID  string
	Data       []byte
}

// Compose 生成 multipart/mixed 邮件：纯文本正文 + 可选附件 + 抄送与线程头
func Compose(from, fromName string, msg model.OutboundMessage, messageID string, now time.Time) (*Envelope, error) {
	to := strings.TrimSpace(msg.To)
	if to == "" {
		return nil, fmt.Errorf("message has no recipient")
	}
	cc := make([]string, 0, len(msg.Cc))
	for _, c := range msg.Cc {
		if c = strings.TrimSpace(c); c != "" {
			cc = append(cc, c)
		}
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	var head bytes.Buffer
	writeHeader(&head, "From", formatAddress(fromName, from))
	writeHeader(&head, "To", to)
	if len(cc) > 0 {
		writeHeader(&head, "Cc", strings.Join(cc, ", "))
	}
	writeHeader(&head, "Subject", mime.QEncoding.Encode("utf-8", CleanSubject(msg.Subject)))
	writeHeader(&head, "Date", now.Format(time.RFC1123Z))
	if id := CleanMessageID(messageID); id != "" {
		writeHeader(&head, "Message-ID", id)
	}
	if inReplyTo, refs := threadingHeaders(msg.InReplyTo, msg.References); inReplyTo != "" {
		writeHeader(&head, "In-Reply-To", inReplyTo)
		writeHeader(&head, "References", strings.Join(refs, " "))
	}
	writeHeader(&head, "MIME-Version", "1.0")
	writeHeader(&head, "Content-Type", fmt.Sprintf("multipart/mixed; boundary=%q", mw.Boundary()))
	head.WriteString("\r\n")

	textPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/plain; charset=UTF-8"},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return nil, err
	}
	qp := quotedprintable.NewWriter(textPart)
	if _, err := qp.Write([]byte(normalizeNewlines(msg.Body))); err != nil {
		return nil, err
	}
	if err := qp.Close(); err != nil {
		return nil, err
	}

	if att := msg.Attachment; att != nil {
		name := filepath.Base(att.Filename)
		ctype := att.ContentType
		if ctype == "" {
			ctype = xlsxContentType
		}
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {mime.FormatMediaType(ctype, map[string]string{"name": name})},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": name})},
		})
		if err != nil {
			return nil, err
		}
		if err := writeBase64Lines(part, att.Data); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	recipients := make([]string, 0, 1+len(cc))
	for _, r := range append([]string{to}, cc...) {
		recipients = append(recipients, bareAddress(r))
	}
	data := append(head.Bytes(), body.Bytes()...)
	return &Envelope{
		From:       from,
		Recipients: recipients,
		MessageID:  CleanMessageID(messageID),
		Data:       data,
	}, nil
}

func writeHeader(b *bytes.Buffer, key, value string) {
	b.WriteString(key)
	b.WriteString(": ")
	b.WriteString(strings.Join(strings.Fields(stripControl(value)), " "))
	b.WriteString("\r\n")
}

func formatAddress(name, addr string) string {
	if name == "" {
		return addr
	}
	return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", name), addr)
}

func bareAddress(s string) string {
	if addr, err := mail.ParseAddress(s); err == nil {
		return addr.Address
	}
	return strings.Trim(s, "<> ")
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

func writeBase64Lines(w io.Writer, data []byte) error {
	enc := base64.StdEncoding.EncodeToString(data)
	for len(enc) > 0 {
		n := base64LineLen
		if len(enc) < n {
			n = len(enc)
		}
		if _, err := w.Write([]byte(enc[:n] + "\r\n")); err != nil {
			return err
		}
		enc = enc[n:]
	}
	return nil
}
