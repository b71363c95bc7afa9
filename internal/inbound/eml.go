package inbound

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"magpipeline/internal/model"
)

var wordDecoder = new(mime.WordDecoder)

// ParseEML 解析 RFC 5322 邮件，收集正文外的附件
func ParseEML(r io.Reader) (model.InboundMessage, error) {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return model.InboundMessage{}, fmt.Errorf("read message: %w", err)
	}

	out := model.InboundMessage{
		From:       decodeHeader(msg.Header.Get("From")),
		Subject:    decodeHeader(msg.Header.Get("Subject")),
		MessageID:  strings.TrimSpace(msg.Header.Get("Message-Id")),
		References: strings.Fields(msg.Header.Get("References")),
	}
	if addr, err := mail.ParseAddress(out.From); err == nil {
		out.From = addr.Address
	}
	if date, err := msg.Header.Date(); err == nil {
		out.ReceivedAt = date.UTC()
	}

	atts, err := readParts(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), "", msg.Body)
	if err != nil {
		return model.InboundMessage{}, err
	}
	out.Attachments = atts
	return out, nil
}

func readParts(contentType, encoding, disposition string, body io.Reader) ([]model.Attachment, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(body, params["boundary"])
		var atts []model.Attachment
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return atts, nil
			}
			if err != nil {
				return nil, fmt.Errorf("read mime part: %w", err)
			}
			sub, err := readParts(part.Header.Get("Content-Type"), part.Header.Get("Content-Transfer-Encoding"),
				part.Header.Get("Content-Disposition"), part)
			if err != nil {
				return nil, err
			}
			atts = append(atts, sub...)
		}
	}

	name := attachmentName(disposition, params)
	if name == "" {
		// 无文件名的叶子为正文
		return nil, nil
	}
	data, err := io.ReadAll(decodeTransfer(encoding, body))
	if err != nil {
		return nil, fmt.Errorf("decode attachment %s: %w", name, err)
	}
	return []model.Attachment{{Filename: name, ContentType: mediaType, Data: data}}, nil
}

func attachmentName(disposition string, typeParams map[string]string) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil && params["filename"] != "" {
			return decodeHeader(params["filename"])
		}
	}
	return decodeHeader(typeParams["name"])
}

func decodeTransfer(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, &stripNewlines{r: r})
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default:
		return r
	}
}

func decodeHeader(v string) string {
	decoded, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(decoded)
}

// stripNewlines 去掉 base64 行尾的 CR/LF
type stripNewlines struct {
	r io.Reader
}

func (s *stripNewlines) Read(p []byte) (int, error) {
	for {
		n, err := s.r.Read(p)
		if n == 0 {
			return 0, err
		}
		kept := p[:0]
		for _, b := range p[:n] {
			if b != '\r' && b != '\n' && b != ' ' && b != '\t' {
				kept = append(kept, b)
			}
		}
		if len(kept) > 0 || err != nil {
			return len(kept), err
		}
	}
}

// FormatEML 把入站消息写回 .eml，用于本地投递和测试
func FormatEML(msg model.InboundMessage) []byte {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	var head bytes.Buffer
	fmt.Fprintf(&head, "From: %s\r\n", msg.From)
	fmt.Fprintf(&head, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	if msg.MessageID != "" {
		fmt.Fprintf(&head, "Message-ID: %s\r\n", msg.MessageID)
	}
	if len(msg.References) > 0 {
		fmt.Fprintf(&head, "References: %s\r\n", strings.Join(msg.References, " "))
	}
	received := msg.ReceivedAt
	if received.IsZero() {
		received = time.Now()
	}
	fmt.Fprintf(&head, "Date: %s\r\n", received.Format(time.RFC1123Z))
	fmt.Fprintf(&head, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&head, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", w.Boundary())

	text, _ := w.CreatePart(map[string][]string{"Content-Type": {"text/plain; charset=utf-8"}})
	_, _ = io.WriteString(text, "\r\n")
	for _, att := range msg.Attachments {
		ct := att.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		part, _ := w.CreatePart(map[string][]string{
			"Content-Type":              {ct},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": att.Filename})},
		})
		enc := base64.StdEncoding.EncodeToString(att.Data)
		for len(enc) > 76 {
			_, _ = io.WriteString(part, enc[:76]+"\r\n")
			enc = enc[76:]
		}
		_, _ = io.WriteString(part, enc+"\r\n")
	}
	_ = w.Close()
	return append(head.Bytes(), buf.Bytes()...)
}
