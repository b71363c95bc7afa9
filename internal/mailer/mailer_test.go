package mailer

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/smtp"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"magpipeline/internal/model"
)

func TestConfigIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{name: "empty config", config: Config{}, expected: false},
		{name: "missing host", config: Config{Port: "587", From: "bot@example.com"}, expected: false},
		{name: "missing port", config: Config{Host: "smtp.example.com", From: "bot@example.com"}, expected: false},
		{name: "missing from", config: Config{Host: "smtp.example.com", Port: "587"}, expected: false},
		{name: "fully configured", config: Config{Host: "smtp.example.com", Port: "587", From: "bot@example.com"}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.config.IsConfigured(); got != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCleanSubject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", defaultSubject},
		{"  Re:\r\n Weekly\tPipeline ", "Re: Weekly Pipeline"},
		{strings.Repeat("x", 250), strings.Repeat("x", 197) + "..."},
	}
	for _, tt := range tests {
		if got := CleanSubject(tt.in); got != tt.want {
			t.Errorf("CleanSubject(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCleanMessageID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"<clean123@example.com>", "<clean123@example.com>"},
		{"<SA1P110MB18627B2@SA1P110\nMB18627.NAMP110.PROD.OUTLOOK.COM>", "<SA1P110MB18627B2@SA1P110MB18627.NAMP110.PROD.OUTLOOK.COM>"},
		{"invalid-message-id", ""},
		{"<no-domain@localhost>", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CleanMessageID(tt.in); got != tt.want {
			t.Errorf("CleanMessageID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCleanReferences(t *testing.T) {
	var refs []string
	for i := 0; i < 15; i++ {
		refs = append(refs, fmt.Sprintf("<m%d@example.com>", i))
	}
	refs = append(refs, "<m14@example.com>", "garbage", "<m1@example.com>\n<m2@bad\rformatted.com>")

	got := CleanReferences(refs)
	require.Len(t, got, maxReferences)
	require.Equal(t, "<m6@example.com>", got[0])
	require.Equal(t, "<m2@badformatted.com>", got[len(got)-1])
}

func TestCompose_MultipartWithAttachment(t *testing.T) {
	payload := bytes.Repeat([]byte("PK\x03\x04 workbook bytes "), 40)
	msg := model.OutboundMessage{
		To:         "Alice <alice@example.com>",
		Cc:         []string{"admin@example.com", " "},
		Subject:    "Your Processed Salesforce Pipeline",
		Body:       "Hello Alice!\nRows written: 3\n",
		Attachment: &model.Attachment{Filename: "out/Pipeline_GanttChart_20250812_155419.xlsx", Data: payload},
		InReplyTo:  "<m2@example.com>",
		References: []string{"<m1@example.com>"},
	}

	env, err := Compose("bot@example.com", "MAG Pipeline Bot", msg, "<id1@example.com>", time.Date(2025, 8, 12, 15, 54, 19, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, []string{"alice@example.com", "admin@example.com"}, env.Recipients)

	parsed, err := mail.ReadMessage(bytes.NewReader(env.Data))
	require.NoError(t, err)
	require.Equal(t, "admin@example.com", parsed.Header.Get("Cc"))
	require.Equal(t, "<id1@example.com>", parsed.Header.Get("Message-ID"))
	require.Equal(t, "<m2@example.com>", parsed.Header.Get("In-Reply-To"))
	require.Equal(t, "<m1@example.com> <m2@example.com>", parsed.Header.Get("References"))
	require.Equal(t, "Your Processed Salesforce Pipeline", parsed.Header.Get("Subject"))

	mediaType, params, err := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	require.NoError(t, err)
	require.Equal(t, "multipart/mixed", mediaType)

	mr := multipart.NewReader(parsed.Body, params["boundary"])
	text, err := mr.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(text)
	require.NoError(t, err)
	require.Contains(t, string(body), "Rows written: 3")

	att, err := mr.NextPart()
	require.NoError(t, err)
	require.Equal(t, "Pipeline_GanttChart_20250812_155419.xlsx", att.FileName())
	raw, err := io.ReadAll(att)
	require.NoError(t, err)
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\r\n") {
		require.LessOrEqual(t, len(line), base64LineLen)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(string(raw), "\r\n", ""))
	require.NoError(t, err)
	require.Equal(t, payload, decoded)

	_, err = mr.NextPart()
	require.ErrorIs(t, err, io.EOF)
}

func TestCompose_DropsInvalidThreading(t *testing.T) {
	env, err := Compose("bot@example.com", "", model.OutboundMessage{To: "a@example.com", Subject: "x", InReplyTo: "bogus"}, "", time.Now())
	require.NoError(t, err)
	parsed, err := mail.ReadMessage(bytes.NewReader(env.Data))
	require.NoError(t, err)
	require.Empty(t, parsed.Header.Get("In-Reply-To"))
	require.Empty(t, parsed.Header.Get("References"))

	_, err = Compose("bot@example.com", "", model.OutboundMessage{Subject: "x"}, "", time.Now())
	require.Error(t, err)
}

func TestSMTPSender_Send(t *testing.T) {
	s := NewSMTPSender(Config{Host: "smtp.example.com", Port: "587", Username: "bot", Password: "pw", From: "bot@example.com"}, nil)
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	s.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	err := s.Send(context.Background(), model.OutboundMessage{To: "alice@example.com", Cc: []string{"admin@example.com"}, Subject: "Help"})
	require.NoError(t, err)
	require.Equal(t, "smtp.example.com:587", gotAddr)
	require.Equal(t, "bot@example.com", gotFrom)
	require.Equal(t, []string{"alice@example.com", "admin@example.com"}, gotTo)
	require.Contains(t, string(gotMsg), "Message-ID: <")

	unconfigured := NewSMTPSender(Config{}, nil)
	require.Error(t, unconfigured.Send(context.Background(), model.OutboundMessage{To: "a@example.com"}))
}

func TestSMTPSender_RateLimitHonoursContext(t *testing.T) {
	s := NewSMTPSender(Config{Host: "smtp.example.com", Port: "587", From: "bot@example.com", RatePerMinute: 1}, nil)
	s.send = func(string, smtp.Auth, string, []string, []byte) error { return nil }

	require.NoError(t, s.Send(context.Background(), model.OutboundMessage{To: "a@example.com"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, s.Send(ctx, model.OutboundMessage{To: "a@example.com"}))
}

func TestOutboxSender(t *testing.T) {
	dir := t.TempDir()
	o := NewOutboxSender(dir, "bot@example.com", nil)

	require.NoError(t, o.Send(context.Background(), model.OutboundMessage{To: "a@example.com", Subject: "Help", Body: "hi"}))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, strings.HasSuffix(entries[0].Name(), ".eml"))
	require.Len(t, o.Sent(), 1)
}
