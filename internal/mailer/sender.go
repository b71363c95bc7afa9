package mailer

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"magpipeline/internal/model"
)

// Sender 出站邮件通道
type Sender interface {
	Send(ctx context.Context, msg model.OutboundMessage) error
}

// Config SMTP 配置
type Config struct {
	Host          string
	Port          string
	Username      string
	Password      string
	From          string
	FromName      string
	RatePerMinute int // 0 表示不限速
}

// IsConfigured SMTP 是否可用
func (c Config) IsConfigured() bool {
	return c.Host != "" && c.Port != "" && c.From != ""
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender 通过 SMTP 发送
type SMTPSender struct {
	config  Config
	server  string
	auth    smtp.Auth
	limiter *rate.Limiter
	send    sendFunc
	logger  *zap.Logger
	now     func() time.Time
}

// NewSMTPSender 创建 SMTP 发送器
func NewSMTPSender(config Config, logger *zap.Logger) *SMTPSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &SMTPSender{
		config:  config,
		server:  net.JoinHostPort(config.Host, config.Port),
		auth:    auth,
		limiter: newLimiter(config.RatePerMinute),
		send:    smtp.SendMail,
		logger:  logger.Named("mailer"),
		now:     time.Now,
	}
}

func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// Send 组装并发送邮件
func (s *SMTPSender) Send(ctx context.Context, msg model.OutboundMessage) error {
	if !s.config.IsConfigured() {
		return fmt.Errorf("email not configured")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for send slot: %w", err)
	}

	env, err := Compose(s.config.From, s.config.FromName, msg, NewMessageID(s.config.From), s.now())
	if err != nil {
		return fmt.Errorf("compose message: %w", err)
	}
	if err := s.send(s.server, s.auth, env.From, env.Recipients, env.Data); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	s.logger.Info("email sent",
		zap.String("to", msg.To),
		zap.Strings("cc", msg.Cc),
		zap.String("subject", msg.Subject),
		zap.String("messageId", env.MessageID),
	)
	return nil
}

// NewMessageID 生成 <uuid@发件域> 形式的 Message-ID
func NewMessageID(from string) string {
	domain := "magpipeline.local"
	if i := strings.LastIndexByte(from, '@'); i >= 0 && i < len(from)-1 {
		domain = strings.Trim(from[i+1:], "<> ")
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

// OutboxSender 不连接 SMTP，把邮件写成 .eml 文件（SMTP 未配置时使用）
type OutboxSender struct {
	dir    string
	from   string
	logger *zap.Logger
	now    func() time.Time

	mu   sync.Mutex
	sent []model.OutboundMessage
}

// NewOutboxSender 创建落盘发送器
func NewOutboxSender(dir, from string, logger *zap.Logger) *OutboxSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if from == "" {
		from = "bot@magpipeline.local"
	}
	return &OutboxSender{dir: dir, from: from, logger: logger.Named("outbox"), now: time.Now}
}

// Send 写入 outbox 目录
func (o *OutboxSender) Send(_ context.Context, msg model.OutboundMessage) error {
	id := NewMessageID(o.from)
	env, err := Compose(o.from, "", msg, id, o.now())
	if err != nil {
		return fmt.Errorf("compose message: %w", err)
	}
	if err := os.MkdirAll(o.dir, 0755); err != nil {
		return err
	}
	name := fmt.Sprintf("%s_%s.eml", o.now().Format("20060102_150405"), strings.Trim(id, "<>"))
	if err := os.WriteFile(filepath.Join(o.dir, name), env.Data, 0644); err != nil {
		return fmt.Errorf("write outbox: %w", err)
	}

	o.mu.Lock()
	o.sent = append(o.sent, msg)
	o.mu.Unlock()

	o.logger.Info("email written to outbox", zap.String("to", msg.To), zap.String("subject", msg.Subject), zap.String("file", name))
	return nil
}

// Sent 已发送的邮件
func (o *OutboxSender) Sent() []model.OutboundMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]model.OutboundMessage(nil), o.sent...)
}
