package inbound

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"magpipeline/internal/model"
)

const (
	processedDir = "processed"
	failedDir    = "failed"
)

// Delivery 从收件目录取出的一封待处理邮件
type Delivery struct {
	Message model.InboundMessage
	path    string
}

// Name 收件文件名
func (d Delivery) Name() string {
	return filepath.Base(d.path)
}

// Source 入站邮件来源
type Source interface {
	Fetch(ctx context.Context) ([]Delivery, error)
	Ack(d Delivery) error
	Fail(d Delivery, cause error) error
}

// Spool 基于目录的收件箱：*.eml 与 *.json 均可投递
type Spool struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time
	mu     sync.Mutex
}

// NewSpool 创建收件目录及其 processed/failed 子目录
func NewSpool(dir string, logger *zap.Logger) (*Spool, error) {
	if err := requireDir(dir); err != nil {
		return nil, err
	}
	for _, d := range []string{dir, filepath.Join(dir, processedDir), filepath.Join(dir, failedDir)} {
		if err := ensureDir(d); err != nil {
			return nil, fmt.Errorf("create inbox dir: %w", err)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Spool{dir: dir, logger: logger.Named("inbound"), now: time.Now}, nil
}

// Dir 收件目录
func (s *Spool) Dir() string {
	return s.dir
}

// Fetch 按文件名顺序读取全部待处理邮件；无法解析的文件直接移入 failed
func (s *Spool) Fetch(ctx context.Context) ([]Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".eml" || ext == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []Delivery
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		path := filepath.Join(s.dir, name)
		msg, err := s.load(path)
		if err != nil {
			s.logger.Warn("unreadable inbox file", zap.String("file", name), zap.Error(err))
			if moveErr := s.move(path, failedDir); moveErr != nil {
				s.logger.Error("move unreadable file", zap.String("file", name), zap.Error(moveErr))
			}
			continue
		}
		out = append(out, Delivery{Message: msg, path: path})
	}
	return out, nil
}

func (s *Spool) load(path string) (model.InboundMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.InboundMessage{}, err
	}
	var msg model.InboundMessage
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &msg); err != nil {
			return model.InboundMessage{}, fmt.Errorf("decode envelope: %w", err)
		}
	} else {
		msg, err = ParseEML(bytes.NewReader(data))
		if err != nil {
			return model.InboundMessage{}, err
		}
	}
	if strings.TrimSpace(msg.From) == "" {
		return model.InboundMessage{}, errors.New("message has no sender")
	}
	if msg.ID == "" {
		msg.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if msg.ReceivedAt.IsZero() {
		if info, err := os.Stat(path); err == nil {
			msg.ReceivedAt = info.ModTime().UTC()
		}
	}
	msg.Attachments = FilterSpreadsheets(msg.Attachments)
	return msg, nil
}

// Ack 处理完成，移入 processed
func (s *Spool) Ack(d Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.move(d.path, processedDir)
}

// Fail 处理失败，移入 failed
func (s *Spool) Fail(d Delivery, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Warn("inbox message failed", zap.String("file", d.Name()), zap.Error(cause))
	return s.move(d.path, failedDir)
}

func (s *Spool) move(path, sub string) error {
	if path == "" {
		return errors.New("delivery has no file")
	}
	dst := filepath.Join(s.dir, sub, filepath.Base(path))
	if fileExists(dst) {
		ext := filepath.Ext(dst)
		dst = strings.TrimSuffix(dst, ext) + "_" + uuid.NewString()[:8] + ext
	}
	return os.Rename(path, dst)
}

// Enqueue 以 JSON 信封投递一封邮件（Webhook 使用）
func (s *Spool) Enqueue(msg model.InboundMessage) (string, error) {
	if strings.TrimSpace(msg.From) == "" {
		return "", errors.New("sender is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = s.now().UTC()
	}
	msg.Attachments = FilterSpreadsheets(msg.Attachments)

	name := msg.ReceivedAt.UTC().Format("20060102T150405.000000000") + "_" + msg.ID + ".json"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeMessageAtomic(filepath.Join(s.dir, name), msg); err != nil {
		return "", fmt.Errorf("enqueue message: %w", err)
	}
	s.logger.Info("message enqueued",
		zap.String("id", msg.ID),
		zap.String("from", msg.From),
		zap.Int("attachments", len(msg.Attachments)),
	)
	return msg.ID, nil
}
