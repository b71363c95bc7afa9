package template

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"magpipeline/internal/exporter"
	"magpipeline/internal/model"
	"magpipeline/internal/parser"
)

const (
	activeFileName = "active.xlsx"
	backupPrefix   = "template_backup_"
	backupExt      = ".xlsx"
	backupLayout   = "20060102_150405"
)

// ErrBackupNotFound 备份不存在
var ErrBackupNotFound = errors.New("template backup not found")

var backupKeyRe = regexp.MustCompile(`^template_backup_(\d{8}_\d{6})(?:_(\d{3,}))?$`)

// BackupIndex 备份索引（可选，通常由 SQLite 实现）
type BackupIndex interface {
	RecordTemplateBackup(ctx context.Context, b model.TemplateBackup) error
}

// Options 模板仓库配置
type Options struct {
	Dir       string // 存放 active.xlsx
	BackupDir string
	Layout    LayoutOptions
	SeedPath  string // 首次启动时的种子模板；为空使用内置版式
	Synonyms  parser.SynonymSource
	Index     BackupIndex
	Logger    *zap.Logger
	Now       func() time.Time
}

// Store 当前模板 + 只追加的备份
//
// 读者只加载指针，写者串行。
type Store struct {
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	active atomic.Pointer[model.Template]

	mu       sync.Mutex
	lastBase string
	lastSeq  int
}

// Open 打开模板仓库；目录中没有当前模板时写入种子模板
func Open(opts Options) (*Store, error) {
	if err := requireNonEmptyString(opts.Dir, "template dir is empty"); err != nil {
		return nil, err
	}
	if opts.BackupDir == "" {
		opts.BackupDir = filepath.Join(opts.Dir, "backups")
	}
	if opts.Layout.Sheet == "" && opts.Layout.HeaderRow == 0 {
		opts.Layout = DefaultLayoutOptions()
	}
	if opts.Synonyms == nil {
		opts.Synonyms = parser.StaticSynonyms(parser.DefaultSynonyms())
	}
	s := &Store{
		opts:   opts,
		logger: opts.Logger,
		now:    opts.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("template")
	if s.now == nil {
		s.now = time.Now
	}

	if err := ensureDir(opts.Dir); err != nil {
		return nil, fmt.Errorf("create template dir: %w", err)
	}
	if err := ensureDir(opts.BackupDir); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	if err := s.scanBackups(); err != nil {
		return nil, err
	}

	path := s.activePath()
	if !fileExists(path) {
		data, err := s.seedBytes()
		if err != nil {
			return nil, err
		}
		if _, err := s.parse(data); err != nil {
			return nil, fmt.Errorf("seed template: %w", err)
		}
		if err := writeFileAtomic(path, data); err != nil {
			return nil, fmt.Errorf("write seed template: %w", err)
		}
		s.logger.Info("seeded active template", zap.String("path", path), zap.String("seed", opts.SeedPath))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read active template: %w", err)
	}
	tmpl, err := s.parse(data)
	if err != nil {
		return nil, fmt.Errorf("load active template: %w", err)
	}
	s.active.Store(tmpl)
	return s, nil
}

func (s *Store) seedBytes() ([]byte, error) {
	if p := strings.TrimSpace(s.opts.SeedPath); p != "" {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read seed template: %w", err)
		}
		return data, nil
	}
	return exporter.DefaultTemplateBytes(exporter.TemplateOptions{
		Sheet:       s.opts.Layout.Sheet,
		HeaderRow:   s.opts.Layout.HeaderRow,
		FirstColumn: s.opts.Layout.FirstColumn,
		Year:        s.baseYear(),
	})
}

func (s *Store) baseYear() int {
	if s.opts.Layout.BaseYear > 0 {
		return s.opts.Layout.BaseYear
	}
	return s.now().Year()
}

func (s *Store) parse(data []byte) (*model.Template, error) {
	opts := s.opts.Layout
	opts.BaseYear = s.baseYear()
	return ParseTemplate(data, opts, s.opts.Synonyms.Current())
}

func (s *Store) activePath() string {
	return filepath.Join(s.opts.Dir, activeFileName)
}

// GetActive 当前模板（不可变）
func (s *Store) GetActive() *model.Template {
	return s.active.Load()
}

// Validate 只校验不写入
func (s *Store) Validate(data []byte) (*model.Template, error) {
	return s.parse(data)
}

// ReplaceActive 校验候选模板，备份旧模板，原子替换
func (s *Store) ReplaceActive(ctx context.Context, data []byte) (model.TemplateBackup, error) {
	tmpl, err := s.parse(data)
	if err != nil {
		return model.TemplateBackup{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.active.Load()
	backup, err := s.writeBackup(prev.Data)
	if err != nil {
		return model.TemplateBackup{}, fmt.Errorf("write template backup: %w", err)
	}
	if err := writeFileAtomic(s.activePath(), tmpl.Data); err != nil {
		// 旧模板仍是当前模板，本次备份不应留下
		if rmErr := os.Remove(backup.Path); rmErr != nil {
			s.logger.Warn("remove orphan backup failed", zap.String("key", backup.Key), zap.Error(rmErr))
		}
		return model.TemplateBackup{}, fmt.Errorf("write active template: %w", err)
	}
	s.active.Store(tmpl)

	if s.opts.Index != nil {
		if err := s.opts.Index.RecordTemplateBackup(ctx, backup); err != nil {
			s.logger.Warn("record template backup failed", zap.String("key", backup.Key), zap.Error(err))
		}
	}
	s.logger.Info("active template replaced",
		zap.String("backup", backup.Key),
		zap.String("version", tmpl.Version),
		zap.Int("columns", len(tmpl.Columns)),
	)
	return backup, nil
}

// Refresh 用当前匹配规则重新派生模板字段（同义词表热更新后调用）
func (s *Store) Refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.active.Load()
	tmpl, err := s.parse(cur.Data)
	if err != nil {
		return err
	}
	s.active.Store(tmpl)
	return nil
}

// writeBackup 调用方持有 s.mu
func (s *Store) writeBackup(data []byte) (model.TemplateBackup, error) {
	now := s.now()
	for attempt := 0; attempt < 1000; attempt++ {
		key := s.nextKey(now)
		path := filepath.Join(s.opts.BackupDir, key+backupExt)
		err := writeFileExclusive(path, data)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return model.TemplateBackup{}, err
		}
		sum := sha256.Sum256(data)
		return model.TemplateBackup{
			Key:       key,
			Path:      path,
			CreatedAt: now,
			Size:      int64(len(data)),
			SHA256:    hex.EncodeToString(sum[:]),
		}, nil
	}
	return model.TemplateBackup{}, errors.New("no free backup key")
}

// nextKey 同一秒（或时钟回拨）内追加递增序号，保证备份键严格递增
func (s *Store) nextKey(now time.Time) string {
	base := now.Format(backupLayout)
	if s.lastBase != "" && base <= s.lastBase {
		base = s.lastBase
		s.lastSeq++
	} else {
		s.lastBase = base
		s.lastSeq = 0
	}
	return formatBackupKey(base, s.lastSeq)
}

func formatBackupKey(base string, seq int) string {
	if seq == 0 {
		return backupPrefix + base
	}
	return fmt.Sprintf("%s%s_%03d", backupPrefix, base, seq)
}

func parseBackupKey(key string) (string, int, bool) {
	m := backupKeyRe.FindStringSubmatch(key)
	if m == nil {
		return "", 0, false
	}
	seq := 0
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return "", 0, false
		}
		seq = n
	}
	return m[1], seq, true
}

func lessBackup(a, b string) bool {
	ab, as, _ := parseBackupKey(a)
	bb, bs, _ := parseBackupKey(b)
	if ab != bb {
		return ab < bb
	}
	return as < bs
}

func (s *Store) scanBackups() error {
	keys, err := s.backupKeys()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	base, seq, _ := parseBackupKey(keys[len(keys)-1])
	s.lastBase = base
	s.lastSeq = seq
	return nil
}

func (s *Store) backupKeys() ([]string, error) {
	entries, err := os.ReadDir(s.opts.BackupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list template backups: %w", err)
	}
	keys := []string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), backupExt) {
			continue
		}
		key := strings.TrimSuffix(e.Name(), backupExt)
		if _, _, ok := parseBackupKey(key); ok {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return lessBackup(keys[i], keys[j]) })
	return keys, nil
}

// ListBackups 按创建顺序返回备份
func (s *Store) ListBackups() ([]model.TemplateBackup, error) {
	keys, err := s.backupKeys()
	if err != nil {
		return nil, err
	}
	out := make([]model.TemplateBackup, 0, len(keys))
	for _, key := range keys {
		path := filepath.Join(s.opts.BackupDir, key+backupExt)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		base, _, _ := parseBackupKey(key)
		created, _ := time.ParseInLocation(backupLayout, base, time.Local)
		out = append(out, model.TemplateBackup{
			Key:       key,
			Path:      path,
			CreatedAt: created,
			Size:      info.Size(),
		})
	}
	return out, nil
}

// GetBackup 读取备份内容
func (s *Store) GetBackup(key string) ([]byte, error) {
	if _, _, ok := parseBackupKey(key); !ok {
		return nil, fmt.Errorf("%w: %s", ErrBackupNotFound, key)
	}
	data, err := os.ReadFile(filepath.Join(s.opts.BackupDir, key+backupExt))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrBackupNotFound, key)
		}
		return nil, err
	}
	return data, nil
}
