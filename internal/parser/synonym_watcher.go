package parser

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// SynonymWatcher 监听 synonyms.yaml，变更后热加载
//
// 加载失败时保留上一版规则。
type SynonymWatcher struct {
	path    string
	logger  *zap.Logger
	current atomic.Pointer[Synonyms]

	debounce time.Duration
	watcher  *fsnotify.Watcher

	onReload func(*Synonyms)

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSynonymWatcher 加载初始规则并创建监听器
func NewSynonymWatcher(path string, logger *zap.Logger) (*SynonymWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s, err := LoadSynonyms(path)
	if err != nil {
		return nil, err
	}
	w := &SynonymWatcher{
		path:     path,
		logger:   logger.Named("synonyms"),
		debounce: 300 * time.Millisecond,
	}
	w.current.Store(s)
	return w, nil
}

// Current 当前生效的规则
func (w *SynonymWatcher) Current() *Synonyms {
	return w.current.Load()
}

// Reload 立即重新加载
func (w *SynonymWatcher) Reload() error {
	s, err := LoadSynonyms(w.path)
	if err != nil {
		return err
	}
	w.current.Store(s)
	return nil
}

// OnReload 注册热加载成功后的回调；需在 Start 之前调用
func (w *SynonymWatcher) OnReload(fn func(*Synonyms)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = fn
}

// Start 开始监听文件所在目录（编辑器保存常为替换文件）
func (w *SynonymWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running || w.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = watcher.Close()
		return err
	}
	w.watcher = watcher
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true

	go w.run(ctx)
	return nil
}

// Stop 停止监听并等待退出
func (w *SynonymWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	<-w.doneCh
}

// run 退出（ctx 结束或 Stop）时关闭 fsnotify 监听器
func (w *SynonymWatcher) run(ctx context.Context) {
	defer close(w.doneCh)
	defer func() {
		if err := w.watcher.Close(); err != nil {
			w.logger.Warn("close watcher", zap.Error(err))
		}
	}()

	target := filepath.Clean(w.path)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if err := w.Reload(); err != nil {
				w.logger.Warn("reload synonyms failed, keeping previous rules", zap.String("path", w.path), zap.Error(err))
				continue
			}
			w.logger.Info("synonyms reloaded", zap.String("path", w.path), zap.Int("groups", len(w.Current().Groups)))
			if w.onReload != nil {
				w.onReload(w.Current())
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}
