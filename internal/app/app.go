// Package app 按配置组装全部组件。
package app

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"magpipeline/internal/api"
	"magpipeline/internal/config"
	"magpipeline/internal/exporter"
	"magpipeline/internal/inbound"
	"magpipeline/internal/mailer"
	"magpipeline/internal/parser"
	"magpipeline/internal/pipeline"
	"magpipeline/internal/scheduler"
	"magpipeline/internal/server"
	"magpipeline/internal/service/artifact"
	"magpipeline/internal/service/notify"
	"magpipeline/internal/service/protocol"
	tmplstore "magpipeline/internal/service/template"
	"magpipeline/internal/store"
)

// Version 构建版本
var Version = "dev"

// App 运行时组件
type App struct {
	Config    *config.AppConfig
	Logger    *zap.Logger
	Store     *store.Store
	Templates *tmplstore.Store
	Synonyms  *parser.SynonymWatcher
	Artifacts *artifact.FSStore
	Spool     *inbound.Spool
	Machine   *protocol.Machine
	Pipeline  *pipeline.Pipeline
	Poller    *scheduler.Poller
	Server    *server.Server

	closers []io.Closer
}

// New 组装应用
func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			err = multierr.Append(err, a.Close())
		}
	}()

	dataDir, err := config.EnsureDataDir(cfg)
	if err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	a.Store, err = store.New(filepath.Join(dataDir, cfg.Data.DBFile))
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	a.closers = append(a.closers, a.Store)

	a.Synonyms, err = parser.NewSynonymWatcher(cfg.ResolvePath(cfg.Data.SynonymsPath), logger)
	if err != nil {
		return nil, fmt.Errorf("load synonyms: %w", err)
	}

	topts, err := TemplateOptions(cfg, dataDir, a.Synonyms, a.Store, logger)
	if err != nil {
		return nil, err
	}
	a.Templates, err = tmplstore.Open(topts)
	if err != nil {
		return nil, fmt.Errorf("open template store: %w", err)
	}
	a.Synonyms.OnReload(func(*parser.Synonyms) {
		if err := a.Templates.Refresh(); err != nil {
			logger.Warn("refresh template after synonym reload", zap.Error(err))
		}
	})

	a.Artifacts, err = artifact.NewFSStore(dataDir)
	if err != nil {
		return nil, err
	}
	a.Spool, err = inbound.NewSpool(filepath.Join(dataDir, "inbox"), logger)
	if err != nil {
		return nil, err
	}

	states, err := a.stateStore(ctx)
	if err != nil {
		return nil, err
	}
	allow := protocol.NewAllowList(cfg.Mail.AuthorizedEmails)
	a.Machine = protocol.NewMachine(protocol.Options{
		States:     states,
		Templates:  a.Templates,
		Allow:      allow,
		PendingTTL: cfg.Protocol.PendingTTL.Duration,
		Logger:     logger,
	})

	notifier, err := notify.New(notify.Options{
		Admins:            cfg.Mail.AdminEmails,
		ReplyUnauthorized: cfg.Mail.ReplyUnauthorized,
	})
	if err != nil {
		return nil, err
	}

	a.Pipeline, err = pipeline.New(pipeline.Options{
		Templates:    a.Templates,
		Machine:      a.Machine,
		Allow:        allow,
		Synonyms:     a.Synonyms,
		Resolver:     parser.NewResolver(a.Synonyms, parser.WithMAGShare(cfg.Render.MAGShare)),
		Renderer:     NewRenderer(cfg),
		Artifacts:    a.Artifacts,
		Notifier:     notifier,
		Sender:       a.sender(dataDir),
		Logs:         a.Store,
		OutputPrefix: cfg.Render.OutputPrefix,
		PendingTTL:   cfg.Protocol.PendingTTL.Duration,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	a.Poller = scheduler.NewPoller(cfg.Poll.Interval.Duration, a.drain, logger)
	a.Server = server.NewServer(api.NewHandler(api.Options{
		Store:     a.Store,
		Templates: a.Templates,
		Artifacts: a.Artifacts,
		Spool:     a.Spool,
		Version:   Version,
		Logger:    logger,
	}), cfg.Server.DevMode, logger)

	logger.Info("application ready",
		zap.String("dataDir", dataDir),
		zap.String("stateBackend", cfg.Protocol.StateBackend),
		zap.Int("authorized", allow.Len()),
		zap.String("template", a.Templates.GetActive().Version),
	)
	return a, nil
}

// TemplateOptions 按配置生成模板仓库参数
func TemplateOptions(cfg *config.AppConfig, dataDir string, syn parser.SynonymSource, index tmplstore.BackupIndex, logger *zap.Logger) (tmplstore.Options, error) {
	firstCol, err := cfg.FirstColumnIndex()
	if err != nil {
		return tmplstore.Options{}, err
	}
	return tmplstore.Options{
		Dir:       filepath.Join(dataDir, "templates"),
		BackupDir: filepath.Join(dataDir, "backups"),
		Layout: tmplstore.LayoutOptions{
			Sheet:       cfg.Render.Sheet,
			HeaderRow:   cfg.Render.HeaderRow,
			DataRow:     cfg.Render.DataRow,
			FirstColumn: firstCol,
			BaseYear:    cfg.Render.BaseYear,
		},
		SeedPath: cfg.ResolvePath(cfg.Data.TemplatePath),
		Synonyms: syn,
		Index:    index,
		Logger:   logger,
	}, nil
}

// NewRenderer 按配置创建导出器
func NewRenderer(cfg *config.AppConfig) *exporter.Renderer {
	return exporter.NewRenderer(exporter.RenderOptions{
		GroupByManager: cfg.Render.GroupByManager,
		BarColor:       cfg.Render.BarColor,
		RowHeight:      cfg.Render.RowHeight,
	})
}

func (a *App) stateStore(ctx context.Context) (protocol.StateStore, error) {
	switch a.Config.Protocol.StateBackend {
	case "memory":
		return protocol.NewMemoryStateStore(time.Now), nil
	case "redis":
		rs, err := protocol.NewRedisStateStore(ctx, a.Config.Redis.URL, a.Config.Redis.Prefix)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, rs)
		return rs, nil
	default:
		return protocol.NewSQLStateStore(a.Store), nil
	}
}

func (a *App) sender(dataDir string) mailer.Sender {
	mc := mailer.Config{
		Host:          a.Config.Mail.SMTPServer,
		Port:          a.Config.Mail.SMTPPort,
		Username:      a.Config.Mail.Username,
		Password:      a.Config.Mail.Password,
		From:          a.Config.Mail.From,
		FromName:      a.Config.Mail.FromName,
		RatePerMinute: a.Config.Mail.RatePerMinute,
	}
	if mc.IsConfigured() && mc.Password != "" {
		return mailer.NewSMTPSender(mc, a.Logger)
	}
	a.Logger.Warn("SMTP is not configured, replies are written to the outbox", zap.String("dir", filepath.Join(dataDir, "outbox")))
	return mailer.NewOutboxSender(filepath.Join(dataDir, "outbox"), mc.From, a.Logger)
}

// drain 一轮收件处理，并记录轮询统计
func (a *App) drain(ctx context.Context) (int, error) {
	n, err := a.Pipeline.Drain(ctx, a.Spool)
	if recErr := a.Store.RecordPoll(ctx, time.Now(), n); recErr != nil {
		a.Logger.Warn("record poll", zap.Error(recErr))
	}
	return n, err
}

// Run 启动 HTTP 服务、轮询与同义词热加载，直到 ctx 结束
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if err := a.Synonyms.Start(ctx); err != nil {
		a.Logger.Warn("synonym hot reload disabled", zap.Error(err))
	}
	defer a.Synonyms.Stop()

	if a.Config.Poll.Enabled {
		if err := a.Poller.Start(ctx); err != nil {
			return err
		}
		g.Go(func() error {
			<-ctx.Done()
			a.Poller.Stop()
			return nil
		})
	}

	addr := ":" + strconv.Itoa(a.Config.Server.Port)
	g.Go(func() error {
		return a.Server.Run(ctx, addr)
	})
	return g.Wait()
}

// Close 释放资源
func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i].Close())
	}
	a.closers = nil
	return err
}
