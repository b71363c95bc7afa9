package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"magpipeline/internal/inbound"
	"magpipeline/internal/service/artifact"
	tmplstore "magpipeline/internal/service/template"
	"magpipeline/internal/store"
)

// maxUploadBytes 入站附件上限
const maxUploadBytes = 25 << 20

// Handler 管理接口处理器
type Handler struct {
	store     *store.Store
	templates *tmplstore.Store
	artifacts artifact.Store
	spool     *inbound.Spool
	version   string
	logger    *zap.Logger
	now       func() time.Time
}

// Options 处理器依赖
type Options struct {
	Store     *store.Store
	Templates *tmplstore.Store
	Artifacts artifact.Store
	Spool     *inbound.Spool
	Version   string
	Logger    *zap.Logger
	Now       func() time.Time
}

// NewHandler 创建处理器
func NewHandler(opts Options) *Handler {
	h := &Handler{
		store:     opts.Store,
		templates: opts.Templates,
		artifacts: opts.Artifacts,
		spool:     opts.Spool,
		version:   opts.Version,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	h.logger = h.logger.Named("api")
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	// 系统状态
	router.GET("/status", h.GetStatus)
	router.GET("/config", h.GetConfig)

	// 模板
	router.GET("/template", h.DownloadTemplate)
	router.GET("/template/schema", h.GetTemplateSchema)
	router.GET("/template/backups", h.ListBackups)
	router.GET("/template/backups/:key", h.DownloadBackup)

	// 处理记录与产物
	router.GET("/runs", h.ListRuns)
	router.GET("/artifacts/*handle", h.DownloadArtifact)

	// 入站 Webhook
	router.POST("/inbound", h.Inbound)
}
