package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"magpipeline/internal/store"
)

// StatusResponse 系统状态响应
type StatusResponse struct {
	Version           string `json:"version"`
	TemplateVersion   string `json:"templateVersion"`   // 当前模板 sha256
	TemplateColumns   int    `json:"templateColumns"`   // 非日历列数
	CalendarColumns   int    `json:"calendarColumns"`   // 甘特日历列数
	Backups           int    `json:"backups"`           // 模板备份数
	LastPollAt        string `json:"lastPollAt"`        // 最后一次轮询时间
	MessagesProcessed int    `json:"messagesProcessed"` // 累计处理邮件数
}

// GetStatus 获取系统状态
// GET /api/status
func (h *Handler) GetStatus(c *gin.Context) {
	ctx := c.Request.Context()
	resp := StatusResponse{Version: h.version}

	if tmpl := h.templates.GetActive(); tmpl != nil {
		resp.TemplateVersion = tmpl.Version
		for _, col := range tmpl.Columns {
			if col.Period != nil {
				resp.CalendarColumns++
			} else {
				resp.TemplateColumns++
			}
		}
	}
	if backups, err := h.templates.ListBackups(); err == nil {
		resp.Backups = len(backups)
	}

	lastPoll, err := h.store.GetConfig(ctx, store.ConfigLastPollAt)
	if err != nil && !errors.Is(err, store.ErrConfigNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取状态失败"})
		return
	}
	resp.LastPollAt = lastPoll
	if n, err := h.store.GetConfigInt(ctx, store.ConfigMessagesProcessed); err == nil {
		resp.MessagesProcessed = n
	}

	c.JSON(http.StatusOK, resp)
}

// GetConfig 运行时配置
// GET /api/config
func (h *Handler) GetConfig(c *gin.Context) {
	all, err := h.store.GetAllConfig(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取配置失败"})
		return
	}
	c.JSON(http.StatusOK, all)
}
