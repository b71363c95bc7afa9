package api

import (
	"errors"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"

	"magpipeline/internal/model"
	tmplstore "magpipeline/internal/service/template"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// TemplateSchemaResponse 模板版式
type TemplateSchemaResponse struct {
	Version string         `json:"version"`
	Layout  model.Layout   `json:"layout"`
	Columns []model.Column `json:"columns"`
}

// DownloadTemplate 下载当前模板
// GET /api/template
func (h *Handler) DownloadTemplate(c *gin.Context) {
	tmpl := h.templates.GetActive()
	if tmpl == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "没有可用模板"})
		return
	}
	sendXLSX(c, "MAG_Pipeline_Template.xlsx", tmpl.Bytes())
}

// GetTemplateSchema 当前模板的列定义
// GET /api/template/schema
func (h *Handler) GetTemplateSchema(c *gin.Context) {
	tmpl := h.templates.GetActive()
	if tmpl == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "没有可用模板"})
		return
	}
	c.JSON(http.StatusOK, TemplateSchemaResponse{Version: tmpl.Version, Layout: tmpl.Layout, Columns: tmpl.Columns})
}

// ListBackups 模板备份列表（旧在前）
// GET /api/template/backups
func (h *Handler) ListBackups(c *gin.Context) {
	backups, err := h.templates.ListBackups()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取备份失败"})
		return
	}
	if backups == nil {
		backups = []model.TemplateBackup{}
	}
	c.JSON(http.StatusOK, backups)
}

// DownloadBackup 下载指定备份
// GET /api/template/backups/:key
func (h *Handler) DownloadBackup(c *gin.Context) {
	key := c.Param("key")
	data, err := h.templates.GetBackup(key)
	if err != nil {
		if errors.Is(err, tmplstore.ErrBackupNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "备份不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取备份失败"})
		return
	}
	sendXLSX(c, key+".xlsx", data)
}

func sendXLSX(c *gin.Context, filename string, data []byte) {
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	c.Data(http.StatusOK, xlsxContentType, data)
}
