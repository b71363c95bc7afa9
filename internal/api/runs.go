package api

import (
	"errors"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"magpipeline/internal/model"
	"magpipeline/internal/service/artifact"
)

// ListRuns 最近的处理记录
// GET /api/runs?limit=50
func (h *Handler) ListRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit 参数错误"})
		return
	}
	logs, err := h.store.ListProcessingLogs(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取处理记录失败"})
		return
	}
	if logs == nil {
		logs = []model.ProcessingLog{}
	}
	c.JSON(http.StatusOK, logs)
}

// DownloadArtifact 下载输入/输出产物
// GET /api/artifacts/outputs/<name>
func (h *Handler) DownloadArtifact(c *gin.Context) {
	handle := strings.TrimPrefix(c.Param("handle"), "/")
	data, err := h.artifacts.Get(c.Request.Context(), handle)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "文件不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取文件失败"})
		return
	}
	sendXLSX(c, path.Base(handle), data)
}
