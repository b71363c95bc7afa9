package api

import (
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"magpipeline/internal/model"
)

// Inbound 接收一封入站邮件并投递到收件目录
// POST /api/inbound (multipart: from, subject, message_id, references, attachment)
func (h *Handler) Inbound(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的表单数据"})
		return
	}

	msg := model.InboundMessage{
		From:       strings.TrimSpace(c.PostForm("from")),
		Subject:    strings.TrimSpace(c.PostForm("subject")),
		MessageID:  strings.TrimSpace(c.PostForm("message_id")),
		References: strings.Fields(c.PostForm("references")),
		ReceivedAt: h.now().UTC(),
	}
	if msg.From == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少发件人"})
		return
	}

	for _, fh := range form.File["attachment"] {
		att, err := readUpload(fh)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "读取附件失败"})
			return
		}
		msg.Attachments = append(msg.Attachments, att)
	}

	id, err := h.spool.Enqueue(msg)
	if err != nil {
		h.logger.Error("enqueue inbound message", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "投递失败"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

func readUpload(fh *multipart.FileHeader) (model.Attachment, error) {
	f, err := fh.Open()
	if err != nil {
		return model.Attachment{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return model.Attachment{}, err
	}
	return model.Attachment{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
