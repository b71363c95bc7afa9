package inbound

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"magpipeline/internal/model"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var spreadsheetExts = map[string]bool{
	".xlsx": true,
	".xlsm": true,
}

// IsSpreadsheet 按扩展名或内容嗅探判断附件是否为 xlsx 工作簿
func IsSpreadsheet(att model.Attachment) bool {
	if spreadsheetExts[strings.ToLower(filepath.Ext(att.Filename))] {
		return true
	}
	if len(att.Data) == 0 {
		return false
	}
	return mimetype.Detect(att.Data).Is(xlsxMIME)
}

// FilterSpreadsheets 只保留表格附件，并补全 ContentType
func FilterSpreadsheets(atts []model.Attachment) []model.Attachment {
	var out []model.Attachment
	for _, att := range atts {
		if !IsSpreadsheet(att) {
			continue
		}
		if att.ContentType == "" || att.ContentType == "application/octet-stream" {
			att.ContentType = xlsxMIME
		}
		if att.Filename == "" {
			att.Filename = "attachment.xlsx"
		}
		out = append(out, att)
	}
	return out
}
