package parser

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrUnreadableWorkbook 附件无法作为工作簿读取
var ErrUnreadableWorkbook = errors.New("unreadable workbook")

const (
	headerScanRows   = 30
	minHeaderHits    = 3
	summaryRowMarker = "total"
)

// RawReport 原始报表（Salesforce 导出）的清洗结果
type RawReport struct {
	Sheet      string     `json:"sheet"`
	HeaderRow  int        `json:"headerRow"` // 表头所在行（1 起）
	Header     []string   `json:"header"`
	Rows       [][]string `json:"-"`
	RowNumbers []int      `json:"-"`
	Summary    []string   `json:"-"`
	SummaryRow int        `json:"summaryRow,omitempty"`
	Excluded   int        `json:"excluded"`
}

// ReadRawReport 读取并清洗原始报表
//
// 表头行通过关键词命中数自动识别；去掉前导空列、空行、带免责声明/版权信息的行；
// 首列为 "Total" 的行单独保存为汇总行。
func ReadRawReport(r io.Reader, syn *Synonyms) (*RawReport, error) {
	if syn == nil {
		syn = DefaultSynonyms()
	}
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableWorkbook, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrUnreadableWorkbook)
	}
	sheet := sheets[0]
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableWorkbook, err)
	}
	return cleanRawRows(sheet, rows, syn), nil
}

func cleanRawRows(sheet string, rows [][]string, syn *Synonyms) *RawReport {
	rep := &RawReport{Sheet: sheet, Header: []string{}, Rows: [][]string{}, RowNumbers: []int{}}

	headerIdx := detectHeaderRow(rows, syn)
	if headerIdx < 0 {
		return rep
	}
	rep.HeaderRow = headerIdx + 1

	header := rows[headerIdx]
	offset := 0
	for offset < len(header) && strings.TrimSpace(header[offset]) == "" {
		offset++
	}
	for _, h := range header[offset:] {
		rep.Header = append(rep.Header, CleanHeader(h))
	}
	for len(rep.Header) > 0 && rep.Header[len(rep.Header)-1] == "" {
		rep.Header = rep.Header[:len(rep.Header)-1]
	}

	for i := headerIdx + 1; i < len(rows); i++ {
		row := alignRow(rows[i], offset, len(rep.Header))
		if isEmptyRow(row) {
			continue
		}
		if isExcludedRow(row, syn.ExclusionKeywords) {
			rep.Excluded++
			continue
		}
		if strings.EqualFold(strings.TrimSpace(row[0]), summaryRowMarker) {
			if rep.Summary == nil {
				rep.Summary = row
				rep.SummaryRow = i + 1
			}
			continue
		}
		rep.Rows = append(rep.Rows, row)
		rep.RowNumbers = append(rep.RowNumbers, i+1)
	}
	return rep
}

// detectHeaderRow 返回表头行下标；找不到任何非空行时返回 -1
func detectHeaderRow(rows [][]string, syn *Synonyms) int {
	best, bestHits := -1, 0
	limit := len(rows)
	if limit > headerScanRows {
		limit = headerScanRows
	}
	for i := 0; i < limit; i++ {
		if hits := scoreHeaderRow(rows[i], syn); hits > bestHits {
			best, bestHits = i, hits
		}
	}
	if bestHits >= minHeaderHits {
		return best
	}
	for i, row := range rows {
		if countNonEmpty(row) >= 2 {
			return i
		}
	}
	for i, row := range rows {
		if !isEmptyRow(row) {
			return i
		}
	}
	return -1
}

func scoreHeaderRow(row []string, syn *Synonyms) int {
	hits := 0
	for _, cell := range row {
		cell = strings.TrimSpace(cell)
		if cell == "" || len(cell) > 80 {
			continue
		}
		if ContainsAny(cell, syn.HeaderStopwords) {
			continue
		}
		if ContainsAny(cell, syn.HeaderKeywords) {
			hits++
		}
	}
	return hits
}

func alignRow(row []string, offset, width int) []string {
	out := make([]string, width)
	for j := 0; j < width; j++ {
		if k := j + offset; k < len(row) {
			out[j] = strings.TrimSpace(row[k])
		}
	}
	return out
}

func isEmptyRow(row []string) bool {
	return countNonEmpty(row) == 0
}

func countNonEmpty(row []string) int {
	n := 0
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			n++
		}
	}
	return n
}

func isExcludedRow(row []string, keywords []string) bool {
	for j := 0; j < len(row) && j < 2; j++ {
		if ContainsAny(row[j], keywords) {
			return true
		}
	}
	return false
}
