package exporter

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// DefaultColumns 内置模板的数据列（从第一列起依次排列）
var DefaultColumns = []DefaultColumn{
	{Header: "Capture Manager", Width: 18},
	{Header: "Opportunity Name", Width: 40},
	{Header: "SF Number", Width: 14},
	{Header: "T&E", Width: 8},
	{Header: "Stage", Width: 14},
	{Header: "Positioning", Width: 16},
	{Header: "Ceiling Value ($)", Width: 16},
	{Header: "MAG Value ($)", Width: 16},
	{Header: "Anticipated RFP Date", Width: 14},
	{Header: "RFP Award", Width: 14},
	{Header: "GovWin", Width: 14},
}

// DefaultColumn 内置模板列
type DefaultColumn struct {
	Header string
	Width  float64
}

// TemplateOptions 内置模板版式
type TemplateOptions struct {
	Sheet       string
	HeaderRow   int
	FirstColumn int
	Year        int // 日历列起始年份；生成当年与次年 Q1-Q4
}

const (
	defaultSheet      = "Pipeline"
	calendarColWidth  = 6
	headerFillColor   = "1F3864"
	headerFontColor   = "FFFFFF"
	titleFontSize     = 14
	calendarYearCount = 2
)

func (o TemplateOptions) withDefaults() TemplateOptions {
	if o.Sheet == "" {
		o.Sheet = defaultSheet
	}
	if o.HeaderRow <= 0 {
		o.HeaderRow = 4
	}
	if o.FirstColumn <= 0 {
		o.FirstColumn = 2
	}
	if o.Year <= 0 {
		o.Year = 2025
	}
	return o
}

// NewDefaultTemplateWorkbook 生成内置的 Pipeline 甘特图模板：
// 第 1-3 行为标题，表头行之下冻结窗格，数据列后接两年的季度日历列
func NewDefaultTemplateWorkbook(opts TemplateOptions) (*excelize.File, error) {
	opts = opts.withDefaults()

	wb := excelize.NewFile()
	if err := wb.SetSheetName("Sheet1", opts.Sheet); err != nil {
		_ = wb.Close()
		return nil, err
	}
	if err := buildDefaultSheet(wb, opts); err != nil {
		_ = wb.Close()
		return nil, err
	}
	if err := pinDocProps(wb); err != nil {
		_ = wb.Close()
		return nil, err
	}
	wb.SetActiveSheet(0)
	return wb, nil
}

// DefaultTemplateBytes 内置模板的 xlsx 内容
func DefaultTemplateBytes(opts TemplateOptions) ([]byte, error) {
	wb, err := NewDefaultTemplateWorkbook(opts)
	if err != nil {
		return nil, err
	}
	defer wb.Close()
	buf, err := wb.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write default template: %w", err)
	}
	return buf.Bytes(), nil
}

func buildDefaultSheet(wb *excelize.File, opts TemplateOptions) error {
	sheet := opts.Sheet

	titleStyle, err := wb.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: titleFontSize}})
	if err != nil {
		return err
	}
	headerStyle, err := wb.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: headerFontColor},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{headerFillColor}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
		Border: []excelize.Border{
			{Type: "left", Color: "BFBFBF", Style: 1},
			{Type: "right", Color: "BFBFBF", Style: 1},
			{Type: "top", Color: "BFBFBF", Style: 1},
			{Type: "bottom", Color: "BFBFBF", Style: 1},
		},
	})
	if err != nil {
		return err
	}

	titles := []string{"Salesforce Pipeline", fmt.Sprintf("MAG Gantt Chart FY%d-FY%d", opts.Year, opts.Year+calendarYearCount-1)}
	for i, title := range titles {
		if i+1 >= opts.HeaderRow {
			break
		}
		cell, _ := excelize.CoordinatesToCellName(opts.FirstColumn, i+1)
		if err := wb.SetCellStr(sheet, cell, title); err != nil {
			return err
		}
		if err := wb.SetCellStyle(sheet, cell, cell, titleStyle); err != nil {
			return err
		}
	}

	headers := make([]DefaultColumn, 0, len(DefaultColumns)+4*calendarYearCount)
	headers = append(headers, DefaultColumns...)
	for y := 0; y < calendarYearCount; y++ {
		for q := 1; q <= 4; q++ {
			headers = append(headers, DefaultColumn{Header: fmt.Sprintf("Q%d %d", q, opts.Year+y), Width: calendarColWidth})
		}
	}

	for i, h := range headers {
		col := opts.FirstColumn + i
		cell, err := excelize.CoordinatesToCellName(col, opts.HeaderRow)
		if err != nil {
			return err
		}
		if err := wb.SetCellStr(sheet, cell, h.Header); err != nil {
			return err
		}
		colName, err := excelize.ColumnNumberToName(col)
		if err != nil {
			return err
		}
		if err := wb.SetColWidth(sheet, colName, colName, h.Width); err != nil {
			return err
		}
	}

	first, _ := excelize.CoordinatesToCellName(opts.FirstColumn, opts.HeaderRow)
	last, _ := excelize.CoordinatesToCellName(opts.FirstColumn+len(headers)-1, opts.HeaderRow)
	if err := wb.SetCellStyle(sheet, first, last, headerStyle); err != nil {
		return err
	}
	if err := wb.SetRowHeight(sheet, opts.HeaderRow, defaultRowHeight); err != nil {
		return err
	}

	topLeft, _ := excelize.CoordinatesToCellName(1, opts.HeaderRow+1)
	return wb.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      opts.HeaderRow,
		TopLeftCell: topLeft,
		ActivePane:  "bottomLeft",
	})
}
