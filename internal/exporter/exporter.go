package exporter

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"magpipeline/internal/model"
)

const (
	defaultRowHeight = 30
	defaultBarColor  = "4472C4"

	currencyNumFmt = "$#,##0"
	dateNumFmt     = "mm/dd/yyyy"
	numberNumFmt   = "#,##0"
)

// docPropsTime 固定文档属性时间，保证相同输入输出字节一致
var docPropsTime = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// RenderOptions 导出选项
type RenderOptions struct {
	GroupByManager bool    // 有负责人的行在前
	BarColor       string  // 甘特条颜色；为空时取模板日历列颜色
	RowHeight      float64 // 数据行高
}

// Renderer 把已解析记录写入模板，只填充数据区，保留模板的表头、列宽与样式
type Renderer struct {
	opts RenderOptions
}

// NewRenderer 创建导出器
func NewRenderer(opts RenderOptions) *Renderer {
	if opts.RowHeight <= 0 {
		opts.RowHeight = defaultRowHeight
	}
	return &Renderer{opts: opts}
}

// Render 生成输出工作簿；summary 为 nil 时不写合计行
func (r *Renderer) Render(records []model.ResolvedRecord, summary *model.ResolvedRecord, tmpl *model.Template) ([]byte, error) {
	if tmpl == nil || len(tmpl.Data) == 0 {
		return nil, errors.New("template is empty")
	}
	f, err := excelize.OpenReader(bytes.NewReader(tmpl.Data))
	if err != nil {
		return nil, fmt.Errorf("打开模板失败: %w", err)
	}
	defer f.Close()

	sheet := tmpl.Layout.Sheet
	styles, err := r.buildStyles(f, tmpl)
	if err != nil {
		return nil, fmt.Errorf("build styles: %w", err)
	}
	if err := clearDataArea(f, sheet, tmpl.Layout.DataRow); err != nil {
		return nil, fmt.Errorf("clear data area: %w", err)
	}

	rows := SortRecords(records, tmpl.Schema, r.opts.GroupByManager)
	row := tmpl.Layout.DataRow
	for _, rec := range rows {
		if err := r.writeRow(f, sheet, row, rec, tmpl, styles, true); err != nil {
			return nil, fmt.Errorf("写入第 %d 行失败: %w", row, err)
		}
		row++
	}
	if summary != nil {
		if err := r.writeRow(f, sheet, row, *summary, tmpl, styles, false); err != nil {
			return nil, fmt.Errorf("写入合计行失败: %w", err)
		}
	}

	if err := pinDocProps(f); err != nil {
		return nil, err
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// SortRecords 按预计 RFP 日期升序稳定排序，无日期的行在后
func SortRecords(records []model.ResolvedRecord, schema model.Schema, groupByManager bool) []model.ResolvedRecord {
	out := make([]model.ResolvedRecord, len(records))
	copy(out, records)

	rfp, hasRFP := schema.ByRole(model.RoleRFPDate)
	mgr, hasMgr := schema.ByRole(model.RoleCaptureManager)
	group := func(rec model.ResolvedRecord) int {
		if !groupByManager || !hasMgr {
			return 0
		}
		if strings.TrimSpace(rec.Get(mgr.Name).Text) == "" {
			return 1
		}
		return 0
	}

	sort.SliceStable(out, func(i, j int) bool {
		gi, gj := group(out[i]), group(out[j])
		if gi != gj {
			return gi < gj
		}
		if !hasRFP {
			return false
		}
		di, dj := out[i].Get(rfp.Name), out[j].Get(rfp.Name)
		switch {
		case di.Valid && dj.Valid:
			return di.Date.Before(dj.Date)
		case di.Valid:
			return true
		default:
			return false
		}
	})
	return out
}

type columnStyles struct {
	byColumn map[int]int // 列号 -> 数据样式
	bar      int
}

// buildStyles 以模板首个数据行的单元格样式为基础，按字段类型叠加数字格式
func (r *Renderer) buildStyles(f *excelize.File, tmpl *model.Template) (columnStyles, error) {
	sheet := tmpl.Layout.Sheet
	out := columnStyles{byColumn: map[int]int{}}

	barColor := r.opts.BarColor
	for _, field := range tmpl.Schema.Fields {
		cell, err := excelize.CoordinatesToCellName(field.Column, tmpl.Layout.DataRow)
		if err != nil {
			return out, err
		}
		baseID, err := f.GetCellStyle(sheet, cell)
		if err != nil {
			return out, err
		}
		base, err := f.GetStyle(baseID)
		if err != nil || base == nil {
			base = &excelize.Style{}
		}

		if field.Type == model.FieldCalendar {
			if barColor == "" && len(base.Fill.Color) > 0 && base.Fill.Color[0] != "" {
				barColor = base.Fill.Color[0]
			}
			out.byColumn[field.Column] = baseID
			continue
		}

		style := *base
		changed := false
		switch field.Type {
		case model.FieldCurrency, model.FieldComputed:
			style.CustomNumFmt = strPtr(currencyNumFmt)
			changed = true
		case model.FieldDate:
			style.CustomNumFmt = strPtr(dateNumFmt)
			changed = true
		case model.FieldNumber:
			style.CustomNumFmt = strPtr(numberNumFmt)
			changed = true
		}
		if field.Role == model.RoleOpportunityName || strings.EqualFold(field.Name, "Opportunity Name") {
			align := excelize.Alignment{}
			if style.Alignment != nil {
				align = *style.Alignment
			}
			align.WrapText = true
			align.Vertical = "top"
			style.Alignment = &align
			changed = true
		}
		if !changed {
			out.byColumn[field.Column] = baseID
			continue
		}
		id, err := f.NewStyle(&style)
		if err != nil {
			return out, err
		}
		out.byColumn[field.Column] = id
	}

	if barColor == "" {
		barColor = defaultBarColor
	}
	bar, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{strings.TrimPrefix(barColor, "#")}},
	})
	if err != nil {
		return out, err
	}
	out.bar = bar
	return out, nil
}

func clearDataArea(f *excelize.File, sheet string, dataRow int) error {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return err
	}
	for row := len(rows); row >= dataRow; row-- {
		if err := f.RemoveRow(sheet, row); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) writeRow(f *excelize.File, sheet string, row int, rec model.ResolvedRecord, tmpl *model.Template, styles columnStyles, gantt bool) error {
	if err := f.SetRowHeight(sheet, row, r.opts.RowHeight); err != nil {
		return err
	}
	for _, field := range tmpl.Schema.Fields {
		if field.Type == model.FieldCalendar {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(field.Column, row)
		if err != nil {
			return err
		}
		if err := writeValue(f, sheet, cell, rec.Get(field.Name)); err != nil {
			return err
		}
		if id, ok := styles.byColumn[field.Column]; ok && id != 0 {
			if err := f.SetCellStyle(sheet, cell, cell, id); err != nil {
				return err
			}
		}
	}
	if !gantt {
		return nil
	}

	from, to, ok := ganttSpan(rec, tmpl.Schema)
	if !ok {
		return nil
	}
	for _, col := range tmpl.Columns {
		if col.Period == nil || !col.Period.Overlaps(from, to) {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(col.Index, row)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, cell, cell, styles.bar); err != nil {
			return err
		}
	}
	return nil
}

func writeValue(f *excelize.File, sheet, cell string, v model.Value) error {
	if !v.Valid {
		if v.Text == "" {
			return nil
		}
		return f.SetCellStr(sheet, cell, v.Text)
	}
	switch v.Type {
	case model.FieldCurrency, model.FieldComputed, model.FieldNumber:
		return f.SetCellFloat(sheet, cell, v.Number, -1, 64)
	case model.FieldDate:
		return f.SetCellFloat(sheet, cell, ExcelSerial(v.Date), -1, 64)
	default:
		return f.SetCellStr(sheet, cell, v.Text)
	}
}

var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// ExcelSerial 1900 日期系统序列号（按时间的本地钟面值计算）；1900-03-01 之前不处理闰年误差
func ExcelSerial(t time.Time) float64 {
	wall := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	return wall.Sub(excelEpoch).Hours() / 24
}

// ganttSpan RFP 日期到授标日期；只有一端时取单日
func ganttSpan(rec model.ResolvedRecord, schema model.Schema) (time.Time, time.Time, bool) {
	var from, to model.Value
	if f, ok := schema.ByRole(model.RoleRFPDate); ok {
		from = rec.Get(f.Name)
	}
	if f, ok := schema.ByRole(model.RoleAwardDate); ok {
		to = rec.Get(f.Name)
	}
	switch {
	case from.Valid && to.Valid:
		return from.Date, to.Date, true
	case from.Valid:
		return from.Date, from.Date, true
	case to.Valid:
		return to.Date, to.Date, true
	default:
		return time.Time{}, time.Time{}, false
	}
}

func pinDocProps(f *excelize.File) error {
	ts := docPropsTime.Format(time.RFC3339)
	return f.SetDocProps(&excelize.DocProperties{
		Creator:        "magpipeline",
		LastModifiedBy: "magpipeline",
		Created:        ts,
		Modified:       ts,
	})
}

// OutputFileName 输出文件名，如 Pipeline_GanttChart_20250812_153000.xlsx
func OutputFileName(prefix string, now time.Time) string {
	if prefix == "" {
		prefix = "Pipeline_GanttChart"
	}
	return fmt.Sprintf("%s_%s.xlsx", prefix, now.Format("20060102_150405"))
}

func strPtr(s string) *string { return &s }
