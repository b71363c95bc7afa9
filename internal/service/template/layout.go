package template

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"magpipeline/internal/model"
	"magpipeline/internal/parser"
)

// ErrTemplateInvalid 候选模板结构不合法
var ErrTemplateInvalid = errors.New("template invalid")

// ValidationError 模板校验失败原因
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return "invalid template: " + strings.Join(e.Reasons, "; ")
}

// Is 使 errors.Is(err, ErrTemplateInvalid) 成立
func (e *ValidationError) Is(target error) bool {
	return target == ErrTemplateInvalid
}

// LayoutOptions 模板版式约定
type LayoutOptions struct {
	Sheet       string
	HeaderRow   int
	DataRow     int
	FirstColumn int
	BaseYear    int // 日历列未写年份时的起始年份
}

// DefaultLayoutOptions 默认版式：Pipeline 表，第 4 行表头，第 5 行起为数据，从 B 列开始
func DefaultLayoutOptions() LayoutOptions {
	return LayoutOptions{
		Sheet:       "Pipeline",
		HeaderRow:   4,
		DataRow:     5,
		FirstColumn: 2,
	}
}

const headerScanLimit = 15

// ParseTemplate 解析并校验模板，派生规范字段
func ParseTemplate(data []byte, opts LayoutOptions, syn *parser.Synonyms) (*model.Template, error) {
	if syn == nil {
		syn = parser.DefaultSynonyms()
	}
	if opts.HeaderRow <= 0 {
		opts.HeaderRow = DefaultLayoutOptions().HeaderRow
	}
	if opts.DataRow <= opts.HeaderRow {
		opts.DataRow = opts.HeaderRow + 1
	}
	if opts.FirstColumn <= 0 {
		opts.FirstColumn = 1
	}
	if len(data) == 0 {
		return nil, &ValidationError{Reasons: []string{"template is empty"}}
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &ValidationError{Reasons: []string{fmt.Sprintf("template is not a readable workbook: %v", err)}}
	}
	defer f.Close()

	sheet := resolveSheet(f, opts.Sheet)
	if sheet == "" {
		return nil, &ValidationError{Reasons: []string{fmt.Sprintf("template has no sheet %q", opts.Sheet)}}
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, &ValidationError{Reasons: []string{fmt.Sprintf("read sheet %q: %v", sheet, err)}}
	}

	headerRow := findHeaderRow(rows, opts.HeaderRow, opts.FirstColumn)
	if headerRow == 0 {
		return nil, &ValidationError{Reasons: []string{fmt.Sprintf("sheet %q has no header row", sheet)}}
	}

	layout := model.Layout{
		Sheet:       sheet,
		HeaderRow:   headerRow,
		DataRow:     headerRow + (opts.DataRow - opts.HeaderRow),
		FirstColumn: opts.FirstColumn,
	}

	var reasons []string
	seen := map[string]string{}
	usedRoles := map[model.Role]bool{}
	columns := []model.Column{}
	specs := []parser.PeriodSpec{}
	specCols := []int{}

	header := rows[headerRow-1]
	for c := opts.FirstColumn; c <= len(header); c++ {
		name := parser.CleanHeader(header[c-1])
		if name == "" {
			continue
		}
		key := parser.NormalizeColumnName(name)
		if key == "" {
			key = name
		}
		if prev, dup := seen[key]; dup {
			reasons = append(reasons, fmt.Sprintf("duplicate field name %q (same as %q)", name, prev))
			continue
		}
		seen[key] = name

		typ, _ := syn.InferField(name)
		col := model.Column{Index: c, Header: name, Type: typ}
		if colName, err := excelize.ColumnNumberToName(c); err == nil {
			if w, err := f.GetColWidth(sheet, colName); err == nil {
				col.Width = w
			}
		}
		if typ == model.FieldCalendar {
			spec, _ := parser.ParsePeriodHeader(name)
			specs = append(specs, spec)
			specCols = append(specCols, len(columns))
		}
		columns = append(columns, col)
	}

	periods := parser.ResolvePeriods(specs, opts.BaseYear)
	for i, idx := range specCols {
		p := periods[i]
		columns[idx].Period = &p
	}

	schema := model.Schema{}
	dataFields := 0
	for _, col := range columns {
		typ, role := syn.InferField(col.Header)
		if role != model.RoleNone {
			if usedRoles[role] {
				role = model.RoleNone
			} else {
				usedRoles[role] = true
			}
		}
		if typ != model.FieldCalendar {
			dataFields++
		}
		schema.Fields = append(schema.Fields, model.Field{Name: col.Header, Type: typ, Role: role, Column: col.Index})
	}
	if len(columns) > 0 && dataFields == 0 {
		reasons = append(reasons, "template has only calendar columns")
	}
	if len(reasons) > 0 {
		return nil, &ValidationError{Reasons: reasons}
	}

	sum := sha256.Sum256(data)
	return &model.Template{
		Data:    append([]byte(nil), data...),
		Layout:  layout,
		Columns: columns,
		Schema:  schema,
		Version: hex.EncodeToString(sum[:]),
	}, nil
}

// resolveSheet 按名称（忽略大小写）找模板表；单表工作簿直接使用唯一的表
func resolveSheet(f *excelize.File, want string) string {
	sheets := f.GetSheetList()
	for _, s := range sheets {
		if strings.EqualFold(s, want) {
			return s
		}
	}
	if len(sheets) > 0 && (len(sheets) == 1 || want == "") {
		return sheets[0]
	}
	return ""
}

// findHeaderRow 优先使用约定行；约定行为空时在前若干行中找第一行至少两个非空单元格的行
func findHeaderRow(rows [][]string, want, firstCol int) int {
	nonEmpty := func(row []string) int {
		n := 0
		for c := firstCol; c <= len(row); c++ {
			if strings.TrimSpace(row[c-1]) != "" {
				n++
			}
		}
		return n
	}
	if want <= len(rows) && nonEmpty(rows[want-1]) > 0 {
		return want
	}
	for i := 0; i < len(rows) && i < headerScanLimit; i++ {
		if nonEmpty(rows[i]) >= 2 {
			return i + 1
		}
	}
	return 0
}
